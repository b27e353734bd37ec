package joblock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNilLockerGrantsEveryLease(t *testing.T) {
	var locker *Locker

	token, ok, err := locker.TryLock(context.Background(), "billing:scheduler:run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)

	ran := false
	err = locker.WithLease(context.Background(), "billing:scheduler:run", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestNewLockerRequiresClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil, zaptest.NewLogger(t)))
}
