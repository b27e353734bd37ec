package joblock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired reports that another instance currently holds the lease.
var ErrNotAcquired = errors.New("job_lock_not_acquired")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out Redis leases so only one scheduler instance runs a
// billing pass at a time. A nil Locker (no Redis configured) grants every
// lease, which is the single-instance development mode.
type Locker struct {
	client *redis.Client
	script *redis.Script
	log    *zap.Logger
}

func NewLocker(client *redis.Client, log *zap.Logger) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		log:    log.Named("joblock"),
	}
}

// TryLock attempts to take the lease. The returned token must be passed
// back to Release; only the holder's token can delete the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) {
	if l == nil || l.client == nil {
		return
	}
	if key == "" || token == "" {
		return
	}
	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.log.Warn("lease release failed", zap.String("key", key), zap.Error(err))
	}
}

// WithLease runs fn while holding the lease, releasing it afterwards.
// Returns ErrNotAcquired when another holder has the key.
func (l *Locker) WithLease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer l.Release(ctx, key, token)
	return fn(ctx)
}
