package mercadopago

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Plus signs are valid in mailbox names; an unescaped one decodes to a
// space and the search silently misses the customer.
func TestGetCustomerByEmailEscapesQuery(t *testing.T) {
	const email = "dev+billing@example.com"

	var gotRawQuery, gotEmail string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		gotEmail = r.URL.Query().Get("email")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"cust-1","email":"` + email + `"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AccessToken: "token"}, zaptest.NewLogger(t))

	customer, err := client.GetCustomerByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, customer)
	assert.Equal(t, "cust-1", customer.ID)

	assert.Equal(t, email, gotEmail)
	assert.True(t, strings.Contains(gotRawQuery, "%2B"), "raw query %q should carry the escaped plus", gotRawQuery)
}

func TestGetCustomerByEmailNoMatchReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AccessToken: "token"}, zaptest.NewLogger(t))

	customer, err := client.GetCustomerByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, customer)
}
