package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driplabs/drip-api/internal/transport"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) Resolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPResolver(Config{BaseURL: server.URL})
}

func TestGetDefaultAddress(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identities/urn:subscriber:1/address", r.URL.Path)
		w.Write([]byte(`{"address":"+15551230001"}`))
	})

	address, err := resolver.GetDefaultAddress(context.Background(), "urn:subscriber:1")
	require.NoError(t, err)
	assert.Equal(t, "+15551230001", address)
}

func TestGetDefaultAddressMissing(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := resolver.GetDefaultAddress(context.Background(), "urn:subscriber:1")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestGetDefaultAddressEmptyBodyMeansNoAddress(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":""}`))
	})

	_, err := resolver.GetDefaultAddress(context.Background(), "urn:subscriber:1")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestGetDefaultAddressServerErrorIsRetryable(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := resolver.GetDefaultAddress(context.Background(), "urn:subscriber:1")
	require.Error(t, err)
	assert.True(t, transport.IsRetryable(err))
}

func TestGetDefaultAddressClientErrorIsPermanent(t *testing.T) {
	resolver := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := resolver.GetDefaultAddress(context.Background(), "urn:subscriber:1")
	require.Error(t, err)
	assert.False(t, transport.IsRetryable(err))
}
