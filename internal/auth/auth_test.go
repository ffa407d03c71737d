package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamviewer/internal/types"
)

func remote(t *testing.T, required bool, nonceStatus int) (*httptest.Server, *int32) {
	t.Helper()
	var nonceCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/config", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.AuthConfig{AuthRequired: required, NonceUses: 4})
	})
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&nonceCalls, 1)
		if nonceStatus != http.StatusOK {
			w.WriteHeader(nonceStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(types.Nonce{Nonce: "abc123", ExpiresAt: 1})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &nonceCalls
}

func TestSignKnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign("Jefe", "what do ya want for nothing?")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
	assert.True(t, Verify("Jefe", "what do ya want for nothing?", got))
	assert.False(t, Verify("jefe", "what do ya want for nothing?", got))
	assert.False(t, Verify("Jefe", "x", "not-hex"))
}

func TestNegotiateNotRequired(t *testing.T) {
	srv, calls := remote(t, false, http.StatusOK)
	cred, err := New(srv.URL, "", srv.Client(), nil).Negotiate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestNegotiateSignsNonce(t *testing.T) {
	srv, _ := remote(t, true, http.StatusOK)
	cred, err := New(srv.URL+"/", "key", srv.Client(), nil).Negotiate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "abc123", cred.Nonce)
	assert.Equal(t, Sign("key", "abc123"), cred.Sig)
}

func TestNegotiateFreshNoncePerCall(t *testing.T) {
	srv, calls := remote(t, true, http.StatusOK)
	n := New(srv.URL, "key", srv.Client(), nil)
	for i := 0; i < 3; i++ {
		_, err := n.Negotiate(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
}

func TestNegotiateMissingSecret(t *testing.T) {
	srv, calls := remote(t, true, http.StatusOK)
	_, err := New(srv.URL, "", srv.Client(), nil).Negotiate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecretRequired))
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestNegotiateNonceFailure(t *testing.T) {
	srv, _ := remote(t, true, http.StatusTooManyRequests)
	_, err := New(srv.URL, "key", srv.Client(), nil).Negotiate(context.Background())
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "nonce", aerr.Op)
	assert.Contains(t, err.Error(), "429")
}

func TestNegotiateConfigFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := New(srv.URL, "key", srv.Client(), nil).Negotiate(context.Background())
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "config", aerr.Op)
}
