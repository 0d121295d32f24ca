package proxy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

func TestTokenRefresherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","token_type":"Bearer","expires_in":900}`))
	}))
	defer srv.Close()

	refresher := proxy.NewTokenRefresher(srv.Client(), srv.URL, "client1", "secret1")
	tok, err := refresher.Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	require.Equal(t, "new-at", tok.AccessToken)
	require.Equal(t, int64(900), tok.ExpiresIn)
}

func TestTokenRefresherOAuthErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	refresher := proxy.NewTokenRefresher(srv.Client(), srv.URL, "client1", "secret1")
	_, err := refresher.Refresh(context.Background(), "reused-rt")
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "an OAuth-error response must not be retried")
}

func TestTokenRefresherRetriesOnceOnTransportError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			// Simulate a transport failure by closing the connection
			// without a response.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"retried-at","token_type":"Bearer","expires_in":900}`))
	}))
	defer srv.Close()

	refresher := proxy.NewTokenRefresher(srv.Client(), srv.URL, "client1", "secret1")
	tok, err := refresher.Refresh(context.Background(), "old-rt")
	require.NoError(t, err)
	require.Equal(t, "retried-at", tok.AccessToken)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
