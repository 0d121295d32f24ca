package az_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/primitives"
)

func newTestAZServer(t *testing.T) (*az.Server, string) {
	t.Helper()
	engine, _ := newTestEngine()
	keys := az.NewMemoryAPIKeyStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	plaintext, record := az.NewAPIKey("store1", "test key", primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, keys.Create(context.Background(), record))

	return az.NewServer(engine, keys, logger), plaintext
}

func doJSON(t *testing.T, srv http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestServerCheckRequiresAPIKey(t *testing.T) {
	srv, _ := newTestAZServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/check", "", map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerCheckRejectsMismatchedStore(t *testing.T) {
	srv, apiKey := newTestAZServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/fga/stores/other-store/check", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServerWriteTupleThenCheckAllowed(t *testing.T) {
	srv, apiKey := newTestAZServer(t)

	writeRec := doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/tuples", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	require.Equal(t, http.StatusCreated, writeRec.Code)

	checkRec := doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/check", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	require.Equal(t, http.StatusOK, checkRec.Code)

	var resp struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(checkRec.Body.Bytes(), &resp))
	require.True(t, resp.Allowed)

	deleteRec := doJSON(t, srv, http.MethodDelete, "/api/fga/stores/store1/tuples", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	require.Equal(t, http.StatusNoContent, deleteRec.Code)

	checkAgain := doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/check", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	})
	var resp2 struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(checkAgain.Body.Bytes(), &resp2))
	require.False(t, resp2.Allowed)
}

func TestServerExpandListsDirectSubjects(t *testing.T) {
	srv, apiKey := newTestAZServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/tuples", apiKey, map[string]string{
		"user": "user:alice", "relation": "viewer", "object": "doc:d1",
	}).Code)

	rec := doJSON(t, srv, http.MethodPost, "/api/fga/stores/store1/expand", apiKey, map[string]string{
		"object": "doc:d1", "relation": "viewer",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Subjects []struct {
			Subject string `json:"subject"`
		} `json:"subjects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Subjects, 1)
	require.Equal(t, "user:alice", resp.Subjects[0].Subject)
}
