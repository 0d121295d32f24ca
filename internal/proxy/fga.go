package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/store"
)

// FGAChecker answers the single permission question middleware.go's
// route-rule FGA gate needs. PS and AZ are ordinarily separate processes
// (spec.md §2: "PS consumes AZ via check RPC"), so the production
// implementation is FGAClient, an HTTP client against AZ's check RPC
// (internal/az's Server). EngineChecker adapts an in-process *az.Engine to
// the same interface for deployments and tests that run PS and AZ in one
// binary.
type FGAChecker interface {
	Check(ctx context.Context, subjectID, relation, namespace, objectID string) (bool, error)
}

// FGAClient calls AZ's check RPC over HTTP, grounded on the original
// `coreauth-proxy/src/fga.rs`'s FgaClient.check_permission — same request/
// response shape (`user`/`relation`/`object`, `{"allowed": bool}`) and the
// same `{coreauth_url}/api/fga/stores/{store_id}/check` path, but
// authenticated with the store's own API key rather than the caller's
// session bearer token, matching spec.md §4.2.5's "stores are accessed via
// API keys" contract.
type FGAClient struct {
	httpClient *http.Client
	baseURL    string
	storeID    string
	apiKey     string
}

func NewFGAClient(httpClient *http.Client, baseURL, storeID, apiKey string) *FGAClient {
	return &FGAClient{httpClient: httpClient, baseURL: baseURL, storeID: storeID, apiKey: apiKey}
}

type fgaCheckRequest struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

type fgaCheckResponse struct {
	Allowed bool `json:"allowed"`
}

func (c *FGAClient) Check(ctx context.Context, subjectID, relation, namespace, objectID string) (bool, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(fgaCheckRequest{
		User:     "user:" + subjectID,
		Relation: relation,
		Object:   namespace + ":" + objectID,
	}); err != nil {
		return false, err
	}

	url := fmt.Sprintf("%s/api/fga/stores/%s/check", c.baseURL, c.storeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fga check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("fga check failed: status %d", resp.StatusCode)
	}
	var out fgaCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("fga check response: %w", err)
	}
	return out.Allowed, nil
}

// EngineChecker adapts an in-process *az.Engine to FGAChecker, for
// deployments (and tests) that run PS and AZ in the same binary rather
// than over the check RPC.
type EngineChecker struct {
	Engine  *az.Engine
	StoreID string
}

func NewEngineChecker(engine *az.Engine, storeID string) *EngineChecker {
	return &EngineChecker{Engine: engine, StoreID: storeID}
}

func (e *EngineChecker) Check(ctx context.Context, subjectID, relation, namespace, objectID string) (bool, error) {
	result, err := e.Engine.Check(ctx, az.CheckRequest{
		TenantID:    e.StoreID,
		SubjectType: store.SubjectUser,
		SubjectID:   subjectID,
		Relation:    relation,
		Namespace:   namespace,
		ObjectID:    objectID,
	})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}
