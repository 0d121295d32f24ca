package az

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/coreauth/coreauth/internal/store"
)

// Server is AZ's HTTP surface: the check/expand/tuple-write RPCs that a
// separate-process caller (chiefly PS, per spec.md §2's "PS consumes AZ
// via check RPC") reaches over the wire rather than in-process. Every
// route is scoped to exactly one store by the presented API key (§4.2.5):
// the store id named in the path must match the key's own StoreID, so a
// key never authorizes a check against a store it wasn't minted for.
// Grounded on the original `coreauth-proxy/src/fga.rs` client's endpoint
// shapes (`/api/fga/stores/{id}/check`, `{id}/tuples`), adapted from the
// Rust prototype's session-bearer-token auth to the API-key model spec.md
// itself specifies for AZ store access.
type Server struct {
	engine *Engine
	keys   APIKeyStore
	logger *slog.Logger
	mux    http.Handler
}

func NewServer(engine *Engine, keys APIKeyStore, logger *slog.Logger) *Server {
	s := &Server{engine: engine, keys: keys, logger: logger}

	r := mux.NewRouter().SkipClean(true)
	r.HandleFunc("/api/fga/stores/{store_id}/check", s.handleCheck).Methods(http.MethodPost)
	r.HandleFunc("/api/fga/stores/{store_id}/expand", s.handleExpand).Methods(http.MethodPost)
	r.HandleFunc("/api/fga/stores/{store_id}/tuples", s.handleWriteTuple).Methods(http.MethodPost)
	r.HandleFunc("/api/fga/stores/{store_id}/tuples", s.handleDeleteTuple).Methods(http.MethodDelete)
	r.NotFoundHandler = http.NotFoundHandler()
	s.mux = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// authenticate validates the request's bearer API key and confirms it
// scopes the caller to storeID, the store named in the path.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, storeID string) (APIKey, bool) {
	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing bearer api key", http.StatusUnauthorized)
		return APIKey{}, false
	}
	key, err := Authenticate(r.Context(), s.keys, token)
	if err != nil {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return APIKey{}, false
	}
	if key.StoreID != storeID {
		http.Error(w, "api key does not authorize this store", http.StatusForbidden)
		return APIKey{}, false
	}
	return key, true
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// typedRef splits a "type:id" reference the way the original FGA client's
// "user:<id>" / "namespace:<object_id>" wire values are shaped.
func typedRef(s string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(s, ":")
	return kind, id, ok && kind != "" && id != ""
}

type checkRequest struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

type checkResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store_id"]
	if _, ok := s.authenticate(w, r, storeID); !ok {
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	subjectType, subjectID, ok := typedRef(req.User)
	if !ok {
		http.Error(w, `"user" must be of the form type:id`, http.StatusBadRequest)
		return
	}
	namespace, objectID, ok := typedRef(req.Object)
	if !ok {
		http.Error(w, `"object" must be of the form namespace:id`, http.StatusBadRequest)
		return
	}

	result, err := s.engine.Check(r.Context(), CheckRequest{
		TenantID:    storeID,
		SubjectType: store.SubjectType(subjectType),
		SubjectID:   subjectID,
		Relation:    req.Relation,
		Namespace:   namespace,
		ObjectID:    objectID,
	})
	if err != nil {
		s.logger.Error("az check failed", "error", err)
		http.Error(w, "check failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Allowed: result.Allowed, Reason: result.Reason})
}

type expandRequest struct {
	Object   string `json:"object"`
	Relation string `json:"relation"`
}

type expandSubject struct {
	Subject     string `json:"subject"`
	ViaRelation string `json:"via_relation,omitempty"`
}

type expandResponse struct {
	Subjects []expandSubject `json:"subjects"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store_id"]
	if _, ok := s.authenticate(w, r, storeID); !ok {
		return
	}

	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	namespace, objectID, ok := typedRef(req.Object)
	if !ok {
		http.Error(w, `"object" must be of the form namespace:id`, http.StatusBadRequest)
		return
	}

	subjects, err := s.engine.Expand(r.Context(), storeID, namespace, objectID, req.Relation)
	if err != nil {
		s.logger.Error("az expand failed", "error", err)
		http.Error(w, "expand failed", http.StatusInternalServerError)
		return
	}
	out := make([]expandSubject, len(subjects))
	for i, subj := range subjects {
		out[i] = expandSubject{Subject: string(subj.SubjectType) + ":" + subj.SubjectID, ViaRelation: subj.ViaRelation}
	}
	writeJSON(w, http.StatusOK, expandResponse{Subjects: out})
}

type tupleRequest struct {
	User            string `json:"user"`
	Relation        string `json:"relation"`
	Object          string `json:"object"`
	SubjectRelation string `json:"subject_relation,omitempty"`
}

func (s *Server) tupleFromRequest(storeID string, w http.ResponseWriter, r *http.Request) (store.Tuple, bool) {
	var req tupleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return store.Tuple{}, false
	}
	subjectType, subjectID, ok := typedRef(req.User)
	if !ok {
		http.Error(w, `"user" must be of the form type:id`, http.StatusBadRequest)
		return store.Tuple{}, false
	}
	namespace, objectID, ok := typedRef(req.Object)
	if !ok {
		http.Error(w, `"object" must be of the form namespace:id`, http.StatusBadRequest)
		return store.Tuple{}, false
	}
	return store.Tuple{
		TenantID:        storeID,
		Namespace:       namespace,
		ObjectID:        objectID,
		Relation:        req.Relation,
		SubjectType:     store.SubjectType(subjectType),
		SubjectID:       subjectID,
		SubjectRelation: req.SubjectRelation,
	}, true
}

func (s *Server) handleWriteTuple(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store_id"]
	if _, ok := s.authenticate(w, r, storeID); !ok {
		return
	}
	t, ok := s.tupleFromRequest(storeID, w, r)
	if !ok {
		return
	}
	if err := s.engine.WriteTuple(r.Context(), t); err != nil {
		s.logger.Error("az tuple write failed", "error", err)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteTuple(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["store_id"]
	if _, ok := s.authenticate(w, r, storeID); !ok {
		return
	}
	t, ok := s.tupleFromRequest(storeID, w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteTuple(r.Context(), t); err != nil {
		s.logger.Error("az tuple delete failed", "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
