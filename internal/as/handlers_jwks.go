package as

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := s.signer.JWKS(r.Context())
	if err != nil {
		s.logger.Error("failed to build jwks", "error", err)
		http.Error(w, "server_error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := json.NewEncoder(w).Encode(set); err != nil {
		s.logger.Error("failed to encode jwks", "error", err)
	}
}
