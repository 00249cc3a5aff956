package server

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/prism-ai/prism/internal/secrets"
)

// SecretsResponse lists the stored keys for an id. Values are masked.
type SecretsResponse struct {
	ID     string            `json:"id"`
	Keys   []string          `json:"keys"`
	Values map[string]string `json:"values"`
}

// getSecrets handles GET /secrets/{id}.
func (s *Server) getSecrets(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecrets(w) {
		return
	}
	id := chi.URLParam(r, "id")
	stored, err := s.secrets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := SecretsResponse{ID: id, Keys: []string{}, Values: make(map[string]string, len(stored))}
	for k, v := range stored {
		resp.Keys = append(resp.Keys, k)
		resp.Values[k] = maskSecret(v)
	}
	sort.Strings(resp.Keys)
	writeJSON(w, http.StatusOK, resp)
}

// putSecrets handles PUT /secrets/{id}. Keys are merged into the stored
// entry; an empty value removes a key.
func (s *Server) putSecrets(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecrets(w) {
		return
	}
	var values secrets.Secrets
	if !decodeBody(w, r, &values) {
		return
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "no values given")
		return
	}
	if err := secrets.Merge(r.Context(), s.secrets, chi.URLParam(r, "id"), values); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// deleteSecrets handles DELETE /secrets/{id}.
func (s *Server) deleteSecrets(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecrets(w) {
		return
	}
	if err := s.secrets.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) requireSecrets(w http.ResponseWriter) bool {
	if s.secrets == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "secret store is not configured")
		return false
	}
	return true
}

// maskSecret keeps the last four characters of values long enough to
// still hide the rest.
func maskSecret(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
