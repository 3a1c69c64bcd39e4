package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items, err := s.personas.List(r.Context())
	if err != nil {
		s.logger.Errorw("persona_list_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to load personas")
		return
	}
	respondJSON(w, http.StatusOK, PersonaListResponse{Items: items})
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	req := decodeLenient[personas.CreateRequest](w, r)

	p, err := s.personas.Create(r.Context(), req)
	if err != nil {
		s.respondPersonaError(w, err, "Failed to create persona")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	userID, ok := personaID(w, r)
	if !ok {
		return
	}
	p, err := s.personas.Lookup(r.Context(), userID)
	if err != nil {
		s.logger.Errorw("persona_get_failed", "userId", userID, "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to load persona")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "Persona not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	userID, ok := personaID(w, r)
	if !ok {
		return
	}
	u := decodeLenient[personas.Update](w, r)

	p, err := s.personas.Update(r.Context(), userID, u)
	if err != nil {
		s.respondPersonaError(w, err, "Failed to update persona")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	userID, ok := personaID(w, r)
	if !ok {
		return
	}
	if err := s.personas.Delete(r.Context(), userID); err != nil {
		s.respondPersonaError(w, err, "Failed to delete persona")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondPersonaError(w http.ResponseWriter, err error, fallback string) {
	var verr *personas.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, personas.ErrPersonaExists):
		respondError(w, http.StatusConflict, "userId already exists")
	case errors.Is(err, personas.ErrPersonaNotFound):
		respondError(w, http.StatusNotFound, "Persona not found")
	case errors.Is(err, personas.ErrNotConfigured):
		respondError(w, http.StatusInternalServerError, "Personas store not configured")
	default:
		s.logger.Errorw("persona_write_failed", "err", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func personaID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(mux.Vars(r)["id"])
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return userID, true
}

// decodeLenient reads a T from the body. Malformed JSON yields the zero T
// so field validation reports what is missing.
func decodeLenient[T any](w http.ResponseWriter, r *http.Request) T {
	var zero T
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || len(body) == 0 {
		return zero
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return zero
	}
	return v
}
