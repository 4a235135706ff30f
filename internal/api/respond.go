package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"silentfeed/internal/dwell"
	"silentfeed/internal/pool"
	"silentfeed/internal/registry"
	"silentfeed/internal/storage"
	"silentfeed/internal/urlnorm"
)

var errBadRequest = errors.New("bad request")

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, dwell.ErrUnknownVisit):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, registry.ErrValidation), errors.Is(err, urlnorm.ErrInvalidURL), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}
