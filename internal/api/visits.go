package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"silentfeed/internal/urlnorm"
)

func (s *Server) handleStartVisit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := urlnorm.Validate(req.URL); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, s.visits.Start(req.URL))
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	v, err := s.visits.Get(chi.URLParam(r, "visitID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleEndVisit(w http.ResponseWriter, r *http.Request) {
	v, err := s.visits.End(chi.URLParam(r, "visitID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Visible == nil {
		s.respondError(w, r, fmt.Errorf("%w: visible is required", errBadRequest))
		return
	}

	v, err := s.visits.Visibility(chi.URLParam(r, "visitID"), *req.Visible)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	v, err := s.visits.Interaction(chi.URLParam(r, "visitID"), req.Kind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}
