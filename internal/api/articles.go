package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"silentfeed/internal/registry"
)

func (s *Server) handleFeedArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.reg.GetArticles(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toArticlesJSON(articles))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArticleIDs []string `json:"article_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	n, err := s.reg.MarkRecommendationsRead(r.Context(), chi.URLParam(r, "feedID"), req.ArticleIDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"recommended_read": n})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	articles, err := s.reg.GetPoolArticles(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toArticlesJSON(articles))
}

func (s *Server) handleSaveRecommendations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recommendations []registry.Recommendation `json:"recommendations"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(req.Recommendations) == 0 {
		s.respondError(w, r, fmt.Errorf("%w: no recommendations", errBadRequest))
		return
	}

	if err := s.reg.SaveRecommendationsWithStats(r.Context(), req.Recommendations); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"saved": len(req.Recommendations)})
}

func (s *Server) handleResetPool(w http.ResponseWriter, r *http.Request) {
	n, err := s.reg.ResetPool(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"exited": n})
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.PromoteToPopup(r.Context(), chi.URLParam(r, "articleID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDislike(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DislikeArticle(r.Context(), chi.URLParam(r, "articleID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Starred bool `json:"starred"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.reg.SetStarred(r.Context(), chi.URLParam(r, "articleID"), req.Starred); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
