package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"silentfeed/internal/model"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.reg.GetStats(r.Context())
	s.respondJSON(w, http.StatusOK, statsJSON{
		Total:       st.Total,
		Candidate:   st.Candidate,
		Recommended: st.Recommended,
		Subscribed:  st.Subscribed,
		Ignored:     st.Ignored,
	})
}

// handleListFeeds accepts ?status=a&status=b or ?status=a,b.
func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	var statuses []model.FeedStatus
	for _, v := range r.URL.Query()["status"] {
		for _, st := range strings.Split(v, ",") {
			if st = strings.TrimSpace(st); st != "" {
				statuses = append(statuses, model.FeedStatus(st))
			}
		}
	}

	feeds, err := s.reg.GetFeeds(r.Context(), statuses...)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toFeedsJSON(feeds))
}

type createFeedRequest struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	DiscoveredFrom string `json:"discovered_from"`
	// Subscribe validates the feed and subscribes it instead of recording a
	// candidate.
	Subscribe bool                     `json:"subscribe"`
	Source    model.SubscriptionSource `json:"source"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		id  string
		err error
	)
	if req.Subscribe {
		source := req.Source
		if source == "" {
			source = model.SourceManual
		}
		if !source.Valid() {
			s.respondError(w, r, fmt.Errorf("%w: unknown source %q", errBadRequest, source))
			return
		}
		id, err = s.reg.SubscribeURL(ctx, req.URL, source)
	} else {
		id, err = s.reg.AddCandidate(ctx, model.FeedDescriptor{
			URL:            req.URL,
			Title:          req.Title,
			DiscoveredFrom: req.DiscoveredFrom,
		})
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.respondFeed(w, r, http.StatusCreated, id)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	s.respondFeed(w, r, http.StatusOK, chi.URLParam(r, "feedID"))
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Delete(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	source := model.SubscriptionSource(r.URL.Query().Get("source"))
	if source != "" && !source.Valid() {
		s.respondError(w, r, fmt.Errorf("%w: unknown source %q", errBadRequest, source))
		return
	}
	if err := s.reg.Subscribe(r.Context(), id, source); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondFeed(w, r, http.StatusOK, id)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	if err := s.reg.Unsubscribe(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondFeed(w, r, http.StatusOK, id)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	if err := s.reg.Ignore(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondFeed(w, r, http.StatusOK, id)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	if _, err := s.reg.ToggleActive(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondFeed(w, r, http.StatusOK, id)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reg.RefreshFeed(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

// handleAnalyze forces a new analysis unless ?force=false.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	force := true
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("%w: invalid force %q", errBadRequest, v))
			return
		}
		force = b
	}

	q, err := s.reg.AnalyzeFeed(r.Context(), chi.URLParam(r, "feedID"), force)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toQualityJSON(q))
}

func (s *Server) handleAnalyzeCandidates(w http.ResponseWriter, r *http.Request) {
	limit := s.analyzeBatch
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	sum, err := s.reg.AnalyzeCandidates(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

// handleImportOPML accepts a multipart "opml" file or a raw OPML body.
func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		src  io.Reader = r.Body
		name           = "opml"
	)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, hdr, err := r.FormFile("opml")
		if err != nil {
			s.respondError(w, r, fmt.Errorf("%w: no opml file provided", errBadRequest))
			return
		}
		defer func() { _ = file.Close() }()
		src, name = file, hdr.Filename
	}

	sum, err := s.reg.ImportOPML(r.Context(), src, name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := s.reg.ExportOPML(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="silentfeed.opml"`)
	_, _ = w.Write(data)
}

func (s *Server) respondFeed(w http.ResponseWriter, r *http.Request, status int, id string) {
	f, err := s.reg.GetFeed(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, status, toFeedJSON(f))
}
