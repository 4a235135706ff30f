// Package api serves the feed registry and dwell tracking over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"silentfeed/internal/dwell"
	"silentfeed/internal/model"
	"silentfeed/internal/registry"
)

const maxBodyBytes = 5 * 1024 * 1024

// Registry is the set of registry operations exposed over HTTP.
type Registry interface {
	AddCandidate(ctx context.Context, d model.FeedDescriptor) (string, error)
	SubscribeURL(ctx context.Context, url string, source model.SubscriptionSource) (string, error)
	Subscribe(ctx context.Context, id string, source model.SubscriptionSource) error
	Unsubscribe(ctx context.Context, id string) error
	Ignore(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ToggleActive(ctx context.Context, id string) (bool, error)
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	GetFeeds(ctx context.Context, statuses ...model.FeedStatus) ([]model.Feed, error)
	RefreshFeed(ctx context.Context, id string) (registry.RefreshSummary, error)
	AnalyzeFeed(ctx context.Context, id string, force bool) (*model.Quality, error)
	AnalyzeCandidates(ctx context.Context, limit int) (registry.AnalyzeSummary, error)
	GetStats(ctx context.Context) model.Stats
	ImportOPML(ctx context.Context, src io.Reader, name string) (registry.ImportSummary, error)
	ExportOPML(ctx context.Context) ([]byte, error)

	GetArticles(ctx context.Context, feedID string) ([]model.Article, error)
	GetPoolArticles(ctx context.Context) ([]model.Article, error)
	SaveRecommendationsWithStats(ctx context.Context, recs []registry.Recommendation) error
	PromoteToPopup(ctx context.Context, articleID string) error
	MarkRecommendationsRead(ctx context.Context, feedID string, articleIDs []string) (int, error)
	DislikeArticle(ctx context.Context, articleID string) error
	SetStarred(ctx context.Context, articleID string, starred bool) error
	ResetPool(ctx context.Context) (int, error)
}

// Server is the HTTP API server.
type Server struct {
	reg          Registry
	visits       *dwell.Tracker
	analyzeBatch int
	log          *slog.Logger
	router       chi.Router
}

// New creates a Server. analyzeBatch is the default limit of
// POST /api/candidates/analyze.
func New(reg Registry, visits *dwell.Tracker, analyzeBatch int, log *slog.Logger) *Server {
	if analyzeBatch < 1 {
		analyzeBatch = 10
	}
	s := &Server{
		reg:          reg,
		visits:       visits,
		analyzeBatch: analyzeBatch,
		log:          log.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)

		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Post("/", s.handleCreateFeed)
			r.Route("/{feedID}", func(r chi.Router) {
				r.Get("/", s.handleGetFeed)
				r.Delete("/", s.handleDeleteFeed)
				r.Post("/subscribe", s.handleSubscribe)
				r.Post("/unsubscribe", s.handleUnsubscribe)
				r.Post("/ignore", s.handleIgnore)
				r.Post("/toggle", s.handleToggle)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/analyze", s.handleAnalyze)
				r.Get("/articles", s.handleFeedArticles)
				r.Post("/read", s.handleMarkRead)
			})
		})

		r.Post("/candidates/analyze", s.handleAnalyzeCandidates)

		r.Get("/opml", s.handleExportOPML)
		r.Post("/opml", s.handleImportOPML)

		r.Route("/pool", func(r chi.Router) {
			r.Get("/", s.handlePool)
			r.Post("/recommendations", s.handleSaveRecommendations)
			r.Post("/reset", s.handleResetPool)
		})

		r.Route("/articles/{articleID}", func(r chi.Router) {
			r.Post("/popup", s.handlePopup)
			r.Post("/dislike", s.handleDislike)
			r.Put("/star", s.handleStar)
		})

		r.Route("/visits", func(r chi.Router) {
			r.Post("/", s.handleStartVisit)
			r.Route("/{visitID}", func(r chi.Router) {
				r.Get("/", s.handleGetVisit)
				r.Delete("/", s.handleEndVisit)
				r.Post("/visibility", s.handleVisibility)
				r.Post("/interaction", s.handleInteraction)
			})
		})
	})

	s.router = r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
