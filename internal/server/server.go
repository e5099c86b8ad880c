// Package server exposes archived reports and rendered plots over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
	"github.com/rewired-gh/transcendence/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Store is the read side of the report archive.
type Store interface {
	Ping(ctx context.Context) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	LatestReport(ctx context.Context) (*models.Report, error)
	ListReports(ctx context.Context, limit int) ([]*models.Report, error)
	GetRatings(ctx context.Context, reportID string) ([]models.RatingResult, error)
	GetWinRates(ctx context.Context, reportID string) ([]models.WinRateSummary, error)
	GetHeatmap(ctx context.Context, reportID string) ([]models.HeatmapCell, error)
}

// Server serves the report archive as JSON and the plot directory as static
// files.
type Server struct {
	store    Store
	plotsDir string
}

// New creates a server over store. An empty plotsDir disables /plots/.
func New(store Store, plotsDir string) *Server {
	return &Server{store: store, plotsDir: plotsDir}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api/reports", func(r chi.Router) {
		r.Get("/", s.listReports)
		r.Get("/latest", s.latestReport)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getReport)
			r.Get("/ratings", s.getRatings)
			r.Get("/win-rates", s.getWinRates)
			r.Get("/heatmap", s.getHeatmap)
		})
	})

	if s.plotsDir != "" {
		r.Handle("/plots/*", http.StripPrefix("/plots/", http.FileServer(http.Dir(s.plotsDir))))
	}
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	reports, err := s.store.ListReports(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) latestReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.LatestReport(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// getRatings accepts an optional ?model= filter.
func (s *Server) getRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.store.GetRatings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if model := r.URL.Query().Get("model"); model != "" {
		filtered := ratings[:0]
		for _, x := range ratings {
			if x.Model == model {
				filtered = append(filtered, x)
			}
		}
		ratings = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": ratings})
}

func (s *Server) getWinRates(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetWinRates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) getHeatmap(w http.ResponseWriter, r *http.Request) {
	cells, err := s.store.GetHeatmap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cells": cells})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	logger.Error("Request failed: %v", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		l := logger.With("request_id", middleware.GetReqID(r.Context()))
		l.Debug().Msgf("%s %s -> %d in %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
