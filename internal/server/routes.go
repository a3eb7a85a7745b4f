package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/news"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/scheduler"
)

// Endpoints lists the public routes, served at /starrail.
var Endpoints = []string{
	"/starrail",
	"/starrail/code",
	"/starrail/news/events",
	"/starrail/news/notices",
	"/starrail/news/info",
}

// feedTypes maps the URL segment to the stored item type.
var feedTypes = map[string]string{
	"events":  news.TypeEvent,
	"notices": news.TypeNotice,
	"info":    news.TypeInfo,
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"endpoints": Endpoints})
}

func (s *Server) handleCodes(w http.ResponseWriter, r *http.Request) {
	body, err := s.codes.get(r.Context())
	if err != nil {
		s.logger.Error("failed to read codes", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch codes from database")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	typ, ok := feedTypes[feed]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown news feed "+feed)
		return
	}

	f := news.Filter{Type: typ}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		f.Lang = news.ParseLanguage(lang)
	}

	items, err := s.cfg.Store.ListNews(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to read news", "feed", feed, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch "+typ+" news")
		return
	}
	if items == nil {
		items = []news.Item{}
	}
	news.SortNewestFirst(items)
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if s.cfg.Jobs != nil {
		jobs = s.cfg.Jobs.ListJobs()
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
