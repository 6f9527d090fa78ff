// Package httpapi exposes the crawl trigger and status endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"activity_fetcher/internal/domain"
)

// Crawler is the orchestrator surface the handlers need.
type Crawler interface {
	Start(targets []string) error
	Status() domain.RunStatus
	SourceNames() []string
}

type Handler struct {
	crawler Crawler
}

func NewMux(crawler Crawler) *http.ServeMux {
	h := Handler{crawler: crawler}

	mux := http.NewServeMux()
	mux.HandleFunc("/crawler", methodMux(map[string]http.HandlerFunc{
		http.MethodGet:  h.Trigger,
		http.MethodPost: h.Trigger,
	}))
	mux.HandleFunc("/crawler/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: h.Status,
	}))
	return mux
}

// Trigger starts a crawl in the background and answers immediately. A run
// already in flight answers 429 so callers can tell "started" from "busy".
func (h Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	targets := parseTargets(r.URL.Query().Get("targets"))

	if err := h.crawler.Start(targets); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "crawl already running"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if targets == nil {
		targets = h.crawler.SourceNames()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "crawl started",
		"targets": targets,
	})
}

func (h Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.crawler.Status())
}

func parseTargets(raw string) []string {
	if raw == "" {
		return nil
	}

	var targets []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			targets = append(targets, name)
		}
	}
	return targets
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodMux(m map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := m[r.Method]; ok {
			h(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
