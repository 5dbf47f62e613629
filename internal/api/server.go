// Package api exposes the fetch service over HTTP/JSON.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pagecourier/pagecourier/internal/cookies"
	"github.com/pagecourier/pagecourier/internal/fetcher"
	"github.com/pagecourier/pagecourier/internal/logger"
	"github.com/pagecourier/pagecourier/internal/pool"
)

// Server wires the fetcher, pool and cookie store into HTTP handlers.
type Server struct {
	fetcher        *fetcher.Fetcher
	pool           *pool.Pool
	store          *cookies.Store
	defaultTimeout time.Duration
}

// New returns a Server. defaultTimeout applies to fetch requests that
// carry no timeout of their own.
func New(f *fetcher.Fetcher, p *pool.Pool, store *cookies.Store, defaultTimeout time.Duration) *Server {
	if defaultTimeout <= 0 {
		defaultTimeout = fetcher.DefaultTimeout
	}
	return &Server{fetcher: f, pool: p, store: store, defaultTimeout: defaultTimeout}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, requestLogging)

	r.HandleFunc("/fetch", s.handleFetch).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/cookies", s.handleGetCookies).Methods(http.MethodGet)
	r.HandleFunc("/cookies", s.handleClearCookies).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
