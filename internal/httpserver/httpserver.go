// Package httpserver exposes the worker daemon's operational surface:
// a /healthz liveness probe and a /metrics endpoint in Prometheus text
// format, adapting this codebase's gorilla/mux-based API server to a
// two-route daemon server.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/database"
)

// Counters tracks the running totals the /metrics endpoint reports.
// All fields are updated with sync/atomic by the dispatcher.
type Counters struct {
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
}

func (c *Counters) IncProcessed() { atomic.AddInt64(&c.JobsProcessed, 1) }
func (c *Counters) IncSucceeded() { atomic.AddInt64(&c.JobsSucceeded, 1) }
func (c *Counters) IncFailed()    { atomic.AddInt64(&c.JobsFailed, 1) }

// Server is the worker's small health/metrics HTTP surface.
type Server struct {
	httpSrv *http.Server
}

// New builds a Server bound to addr; db.Health backs /healthz,
// counters backs /metrics.
func New(addr string, db *database.DB, counters *Counters) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(db)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(counters)).Methods("GET")

	return &Server{httpSrv: &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Start runs ListenAndServe in the background; errors other than a
// clean Shutdown are logged as fatal.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("health/metrics server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("health/metrics server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Health(); err != nil {
			log.Error().Err(err).Msg("database health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy","error":"database"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

func metricsHandler(counters *Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "nlp_pack_worker_jobs_processed_total %d\n", atomic.LoadInt64(&counters.JobsProcessed))
		fmt.Fprintf(w, "nlp_pack_worker_jobs_succeeded_total %d\n", atomic.LoadInt64(&counters.JobsSucceeded))
		fmt.Fprintf(w, "nlp_pack_worker_jobs_failed_total %d\n", atomic.LoadInt64(&counters.JobsFailed))
	}
}
