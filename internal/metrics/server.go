package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-enginev1/internal/portfolio"
)

// PnLSource supplies the /pnl report.
type PnLSource interface {
	GetSummary() portfolio.PnLSummary
}

// AccountSource supplies the account block of the /pnl report.
type AccountSource interface {
	Status() portfolio.AccountStatus
}

// Server runs an HTTP server exposing /metrics, /healthz and /pnl.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default Prometheus registry; a nil pnl disables /pnl.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, pnl PnLSource, acct AccountSource) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)
	if pnl != nil {
		mux.HandleFunc("/pnl", pnlHandler(pnl, acct))
	}

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func pnlHandler(pnl PnLSource, acct AccountSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := struct {
			portfolio.PnLSummary
			Account *portfolio.AccountStatus `json:"account,omitempty"`
		}{PnLSummary: pnl.GetSummary()}
		if acct != nil {
			st := acct.Status()
			body.Account = &st
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

// Handle mounts an extra handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
