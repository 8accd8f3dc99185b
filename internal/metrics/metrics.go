package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel metrics
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_connection_state",
		Help: "1 for the current transport state of the chat channel, 0 otherwise.",
	}, []string{"state"})
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connect_attempts_total",
		Help: "Channel dial attempts, labelled by phase (initial, reconnect) and result.",
	}, []string{"phase", "result"})
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_received_total",
		Help: "Inbound channel events by event name.",
	}, []string{"event"})
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_rejected_total",
		Help: "Inbound events that could not be applied, by reason.",
	}, []string{"reason"})
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_invocations_total",
		Help: "Remote procedure invocations by method and result.",
	}, []string{"method", "result"})

	// Session metrics
	ImplicitSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_implicit_sessions_total",
		Help: "Session buffers created by an inbound message for an unknown session id.",
	})
	TypingSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_typing_signals_total",
		Help: "Typing signals by direction (local, remote) and kind (start, stop, expire).",
	}, []string{"direction", "kind"})

	// Directory metrics
	DirectoryPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_directory_polls_total",
		Help: "Admin session directory refreshes by result.",
	}, []string{"result"})
	DirectoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_directory_entries",
		Help: "Number of sessions in the last directory snapshot.",
	})
)

var knownStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// SetConnectionState flips the state gauge so exactly one state reads 1.
func SetConnectionState(state string) {
	for _, s := range knownStates {
		if s == state {
			ConnectionState.WithLabelValues(s).Set(1)
		} else {
			ConnectionState.WithLabelValues(s).Set(0)
		}
	}
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Server exposes the Prometheus handler on its own listener.
type Server struct {
	httpServer *http.Server
}

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(addr, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	s := &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}

	log.Printf("Starting metrics server on %s%s", addr, path)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return s
}

// Shutdown stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
