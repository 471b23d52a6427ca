package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"soundfield/internal/logging"
	"soundfield/internal/metrics"
	"soundfield/internal/perform"
	"soundfield/internal/session"
)

// RouterConfig names the websocket endpoints.
type RouterConfig struct {
	PlayPath string
	RoomPath string
}

// NewRouter mounts the websocket endpoints next to /healthz, /status and
// /metrics.
func NewRouter(s *Server, m *metrics.Metrics, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logger))
	if m != nil {
		r.Use(metrics.RequestMiddleware(m))
		r.Method(http.MethodGet, "/metrics", m.Handler(func() {
			m.SetConnections(string(NamespacePlay), s.hub.Len(NamespacePlay))
			m.SetConnections(string(NamespaceRoom), s.hub.Len(NamespaceRoom))
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/status", s.handleStatus)

	s.Routes(r, cfg.PlayPath, cfg.RoomPath)
	return r
}

// RequestStatus asks the controller loop for a registry snapshot.
func RequestStatus(ctx context.Context, events chan<- perform.Event) (session.Snapshot, error) {
	reply := make(chan session.Snapshot, 1)
	select {
	case events <- perform.StatusRequested{Reply: reply}:
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	snap, err := RequestStatus(ctx, s.events)
	if err != nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
