package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatflow/pkg/logger"
)

// startDebugServer exposes metrics, health, and read-only state snapshots
// on the loopback debug address. Returns a shutdown func; a disabled
// config returns a no-op.
func (a *App) startDebugServer(reg *prometheus.Registry) func(context.Context) error {
	if !a.eff.Config.Debug.Enabled {
		return func(context.Context) error { return nil }
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.HandleFunc("/readyz", a.readyzHandler)
	r.HandleFunc("/debug/conversation", a.conversationHandler)
	r.HandleFunc("/debug/queue", a.queueHandler)

	srv := &http.Server{
		Addr:              a.eff.Config.Debug.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("debug_server_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug_server_failed", "error", err)
		}
	}()
	return srv.Shutdown
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"store not ready"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// conversationHandler dumps the current conversation snapshot.
func (a *App) conversationHandler(w http.ResponseWriter, _ *http.Request) {
	l := a.ctrl.Log()
	out := struct {
		ConversationID string `json:"conversation_id"`
		Title          string `json:"title,omitempty"`
		Messages       any    `json:"messages"`
	}{
		ConversationID: l.ConversationID(),
		Title:          l.Title(),
		Messages:       l.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// queueHandler reports queue and approval counters.
func (a *App) queueHandler(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"queue_depth":       a.queue.Len(),
		"enqueued_total":    a.queue.Enqueued(),
		"malformed_frames":  a.queue.Dropped(),
		"pending_approvals": a.coord.Pending(),
		"hitl_mode":         a.proc.ModeNow(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
