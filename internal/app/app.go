// Package app wires the reconciliation engine: store, event queue, stream
// processor, approval coordinator, session controller, retention, and the
// local debug server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"chatflow/internal/retention"
	"chatflow/pkg/approval"
	"chatflow/pkg/config"
	"chatflow/pkg/conversation"
	"chatflow/pkg/events"
	"chatflow/pkg/httpx"
	"chatflow/pkg/logger"
	"chatflow/pkg/models"
	"chatflow/pkg/notify"
	"chatflow/pkg/session"
	"chatflow/pkg/store"
	"chatflow/pkg/stream"
	"chatflow/pkg/telemetry"
)

// App owns the engine components and their lifecycle.
type App struct {
	eff config.Effective

	store    *store.Store
	queue    *events.Queue
	coord    *approval.Coordinator
	proc     *stream.Processor
	ctrl     *session.Controller
	metrics  *telemetry.Metrics
	notifier notify.Notifier

	retentionStop context.CancelFunc
	debugStop     func(context.Context) error
}

// New builds the engine from an effective config. It opens the store and
// constructs every component but starts no background work; call Run.
func New(eff config.Effective, notifier notify.Notifier) (*App, error) {
	_ = godotenv.Load(".env")

	if err := config.Validate(eff.Config); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	st, err := store.Open(eff.Config.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	queue := events.New()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg, queue.Len, queue.Dropped)

	timeout, err := eff.Config.Backend.HTTPTimeout()
	if err != nil {
		return nil, err
	}
	client, err := httpx.NewClient(eff.Config.Backend.HTTPClient, timeout)
	if err != nil {
		return nil, err
	}
	transport := session.NewBackendTransport(session.BackendConfig{
		BaseURL: eff.Config.Backend.BaseURL,
		WSURL:   eff.Config.Backend.WSURL,
		APIKey:  eff.Config.Backend.APIKey,
	}, client)

	coord := approval.New(transport, notifier,
		time.Duration(eff.Config.Approvals.CheckIntervalMs)*time.Millisecond)
	coord.OnResolve = func(action models.ApprovalAction, origin approval.Origin) {
		o := "local"
		if origin == approval.OriginServer {
			o = "server"
		}
		metrics.ApprovalResolved(string(action), o)
	}

	log := conversation.New("", st,
		time.Duration(eff.Config.Chat.SaveDebounceMs)*time.Millisecond)

	proc := stream.New(log, coord, notifier, metrics, stream.TypingConfig{
		ChunkSize: eff.Config.Chat.Typing.ChunkSize,
		Interval:  time.Duration(eff.Config.Chat.Typing.IntervalMs) * time.Millisecond,
	}, stream.Mode(eff.Config.Chat.Mode))
	proc.Attach(queue)

	ctrl := session.NewController(queue, proc, transport, notifier, log)

	a := &App{
		eff:      eff,
		store:    st,
		queue:    queue,
		coord:    coord,
		proc:     proc,
		ctrl:     ctrl,
		metrics:  metrics,
		notifier: notifier,
	}
	a.debugStop = a.startDebugServer(reg)
	return a, nil
}

// Run starts the deadline watcher and retention scheduler, then blocks
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.coord.Start(ctx)

	stop, err := retention.Start(ctx, a.eff.Config.Retention, a.store)
	if err != nil {
		return err
	}
	a.retentionStop = stop

	<-ctx.Done()
	return nil
}

// Controller exposes the session controller for the caller's UI loop.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Coordinator exposes the approval coordinator for the UI's respond path.
func (a *App) Coordinator() *approval.Coordinator { return a.coord }

// Processor exposes the stream processor (mode toggle, snapshots).
func (a *App) Processor() *stream.Processor { return a.proc }

// SwitchConversation loads a stored conversation and redirects new queries
// into it. In-flight drains for the previous conversation continue into
// their own log.
func (a *App) SwitchConversation(conversationID string) error {
	_, msgs, err := a.store.Load(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	l := conversation.Restore(conversationID, msgs, a.store,
		time.Duration(a.eff.Config.Chat.SaveDebounceMs)*time.Millisecond)
	a.ctrl.SetLog(l)
	logger.Info("conversation_switched", "conversation", conversationID, "messages", len(msgs))
	return nil
}

// NewConversation starts a fresh, empty conversation.
func (a *App) NewConversation() {
	l := conversation.New("", a.store,
		time.Duration(a.eff.Config.Chat.SaveDebounceMs)*time.Millisecond)
	a.ctrl.SetLog(l)
}

// Shutdown drains the queue, flushes the current conversation, and closes
// the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.ctrl.Detach()
	a.queue.Close()
	a.queue.Quiesce()
	a.coord.Stop()
	if a.retentionStop != nil {
		a.retentionStop()
	}
	if a.debugStop != nil {
		_ = a.debugStop(ctx)
	}
	a.ctrl.Log().FlushSave(false)
	a.ctrl.Log().Close()
	return a.store.Close()
}
