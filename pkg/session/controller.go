// Package session binds one outgoing query to its transport session and
// guarantees at most one live session feeds the event queue at a time. A
// new query supersedes the old session: live frame delivery detaches and
// the old query's typing context is cancelled, but items already queued
// always drain to completion.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chatflow/pkg/conversation"
	"chatflow/pkg/events"
	"chatflow/pkg/logger"
	"chatflow/pkg/notify"
	"chatflow/pkg/stream"
)

type liveSession struct {
	queryID string
	cancel  context.CancelFunc
	closeWS func()
}

func (s *liveSession) detach() {
	if s == nil {
		return
	}
	s.cancel()
	if s.closeWS != nil {
		s.closeWS()
	}
}

// Controller manages query transport lifecycles.
type Controller struct {
	queue     *events.Queue
	proc      *stream.Processor
	transport Transport
	notifier  notify.Notifier

	mu      sync.Mutex
	log     *conversation.Log
	current *liveSession
}

// NewController wires the controller. log is the conversation new queries
// render into; SetLog switches it.
func NewController(q *events.Queue, proc *stream.Processor, transport Transport, notifier notify.Notifier, log *conversation.Log) *Controller {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Controller{queue: q, proc: proc, transport: transport, notifier: notifier, log: log}
}

// SetLog redirects future queries to a different conversation log. The
// previous session is superseded; its queued items keep draining into the
// log they were bound to.
func (c *Controller) SetLog(l *conversation.Log) {
	c.mu.Lock()
	old := c.current
	c.current = nil
	c.log = l
	c.mu.Unlock()

	old.detach()
	c.proc.SetLog(l)
}

// Log returns the conversation log new queries target.
func (c *Controller) Log() *conversation.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

// StartQuery runs one query end to end: generate the query id, supersede
// any previous session, open the frame stream, submit over HTTP, enqueue
// the final result, tear the stream down. It blocks until the HTTP call
// resolves; stream frames arrive concurrently through the queue.
func (c *Controller) StartQuery(ctx context.Context, text string) (string, error) {
	queryID := uuid.NewString()

	qctx, cancel := context.WithCancel(context.Background())
	sess := &liveSession{queryID: queryID, cancel: cancel}

	c.mu.Lock()
	old := c.current
	c.current = sess
	l := c.log
	c.mu.Unlock()
	old.detach()

	// The first query of a fresh conversation seeds the conversation id.
	l.SeedConversationID(queryID)
	c.proc.BindQuery(queryID, qctx, l)
	l.AppendUser(queryID, text)

	closeWS, err := c.transport.OpenStream(qctx, queryID, func(raw []byte) {
		_ = c.queue.EnqueueRawFrame(raw)
	}, func(streamErr error) {
		c.notifier.Toast(notify.LevelWarning, fmt.Sprintf("stream connection error: %v", streamErr))
	})
	if err != nil {
		// Stream loss is not fatal: the HTTP result alone still produces
		// an answer, just without intermediate thinking updates.
		logger.Warn("stream_connect_failed", "query", queryID, "error", err)
		c.notifier.Toast(notify.LevelWarning, "live updates unavailable for this query")
		closeWS = func() {}
	}
	c.mu.Lock()
	superseded := c.current != sess
	if !superseded {
		sess.closeWS = closeWS
	}
	c.mu.Unlock()
	if superseded {
		// Lost the race to a newer query while dialing; stop delivery now.
		closeWS()
	}

	body, err := c.transport.SubmitQuery(ctx, QueryRequest{
		QueryID:        queryID,
		ConversationID: l.ConversationID(),
		Message:        text,
	})
	if err != nil {
		// No FinalResult is ever enqueued for a failed query; the partial
		// thinking log stays visible and un-frozen.
		closeWS()
		c.notifier.Toast(notify.LevelError, fmt.Sprintf("query failed: %v", err))
		logger.Error("query_submit_failed", "query", queryID, "error", err)
		return queryID, fmt.Errorf("submit query %s: %w", queryID, err)
	}

	_ = c.queue.EnqueueFinal(queryID, body)
	// Teardown after enqueue: frames already queued still drain, only new
	// delivery stops.
	closeWS()
	logger.Info("query_completed", "query", queryID)
	return queryID, nil
}

// Detach supersedes the current session without starting a new query.
// Used when the viewer navigates away mid-stream.
func (c *Controller) Detach() {
	c.mu.Lock()
	old := c.current
	c.current = nil
	c.mu.Unlock()
	old.detach()
}
