// Package stream interprets queued items against current state. It is the
// single consumer behind the event queue: one item at a time, one mutation
// of the conversation log at a time, in arrival order.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatflow/pkg/approval"
	"chatflow/pkg/conversation"
	"chatflow/pkg/events"
	"chatflow/pkg/logger"
	"chatflow/pkg/models"
	"chatflow/pkg/notify"
	"chatflow/pkg/telemetry"
)

// Mode is the session-level human-in-the-loop toggle.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeReview Mode = "review"
)

// TypingConfig controls the progressive reveal of worker prose. Interval
// zero disables pacing (chunks are applied back to back), which tests use.
type TypingConfig struct {
	ChunkSize int
	Interval  time.Duration
}

const defaultChunkSize = 3

// binding ties an in-flight query to the conversation log it renders into
// and the cancellation context governing its typing effects. Stale frames
// for a superseded query keep flowing into the log they were bound to.
type binding struct {
	log *conversation.Log
	ctx context.Context
}

// Processor is the sequential consumer of the event queue.
type Processor struct {
	coord    *approval.Coordinator
	notifier notify.Notifier
	metrics  *telemetry.Metrics

	typing  TypingConfig
	limiter *rate.Limiter

	mu       sync.Mutex
	mode     Mode
	current  *conversation.Log
	bindings map[string]binding

	// onTypingChunk observes every typing mutation; set by tests and by
	// metrics wiring.
	onTypingChunk func(sid, text string)
}

// New creates a Processor rendering into log. metrics may be nil.
func New(log *conversation.Log, coord *approval.Coordinator, notifier notify.Notifier, metrics *telemetry.Metrics, typing TypingConfig, mode Mode) *Processor {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if typing.ChunkSize <= 0 {
		typing.ChunkSize = defaultChunkSize
	}
	p := &Processor{
		coord:    coord,
		notifier: notifier,
		metrics:  metrics,
		typing:   typing,
		mode:     mode,
		current:  log,
		bindings: map[string]binding{},
	}
	if typing.Interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(typing.Interval), 1)
	}
	return p
}

// Attach registers the processor as the queue's consumer.
func (p *Processor) Attach(q *events.Queue) { q.Bind(p.Handle) }

// SetMode switches the human-in-the-loop mode for subsequent approvals.
func (p *Processor) SetMode(m Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

// ModeNow returns the prevailing mode.
func (p *Processor) ModeNow() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetLog switches the conversation new queries render into. In-flight
// queries keep their existing binding.
func (p *Processor) SetLog(l *conversation.Log) {
	p.mu.Lock()
	p.current = l
	p.mu.Unlock()
}

// BindQuery pins a query to a conversation log and a cancellation context.
// Cancelling ctx aborts the query's typing effects (the text snaps to its
// full value); it never abandons queued items.
func (p *Processor) BindQuery(queryID string, ctx context.Context, l *conversation.Log) {
	p.mu.Lock()
	if l == nil {
		l = p.current
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.bindings[queryID] = binding{log: l, ctx: ctx}
	p.mu.Unlock()
}

func (p *Processor) releaseQuery(queryID string) {
	p.mu.Lock()
	delete(p.bindings, queryID)
	p.mu.Unlock()
}

func (p *Processor) bindingFor(queryID string) binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bindings[queryID]; ok {
		return b
	}
	return binding{log: p.current, ctx: context.Background()}
}

// Handle applies one queued item. It never panics past its own boundary
// and never returns early in a way that stops the drain loop.
func (p *Processor) Handle(it *events.Item) {
	switch it.Kind {
	case events.KindFinal:
		p.metrics.EventProcessed("final_result")
		p.handleFinal(it)
	case events.KindFrame:
		p.metrics.EventProcessed(it.FrameType)
		p.handleFrame(it)
	default:
		logger.Warn("unknown_item_kind", "kind", it.Kind)
	}
}

// handleFinal processes the terminal event for a query: freeze the
// thinking record, parse the result body, append the answer, persist.
func (p *Processor) handleFinal(it *events.Item) {
	b := p.bindingFor(it.QueryID)
	b.log.Freeze(it.QueryID)

	content, layout := parseFinalResult(it.Payload)
	b.log.AppendAnswer(it.QueryID, content, layout)
	b.log.FlushSave(true)

	p.releaseQuery(it.QueryID)
	logger.Info("query_answered", "query", it.QueryID, "layout_blocks", len(layout))
}

func (p *Processor) handleFrame(it *events.Item) {
	switch it.FrameType {
	case models.FrameApprovalRequired:
		var pl approvalPayload
		if !p.decode(it, &pl) {
			return
		}
		p.handleApprovalRequired(it.QueryID, &pl)
	case models.FrameApprovalResolved:
		var pl resolvedPayload
		if !p.decode(it, &pl) {
			return
		}
		p.coord.RecordServerConfirmed(models.ApprovalResolution{
			ApprovalID:     pl.ApprovalID,
			Action:         pl.Action,
			ModifiedParams: pl.ModifiedParams,
			Reason:         pl.Reason,
		})
	case models.FrameThinking:
		var pl thinkingPayload
		if !p.decode(it, &pl) {
			return
		}
		p.handleThinking(it.QueryID, &pl)
	case models.FrameToolExecution:
		var pl toolPayload
		if !p.decode(it, &pl) {
			return
		}
		p.appendStep(it.QueryID, it.FrameType, models.StepUpdate{
			AgentType: pl.AgentType,
			Status:    models.StatusDone,
			Message:   pl.Message,
			ToolResult: &models.ToolResult{
				Tool:   pl.ToolName,
				Params: pl.Params,
				Result: pl.Result,
			},
		})
	case models.FrameTaskUpdate:
		var pl taskPayload
		if !p.decode(it, &pl) {
			return
		}
		status := pl.Status
		if status == "" {
			status = models.StatusProcessing
		}
		p.appendStep(it.QueryID, it.FrameType, models.StepUpdate{
			AgentType: pl.AgentType,
			Status:    status,
			Message:   pl.Message,
		})
	case models.FrameOrchestrator:
		var pl orchestratorPayload
		if !p.decode(it, &pl) {
			return
		}
		p.appendStep(it.QueryID, it.FrameType, models.StepUpdate{
			AgentType: models.AgentOrchestrator,
			Status:    models.StatusProcessing,
			Message:   pl.Message,
			Reasoning: pl.Reasoning,
		})
	case models.FrameError:
		var pl errorPayload
		if !p.decode(it, &pl) {
			return
		}
		msg := pl.Message
		if msg == "" {
			msg = pl.Error
		}
		p.appendStep(it.QueryID, it.FrameType, models.StepUpdate{
			AgentType: pl.AgentType,
			Status:    models.StatusFailed,
			Message:   msg,
		})
	default:
		p.metrics.FrameUnknown()
		logger.Warn("unknown_frame_type", "type", it.FrameType, "query", it.QueryID)
	}
}

// appendStep routes a plain step append, surfacing late-after-freeze
// arrivals as a counted anomaly rather than silence.
func (p *Processor) appendStep(queryID, frameType string, step models.StepUpdate) {
	b := p.bindingFor(queryID)
	if _, ok := b.log.AppendStep(queryID, step); !ok {
		p.lateFrame(queryID, frameType)
	}
}

func (p *Processor) lateFrame(queryID, frameType string) {
	p.metrics.LateFrame()
	logger.Warn("frame_after_terminal_dropped", "query", queryID, "type", frameType)
}

// handleApprovalRequired branches on the prevailing human-in-the-loop
// mode. Review mode suppresses duplicate deliveries at the append stage so
// no second card is ever rendered; the coordinator itself is idempotent.
func (p *Processor) handleApprovalRequired(queryID string, pl *approvalPayload) {
	req := pl.request()
	if req.QueryID == "" {
		req.QueryID = queryID
	}

	if p.ModeNow() == ModeAuto {
		if p.coord.IsResolved(req.ApprovalID) {
			p.metrics.DuplicateApproval()
			logger.Debug("duplicate_approval_suppressed", "approval", req.ApprovalID)
			return
		}
		p.coord.AutoApprove(context.Background(), req)
		p.appendStep(queryID, models.FrameApprovalRequired, models.StepUpdate{
			AgentType: req.AgentType,
			Status:    models.StatusAutoApproved,
			Message:   req.Title,
			Approval:  req,
		})
		return
	}

	b := p.bindingFor(queryID)
	if b.log.HasApprovalStep(queryID, req.ApprovalID) {
		p.metrics.DuplicateApproval()
		logger.Debug("duplicate_approval_suppressed", "approval", req.ApprovalID)
		return
	}
	p.coord.Track(req)
	p.appendStep(queryID, models.FrameApprovalRequired, models.StepUpdate{
		AgentType: req.AgentType,
		Status:    models.StatusPendingApproval,
		Message:   req.Title,
		Approval:  req,
	})
}

// handleThinking renders an orchestrator planning record directly, or
// runs the typing effect for worker prose.
func (p *Processor) handleThinking(queryID string, pl *thinkingPayload) {
	if pl.orchestratorShaped() {
		p.appendStep(queryID, models.FrameThinking, models.StepUpdate{
			AgentType:   models.AgentOrchestrator,
			Status:      models.StatusProcessing,
			Message:     pl.Step,
			Explanation: pl.Explanation,
			Conclusion:  pl.Conclusion,
			TokenUsage:  pl.TokenUsage,
		})
		return
	}
	p.typeOut(queryID, pl)
}

// decode unmarshals a frame payload; malformed payloads are dropped with
// a diagnostic and the drain loop moves on.
func (p *Processor) decode(it *events.Item, v any) bool {
	if err := json.Unmarshal(it.Payload, v); err != nil {
		p.metrics.FrameUnknown()
		logger.Warn("malformed_payload_dropped", "type", it.FrameType, "query", it.QueryID, "error", err)
		return false
	}
	return true
}
