// Package telemetry exposes engine counters through Prometheus. All
// methods are nil-receiver safe so components can run unmetered in tests.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	eventsProcessed    *prometheus.CounterVec
	lateFrames         prometheus.Counter
	duplicateApprovals prometheus.Counter
	unknownFrames      prometheus.Counter
	typingChunks       prometheus.Counter
	approvalsResolved  *prometheus.CounterVec
}

// New registers the engine collectors. queueLen and queueDropped are live
// accessors into the event queue; they back gauge/counter funcs so the
// queue itself stays metric-free.
func New(reg prometheus.Registerer, queueLen func() int, queueDropped func() uint64) *Metrics {
	m := &Metrics{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_events_processed_total",
			Help: "Stream items drained, by event type.",
		}, []string{"type"}),
		lateFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_late_frames_total",
			Help: "Frames that arrived after their query's terminal event and were dropped.",
		}),
		duplicateApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_duplicate_approvals_total",
			Help: "approval_required deliveries suppressed as duplicates.",
		}),
		unknownFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_unknown_frames_total",
			Help: "Frames with an unknown type or malformed payload.",
		}),
		typingChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatflow_typing_chunks_total",
			Help: "Typing-effect increments applied to step updates.",
		}),
		approvalsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatflow_approvals_resolved_total",
			Help: "Approval resolutions recorded, by action and origin.",
		}, []string{"action", "origin"}),
	}
	reg.MustRegister(
		m.eventsProcessed, m.lateFrames, m.duplicateApprovals,
		m.unknownFrames, m.typingChunks, m.approvalsResolved,
	)
	if queueLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatflow_event_queue_depth",
			Help: "Items buffered in the event queue.",
		}, func() float64 { return float64(queueLen()) }))
	}
	if queueDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "chatflow_malformed_frames_total",
			Help: "Malformed frames discarded at queue ingest.",
		}, func() float64 { return float64(queueDropped()) }))
	}
	return m
}

func (m *Metrics) EventProcessed(eventType string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) LateFrame() {
	if m == nil {
		return
	}
	m.lateFrames.Inc()
}

func (m *Metrics) DuplicateApproval() {
	if m == nil {
		return
	}
	m.duplicateApprovals.Inc()
}

func (m *Metrics) FrameUnknown() {
	if m == nil {
		return
	}
	m.unknownFrames.Inc()
}

func (m *Metrics) TypingChunk() {
	if m == nil {
		return
	}
	m.typingChunks.Inc()
}

func (m *Metrics) ApprovalResolved(action, origin string) {
	if m == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(action, origin).Inc()
}
