// Package events provides the ordered, single-consumer buffer between the
// transport layer and the stream processor. Producers (the WebSocket read
// loop, the HTTP submit path) enqueue without blocking; one drain loop at
// a time applies items in arrival order, which is what serializes every
// mutation of the conversation log.
package events

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"chatflow/pkg/logger"
	"chatflow/pkg/models"
)

// ErrQueueClosed is returned by enqueue calls after Close.
var ErrQueueClosed = errors.New("event queue closed")

// Handler processes one dequeued item. It runs on the drain goroutine and
// may block (typing effects do); the queue keeps accepting items while it
// runs and the loop picks them up afterwards.
type Handler func(*Item)

// Queue is an unbounded multi-producer single-consumer FIFO. Well-formed
// items are never dropped; capacity is bounded only by query duration,
// which is timeout-bounded upstream.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*Item
	draining bool
	closed   bool

	handler Handler

	enqueued uint64
	dropped  uint64
}

// New creates an empty queue. Bind must be called before the first enqueue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Bind installs the consumer. Rebinding while items are queued is not
// supported.
func (q *Queue) Bind(h Handler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

// EnqueueRawFrame parses a WebSocket frame envelope and enqueues it.
// Malformed frames are dropped with a logged diagnostic and counted; they
// never fail the loop.
func (q *Queue) EnqueueRawFrame(raw []byte) error {
	var f models.Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		atomic.AddUint64(&q.dropped, 1)
		logger.Warn("malformed_frame_dropped", "error", err, "bytes", len(raw))
		return nil
	}
	return q.EnqueueFrame(&f)
}

// EnqueueFrame enqueues a parsed frame. The data payload is copied into a
// pooled buffer so the caller's slice can be reused.
func (q *Queue) EnqueueFrame(f *models.Frame) error {
	it := &Item{
		Kind:      KindFrame,
		QueryID:   models.FrameQueryID(f.Data),
		FrameType: f.Type,
		Timestamp: f.Timestamp,
	}
	if len(f.Data) > 0 {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], f.Data...)
		it.buf = bb
		it.Payload = bb.B[:len(f.Data)]
	}
	return q.push(it)
}

// EnqueueFinal enqueues the terminal HTTP result for a query.
func (q *Queue) EnqueueFinal(queryID string, body []byte) error {
	it := &Item{Kind: KindFinal, QueryID: queryID}
	if len(body) > 0 {
		bb := bytebufferpool.Get()
		bb.B = append(bb.B[:0], body...)
		it.buf = bb
		it.Payload = bb.B[:len(body)]
	}
	return q.push(it)
}

func (q *Queue) push(it *Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.Done()
		return ErrQueueClosed
	}
	q.items = append(q.items, it)
	atomic.AddUint64(&q.enqueued, 1)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	if start {
		go q.drainLoop()
	}
	return nil
}

// drainLoop pops the head, hands it to the handler, and repeats until the
// queue is observed empty. At most one instance runs at a time: push only
// starts a loop when none is active, and the running loop re-checks length
// under the lock before exiting, so items enqueued during processing are
// picked up by the already-running loop.
func (q *Queue) drainLoop() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		h := q.handler
		q.mu.Unlock()

		if h != nil {
			h(it)
		} else {
			logger.Error("drain_without_handler", "kind", it.Kind, "query", it.QueryID)
		}
		it.Done()
	}
}

// Quiesce blocks until the queue is empty and no drain loop is running.
// Used by shutdown and by tests to observe a settled state.
func (q *Queue) Quiesce() {
	q.mu.Lock()
	for len(q.items) > 0 || q.draining {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close rejects further enqueues. Already-queued items still drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of queued, not-yet-processed items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueued returns the total number of accepted items.
func (q *Queue) Enqueued() uint64 { return atomic.LoadUint64(&q.enqueued) }

// Dropped returns the number of malformed frames discarded at ingest.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
