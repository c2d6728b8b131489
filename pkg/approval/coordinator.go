// Package approval is the single source of truth for what the human (or
// auto mode) decided about each approval gate. It reconciles optimistic
// local writes against server-confirmed broadcasts and enforces request
// deadlines.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatflow/pkg/logger"
	"chatflow/pkg/models"
	"chatflow/pkg/notify"
)

// Submitter delivers a resolution to the backend. Exactly one delivery is
// attempted per user action; retries are user-initiated.
type Submitter interface {
	SubmitApproval(ctx context.Context, sub models.ApprovalSubmission) error
}

// Origin records which side produced a resolution entry. Server entries
// are authoritative and never overwritten by local ones.
type Origin uint8

const (
	OriginLocal Origin = iota + 1
	OriginServer
)

type entry struct {
	res    models.ApprovalResolution
	origin Origin
}

// Coordinator maps approval ids to at most one authoritative resolution.
type Coordinator struct {
	mu       sync.Mutex
	entries  map[string]entry
	pending  map[string]*models.ApprovalRequest
	timedOut map[string]bool

	submitter Submitter
	notifier  notify.Notifier

	interval time.Duration
	now      func() time.Time

	// OnResolve, when set, observes every recorded resolution. Used for
	// metrics; must not block.
	OnResolve func(action models.ApprovalAction, origin Origin)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Coordinator. checkInterval is the deadline scan cadence;
// zero selects the 1s default.
func New(submitter Submitter, notifier notify.Notifier, checkInterval time.Duration) *Coordinator {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Coordinator{
		entries:   map[string]entry{},
		pending:   map[string]*models.ApprovalRequest{},
		timedOut:  map[string]bool{},
		submitter: submitter,
		notifier:  notifier,
		interval:  checkInterval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Track registers an unresolved request with the deadline watcher. Called
// by the stream processor when an approval_required frame is ingested.
func (c *Coordinator) Track(req *models.ApprovalRequest) {
	if req == nil || req.ApprovalID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, resolved := c.entries[req.ApprovalID]; resolved {
		return
	}
	if _, ok := c.pending[req.ApprovalID]; !ok {
		cp := *req
		c.pending[req.ApprovalID] = &cp
	}
}

// RecordLocal records an optimistic resolution for instant UI feedback.
// It does not displace a server-confirmed entry; the return value reports
// whether the write took effect.
func (c *Coordinator) RecordLocal(res models.ApprovalResolution) bool {
	c.mu.Lock()
	if cur, ok := c.entries[res.ApprovalID]; ok && cur.origin == OriginServer {
		c.mu.Unlock()
		return false
	}
	c.entries[res.ApprovalID] = entry{res: res, origin: OriginLocal}
	cb := c.OnResolve
	c.mu.Unlock()

	if cb != nil {
		cb(res.Action, OriginLocal)
	}
	return true
}

// RecordServerConfirmed records a server-broadcast resolution. Always
// overwrites: the server is authoritative over any optimistic entry.
func (c *Coordinator) RecordServerConfirmed(res models.ApprovalResolution) {
	c.mu.Lock()
	c.entries[res.ApprovalID] = entry{res: res, origin: OriginServer}
	cb := c.OnResolve
	c.mu.Unlock()

	if cb != nil {
		cb(res.Action, OriginServer)
	}
}

// IsResolved reports whether any resolution is recorded for the id.
func (c *Coordinator) IsResolved(approvalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[approvalID]
	return ok
}

// ResolutionFor returns the authoritative resolution, if any.
func (c *Coordinator) ResolutionFor(approvalID string) (models.ApprovalResolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[approvalID]
	return e.res, ok
}

// Pending returns the number of tracked requests with no recorded
// resolution. Resolved requests are pruned lazily by the deadline scan.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id := range c.pending {
		if _, resolved := c.entries[id]; !resolved {
			n++
		}
	}
	return n
}

// Respond applies a user-initiated resolution: record the optimistic
// entry, then deliver it. On transport failure the optimistic entry is
// rolled back so the card returns to pending, a toast is surfaced, and
// the error is returned for the caller to offer a retry.
func (c *Coordinator) Respond(ctx context.Context, queryID string, res models.ApprovalResolution) error {
	c.RecordLocal(res)
	err := c.submit(ctx, queryID, res)
	if err == nil {
		return nil
	}
	c.rollbackLocal(res)
	c.notifier.Toast(notify.LevelError, fmt.Sprintf("failed to submit approval response: %v", err))
	return fmt.Errorf("submit approval %s: %w", res.ApprovalID, err)
}

// AutoApprove handles auto-mode gates: record an approve resolution and
// transmit it fire-and-forget. Delivery failure surfaces as a warning
// toast, never as a rollback; the backend timeout path is the safety net.
func (c *Coordinator) AutoApprove(ctx context.Context, req *models.ApprovalRequest) models.ApprovalResolution {
	res := models.ApprovalResolution{ApprovalID: req.ApprovalID, Action: models.ActionApprove}
	c.Track(req)
	c.RecordLocal(res)
	go func() {
		if err := c.submit(ctx, req.QueryID, res); err != nil {
			logger.Warn("auto_approve_submit_failed", "approval", req.ApprovalID, "error", err)
			c.notifier.Toast(notify.LevelWarning, fmt.Sprintf("auto-approval for %s could not be delivered: %v", req.ToolName, err))
		}
	}()
	return res
}

func (c *Coordinator) submit(ctx context.Context, queryID string, res models.ApprovalResolution) error {
	if c.submitter == nil {
		return fmt.Errorf("no approval submitter configured")
	}
	return c.submitter.SubmitApproval(ctx, models.ApprovalSubmission{
		ApprovalID:     res.ApprovalID,
		QueryID:        queryID,
		Action:         res.Action,
		ModifiedParams: res.ModifiedParams,
		Reason:         res.Reason,
	})
}

// rollbackLocal undoes an optimistic entry, but only if it is still the
// local write being rolled back; a server confirmation that raced in
// stays.
func (c *Coordinator) rollbackLocal(res models.ApprovalResolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[res.ApprovalID]
	if !ok || cur.origin != OriginLocal || cur.res.Action != res.Action {
		return
	}
	delete(c.entries, res.ApprovalID)
}
