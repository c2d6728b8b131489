package approval

import (
	"context"
	"time"

	"chatflow/pkg/logger"
	"chatflow/pkg/models"
)

// Start runs the deadline watcher until ctx is cancelled or Stop is
// called. A fixed-interval scan synthesizes a reject with reason
// "Timeout" for any tracked request past its deadline with no recorded
// resolution, routed exactly like a user-initiated reject.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				c.CheckDeadlines(ctx)
			}
		}
	}()
}

// Stop halts the deadline watcher.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// CheckDeadlines performs one deadline scan. Exported so tests and the
// debug surface can trigger a scan without waiting out the ticker. The
// timeout reject fires at most once per approval id even when the scan
// runs repeatedly after expiry.
func (c *Coordinator) CheckDeadlines(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	var expired []*models.ApprovalRequest
	for id, req := range c.pending {
		if _, resolved := c.entries[id]; resolved {
			delete(c.pending, id)
			continue
		}
		if c.timedOut[id] {
			continue
		}
		if !now.Before(req.ExpiresAt()) {
			c.timedOut[id] = true
			expired = append(expired, req)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		logger.Info("approval_deadline_expired", "approval", req.ApprovalID, "tool", req.ToolName)
		res := models.ApprovalResolution{
			ApprovalID: req.ApprovalID,
			Action:     models.ActionReject,
			Reason:     models.TimeoutReason,
		}
		if err := c.Respond(ctx, req.QueryID, res); err != nil {
			// Respond already rolled back and toasted; the backend's own
			// timeout handling is the fallback, so the reject is not
			// re-fired here.
			logger.Warn("timeout_reject_submit_failed", "approval", req.ApprovalID, "error", err)
		}
	}
}
