package conversation

import (
	"chatflow/pkg/logger"
	"chatflow/pkg/models"
)

// markDirty schedules a debounced background save. Terminal events call
// FlushSave instead, which cancels any pending timer and saves at once.
func (l *Log) markDirty() {
	l.mu.Lock()
	if l.saver == nil || l.debounce <= 0 || l.conversationID == "" {
		l.mu.Unlock()
		return
	}
	if l.saveTmr != nil {
		l.saveTmr.Stop()
	}
	l.saveTmr = newTimer(l.debounce, func() { l.save(false) })
	l.mu.Unlock()
}

// FlushSave persists the conversation immediately. moveToTop bumps the
// conversation in the store's recency ordering; terminal events pass true.
func (l *Log) FlushSave(moveToTop bool) {
	l.mu.Lock()
	if l.saveTmr != nil {
		l.saveTmr.Stop()
		l.saveTmr = nil
	}
	l.mu.Unlock()
	l.save(moveToTop)
}

func (l *Log) save(moveToTop bool) {
	l.mu.RLock()
	if l.saver == nil || l.conversationID == "" {
		l.mu.RUnlock()
		return
	}
	id := l.conversationID
	title := l.title
	msgs := l.snapshotLocked()
	l.mu.RUnlock()

	last := ""
	if n := len(msgs); n > 0 {
		last = lastSnippet(msgs[n-1])
	}
	if err := l.saver.Save(id, title, last, msgs, moveToTop); err != nil {
		logger.Warn("conversation_save_failed", "conversation", id, "error", err)
	}
}

func lastSnippet(m models.Message) string {
	if m.Content != "" {
		return snippet(m.Content, 80)
	}
	if len(m.Layout) > 0 {
		return "[structured response]"
	}
	if len(m.ThinkingLog) > 0 {
		return "[agent activity]"
	}
	return ""
}

// Close stops the debounce timer. It does not flush; callers that need a
// final save call FlushSave first.
func (l *Log) Close() {
	l.mu.Lock()
	if l.saveTmr != nil {
		l.saveTmr.Stop()
		l.saveTmr = nil
	}
	l.mu.Unlock()
}
