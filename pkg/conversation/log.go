// Package conversation holds the mutable data model of one conversation:
// an ordered sequence of messages, each possibly carrying an embedded
// thinking log. All writes arrive from the single drain loop; readers take
// snapshots. Persistence goes through an explicit Saver port rather than
// ambient callbacks.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"chatflow/pkg/models"
)

// Saver persists a conversation after mutations. The engine does not own
// the storage format; it hands over the full message list and display
// metadata and lets the store decide layout.
type Saver interface {
	Save(conversationID, title, lastSnippet string, messages []models.Message, moveToTop bool) error
}

// stepRef locates a step update inside its owning message so a typing
// effect can mutate it by identity without scanning the log.
type stepRef struct {
	msg *models.Message
	idx int
}

// Log is the conversation log for one conversation.
type Log struct {
	mu sync.RWMutex

	conversationID string
	title          string

	messages []*models.Message
	index    map[string]*models.Message
	steps    map[string]stepRef
	frozen   map[string]bool

	stepSeq uint64

	saver    Saver
	debounce time.Duration
	saveTmr  *time.Timer
}

// New creates an empty log. conversationID may be empty; the session
// controller seeds it from the first query id. debounce controls how long
// intermediate mutations are batched before a background save; zero
// disables debounced saving (terminal saves still happen).
func New(conversationID string, saver Saver, debounce time.Duration) *Log {
	return &Log{
		conversationID: conversationID,
		index:          map[string]*models.Message{},
		steps:          map[string]stepRef{},
		frozen:         map[string]bool{},
		saver:          saver,
		debounce:       debounce,
	}
}

// Restore rebuilds a log from persisted messages. Queries that already
// have a display thinking message or an answer are marked frozen so late
// frames keyed to them are rejected.
func Restore(conversationID string, msgs []models.Message, saver Saver, debounce time.Duration) *Log {
	l := New(conversationID, saver, debounce)
	for i := range msgs {
		m := msgs[i]
		cp := m
		l.messages = append(l.messages, &cp)
		l.index[cp.ID] = &cp
		if q, ok := strings.CutSuffix(cp.ID, "-thinking-display"); ok {
			l.frozen[q] = true
		}
		if q, ok := strings.CutSuffix(cp.ID, "-answer"); ok {
			l.frozen[q] = true
		}
	}
	return l
}

// ConversationID returns the current conversation id (may be empty).
func (l *Log) ConversationID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conversationID
}

// SeedConversationID sets the conversation id if none is set yet and
// reports whether it was applied.
func (l *Log) SeedConversationID(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conversationID != "" {
		return false
	}
	l.conversationID = id
	return true
}

// AppendUser appends the user turn that starts a query. The first user
// message also seeds the conversation title.
func (l *Log) AppendUser(queryID, text string) models.Message {
	l.mu.Lock()
	m := &models.Message{
		ID:        models.UserID(queryID),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	l.messages = append(l.messages, m)
	l.index[m.ID] = m
	if l.title == "" {
		l.title = snippet(text, 60)
	}
	l.mu.Unlock()

	l.markDirty()
	return *m
}

// AppendStep appends a step update onto the query's thinking message,
// creating the message if absent. It returns the step's synthetic id and
// false if the query is already frozen (the step is then dropped; the
// caller decides how loudly).
func (l *Log) AppendStep(queryID string, step models.StepUpdate) (string, bool) {
	l.mu.Lock()
	if l.frozen[queryID] {
		l.mu.Unlock()
		return "", false
	}
	msg := l.ensureThinkingLocked(queryID)
	if step.SyntheticID == "" {
		l.stepSeq++
		step.SyntheticID = fmt.Sprintf("%s-step-%d", queryID, l.stepSeq)
	}
	if step.At.IsZero() {
		step.At = time.Now().UTC()
	}
	msg.ThinkingLog = append(msg.ThinkingLog, step)
	l.steps[step.SyntheticID] = stepRef{msg: msg, idx: len(msg.ThinkingLog) - 1}
	sid := step.SyntheticID
	l.mu.Unlock()

	l.markDirty()
	return sid, true
}

func (l *Log) ensureThinkingLocked(queryID string) *models.Message {
	id := models.ThinkingID(queryID)
	if m, ok := l.index[id]; ok {
		return m
	}
	m := &models.Message{
		ID:               id,
		Role:             models.RoleSystem,
		CreatedAt:        time.Now().UTC(),
		ThinkingExpanded: true,
	}
	l.messages = append(l.messages, m)
	l.index[id] = m
	return m
}

// SetStepMessage replaces the message text of the step identified by sid.
// This is the one in-place mutation in the model, used by the typing
// effect. Steps in a frozen log are not touched.
func (l *Log) SetStepMessage(sid, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, ok := l.steps[sid]
	if !ok || ref.idx >= len(ref.msg.ThinkingLog) {
		return false
	}
	ref.msg.ThinkingLog[ref.idx].Message = text
	return true
}

// StepMessage returns the current message text of the step with sid.
func (l *Log) StepMessage(sid string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ref, ok := l.steps[sid]
	if !ok || ref.idx >= len(ref.msg.ThinkingLog) {
		return "", false
	}
	return ref.msg.ThinkingLog[ref.idx].Message, true
}

// HasApprovalStep reports whether the query's thinking log already carries
// a step embedding the given approval id. Duplicate approval_required
// deliveries are suppressed on this check.
func (l *Log) HasApprovalStep(queryID, approvalID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range []string{models.ThinkingID(queryID), models.ThinkingDisplayID(queryID)} {
		if m, ok := l.index[id]; ok {
			for i := range m.ThinkingLog {
				if a := m.ThinkingLog[i].Approval; a != nil && a.ApprovalID == approvalID {
					return true
				}
			}
		}
	}
	return false
}

// Freeze marks the query terminal. A non-empty thinking message is
// re-keyed to its display id and collapsed; an empty one is removed. No
// transition leads back: further appends for the query are rejected.
func (l *Log) Freeze(queryID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen[queryID] {
		return false
	}
	l.frozen[queryID] = true

	id := models.ThinkingID(queryID)
	m, ok := l.index[id]
	if !ok {
		return false
	}
	delete(l.index, id)
	if len(m.ThinkingLog) == 0 {
		l.removeMessageLocked(m)
		return false
	}
	m.ID = models.ThinkingDisplayID(queryID)
	m.ThinkingExpanded = false
	l.index[m.ID] = m
	return true
}

func (l *Log) removeMessageLocked(m *models.Message) {
	for i, cur := range l.messages {
		if cur == m {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return
		}
	}
}

// Frozen reports whether the query's terminal event has been processed.
func (l *Log) Frozen(queryID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen[queryID]
}

// AppendAnswer appends the final assistant message for a query.
func (l *Log) AppendAnswer(queryID, content string, layout []models.LayoutBlock) models.Message {
	l.mu.Lock()
	m := &models.Message{
		ID:        models.AnswerID(queryID),
		Role:      models.RoleAssistant,
		Content:   content,
		Layout:    layout,
		CreatedAt: time.Now().UTC(),
	}
	l.messages = append(l.messages, m)
	l.index[m.ID] = m
	l.mu.Unlock()
	return *m
}

// ToggleThinking sets the viewer's expand/collapse affinity on a thinking
// message.
func (l *Log) ToggleThinking(messageID string, expanded bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.index[messageID]
	if !ok {
		return false
	}
	m.ThinkingExpanded = expanded
	return true
}

// Get returns a copy of the message with the given id.
func (l *Log) Get(id string) (models.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.index[id]
	if !ok {
		return models.Message{}, false
	}
	return copyMessage(m), true
}

// Snapshot returns a deep copy of the ordered message list.
func (l *Log) Snapshot() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Log) snapshotLocked() []models.Message {
	out := make([]models.Message, 0, len(l.messages))
	for _, m := range l.messages {
		out = append(out, copyMessage(m))
	}
	return out
}

func copyMessage(m *models.Message) models.Message {
	cp := *m
	if len(m.ThinkingLog) > 0 {
		cp.ThinkingLog = append([]models.StepUpdate(nil), m.ThinkingLog...)
	}
	if len(m.Layout) > 0 {
		cp.Layout = append([]models.LayoutBlock(nil), m.Layout...)
	}
	return cp
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Title returns the derived conversation title.
func (l *Log) Title() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.title
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "…"
}
