package conversation

import (
	"testing"
	"time"

	"chatflow/pkg/models"
)

func TestAppendOrderAndDeterministicIDs(t *testing.T) {
	l := New("c1", nil, 0)

	l.AppendUser("q1", "how many widgets are in stock?")
	sid, ok := l.AppendStep("q1", models.StepUpdate{AgentType: "inventory", Status: models.StatusProcessing, Message: "checking"})
	if !ok {
		t.Fatal("AppendStep rejected on live query")
	}
	if sid == "" {
		t.Fatal("AppendStep returned empty synthetic id")
	}
	l.AppendAnswer("q1", "42 widgets", nil)

	msgs := l.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("log has %d messages, want 3", len(msgs))
	}
	wantIDs := []string{"q1-user", "q1-thinking", "q1-answer"}
	for i, want := range wantIDs {
		if msgs[i].ID != want {
			t.Fatalf("message %d id = %q, want %q", i, msgs[i].ID, want)
		}
	}
	if msgs[1].Role != models.RoleSystem || !msgs[1].ThinkingExpanded {
		t.Fatalf("thinking message = role %q expanded %v", msgs[1].Role, msgs[1].ThinkingExpanded)
	}
	if len(msgs[1].ThinkingLog) != 1 || msgs[1].ThinkingLog[0].Message != "checking" {
		t.Fatalf("thinking log = %+v", msgs[1].ThinkingLog)
	}
}

func TestStepsCoalesceOntoOneThinkingMessage(t *testing.T) {
	l := New("c1", nil, 0)
	for i := 0; i < 4; i++ {
		if _, ok := l.AppendStep("q1", models.StepUpdate{Status: models.StatusProcessing}); !ok {
			t.Fatalf("step %d rejected", i)
		}
	}
	if l.Len() != 1 {
		t.Fatalf("log has %d messages, want 1", l.Len())
	}
	m, ok := l.Get("q1-thinking")
	if !ok || len(m.ThinkingLog) != 4 {
		t.Fatalf("thinking message = %+v (found %v)", m, ok)
	}
}

func TestSetStepMessageMutatesInPlace(t *testing.T) {
	l := New("c1", nil, 0)
	sid, _ := l.AppendStep("q1", models.StepUpdate{Status: models.StatusProcessing})

	if !l.SetStepMessage(sid, "partial te") {
		t.Fatal("SetStepMessage failed on live step")
	}
	if got, _ := l.StepMessage(sid); got != "partial te" {
		t.Fatalf("step message = %q", got)
	}
	if l.Len() != 1 {
		t.Fatalf("mutation changed message count to %d", l.Len())
	}
	if l.SetStepMessage("no-such-step", "x") {
		t.Fatal("SetStepMessage succeeded on unknown sid")
	}
}

func TestFreezeRekeysAndCollapses(t *testing.T) {
	l := New("c1", nil, 0)
	l.AppendStep("q1", models.StepUpdate{Status: models.StatusDone, Message: "done"})

	if !l.Freeze("q1") {
		t.Fatal("Freeze returned false for non-empty thinking message")
	}
	if _, ok := l.Get("q1-thinking"); ok {
		t.Fatal("live thinking id still resolvable after freeze")
	}
	m, ok := l.Get("q1-thinking-display")
	if !ok {
		t.Fatal("display thinking id missing after freeze")
	}
	if m.ThinkingExpanded {
		t.Fatal("frozen thinking message still expanded")
	}
	if !l.Frozen("q1") {
		t.Fatal("Frozen(q1) = false after freeze")
	}

	// No transition leads out of frozen.
	if _, ok := l.AppendStep("q1", models.StepUpdate{Status: models.StatusProcessing}); ok {
		t.Fatal("AppendStep accepted after freeze")
	}
	if l.Freeze("q1") {
		t.Fatal("second Freeze reported a re-key")
	}
}

func TestFreezeRemovesEmptyThinkingMessage(t *testing.T) {
	l := New("c1", nil, 0)
	l.AppendUser("q1", "hello")
	// Force the thinking message into existence with no steps, as a query
	// whose stream never delivered anything would.
	l.mu.Lock()
	l.ensureThinkingLocked("q1")
	l.mu.Unlock()

	if l.Len() != 2 {
		t.Fatalf("setup: %d messages", l.Len())
	}
	l.Freeze("q1")
	if l.Len() != 1 {
		t.Fatalf("empty thinking message survived freeze: %d messages", l.Len())
	}
	if _, ok := l.Get("q1-thinking-display"); ok {
		t.Fatal("empty thinking message was re-keyed instead of removed")
	}
}

func TestHasApprovalStepChecksBothKeys(t *testing.T) {
	l := New("c1", nil, 0)
	l.AppendStep("q1", models.StepUpdate{
		Status:   models.StatusPendingApproval,
		Approval: &models.ApprovalRequest{ApprovalID: "ap-1", QueryID: "q1"},
	})

	if !l.HasApprovalStep("q1", "ap-1") {
		t.Fatal("approval step not found on live thinking message")
	}
	if l.HasApprovalStep("q1", "ap-2") {
		t.Fatal("found approval step that was never appended")
	}

	l.Freeze("q1")
	if !l.HasApprovalStep("q1", "ap-1") {
		t.Fatal("approval step not found after re-key to display id")
	}
}

func TestRestoreMarksFrozenQueries(t *testing.T) {
	msgs := []models.Message{
		{ID: "q1-user", Role: models.RoleUser, Content: "first"},
		{ID: "q1-thinking-display", Role: models.RoleSystem, ThinkingLog: []models.StepUpdate{{Status: models.StatusDone}}},
		{ID: "q1-answer", Role: models.RoleAssistant, Content: "answer one"},
		{ID: "q2-user", Role: models.RoleUser, Content: "second"},
		{ID: "q2-thinking", Role: models.RoleSystem},
	}
	l := Restore("c1", msgs, nil, 0)

	if !l.Frozen("q1") {
		t.Fatal("restored query with answer not marked frozen")
	}
	if l.Frozen("q2") {
		t.Fatal("restored in-flight query marked frozen")
	}
	if l.Len() != 5 {
		t.Fatalf("restored %d messages, want 5", l.Len())
	}
	if _, ok := l.AppendStep("q1", models.StepUpdate{}); ok {
		t.Fatal("AppendStep accepted for restored frozen query")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	l := New("c1", nil, 0)
	sid, _ := l.AppendStep("q1", models.StepUpdate{Message: "original"})

	snap := l.Snapshot()
	snap[0].ThinkingLog[0].Message = "mutated"

	if got, _ := l.StepMessage(sid); got != "original" {
		t.Fatalf("snapshot mutation leaked into log: %q", got)
	}
}

func TestTitleFromFirstUserMessage(t *testing.T) {
	l := New("c1", nil, 0)
	long := "this is a very long first question that should be cut down to a reasonable title length for the sidebar"
	l.AppendUser("q1", long)
	l.AppendUser("q2", "second question")

	title := l.Title()
	if title == "" || title == long {
		t.Fatalf("title = %q", title)
	}
	if len(title) > 64 {
		t.Fatalf("title too long: %d bytes", len(title))
	}
}

type recordingSaver struct {
	calls []saveCall
}

type saveCall struct {
	id, title, last string
	n               int
	moveToTop       bool
}

func (r *recordingSaver) Save(id, title, last string, msgs []models.Message, moveToTop bool) error {
	r.calls = append(r.calls, saveCall{id: id, title: title, last: last, n: len(msgs), moveToTop: moveToTop})
	return nil
}

func TestDebouncedSave(t *testing.T) {
	var pending func()
	orig := newTimer
	newTimer = func(d time.Duration, fn func()) *time.Timer {
		pending = fn
		return time.NewTimer(time.Hour)
	}
	defer func() { newTimer = orig }()

	sv := &recordingSaver{}
	l := New("c1", sv, 50*time.Millisecond)

	l.AppendUser("q1", "question")
	l.AppendStep("q1", models.StepUpdate{Message: "working"})
	if len(sv.calls) != 0 {
		t.Fatalf("save ran before debounce fired: %d calls", len(sv.calls))
	}

	pending()
	if len(sv.calls) != 1 {
		t.Fatalf("debounced save ran %d times, want 1", len(sv.calls))
	}
	c := sv.calls[0]
	if c.id != "c1" || c.n != 2 || c.moveToTop {
		t.Fatalf("unexpected save call: %+v", c)
	}
	if c.last != "[agent activity]" {
		t.Fatalf("last snippet = %q", c.last)
	}
}

func TestFlushSaveMovesToTop(t *testing.T) {
	sv := &recordingSaver{}
	l := New("c1", sv, 0)
	l.AppendUser("q1", "question")
	l.AppendAnswer("q1", "the answer", nil)

	l.FlushSave(true)
	if len(sv.calls) != 1 {
		t.Fatalf("FlushSave ran %d saves, want 1", len(sv.calls))
	}
	c := sv.calls[0]
	if !c.moveToTop || c.last != "the answer" || c.n != 2 {
		t.Fatalf("unexpected save call: %+v", c)
	}
}

func TestNoSaveWithoutConversationID(t *testing.T) {
	sv := &recordingSaver{}
	l := New("", sv, 0)
	l.AppendUser("q1", "question")
	l.FlushSave(true)
	if len(sv.calls) != 0 {
		t.Fatalf("saved a conversation with no id: %d calls", len(sv.calls))
	}

	if !l.SeedConversationID("q1") {
		t.Fatal("SeedConversationID rejected on empty id")
	}
	if l.SeedConversationID("q2") {
		t.Fatal("SeedConversationID overwrote existing id")
	}
	l.FlushSave(true)
	if len(sv.calls) != 1 || sv.calls[0].id != "q1" {
		t.Fatalf("save after seeding: %+v", sv.calls)
	}
}
