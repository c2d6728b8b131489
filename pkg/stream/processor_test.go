package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"chatflow/pkg/approval"
	"chatflow/pkg/conversation"
	"chatflow/pkg/events"
	"chatflow/pkg/models"
)

type nopSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (n *nopSubmitter) SubmitApproval(ctx context.Context, sub models.ApprovalSubmission) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func newTestProcessor(t *testing.T, mode Mode) (*Processor, *conversation.Log, *approval.Coordinator) {
	t.Helper()
	log := conversation.New("c1", nil, 0)
	coord := approval.New(&nopSubmitter{}, nil, time.Second)
	p := New(log, coord, nil, nil, TypingConfig{ChunkSize: 3}, mode)
	return p, log, coord
}

func frameItem(t *testing.T, typ string, payload any) *events.Item {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &events.Item{
		Kind:      events.KindFrame,
		QueryID:   models.FrameQueryID(data),
		FrameType: typ,
		Payload:   data,
	}
}

func finalItem(queryID, body string) *events.Item {
	return &events.Item{Kind: events.KindFinal, QueryID: queryID, Payload: []byte(body)}
}

func TestTypingRevealsPrefixSequence(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)

	var got []string
	p.onTypingChunk = func(sid, text string) { got = append(got, text) }

	p.Handle(frameItem(t, models.FrameThinking, map[string]any{
		"query_id":   "q1",
		"agent_type": "inventory",
		"message":    "ABCDEFGHIJ",
	}))

	want := []string{"", "ABC", "ABCDEF", "ABCDEFGHI", "ABCDEFGHIJ"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("typing sequence = %v, want %v", got, want)
	}

	m, ok := log.Get("q1-thinking")
	if !ok || len(m.ThinkingLog) != 1 {
		t.Fatalf("thinking message = %+v (found %v)", m, ok)
	}
	if m.ThinkingLog[0].Message != "ABCDEFGHIJ" {
		t.Fatalf("final step text = %q", m.ThinkingLog[0].Message)
	}
}

func TestTypingCancelSnapsToFullText(t *testing.T) {
	log := conversation.New("c1", nil, 0)
	coord := approval.New(&nopSubmitter{}, nil, time.Second)
	// A non-zero interval engages the limiter so cancellation has a wait to
	// interrupt.
	p := New(log, coord, nil, nil, TypingConfig{ChunkSize: 3, Interval: time.Hour}, ModeReview)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.BindQuery("q1", ctx, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Handle(frameItem(t, models.FrameThinking, map[string]any{
			"query_id": "q1",
			"message":  "a long explanation that would type for an hour",
		}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled typing effect did not return")
	}

	m, _ := log.Get("q1-thinking")
	if len(m.ThinkingLog) != 1 || m.ThinkingLog[0].Message != "a long explanation that would type for an hour" {
		t.Fatalf("cancelled step did not snap to full text: %+v", m.ThinkingLog)
	}
}

func TestOrchestratorShapedThinkingIsDiscrete(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)
	var chunks int
	p.onTypingChunk = func(sid, text string) { chunks++ }

	p.Handle(frameItem(t, models.FrameThinking, map[string]any{
		"query_id":    "q1",
		"step":        "Plan inventory lookup",
		"explanation": "The question needs current stock data",
		"conclusion":  "Delegate to the inventory agent",
	}))

	if chunks != 0 {
		t.Fatalf("planning record went through the typing effect: %d chunks", chunks)
	}
	m, _ := log.Get("q1-thinking")
	if len(m.ThinkingLog) != 1 {
		t.Fatalf("thinking log = %+v", m.ThinkingLog)
	}
	s := m.ThinkingLog[0]
	if s.AgentType != models.AgentOrchestrator || s.Explanation == "" || s.Conclusion == "" {
		t.Fatalf("planning step = %+v", s)
	}
}

func TestDuplicateApprovalSuppressedInReviewMode(t *testing.T) {
	p, log, coord := newTestProcessor(t, ModeReview)

	payload := map[string]any{
		"query_id":        "q1",
		"approval_id":     "ap-1",
		"agent_type":      "inventory",
		"tool_name":       "update_inventory",
		"title":           "Update stock level",
		"timeout_seconds": 300,
	}
	p.Handle(frameItem(t, models.FrameApprovalRequired, payload))
	p.Handle(frameItem(t, models.FrameApprovalRequired, payload))

	m, _ := log.Get("q1-thinking")
	if len(m.ThinkingLog) != 1 {
		t.Fatalf("duplicate delivery rendered %d cards", len(m.ThinkingLog))
	}
	if m.ThinkingLog[0].Status != models.StatusPendingApproval {
		t.Fatalf("card status = %q", m.ThinkingLog[0].Status)
	}
	if coord.Pending() != 1 {
		t.Fatalf("coordinator tracks %d pending, want 1", coord.Pending())
	}
	if coord.IsResolved("ap-1") {
		t.Fatal("review-mode gate resolved without user action")
	}
}

func TestAutoModeApprovesAndSuppressesDuplicates(t *testing.T) {
	p, log, coord := newTestProcessor(t, ModeAuto)

	payload := map[string]any{
		"query_id":        "q1",
		"approval_id":     "ap-1",
		"tool_name":       "update_inventory",
		"title":           "Update stock level",
		"timeout_seconds": 300,
	}
	p.Handle(frameItem(t, models.FrameApprovalRequired, payload))
	p.Handle(frameItem(t, models.FrameApprovalRequired, payload))

	res, ok := coord.ResolutionFor("ap-1")
	if !ok || res.Action != models.ActionApprove {
		t.Fatalf("auto mode resolution = %+v (found %v)", res, ok)
	}
	m, _ := log.Get("q1-thinking")
	if len(m.ThinkingLog) != 1 || m.ThinkingLog[0].Status != models.StatusAutoApproved {
		t.Fatalf("auto-approved steps = %+v", m.ThinkingLog)
	}
}

func TestServerResolutionIsAuthoritative(t *testing.T) {
	p, _, coord := newTestProcessor(t, ModeReview)

	coord.RecordLocal(models.ApprovalResolution{ApprovalID: "ap-1", Action: models.ActionApprove})
	p.Handle(frameItem(t, models.FrameApprovalResolved, map[string]any{
		"query_id":    "q1",
		"approval_id": "ap-1",
		"action":      "reject",
		"reason":      "policy violation",
	}))

	res, _ := coord.ResolutionFor("ap-1")
	if res.Action != models.ActionReject || res.Reason != "policy violation" {
		t.Fatalf("server broadcast did not win: %+v", res)
	}
}

func TestFinalResultFreezesAndLateFramesDrop(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)

	p.Handle(frameItem(t, models.FrameTaskUpdate, map[string]any{
		"query_id": "q1", "agent_type": "inventory", "status": "processing", "message": "looking up stock",
	}))
	p.Handle(finalItem("q1", `{"response":{"final_response":{"message":"12 units in stock"}}}`))

	if !log.Frozen("q1") {
		t.Fatal("final result did not freeze the query")
	}
	ans, ok := log.Get("q1-answer")
	if !ok || ans.Content != "12 units in stock" {
		t.Fatalf("answer = %+v (found %v)", ans, ok)
	}

	// A straggler frame for the terminal query is dropped, not rendered.
	p.Handle(frameItem(t, models.FrameTaskUpdate, map[string]any{
		"query_id": "q1", "status": "processing", "message": "late",
	}))
	m, _ := log.Get("q1-thinking-display")
	if len(m.ThinkingLog) != 1 {
		t.Fatalf("late frame was rendered: %d steps", len(m.ThinkingLog))
	}
}

func TestFinalResultLayoutWins(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)

	body := `{"final_response":{"layout":[{"type":"table","ref":"t1"}],"full_data":{"t1":{"rows":3}},"message":"ignored"}}`
	p.Handle(finalItem("q1", body))

	ans, _ := log.Get("q1-answer")
	if ans.Content != "" {
		t.Fatalf("content = %q, want empty when layout present", ans.Content)
	}
	if len(ans.Layout) != 1 || ans.Layout[0].Ref != "t1" {
		t.Fatalf("layout = %+v", ans.Layout)
	}
	if string(ans.Layout[0].Data) != `{"rows":3}` {
		t.Fatalf("deferred block not resolved: %s", ans.Layout[0].Data)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)

	p.Handle(&events.Item{
		Kind:      events.KindFrame,
		QueryID:   "q1",
		FrameType: models.FrameThinking,
		Payload:   []byte("{broken"),
	})

	if log.Len() != 0 {
		t.Fatalf("malformed payload rendered %d messages", log.Len())
	}
}

func TestStaleFramesRenderIntoBoundConversation(t *testing.T) {
	p, first, _ := newTestProcessor(t, ModeReview)
	p.BindQuery("q1", context.Background(), first)

	second := conversation.New("c2", nil, 0)
	p.SetLog(second)

	// q1 frames arriving after the switch still land in the first log.
	p.Handle(frameItem(t, models.FrameTaskUpdate, map[string]any{
		"query_id": "q1", "status": "processing", "message": "still working",
	}))

	if first.Len() != 1 {
		t.Fatalf("bound conversation has %d messages, want 1", first.Len())
	}
	if second.Len() != 0 {
		t.Fatalf("stale frame leaked into the new conversation: %d messages", second.Len())
	}
}

func TestQueryLifecycleThroughQueue(t *testing.T) {
	p, log, _ := newTestProcessor(t, ModeReview)
	q := events.New()
	p.Attach(q)

	log.AppendUser("q1", "How many units of SKU-42 do we have?")

	frames := []string{
		`{"type":"orchestrator","data":{"query_id":"q1","message":"Routing to inventory agent"}}`,
		`{"type":"tool_execution","data":{"query_id":"q1","agent_type":"inventory","tool_name":"query_stock","parameters":{"sku":"SKU-42"},"message":"query_stock(SKU-42)"}}`,
	}
	for i, raw := range frames {
		if err := q.EnqueueRawFrame([]byte(raw)); err != nil {
			t.Fatalf("enqueue frame %d: %v", i, err)
		}
	}
	if err := q.EnqueueFinal("q1", []byte(`{"response":{"final_response":{"message":"12 units in stock"}}}`)); err != nil {
		t.Fatalf("enqueue final: %v", err)
	}
	q.Quiesce()

	msgs := log.Snapshot()
	if len(msgs) != 3 {
		for i, m := range msgs {
			t.Logf("message %d: %s (%s)", i, m.ID, m.Role)
		}
		t.Fatalf("transcript has %d messages, want 3", len(msgs))
	}
	if msgs[0].ID != "q1-user" {
		t.Fatalf("first message = %q", msgs[0].ID)
	}
	thinking := msgs[1]
	if thinking.ID != "q1-thinking-display" || thinking.ThinkingExpanded {
		t.Fatalf("thinking message = %q expanded %v", thinking.ID, thinking.ThinkingExpanded)
	}
	if len(thinking.ThinkingLog) != 2 {
		t.Fatalf("thinking log has %d steps, want 2", len(thinking.ThinkingLog))
	}
	if thinking.ThinkingLog[0].AgentType != models.AgentOrchestrator {
		t.Fatalf("first step agent = %q", thinking.ThinkingLog[0].AgentType)
	}
	tr := thinking.ThinkingLog[1].ToolResult
	if tr == nil || tr.Tool != "query_stock" || fmt.Sprint(tr.Params["sku"]) != "SKU-42" {
		t.Fatalf("tool step = %+v", thinking.ThinkingLog[1])
	}
	if msgs[2].ID != "q1-answer" || msgs[2].Content != "12 units in stock" {
		t.Fatalf("answer = %+v", msgs[2])
	}
	if !log.Frozen("q1") {
		t.Fatal("query not frozen after final result")
	}
}
