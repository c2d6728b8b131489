package models

import "encoding/json"

// Frame is the envelope of one WebSocket frame as produced by the backend.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Frame types the backend emits. The stream processor matches these
// exhaustively; an unknown type is dropped with a diagnostic.
const (
	FrameOrchestrator     = "orchestrator"
	FrameToolExecution    = "tool_execution"
	FrameThinking         = "thinking"
	FrameTaskUpdate       = "task_update"
	FrameError            = "error"
	FrameApprovalRequired = "approval_required"
	FrameApprovalResolved = "approval_resolved"
)

// KnownFrameType reports whether t is a frame type this client understands.
func KnownFrameType(t string) bool {
	switch t {
	case FrameOrchestrator, FrameToolExecution, FrameThinking,
		FrameTaskUpdate, FrameError, FrameApprovalRequired, FrameApprovalResolved:
		return true
	}
	return false
}

// framePeek extracts the query id common to all frame payloads.
type framePeek struct {
	QueryID string `json:"query_id"`
}

// FrameQueryID pulls the query id out of a frame's data payload without
// decoding the rest of it.
func FrameQueryID(data json.RawMessage) string {
	var p framePeek
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.QueryID
}
