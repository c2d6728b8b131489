package models

import (
	"encoding/json"
	"time"
)

// StepStatus is the lifecycle state of a single step update.
type StepStatus string

const (
	StatusProcessing      StepStatus = "processing"
	StatusDone            StepStatus = "done"
	StatusFailed          StepStatus = "failed"
	StatusPendingApproval StepStatus = "pending_approval"
	StatusAutoApproved    StepStatus = "auto_approved"
)

// AgentOrchestrator identifies the planning agent; every other agent type
// is an opaque worker name supplied by the backend.
const AgentOrchestrator = "orchestrator"

// StepUpdate is one increment of agent reasoning or action inside a
// thinking log. Within one log, steps are stored in arrival order and are
// only ever appended; the single exception is a streaming typing update,
// which is mutated in place through its synthetic id.
type StepUpdate struct {
	// SyntheticID keys the step in the log's arena so a typing effect
	// can locate it without scanning. Assigned by the conversation log.
	SyntheticID string `json:"sid,omitempty"`

	AgentType string     `json:"agent_type"`
	Status    StepStatus `json:"status"`

	Message     string `json:"message,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Conclusion  string `json:"conclusion,omitempty"`

	ToolResult *ToolResult      `json:"tool_result,omitempty"`
	Approval   *ApprovalRequest `json:"approval,omitempty"`
	TokenUsage *TokenUsage      `json:"token_usage,omitempty"`

	At time.Time `json:"at"`
}

// ToolResult reports a completed backend tool call.
type ToolResult struct {
	Tool   string          `json:"tool"`
	Params map[string]any  `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// TokenUsage carries informational token counters.
type TokenUsage struct {
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
	Total      int `json:"total,omitempty"`
}
