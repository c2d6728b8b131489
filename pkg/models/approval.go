package models

import "time"

// ApprovalAction is the outcome kind of an approval resolution.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionModify  ApprovalAction = "modify"
	ActionReject  ApprovalAction = "reject"
)

// TimeoutReason is the reject reason synthesized when an approval request
// expires with no recorded resolution.
const TimeoutReason = "Timeout"

// ApprovalRequest is a pending authorization gate raised by a backend tool
// call. It stays embedded in the step update that carried it; resolutions
// shadow it through the approval coordinator rather than removing it.
type ApprovalRequest struct {
	ApprovalID string `json:"approval_id"`
	QueryID    string `json:"query_id"`
	AgentType  string `json:"agent_type,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// ProposedParams are the parameters the tool intends to execute with.
	// ModifiableFields lists the subset of keys the viewer may edit.
	ProposedParams   map[string]any `json:"proposed_params,omitempty"`
	ModifiableFields []string       `json:"modifiable_fields,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExpiresAt is the absolute deadline for the request.
func (a *ApprovalRequest) ExpiresAt() time.Time {
	return a.CreatedAt.Add(time.Duration(a.TimeoutSeconds) * time.Second)
}

// ApprovalResolution is the recorded outcome of one approval request.
type ApprovalResolution struct {
	ApprovalID string         `json:"approval_id"`
	Action     ApprovalAction `json:"action"`
	// ModifiedParams is present iff Action == modify.
	ModifiedParams map[string]any `json:"modified_params,omitempty"`
	// Reason is present iff Action == reject.
	Reason string `json:"reason,omitempty"`
}

// ApprovalSubmission is the wire body POSTed to the backend when a
// resolution is delivered.
type ApprovalSubmission struct {
	ApprovalID     string         `json:"approval_id"`
	QueryID        string         `json:"query_id"`
	Action         ApprovalAction `json:"action"`
	ModifiedParams map[string]any `json:"modified_params,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}
