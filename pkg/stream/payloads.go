package stream

import (
	"encoding/json"
	"time"

	"chatflow/pkg/models"
)

// Frame payload shapes, exactly as the backend produces them. Field sets
// track the wire contract in the backend's event publisher; unknown fields
// are ignored.

type approvalPayload struct {
	ApprovalID       string         `json:"approval_id"`
	QueryID          string         `json:"query_id"`
	AgentType        string         `json:"agent_type"`
	ToolName         string         `json:"tool_name"`
	ProposedParams   map[string]any `json:"proposed_params"`
	ModifiableFields []string       `json:"modifiable_fields"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	TimeoutSeconds   int            `json:"timeout_seconds"`
	CreatedAt        string         `json:"created_at"`
}

func (p *approvalPayload) request() *models.ApprovalRequest {
	created := time.Now().UTC()
	if p.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
			created = t
		}
	}
	return &models.ApprovalRequest{
		ApprovalID:       p.ApprovalID,
		QueryID:          p.QueryID,
		AgentType:        p.AgentType,
		ToolName:         p.ToolName,
		ProposedParams:   p.ProposedParams,
		ModifiableFields: p.ModifiableFields,
		Title:            p.Title,
		Description:      p.Description,
		TimeoutSeconds:   p.TimeoutSeconds,
		CreatedAt:        created,
	}
}

type resolvedPayload struct {
	ApprovalID     string                `json:"approval_id"`
	QueryID        string                `json:"query_id"`
	Action         models.ApprovalAction `json:"action"`
	ModifiedParams map[string]any        `json:"modified_params"`
	Reason         string                `json:"reason"`
}

type thinkingPayload struct {
	QueryID     string             `json:"query_id"`
	AgentType   string             `json:"agent_type"`
	Message     string             `json:"message"`
	Reasoning   string             `json:"reasoning"`
	Step        string             `json:"step"`
	Explanation string             `json:"explanation"`
	Conclusion  string             `json:"conclusion"`
	TokenUsage  *models.TokenUsage `json:"token_usage"`
}

// orchestratorShaped distinguishes a discrete planning record from worker
// prose by field presence, which is the only wire-level discriminator.
func (p *thinkingPayload) orchestratorShaped() bool {
	return p.Step != "" && p.Explanation != "" && p.Conclusion != ""
}

type toolPayload struct {
	QueryID   string          `json:"query_id"`
	AgentType string          `json:"agent_type"`
	ToolName  string          `json:"tool_name"`
	Params    map[string]any  `json:"parameters"`
	Result    json.RawMessage `json:"result"`
	Message   string          `json:"message"`
}

type taskPayload struct {
	QueryID   string            `json:"query_id"`
	AgentType string            `json:"agent_type"`
	Status    models.StepStatus `json:"status"`
	Message   string            `json:"message"`
}

type orchestratorPayload struct {
	QueryID   string `json:"query_id"`
	Message   string `json:"message"`
	Reasoning string `json:"reasoning"`
}

type errorPayload struct {
	QueryID   string `json:"query_id"`
	AgentType string `json:"agent_type"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}
