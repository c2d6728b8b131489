package models

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in a conversation. A message may carry plain text
// content, a structured layout, or an embedded thinking log of agent
// step updates.
type Message struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Layout  []LayoutBlock `json:"layout,omitempty"`
	// CreatedAt is assigned at construction and never changes.
	CreatedAt time.Time `json:"created_at"`
	// ThinkingLog is mutable while the owning query is in flight and
	// frozen once the terminal event for that query has been processed.
	ThinkingLog []StepUpdate `json:"thinking_log,omitempty"`
	// ThinkingExpanded is a viewer affinity flag; collapsed once frozen.
	ThinkingExpanded bool `json:"thinking_expanded,omitempty"`
}

// LayoutBlock is one structured content block produced by the backend.
// The engine treats blocks as opaque aside from deferred-data resolution:
// a block with a Ref and no Data has its Data filled from the final
// result's full_data map.
type LayoutBlock struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// Deterministic message ids derived from a query id. These are what let
// late events for a query be located in O(1) instead of scanned.

// ThinkingID returns the id of the in-flight thinking message for a query.
func ThinkingID(queryID string) string { return queryID + "-thinking" }

// ThinkingDisplayID returns the id a thinking message is re-keyed to once
// its query's terminal event has been processed.
func ThinkingDisplayID(queryID string) string { return queryID + "-thinking-display" }

// AnswerID returns the id of the final answer message for a query.
func AnswerID(queryID string) string { return queryID + "-answer" }

// UserID returns the id of the user message that started a query.
func UserID(queryID string) string { return queryID + "-user" }
