package trace

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleModel is the Gemini-style spelling of the assistant role. It is treated
	// as assistant-authored everywhere reasoning separation applies.
	RoleModel Role = "model"
)

// Message is a single turn in a multi-turn item.
//
// ReasoningContent, when set, never contains literal <think> markup; markup only
// ever appears transiently inside Content before normalization.
type Message struct {
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	Reasoning        string          `json:"reasoning,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
}

// Item is one generated sample: a query/reasoning/answer triple, optionally
// carrying a multi-turn message sequence. When Messages is non-empty the
// single-turn fields are legacy/secondary and IsMultiTurn must be true.
type Item struct {
	ID               string  `json:"id"`
	Query            string  `json:"query"`
	Reasoning        string  `json:"reasoning,omitempty"`
	ReasoningContent string  `json:"reasoning_content,omitempty"`
	Answer           string  `json:"answer,omitempty"`
	Score            *float64 `json:"score,omitempty"`

	// OriginalReasoning/OriginalAnswer are legacy storage keys kept for datasets
	// produced before rewrites tracked originals separately. The merge engine
	// consults them through the alias table in merge.go.
	OriginalReasoning string `json:"original_reasoning,omitempty"`
	OriginalAnswer    string `json:"original_answer,omitempty"`

	IsMultiTurn bool      `json:"is_multi_turn,omitempty"`
	Messages    []Message `json:"messages,omitempty"`

	// Extra holds generated fields outside the canonical set. The output schema
	// is advisory, not a filter, so unknown fields round-trip here.
	Extra map[string]string `json:"extra,omitempty"`

	// HasUnsavedChanges is a transient dirty flag; it is never persisted.
	HasUnsavedChanges bool `json:"-"`
}

// Field returns the named field's current value and whether it is non-empty.
// It resolves canonical fields, the legacy original_* keys, and Extra.
func (it *Item) Field(name string) (string, bool) {
	if it == nil {
		return "", false
	}
	var v string
	switch name {
	case "query":
		v = it.Query
	case "reasoning":
		v = it.Reasoning
	case "reasoning_content":
		v = it.ReasoningContent
	case "answer":
		v = it.Answer
	case "original_reasoning":
		v = it.OriginalReasoning
	case "original_answer":
		v = it.OriginalAnswer
	default:
		v = it.Extra[name]
	}
	return v, v != ""
}

// SetField writes the named field, routing unknown names into Extra.
func (it *Item) SetField(name, value string) {
	switch name {
	case "query":
		it.Query = value
	case "reasoning":
		it.Reasoning = value
	case "reasoning_content":
		it.ReasoningContent = value
	case "answer":
		it.Answer = value
	case "original_reasoning":
		it.OriginalReasoning = value
	case "original_answer":
		it.OriginalAnswer = value
	default:
		if it.Extra == nil {
			it.Extra = make(map[string]string)
		}
		it.Extra[name] = value
	}
}

// TruncateMessages removes messages[from:], the "delete this message and all
// following" operation. It recomputes IsMultiTurn from the remaining count and
// marks the item dirty.
func TruncateMessages(it *Item, from int) error {
	if it == nil {
		return errors.New("TruncateMessages: item is nil")
	}
	if from < 0 || from >= len(it.Messages) {
		return fmt.Errorf("TruncateMessages: index %d out of range (have %d messages)", from, len(it.Messages))
	}
	it.Messages = it.Messages[:from]
	it.IsMultiTurn = len(it.Messages) > 1
	it.HasUnsavedChanges = true
	return nil
}
