package trace

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkParse is the result of splitting a text blob on <think> markup.
// Reasoning is nil when no think tags are present at all, which is distinct
// from an empty reasoning block.
type ThinkParse struct {
	HasThinkTags bool
	Reasoning    *string
	Answer       string
}

// ParseThinkTags separates a <think>...</think> block from the surrounding
// answer text. A lone opening tag (the closer has not streamed in yet) is
// treated as "everything after the opener is reasoning so far".
func ParseThinkTags(text string) ThinkParse {
	open := strings.Index(text, thinkOpen)
	if open == -1 {
		return ThinkParse{Answer: strings.TrimSpace(text)}
	}

	after := text[open+len(thinkOpen):]
	if close := strings.Index(after, thinkClose); close != -1 {
		reasoning := strings.TrimSpace(after[:close])
		answer := strings.TrimSpace(text[:open] + after[close+len(thinkClose):])
		return ThinkParse{HasThinkTags: true, Reasoning: &reasoning, Answer: answer}
	}

	// Mid-stream: still inside the think block.
	reasoning := strings.TrimSpace(after)
	return ThinkParse{HasThinkTags: true, Reasoning: &reasoning, Answer: strings.TrimSpace(text[:open])}
}

var thinkTagStripper = strings.NewReplacer(thinkOpen, "", thinkClose, "")

// SanitizeReasoning strips residual think markup from text already believed to
// be pure reasoning. Tags can leak in when a model nests or repeats them.
func SanitizeReasoning(s string) string {
	return strings.TrimSpace(thinkTagStripper.Replace(s))
}
