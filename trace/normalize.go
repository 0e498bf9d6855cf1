package trace

// NormalizeMessage decides the canonical reasoning/answer split for one
// message. It only acts on assistant-authored messages that do not already
// carry a structured ReasoningContent; an explicit structured field always
// wins over tag-based inference. The second return reports whether anything
// changed, so callers can cheaply detect no-ops across a batch.
func NormalizeMessage(m Message) (Message, bool) {
	if m.Role != RoleAssistant && m.Role != RoleModel {
		return m, false
	}
	if m.ReasoningContent != "" {
		return m, false
	}

	p := ParseThinkTags(m.Content)
	if !p.HasThinkTags {
		return m, false
	}

	out := m
	if p.Reasoning != nil {
		if r := SanitizeReasoning(*p.Reasoning); r != "" {
			out.ReasoningContent = r
		}
	}
	out.Content = p.Answer
	return out, true
}

// NormalizeItem applies NormalizeMessage across an item's message sequence and
// marks the item dirty when any message changed.
func NormalizeItem(it *Item) bool {
	if it == nil {
		return false
	}
	changed := false
	for i := range it.Messages {
		m, ok := NormalizeMessage(it.Messages[i])
		if ok {
			it.Messages[i] = m
			changed = true
		}
	}
	if changed {
		it.HasUnsavedChanges = true
	}
	return changed
}
