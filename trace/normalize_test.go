package trace

import (
	"reflect"
	"testing"
)

func TestNormalizeMessage_SplitsThinkTags(t *testing.T) {
	t.Parallel()

	m, changed := NormalizeMessage(Message{
		Role:    RoleAssistant,
		Content: "<think>Step 1\nStep 2</think>The answer is 42.",
	})
	if !changed {
		t.Fatal("changed=false, want true")
	}
	if m.ReasoningContent != "Step 1\nStep 2" {
		t.Fatalf("reasoning_content=%q, want %q", m.ReasoningContent, "Step 1\nStep 2")
	}
	if m.Content != "The answer is 42." {
		t.Fatalf("content=%q, want %q", m.Content, "The answer is 42.")
	}
}

func TestNormalizeMessage_StructuredFieldWins(t *testing.T) {
	t.Parallel()

	in := Message{
		Role:             RoleAssistant,
		Content:          "<think>tag reasoning</think>answer",
		ReasoningContent: "already separated",
	}
	out, changed := NormalizeMessage(in)
	if changed {
		t.Fatal("changed=true, want false: explicit reasoning_content must take precedence")
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("message mutated: %+v", out)
	}
}

func TestNormalizeMessage_NonAssistantUntouched(t *testing.T) {
	t.Parallel()

	for _, role := range []Role{RoleUser, RoleSystem, RoleTool} {
		in := Message{Role: role, Content: "<think>not mine</think>text"}
		out, changed := NormalizeMessage(in)
		if changed || !reflect.DeepEqual(out, in) {
			t.Fatalf("role %s: message changed: %+v", role, out)
		}
	}
}

func TestNormalizeMessage_ModelRoleTreatedAsAssistant(t *testing.T) {
	t.Parallel()

	m, changed := NormalizeMessage(Message{Role: RoleModel, Content: "<think>g</think>a"})
	if !changed || m.ReasoningContent != "g" || m.Content != "a" {
		t.Fatalf("model-role message not normalized: changed=%v %+v", changed, m)
	}
}

func TestNormalizeMessage_EmptyReasoningLeavesFieldUnset(t *testing.T) {
	t.Parallel()

	m, changed := NormalizeMessage(Message{Role: RoleAssistant, Content: "<think></think>just answer"})
	if !changed {
		t.Fatal("changed=false, want true")
	}
	if m.ReasoningContent != "" {
		t.Fatalf("reasoning_content=%q, want unset", m.ReasoningContent)
	}
	if m.Content != "just answer" {
		t.Fatalf("content=%q, want %q", m.Content, "just answer")
	}
}

func TestNormalizeItem_MarksDirtyOnlyWhenChanged(t *testing.T) {
	t.Parallel()

	it := &Item{
		ID:          "i1",
		IsMultiTurn: true,
		Messages: []Message{
			{Role: RoleUser, Content: "question"},
			{Role: RoleAssistant, Content: "<think>R</think>A"},
		},
	}
	if !NormalizeItem(it) {
		t.Fatal("NormalizeItem=false, want true")
	}
	if !it.HasUnsavedChanges {
		t.Fatal("item not marked dirty")
	}
	if it.Messages[1].ReasoningContent != "R" || it.Messages[1].Content != "A" {
		t.Fatalf("assistant message not normalized: %+v", it.Messages[1])
	}

	clean := &Item{Messages: []Message{{Role: RoleAssistant, Content: "no tags"}}}
	if NormalizeItem(clean) {
		t.Fatal("NormalizeItem=true for a clean item")
	}
	if clean.HasUnsavedChanges {
		t.Fatal("clean item marked dirty")
	}
}
