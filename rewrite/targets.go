package rewrite

import (
	"strings"

	"github.com/tracewright/tracewright/trace"
)

// Target names the field(s) a rewrite regenerates. Combined with an OpKey's
// MessageIndex it covers both item-level and per-message rewrites.
type Target string

const (
	TargetQuery     Target = "query"
	TargetReasoning Target = "reasoning"
	TargetAnswer    Target = "answer"
	TargetBoth      Target = "both"
)

// ItemLevel marks an OpKey that targets the item's single-turn fields rather
// than a specific message.
const ItemLevel = -1

// OpKey identifies one rewrite operation. At most one operation may be active
// per key; starting another cancels the first.
type OpKey struct {
	ItemID       string
	MessageIndex int // ItemLevel, or an index into the item's messages
	Target       Target
}

// liveView is what the streaming policy distilled from the accumulated buffer
// for display while chunks arrive.
type liveView struct {
	Reasoning string
	Answer    string
}

// targetLive applies the per-target extraction policy to the accumulated
// buffer. Single-field targets fall back through the generic answer key and
// finally the raw buffer, so something is always visible while streaming even
// when the backend ignores the JSON contract.
func targetLive(target Target, accumulated string) liveView {
	ex := trace.ExtractFields(accumulated)
	switch target {
	case TargetQuery:
		// Query rewrites request their value under the "query" key, which is
		// not an answer alias; read it first, then fall back like the other
		// single-field targets.
		if q, start, _ := trace.ExtractQueryField(accumulated); start {
			return liveView{Answer: q}
		}
		if ex.HasAnswerStart {
			return liveView{Answer: ex.Answer}
		}
		return liveView{Answer: accumulated}
	case TargetReasoning:
		switch {
		case ex.HasReasoningStart:
			return liveView{Reasoning: ex.Reasoning}
		case ex.HasAnswerStart:
			// Some backends put the sole requested field under the generic
			// answer key.
			return liveView{Reasoning: ex.Answer}
		default:
			return liveView{Reasoning: accumulated}
		}
	case TargetAnswer:
		switch {
		case ex.HasAnswerStart:
			return liveView{Answer: ex.Answer}
		case ex.HasReasoningStart:
			return liveView{Answer: ex.Reasoning}
		default:
			return liveView{Answer: accumulated}
		}
	case TargetBoth:
		return bothLive(accumulated, ex)
	default:
		return liveView{Answer: accumulated}
	}
}

// bothLive splits an interleaved reasoning+answer stream. Think-tag output
// takes priority; otherwise the JSON keys drive the split, with the
// answer-start flag marking the reasoning→answer transition. Until either
// shape appears, everything is treated as reasoning. The transition heuristic
// assumes reasoning streams before answer; a backend emitting the answer key
// first produces an answer-only view, which is accepted as-is.
func bothLive(accumulated string, ex trace.Extraction) liveView {
	if tp := trace.ParseThinkTags(accumulated); tp.HasThinkTags {
		v := liveView{Answer: tp.Answer}
		if tp.Reasoning != nil {
			v.Reasoning = *tp.Reasoning
		}
		return v
	}
	if ex.HasReasoningStart || ex.HasAnswerStart {
		return liveView{Reasoning: ex.Reasoning, Answer: ex.Answer}
	}
	return liveView{Reasoning: accumulated}
}

// targetFinal turns the final accumulated text into the generated-field map
// handed to the merge engine. Reasoning values are sanitized of residual
// think markup before they become canonical.
func targetFinal(target Target, accumulated string) map[string]string {
	v := targetLive(target, accumulated)
	switch target {
	case TargetQuery:
		return map[string]string{"query": trimmed(v.Answer)}
	case TargetReasoning:
		return map[string]string{"reasoning": trace.SanitizeReasoning(v.Reasoning)}
	case TargetAnswer:
		return map[string]string{"answer": trimmed(v.Answer)}
	case TargetBoth:
		return map[string]string{
			"reasoning": trace.SanitizeReasoning(v.Reasoning),
			"answer":    trimmed(v.Answer),
		}
	default:
		return map[string]string{}
	}
}

// Live buffers keep raw whitespace for display; final values do not.
func trimmed(s string) string {
	return strings.TrimSpace(s)
}

// defaultSelection is the field set a target regenerates when the caller does
// not narrow it.
func defaultSelection(target Target) []string {
	switch target {
	case TargetQuery:
		return []string{"query"}
	case TargetReasoning:
		return []string{"reasoning"}
	case TargetAnswer:
		return []string{"answer"}
	case TargetBoth:
		return []string{"reasoning", "answer"}
	default:
		return nil
	}
}

// defaultSchema mirrors defaultSelection as an output field schema.
func defaultSchema(target Target) []trace.FieldSpec {
	sel := defaultSelection(target)
	out := make([]trace.FieldSpec, 0, len(sel))
	for _, name := range sel {
		out = append(out, trace.FieldSpec{Name: name})
	}
	return out
}
