package trace

import (
	"regexp"
	"strings"
)

// Extraction is the per-chunk result of scanning an accumulated model output
// buffer for reasoning/answer fields. Values may be partial: a field whose
// closing quote has not arrived yet is reported with HasXEnd=false and whatever
// text has streamed in so far.
type Extraction struct {
	Reasoning string
	Answer    string

	HasReasoningStart bool
	HasReasoningEnd   bool
	HasAnswerStart    bool
	HasAnswerEnd      bool
}

// Accepted key spellings, in priority order. The first alias that matches wins
// for its field; later aliases are ignored even if they also appear.
var (
	reasoningKeys = []string{"reasoning"}
	answerKeys    = []string{"answer", "response", "content", "text"}
)

var (
	reasoningKeyPatterns = compileKeyPatterns(reasoningKeys)
	answerKeyPatterns    = compileKeyPatterns(answerKeys)
	queryKeyPatterns     = compileKeyPatterns([]string{"query"})
)

// compileKeyPatterns builds one matcher per alias. A key may be wrapped in
// straight or single quotes (with optional interior whitespace), or appear
// bare. The trailing capture is the quote character that opens the value.
func compileKeyPatterns(keys []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keys))
	for _, k := range keys {
		// \b keeps "content" from matching inside "reasoning_content".
		out = append(out, regexp.MustCompile(`["']?[ \t]*\b`+k+`\b[ \t]*["']?\s*:\s*(["'])`))
	}
	return out
}

var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‘", `'`, // left single
	"’", `'`, // right single
)

// ExtractFields scans buffer (the full accumulated model output so far, not a
// delta) for reasoning and answer fields. It is pure: the same buffer always
// yields the same result, and it never fails; malformed input simply produces
// empty fields.
//
// The input is intentionally allowed to be truncated mid-value, which is why
// this is a regex-and-scan walk rather than a real JSON parser: a parser
// cannot accept incomplete documents, and live streaming display depends on
// reading an unterminated value up to the end of the buffer.
func ExtractFields(buffer string) Extraction {
	body := stripCodeFence(buffer)
	body = smartQuoteReplacer.Replace(body)

	var ex Extraction
	ex.Reasoning, ex.HasReasoningStart, ex.HasReasoningEnd = extractOne(body, reasoningKeyPatterns)
	ex.Answer, ex.HasAnswerStart, ex.HasAnswerEnd = extractOne(body, answerKeyPatterns)
	return ex
}

// ExtractQueryField scans buffer for a "query" string field under the same
// tolerance rules as ExtractFields: fence stripping, smart-quote
// normalization, and mid-value truncation. Query rewrites request their value
// under this key, which is not an answer alias.
func ExtractQueryField(buffer string) (value string, start, end bool) {
	body := stripCodeFence(buffer)
	body = smartQuoteReplacer.Replace(body)
	return extractOne(body, queryKeyPatterns)
}

// stripCodeFence unwraps a markdown code fence (optionally tagged "json"). A
// still-open fence, where the closer has not streamed in yet, unwraps to
// everything after the opener.
func stripCodeFence(s string) string {
	open := strings.Index(s, "```")
	if open == -1 {
		return s
	}
	rest := s[open+3:]
	// Skip an optional language tag up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	} else if strings.EqualFold(strings.TrimSpace(rest), "json") {
		return ""
	}
	if close := strings.Index(rest, "```"); close != -1 {
		return rest[:close]
	}
	return rest
}

func extractOne(body string, patterns []*regexp.Regexp) (value string, start, end bool) {
	for _, pat := range patterns {
		loc := pat.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		quote := body[loc[2]]
		raw, closed := scanQuotedValue(body[loc[3]:], quote)
		return unescapeJSONString(raw), true, closed
	}
	return "", false, false
}

// scanQuotedValue walks forward from just after the opening value quote,
// honoring backslash escapes, until the first unescaped occurrence of the same
// quote character. closed=false means the buffer ran out first.
func scanQuotedValue(s string, quote byte) (value string, closed bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // skip the escaped character
		case quote:
			return s[:i], true
		}
	}
	return s, false
}

// unescapeJSONString resolves the standard escapes the extractor cares about.
// Unknown escape sequences are left as-is rather than rejected.
func unescapeJSONString(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
