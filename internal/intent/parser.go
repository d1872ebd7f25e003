package intent

import (
	"encoding/json"
	"strings"
)

// envelope is the JSON object both prompts ask the model to answer with.
type envelope struct {
	Classification string   `json:"classification"`
	Response       string   `json:"response"`
	ProductIDs     []string `json:"productIds"`
}

// parseEnvelope pulls the reply envelope out of model output. Models wrap it in
// code fences, prefix it with a role name or surround it with prose, so the
// parser tries, in order:
//   - the whole trimmed content
//   - the content inside a ``` fence
//   - the first balanced {...} object found in the text
//
// ok is false when none of these decode into an object.
func parseEnvelope(content string) (envelope, bool) {
	content = stripRolePrefix(strings.TrimSpace(content))

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if env, ok := tryDecode(content); ok {
		return env, true
	}
	if start, end := findJSONBounds(content); start >= 0 && end > start {
		if env, ok := tryDecode(content[start:end]); ok {
			return env, true
		}
	}
	return envelope{}, false
}

func tryDecode(raw string) (envelope, bool) {
	if !strings.HasPrefix(raw, "{") {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		if err := json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &env); err != nil {
			return envelope{}, false
		}
	}
	return env, true
}

// findJSONBounds locates the first top-level JSON object in s.
// Returns the start index and end+1 index, or (-1, -1) if not found.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// stripRolePrefix removes role-name prefixes that some chat-template models
// leak into their content ("assistant\nHello", "Assistant: Hello").
func stripRolePrefix(content string) string {
	prefixes := []string{
		"assistant\n",
		"Assistant\n",
		"assistant:\n",
		"Assistant:\n",
		"assistant: ",
		"Assistant: ",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// sanitizeJSONEscapes fixes invalid JSON escape sequences produced by some LLMs.
// Valid JSON escapes: \", \\, \/, \b, \f, \n, \r, \t, \uXXXX.
// Invalid ones (e.g. \% or \Y) are corrected by dropping the backslash.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
			default:
				continue
			}
		} else {
			buf.WriteByte(ch)
		}
	}
	return buf.String()
}
