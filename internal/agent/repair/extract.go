package repair

import (
	"errors"
	"strings"
)

var (
	ErrEmptyOutput = errors.New("model output is empty")
	ErrNoJSON      = errors.New("no JSON object or array found in model output")
)

// Extract pulls the JSON payload out of free-form model output. It prefers a
// ```json fenced block, then any fenced block whose body starts with { or [,
// then the first balanced object or array in the text.
func Extract(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyOutput
	}
	var generic string
	for _, f := range fences(trimmed) {
		if strings.EqualFold(f.lang, "json") {
			return f.body, nil
		}
		if generic == "" && startsJSON(f.body) {
			generic = f.body
		}
	}
	if generic != "" {
		return generic, nil
	}
	if payload, ok := balanced(trimmed); ok {
		return payload, nil
	}
	return "", ErrNoJSON
}

type fence struct {
	lang string
	body string
}

// fences returns the closed ``` blocks of s in order.
func fences(s string) []fence {
	var out []fence
	for {
		open := strings.Index(s, "```")
		if open < 0 {
			return out
		}
		rest := s[open+3:]
		closing := strings.Index(rest, "```")
		if closing < 0 {
			return out
		}
		content := rest[:closing]
		var lang string
		if nl := strings.IndexByte(content, '\n'); nl >= 0 {
			lang = strings.TrimSpace(content[:nl])
			content = content[nl+1:]
		}
		out = append(out, fence{lang: lang, body: strings.TrimSpace(content)})
		s = rest[closing+3:]
	}
}

func startsJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// balanced returns the first balanced object or array in s. A candidate that
// hits a mismatched closer or runs off the end is abandoned and scanning
// resumes at the next { or [.
func balanced(s string) (string, bool) {
	for offset := 0; offset < len(s); {
		i := strings.IndexAny(s[offset:], "{[")
		if i < 0 {
			return "", false
		}
		start := offset + i
		if end, ok := closeFrom(s, start); ok {
			return s[start:end], true
		}
		offset = start + 1
	}
	return "", false
}

// closeFrom returns the index just past the bracket that closes the one at
// start, ignoring brackets inside string literals.
func closeFrom(s string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
