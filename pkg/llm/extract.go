package llm

import (
	"encoding/json"
	"strings"

	"copilot-server/pkg/errors"
)

// Result is the outcome of structured extraction from free-form model output.
// Raw always carries the untouched input for diagnostics.
type Result struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Success bool            `json:"success"`
	Err     error           `json:"-"`
	Raw     string          `json:"raw"`
}

// ParseFunc lets a caller substitute its own parser for the candidate
// substring. It must return an error rather than panic.
type ParseFunc func(candidate string) (json.RawMessage, error)

// ExtractJSON pulls a JSON document out of free-form LLM output.
// Models are not guaranteed to return bare JSON, so candidates are tried in
// order: fenced code block, brace-delimited object, bracket-delimited array.
// A failure never propagates as an error to the caller's control flow;
// consumers treat Success=false as "no actionable result this round".
func ExtractJSON(raw string) Result {
	return ExtractJSONWith(raw, nil)
}

// ExtractJSONWith is ExtractJSON with a caller-supplied parser.
func ExtractJSONWith(raw string, parse ParseFunc) Result {
	candidates := jsonCandidates(raw)
	if len(candidates) == 0 {
		return Result{
			Success: false,
			Err:     errors.Wrap(errors.ErrExtractionFailed, "no JSON candidate in response"),
			Raw:     raw,
		}
	}

	if parse == nil {
		parse = func(c string) (json.RawMessage, error) {
			var probe interface{}
			if err := json.Unmarshal([]byte(c), &probe); err != nil {
				return nil, err
			}
			return json.RawMessage(c), nil
		}
	}

	var lastErr error
	for _, candidate := range candidates {
		data, err := parse(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return Result{Data: data, Success: true, Raw: raw}
	}

	return Result{
		Success: false,
		Err:     errors.Wrap(lastErr, "candidate did not parse as JSON"),
		Raw:     raw,
	}
}

// Unmarshal decodes the extracted document into v.
func (r Result) Unmarshal(v interface{}) error {
	if !r.Success {
		if r.Err != nil {
			return r.Err
		}
		return errors.ErrExtractionFailed
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.Wrap(err, "extracted JSON did not match target type")
	}
	return nil
}

// jsonCandidates applies the three-tier fallback in order: fenced block,
// object substring, array substring. Later tiers are kept so a fenced
// candidate that fails to parse does not sink the whole extraction.
func jsonCandidates(raw string) []string {
	var out []string
	if fenced, ok := fencedBlock(raw); ok {
		out = append(out, fenced)
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			out = append(out, strings.TrimSpace(raw[start:end+1]))
		}
	}

	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			out = append(out, strings.TrimSpace(raw[start:end+1]))
		}
	}

	return out
}

// fencedBlock returns the interior of the first triple-backtick block,
// tolerating an optional language tag such as "json".
func fencedBlock(raw string) (string, bool) {
	const fence = "```"

	start := strings.Index(raw, fence)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(fence):]

	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}
	body := rest[:end]

	// Drop a language tag on the opening fence, with or without a newline
	// after it (single-line blocks put the tag and payload on one line).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || isLanguageTag(tag) {
			body = body[nl+1:]
		}
	} else if sp := strings.IndexByte(body, ' '); sp > 0 && isLanguageTag(body[:sp]) {
		body = body[sp+1:]
	}

	return strings.TrimSpace(body), true
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return len(tag) <= 10
}
