package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeResponse strips markdown fences from a model reply, decodes the JSON
// strictly into target, and runs the caller's validation. The returned error
// is phrased for the repair reprompt: it tells the model what was wrong.
func decodeResponse(content string, target any, validate func() error) error {
	payload := stripFences(content)

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("response is not valid JSON matching the contract: %w", err)
	}
	// Trailing garbage after the object is as suspect as a broken object.
	if dec.More() {
		return fmt.Errorf("response contains extra content after the JSON object")
	}

	if validate != nil {
		if err := validate(); err != nil {
			return fmt.Errorf("response violates the contract: %w", err)
		}
	}
	return nil
}

// stripFences unwraps a ```json ... ``` (or plain ```) fenced block and, as
// a last resort, cuts the reply down to the outermost braces. Models wrap
// JSON in fences and prose despite instructions often enough that this is
// the normal path, not the exception.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		// Drop an optional language tag on the opening fence line.
		if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
			first := strings.TrimSpace(trimmed[:idx])
			if first == "json" || first == "JSON" || first == "" {
				trimmed = trimmed[idx+1:]
			}
		}
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	// Prose around the object: take the outermost braces.
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
