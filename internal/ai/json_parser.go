// Package ai builds prompts for, calls, and validates the output of the model
// that adjudicates ambiguous duplicate clusters.
package ai

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
)

// Matches a payload wrapped in one markdown code fence: ```json\n{...}\n```,
// ```JSON\n{...}\n```, ```text\n{...}\n```, ```{...}```, ``` json{...}```.
// Any language tag is accepted in any case. Newlines are optional because
// models omit them.
var codeFenceRegex = regexp.MustCompile(`(?is)^` + "`" + `{3}[ \t]*[a-z0-9_+-]*[ \t]*\n?(.*?)\n?` + "`" + `{3}\s*$`)

// stripCodeFence removes a code fence wrapping the whole payload, if any.
// Fences in the middle of other text are left alone.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// decodeObject decodes exactly one JSON object, keeping numbers as json.Number
// so integer fields can be checked precisely.
func decodeObject(text string) (map[string]any, error) {
	if text == "" {
		return nil, fmt.Errorf("empty input")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected content after JSON value")
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", jsonKind(value))
	}
	return obj, nil
}

// jsonKind names the JSON type of a decoded value for diagnostics
func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// truncatePreview shortens model output for log lines
func truncatePreview(s string, maxLen int) string {
	return textutil.Truncate(strings.TrimSpace(s), maxLen)
}
