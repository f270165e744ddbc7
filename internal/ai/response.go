package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// TaskEntry ties a prompt-local index back to the caller's task
type TaskEntry struct {
	// Key is the task's stable identity. Record.Key() is used when empty.
	Key string
	// ClusterIndex is the task's position in the original input slice
	ClusterIndex int
	Record       types.Record
}

func (e TaskEntry) key() string {
	if e.Key != "" || e.Record == nil {
		return e.Key
	}
	return e.Record.Key()
}

// ResponseParser validates model output into decisions.
// It never fails: problems are reported as diagnostics next to whatever
// decisions could be salvaged.
type ResponseParser struct{}

// NewResponseParser creates a response parser
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Parse converts payload into decisions keyed by task key. The i-th entry is
// the task the model knows as index i.
//
// A payload without a decisions array yields no decisions and one diagnostic.
// Any other bad decision is skipped with a diagnostic while the rest are kept.
func (p *ResponseParser) Parse(payload string, entries []TaskEntry) (map[string]*types.DedupDecision, []string) {
	decisions := make(map[string]*types.DedupDecision)

	obj, err := decodeObject(stripCodeFence(payload))
	if err != nil {
		return decisions, []string{fmt.Sprintf("invalid JSON response: %v", err)}
	}

	raw, ok := obj["decisions"]
	if !ok {
		if msg, isString := obj["error"].(string); isString && strings.TrimSpace(msg) != "" {
			return decisions, []string{fmt.Sprintf("model reported an error: %s", strings.TrimSpace(msg))}
		}
		return decisions, []string{"response has no decisions array"}
	}
	items, ok := raw.([]any)
	if !ok {
		return decisions, []string{fmt.Sprintf("decisions must be an array, got %s", jsonKind(raw))}
	}

	var diagnostics []string
	seen := make(map[int]bool, len(items))
	for pos, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("decision %d: expected an object, got %s", pos, jsonKind(item)))
			continue
		}

		index, ok := integerField(fields["index"])
		if !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("decision %d: index must be an integer", pos))
			continue
		}
		if index < 0 || index >= len(entries) {
			diagnostics = append(diagnostics, fmt.Sprintf("decision %d: index %d is out of range (%d tasks)", pos, index, len(entries)))
			continue
		}
		if seen[index] {
			diagnostics = append(diagnostics, fmt.Sprintf("decision %d: index %d was already decided", pos, index))
			continue
		}
		seen[index] = true

		decision, problem, note := buildDecision(fields, entries[index])
		if problem != "" {
			diagnostics = append(diagnostics, fmt.Sprintf("decision at index %d: %s", index, problem))
			continue
		}
		if note != "" {
			diagnostics = append(diagnostics, fmt.Sprintf("decision at index %d: %s", index, note))
		}
		decisions[decision.TaskKey] = decision
	}
	return decisions, diagnostics
}

// buildDecision validates one decision object. A non-empty problem means the
// decision is unusable; a non-empty note is reported but the decision stands.
//
// For "move:<list>" the list in the action wins over target_list, which is
// only used when the action names no list.
func buildDecision(fields map[string]any, entry TaskEntry) (*types.DedupDecision, string, string) {
	rawAction := stringField(fields, "action")
	if rawAction == "" {
		return nil, "action is required", ""
	}

	var note string
	action := strings.ToLower(rawAction)
	targetList := stringField(fields, "target_list")
	if strings.HasPrefix(action, "move:") {
		if actionList := strings.TrimSpace(rawAction[len("move:"):]); actionList != "" {
			if targetList != "" && !strings.EqualFold(targetList, actionList) {
				note = fmt.Sprintf("action names list %q but target_list is %q; using %q", actionList, targetList, actionList)
			}
			targetList = actionList
		}
		action = string(types.ActionMove)
	}
	if !types.Action(action).IsValid() {
		return nil, fmt.Sprintf("unrecognized action %q", rawAction), ""
	}

	d := &types.DedupDecision{
		TaskKey:      entry.key(),
		ClusterIndex: entry.ClusterIndex,
		RawAction:    action,
		Source:       types.SourceAI,
	}

	switch types.Action(action) {
	case types.ActionMerge:
		d.MergedTitle = stringField(fields, "merged_title")
		if d.MergedTitle == "" {
			return nil, "merge requires merged_title", ""
		}
	case types.ActionMove:
		if targetList == "" {
			return nil, "move requires target_list", ""
		}
		d.TargetList = targetList
	}

	d.Rationale = stringField(fields, "rationale")
	if d.Rationale == "" {
		d.Rationale = defaultRationale(d)
	}
	d.Rationale = textutil.Truncate(d.Rationale, types.MaxRationaleLength)

	d.Comment = stringField(fields, "comment")
	if d.Comment == "" {
		d.Comment = defaultComment(d)
	}
	d.Comment = textutil.Truncate(d.Comment, types.MaxCommentLength)

	return d, "", note
}

func defaultRationale(d *types.DedupDecision) string {
	switch types.Action(d.RawAction) {
	case types.ActionDelete:
		return "Model marked this task as a duplicate."
	case types.ActionMerge:
		return "Model merged duplicates into this task."
	case types.ActionMove:
		return "Model moved this task to " + d.TargetList + "."
	}
	return "Model kept this task."
}

func defaultComment(d *types.DedupDecision) string {
	switch types.Action(d.RawAction) {
	case types.ActionMerge:
		return "Merged as: " + d.MergedTitle
	case types.ActionMove:
		return "Moved to " + d.TargetList
	}
	return "AI dedup: " + d.RawAction
}

// stringField returns a trimmed string value, or "" for anything that is not a string
func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

// integerField accepts JSON integers only; 1.0, "1" and true are rejected
func integerField(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}
