package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// Per-field budgets for the task payload sent to the model
const (
	maxPromptTitleLength   = 160
	maxPromptBodyLength    = 160
	maxPromptPreviewLength = 120
)

// SystemPrompt is sent as the system message of every adjudication call
const SystemPrompt = "You review small groups of to-do items that look like duplicates of each other. " +
	"Decide for every item whether to keep, delete, merge or move it. " +
	"Reply with a single JSON object and nothing else."

// promptTask is the per-task payload embedded in the user prompt.
// Field order is fixed so identical input renders identical prompts.
type promptTask struct {
	Index         int    `json:"index"`
	Title         string `json:"title"`
	List          string `json:"list"`
	Owner         string `json:"owner"`
	Body          string `json:"body"`
	Due           string `json:"due"`
	Reminder      bool   `json:"reminder"`
	LinkedPreview string `json:"linked_preview"`
}

// PromptBuilder renders the user prompt for one cluster
type PromptBuilder struct {
	// UserEmails are listed as the user's own mailboxes so the model can tell
	// the user's lists apart from shared ones.
	UserEmails []string
}

// NewPromptBuilder creates a prompt builder for the given mailboxes
func NewPromptBuilder(userEmails []string) *PromptBuilder {
	return &PromptBuilder{UserEmails: userEmails}
}

// Build renders the prompt for records. Each record is addressed by its
// position in records, which is the index the model must answer with.
// Output is deterministic for identical input.
func (b *PromptBuilder) Build(records []types.Record, availableLists []string) string {
	tasks := make([]promptTask, len(records))
	for i, r := range records {
		tasks[i] = promptTask{Index: i}
		if r == nil {
			continue
		}
		tasks[i].Title = textutil.Truncate(textutil.CollapseSpace(r.Title()), maxPromptTitleLength)
		tasks[i].List = r.ListName()
		tasks[i].Owner = r.Owner()
		tasks[i].Body = textutil.Truncate(textutil.CollapseSpace(r.Body()), maxPromptBodyLength)
		tasks[i].Due = r.Due()
		tasks[i].Reminder = r.Reminder()
		tasks[i].LinkedPreview = textutil.Truncate(textutil.CollapseSpace(r.LinkedPreview()), maxPromptPreviewLength)
	}

	var sb strings.Builder
	sb.WriteString("The following to-do items were grouped together because their titles are similar.\n")
	sb.WriteString("Decide what should happen to each item so that no real duplicates remain.\n\n")

	if len(b.UserEmails) > 0 {
		fmt.Fprintf(&sb, "The user's own mailboxes: %s\n", strings.Join(b.UserEmails, ", "))
		sb.WriteString("Prefer keeping items on lists owned by these mailboxes.\n\n")
	}

	lists := uniqueSorted(availableLists)
	if len(lists) > 0 {
		fmt.Fprintf(&sb, "Lists available as move targets: %s\n\n", strings.Join(lists, ", "))
	} else {
		sb.WriteString("No move targets are available; do not use the move action.\n\n")
	}

	sb.WriteString("Items:\n")
	sb.WriteString(marshalTasks(tasks))
	sb.WriteString("\n\n")

	sb.WriteString(`Rules:
- Return exactly one decision per item, addressed by its "index".
- "action" is one of "keep", "delete", "merge" or "move".
- Keep the single best item of every set of true duplicates; delete the others.
- Use "merge" on the surviving item when it should absorb details from the deleted ones, and give the combined title in "merged_title".
- Use "move" with "target_list" set to one of the available lists when an item belongs on another list.
- Items that only look alike but describe different work are all kept.
- When unsure, choose the least destructive action: keep before move, move before merge, merge before delete.
- An item is either merged or moved, never both.
- Only use list names from the available lists above; never invent one.
- "rationale" explains the decision in at most 120 characters.
- "comment" is an optional note of at most 80 characters.
- Before answering, check that every index appears exactly once. If you cannot produce a valid answer, respond with {"error": "<reason>"} instead.

Respond with JSON only, in this shape:
{"decisions": [{"index": 0, "action": "keep", "rationale": "...", "comment": "...", "merged_title": null, "target_list": null}]}
`)
	return sb.String()
}

func marshalTasks(tasks []promptTask) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tasks); err != nil {
		// promptTask holds only strings, ints and bools
		panic(fmt.Sprintf("failed to encode prompt tasks: %v", err))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// uniqueSorted drops blank and repeated names and sorts the rest
func uniqueSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
