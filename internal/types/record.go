package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is the read-only view of a task that clustering, scoring and
// duplicate detection work against. Each concrete task representation gets one
// adapter; missing fields degrade to zero values and never error.
type Record interface {
	// Title is the first non-empty of original title, title and body preview
	Title() string
	// Body is the first non-empty of body, body content and summary
	Body() string
	ListName() string
	// Owner is the mailbox hint of the list owner, typically an email address
	Owner() string
	// Due is the due datetime string, empty when unset
	Due() string
	Reminder() bool
	Importance() Importance
	// LinkedPreview is the preview text of the first linked message
	LinkedPreview() string
	RowIndex() (int, bool)
	// Key is the stable external identity: task id, lookup key, row index,
	// and finally object identity.
	Key() string
}

// FromTask adapts a Task to the Record interface
func FromTask(t *Task) Record {
	return taskRecord{t: t}
}

// FromTasks adapts a slice of tasks, preserving order
func FromTasks(tasks []*Task) []Record {
	records := make([]Record, len(tasks))
	for i, t := range tasks {
		records[i] = FromTask(t)
	}
	return records
}

type taskRecord struct {
	t *Task
}

func (r taskRecord) Title() string {
	if r.t == nil {
		return ""
	}
	return firstNonEmpty(r.t.OriginalTitle, r.t.Title, r.t.BodyPreview)
}

func (r taskRecord) Body() string {
	if r.t == nil {
		return ""
	}
	return firstNonEmpty(r.t.Body, r.t.Summary)
}

func (r taskRecord) ListName() string {
	if r.t == nil {
		return ""
	}
	return firstNonEmpty(r.t.ListName, r.t.WellknownListName)
}

func (r taskRecord) Owner() string {
	if r.t == nil {
		return ""
	}
	return strings.TrimSpace(r.t.OwnerHint)
}

func (r taskRecord) Due() string {
	if r.t == nil || r.t.Due.IsZero() {
		return ""
	}
	return r.t.Due.DateTime
}

func (r taskRecord) Reminder() bool {
	return r.t != nil && r.t.IsReminderOn
}

func (r taskRecord) Importance() Importance {
	if r.t == nil {
		return ""
	}
	return r.t.Importance
}

func (r taskRecord) LinkedPreview() string {
	if r.t == nil {
		return ""
	}
	for _, lr := range r.t.LinkedResources {
		if s := firstNonEmpty(lr.Preview, lr.Body); s != "" {
			return s
		}
	}
	return ""
}

func (r taskRecord) RowIndex() (int, bool) {
	if r.t == nil || r.t.RowIndex == nil {
		return 0, false
	}
	return *r.t.RowIndex, true
}

func (r taskRecord) Key() string {
	if r.t == nil {
		return "obj:nil"
	}
	if r.t.TaskID != "" {
		return r.t.TaskID
	}
	if r.t.LookupKey != "" {
		return r.t.LookupKey
	}
	if r.t.RowIndex != nil {
		return rowKey(*r.t.RowIndex)
	}
	return fmt.Sprintf("obj:%p", r.t)
}

// FromMap adapts a loosely-typed task payload, e.g. a decoded JSON object.
func FromMap(m map[string]any) Record {
	return mapRecord(m)
}

type mapRecord map[string]any

func (m mapRecord) str(keys ...string) string {
	for _, k := range keys {
		if s := stringValue(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func (m mapRecord) Title() string {
	return m.str("original_title", "title", "body_preview")
}

func (m mapRecord) Body() string {
	return m.str("body", "body_content", "summary")
}

func (m mapRecord) ListName() string {
	return m.str("task_list", "list_name", "list")
}

func (m mapRecord) Owner() string {
	return m.str("owner_hint", "owner")
}

func (m mapRecord) Due() string {
	for _, k := range []string{"due", "due_date_time", "dueDateTime"} {
		switch v := m[k].(type) {
		case map[string]any:
			if s := stringValue(v["dateTime"]); s != "" {
				return s
			}
		default:
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func (m mapRecord) Reminder() bool {
	switch v := m["is_reminder_on"].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

func (m mapRecord) Importance() Importance {
	return Importance(strings.ToLower(m.str("importance")))
}

func (m mapRecord) LinkedPreview() string {
	if s := m.str("linked_preview"); s != "" {
		return s
	}
	resources, _ := m["linked_resources"].([]any)
	for _, r := range resources {
		if rm, ok := r.(map[string]any); ok {
			if s := mapRecord(rm).str("preview", "body"); s != "" {
				return s
			}
		}
	}
	return ""
}

func (m mapRecord) RowIndex() (int, bool) {
	return intValue(m["row_index"])
}

func (m mapRecord) Key() string {
	if s := m.str("task_id", "id", "lookup_key"); s != "" {
		return s
	}
	if row, ok := m.RowIndex(); ok {
		return rowKey(row)
	}
	return fmt.Sprintf("obj:%p", map[string]any(m))
}

func rowKey(row int) string {
	return "row:" + strconv.Itoa(row)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x == float64(int(x)) {
			return int(x), true
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}
