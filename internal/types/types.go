// Package types holds the task model and dedup decisions shared by the other packages.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Task represents a single to-do entry fetched from a task list.
// Tasks are built by the task source and consumed read-only by the dedup core.
type Task struct {
	TaskID            string `json:"task_id"`
	ListID            string `json:"list_id"`
	ListName          string `json:"list_name,omitempty"`
	WellknownListName string `json:"wellknown_list_name,omitempty"`

	Title         string     `json:"title"`
	OriginalTitle string     `json:"original_title,omitempty"`
	Status        Status     `json:"status,omitempty"`
	Importance    Importance `json:"importance,omitempty"`

	HasAttachments bool     `json:"has_attachments,omitempty"`
	IsReminderOn   bool     `json:"is_reminder_on,omitempty"`
	Categories     []string `json:"categories,omitempty"`

	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Due      *TaskDateTime `json:"due,omitempty"`
	Start    *TaskDateTime `json:"start,omitempty"`
	Reminder *TaskDateTime `json:"reminder,omitempty"`

	Body            string `json:"body,omitempty"`
	BodyContentType string `json:"body_content_type,omitempty"`
	BodyPreview     string `json:"body_preview,omitempty"`
	Summary         string `json:"summary,omitempty"`
	ETag            string `json:"etag,omitempty"`

	// OwnerHint is the mailbox the list belongs to, used for list scoring.
	OwnerHint string `json:"owner_hint,omitempty"`
	// LookupKey is an alternate stable identity supplied by some task sources.
	LookupKey string `json:"lookup_key,omitempty"`
	// RowIndex is the task's position in the source export, when known.
	RowIndex *int `json:"row_index,omitempty"`

	LinkedResources []LinkedResource `json:"linked_resources,omitempty"`
	Raw             map[string]any   `json:"raw,omitempty"`
}

// Validate checks if the task has valid field values
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ListID) == "" {
		return fmt.Errorf("list_id is required")
	}
	if t.Status != "" && !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.Importance != "" && !t.Importance.IsValid() {
		return fmt.Errorf("invalid importance: %s", t.Importance)
	}
	if t.RowIndex != nil && *t.RowIndex < 0 {
		return fmt.Errorf("row_index cannot be negative (got %d)", *t.RowIndex)
	}
	return nil
}

// ValidateBatch validates every task and checks task_id uniqueness across the batch.
func ValidateBatch(tasks []*Task) error {
	seen := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t == nil {
			return fmt.Errorf("task at index %d is nil", i)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid task at index %d: %w", i, err)
		}
		if t.TaskID == "" {
			continue
		}
		if prev, dup := seen[t.TaskID]; dup {
			return fmt.Errorf("task_id %q appears at index %d and %d", t.TaskID, prev, i)
		}
		seen[t.TaskID] = i
	}
	return nil
}

// Status represents the completion state of a task
type Status string

const (
	StatusNotStarted      Status = "notStarted"
	StatusInProgress      Status = "inProgress"
	StatusCompleted       Status = "completed"
	StatusWaitingOnOthers Status = "waitingOnOthers"
	StatusDeferred        Status = "deferred"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusWaitingOnOthers, StatusDeferred:
		return true
	}
	return false
}

// Importance is the user-assigned priority of a task
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// IsValid checks if the importance value is valid
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh:
		return true
	}
	return false
}

// TaskDateTime is a datetime string paired with the name of its time zone,
// as the task API reports due, start and reminder times.
type TaskDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// TaskDateTimeFromPair builds a TaskDateTime from its wire pair.
// Returns nil when the pair is nil or carries neither field.
func TaskDateTimeFromPair(pair map[string]string) *TaskDateTime {
	if pair["dateTime"] == "" && pair["timeZone"] == "" {
		return nil
	}
	return &TaskDateTime{DateTime: pair["dateTime"], TimeZone: pair["timeZone"]}
}

// Pair returns the wire pair form. TaskDateTimeFromPair(d.Pair()) equals d
// for every non-nil d with at least one field set.
func (d *TaskDateTime) Pair() map[string]string {
	if d == nil {
		return nil
	}
	pair := map[string]string{"dateTime": d.DateTime}
	if d.TimeZone != "" {
		pair["timeZone"] = d.TimeZone
	}
	return pair
}

// IsZero reports whether no datetime is set
func (d *TaskDateTime) IsZero() bool {
	return d == nil || d.DateTime == ""
}

// Time parses the datetime in its time zone. Unknown zones fall back to UTC.
func (d *TaskDateTime) Time() (time.Time, error) {
	if d.IsZero() {
		return time.Time{}, fmt.Errorf("datetime is empty")
	}
	loc := time.UTC
	if d.TimeZone != "" {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.0000000", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, d.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", d.DateTime)
}

// LinkedResource is an item linked to a task, such as the email a flagged-email
// task was created from. Owned by its task.
type LinkedResource struct {
	ID              string          `json:"id"`
	ApplicationName string          `json:"application_name,omitempty"`
	DisplayName     string          `json:"display_name,omitempty"`
	ExternalID      string          `json:"external_id,omitempty"`
	WebURL          string          `json:"web_url,omitempty"`
	ResourceType    string          `json:"resource_type,omitempty"`
	Preview         string          `json:"preview,omitempty"`
	Body            string          `json:"body,omitempty"`
	ContentType     string          `json:"content_type,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}
