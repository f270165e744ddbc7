// Package tasksource reads exported task lists from disk.
//
// Two item shapes are accepted and may be mixed in one file: the snake_case
// Task shape this module writes, and raw Microsoft Graph todoTask payloads.
// A file holds either a JSON array of items or an object whose "value" array
// holds them, as a Graph list response does. Such an object may also carry
// "list_id" and "list_name", used for items that do not name their list.
package tasksource

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// listContext is the list an item belongs to when it does not say
type listContext struct {
	id   string
	name string
}

// LoadFile reads and validates the tasks in path
func LoadFile(path string) ([]*types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}
	tasks, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load task file %s: %w", path, err)
	}
	return tasks, nil
}

// Parse decodes tasks from an export payload. Row indices are assigned from
// the item position unless an item carries its own.
func Parse(data []byte) ([]*types.Task, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)

	var ctx listContext
	items := root
	if root.IsObject() {
		items = root.Get("value")
		if !items.IsArray() {
			return nil, fmt.Errorf("expected an array of tasks or an object with a value array")
		}
		ctx = listContext{id: root.Get("list_id").String(), name: root.Get("list_name").String()}
	} else if !root.IsArray() {
		return nil, fmt.Errorf("expected an array of tasks, got %s", root.Type)
	}

	var tasks []*types.Task
	var parseErr error
	items.ForEach(func(_, item gjson.Result) bool {
		pos := len(tasks)
		if !item.IsObject() {
			parseErr = fmt.Errorf("task at index %d is not an object", pos)
			return false
		}
		var t *types.Task
		var err error
		if isGraphItem(item) {
			t, err = fromGraph(item, ctx)
		} else {
			t, err = fromExport(item, ctx)
		}
		if err != nil {
			parseErr = fmt.Errorf("task at index %d: %w", pos, err)
			return false
		}
		if t.RowIndex == nil {
			row := pos
			t.RowIndex = &row
		}
		tasks = append(tasks, t)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if err := types.ValidateBatch(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// AvailableLists returns the distinct list names of tasks, sorted
func AvailableLists(tasks []*types.Task) []string {
	seen := make(map[string]bool)
	var lists []string
	for _, t := range tasks {
		name := strings.TrimSpace(t.ListName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		lists = append(lists, name)
	}
	sort.Strings(lists)
	return lists
}

// isGraphItem reports whether an item uses Graph field names
func isGraphItem(item gjson.Result) bool {
	if item.Get("task_id").Exists() || item.Get("list_id").Exists() {
		return false
	}
	for _, field := range []string{"id", "dueDateTime", "reminderDateTime", "linkedResources", "@odata.etag"} {
		if item.Get(gjson.Escape(field)).Exists() {
			return true
		}
	}
	return false
}

func fromExport(item gjson.Result, ctx listContext) (*types.Task, error) {
	var t types.Task
	if err := json.Unmarshal([]byte(item.Raw), &t); err != nil {
		return nil, err
	}
	if t.ListID == "" {
		t.ListID = ctx.id
	}
	if t.ListName == "" {
		t.ListName = ctx.name
	}
	return &t, nil
}

func fromGraph(item gjson.Result, ctx listContext) (*types.Task, error) {
	t := &types.Task{
		TaskID:          item.Get("id").String(),
		ListID:          item.Get("parentListId").String(),
		ListName:        item.Get("listName").String(),
		Title:           item.Get("title").String(),
		Status:          types.Status(item.Get("status").String()),
		Importance:      types.Importance(item.Get("importance").String()),
		HasAttachments:  item.Get("hasAttachments").Bool(),
		IsReminderOn:    item.Get("isReminderOn").Bool(),
		Due:             dateTime(item.Get("dueDateTime")),
		Start:           dateTime(item.Get("startDateTime")),
		Reminder:        dateTime(item.Get("reminderDateTime")),
		Body:            item.Get("body.content").String(),
		BodyContentType: item.Get("body.contentType").String(),
		ETag:            item.Get(gjson.Escape("@odata.etag")).String(),
	}
	if t.ListID == "" {
		t.ListID = ctx.id
	}
	if t.ListName == "" {
		t.ListName = ctx.name
	}
	for _, c := range item.Get("categories").Array() {
		t.Categories = append(t.Categories, c.String())
	}

	var err error
	if t.CreatedAt, err = timestamp(item.Get("createdDateTime")); err != nil {
		return nil, fmt.Errorf("createdDateTime: %w", err)
	}
	if t.LastModifiedAt, err = timestamp(item.Get("lastModifiedDateTime")); err != nil {
		return nil, fmt.Errorf("lastModifiedDateTime: %w", err)
	}
	if completed := dateTime(item.Get("completedDateTime")); completed != nil {
		at, err := completed.Time()
		if err != nil {
			return nil, fmt.Errorf("completedDateTime: %w", err)
		}
		t.CompletedAt = &at
	}

	for _, res := range item.Get("linkedResources").Array() {
		t.LinkedResources = append(t.LinkedResources, types.LinkedResource{
			ID:              res.Get("id").String(),
			ApplicationName: res.Get("applicationName").String(),
			DisplayName:     res.Get("displayName").String(),
			ExternalID:      res.Get("externalId").String(),
			WebURL:          res.Get("webUrl").String(),
			Raw:             json.RawMessage(res.Raw),
		})
	}

	if err := json.Unmarshal([]byte(item.Raw), &t.Raw); err != nil {
		return nil, err
	}
	return t, nil
}

// dateTime reads a Graph dateTimeTimeZone object
func dateTime(v gjson.Result) *types.TaskDateTime {
	if !v.IsObject() {
		return nil
	}
	return types.TaskDateTimeFromPair(map[string]string{
		"dateTime": v.Get("dateTime").String(),
		"timeZone": v.Get("timeZone").String(),
	})
}

func timestamp(v gjson.Result) (*time.Time, error) {
	if v.String() == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return nil, err
	}
	return &t, nil
}
