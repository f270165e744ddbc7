// Package priorities ranks duplicate tasks to pick the one worth keeping.
package priorities

import (
	"strings"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// Weights are the points awarded by each scoring rule. The values are
// heuristics; only the rule order is relied upon.
type Weights struct {
	ListSpecificity int // list is not a generic catch-all
	OwnerDomain     int // owner's mail domain label appears in the list name
	MeetingPenalty  int // subtracted when an owned task sits in the meeting list
	DueDate         int
	Reminder        int
	HighImportance  int
}

// DefaultWeights returns the standard rule weights
func DefaultWeights() Weights {
	return Weights{
		ListSpecificity: 2,
		OwnerDomain:     4,
		MeetingPenalty:  1,
		DueDate:         3,
		Reminder:        2,
		HighImportance:  1,
	}
}

// Generic list names, compared case-insensitively. The meeting lists are
// catch-alls too.
var (
	defaultGenericLists = []string{
		"tasks", "to do", "to-do", "todo", "my tasks", "default", "defaultlist",
		"flagged emails", "flaggedemails", "inbox",
	}
	defaultMeetingLists = []string{"meetings", "meeting notes", "meeting tasks"}
)

// Tuple is a task's rank; greater is better. Compare Quality first, then
// ListQuality, then NegRow so the earliest original position wins ties.
type Tuple struct {
	Quality     int
	ListQuality int
	NegRow      int
}

// Compare returns -1, 0 or 1 as t ranks below, equal to or above other
func (t Tuple) Compare(other Tuple) int {
	for _, pair := range [][2]int{
		{t.Quality, other.Quality},
		{t.ListQuality, other.ListQuality},
		{t.NegRow, other.NegRow},
	} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// Less reports whether t ranks below other
func (t Tuple) Less(other Tuple) bool {
	return t.Compare(other) < 0
}

// Scorer ranks duplicate tasks. The zero value is not usable; use NewScorer.
type Scorer struct {
	weights      Weights
	genericLists map[string]bool
	meetingLists map[string]bool
}

// NewScorer creates a scorer with the given weights and the standard list names
func NewScorer(weights Weights) *Scorer {
	s := &Scorer{
		weights:      weights,
		genericLists: make(map[string]bool),
		meetingLists: make(map[string]bool),
	}
	for _, name := range defaultMeetingLists {
		s.meetingLists[name] = true
		s.genericLists[name] = true
	}
	for _, name := range defaultGenericLists {
		s.genericLists[name] = true
	}
	return s
}

var defaultScorer = NewScorer(DefaultWeights())

// Score ranks a record with the default scorer. position is the record's
// original index, used when the record has no row index of its own.
func Score(r types.Record, position int) Tuple {
	return defaultScorer.Score(r, position)
}

// Score ranks a record. It never fails; absent fields contribute nothing.
func (s *Scorer) Score(r types.Record, position int) Tuple {
	row := position
	if r == nil {
		return Tuple{NegRow: -row}
	}
	if idx, ok := r.RowIndex(); ok {
		row = idx
	}

	list := strings.ToLower(strings.TrimSpace(r.ListName()))
	owner := strings.TrimSpace(r.Owner())

	listQuality := 0
	if list != "" && !s.genericLists[list] {
		listQuality += s.weights.ListSpecificity
	}
	if label := domainLabel(owner); label != "" && strings.Contains(list, label) {
		listQuality += s.weights.OwnerDomain
	}
	if owner != "" && s.meetingLists[list] {
		listQuality -= s.weights.MeetingPenalty
	}

	quality := listQuality
	if strings.TrimSpace(r.Due()) != "" {
		quality += s.weights.DueDate
	}
	if r.Reminder() {
		quality += s.weights.Reminder
	}
	if r.Importance() == types.ImportanceHigh {
		quality += s.weights.HighImportance
	}

	return Tuple{Quality: quality, ListQuality: listQuality, NegRow: -row}
}

// domainLabel returns the first DNS label of an email's domain,
// e.g. "contoso" for "alice@contoso.com".
func domainLabel(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(email[at+1:])
	label, _, _ := strings.Cut(domain, ".")
	return label
}
