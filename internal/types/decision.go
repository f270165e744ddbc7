package types

import (
	"fmt"
	"strings"
)

// Action is the normalized verdict for a task
type Action string

const (
	ActionKeep   Action = "keep"
	ActionDelete Action = "delete"
	ActionMerge  Action = "merge"
	ActionMove   Action = "move"
)

// IsValid checks if the action value is valid
func (a Action) IsValid() bool {
	switch a {
	case ActionKeep, ActionDelete, ActionMerge, ActionMove:
		return true
	}
	return false
}

// Source records which stage produced a decision
type Source string

const (
	SourceAuto Source = "auto"
	SourceAI   Source = "ai"
	SourceRule Source = "rule"
)

// IsValid checks if the source value is valid
func (s Source) IsValid() bool {
	switch s {
	case SourceAuto, SourceAI, SourceRule:
		return true
	}
	return false
}

// Text budgets for decision annotations.
const (
	MaxRationaleLength = 120
	MaxCommentLength   = 80
)

// DedupDecision is the verdict for one task. It is handed to an external
// executor; nothing in this module applies it.
type DedupDecision struct {
	// TaskKey is the stable external identity of the task
	TaskKey string `json:"task_key"`

	// ClusterIndex is the task's position in the original input slice
	ClusterIndex int `json:"cluster_index"`

	// RawAction is the action as produced; see Action() for the normalized form
	RawAction string `json:"action"`
	Source    Source `json:"source"`

	Rationale   string `json:"rationale,omitempty"`
	Comment     string `json:"comment,omitempty"`
	MergedTitle string `json:"merged_title,omitempty"`
	TargetList  string `json:"target_list,omitempty"`

	ClusterID   int `json:"cluster_id,omitempty"`
	ClusterSize int `json:"cluster_size,omitempty"`

	// Canonical fields are set only by exact-duplicate auto-detection, naming the
	// task that survives in place of this one.
	CanonicalClusterIndex *int   `json:"canonical_cluster_index,omitempty"`
	CanonicalRowIndex     *int   `json:"canonical_row_index,omitempty"`
	CanonicalList         string `json:"canonical_list,omitempty"`
}

// Action normalizes RawAction. Any case-insensitive "move..." is a move, the
// exact lowercase keep/delete/merge map to themselves, and anything else,
// including padded values like " delete ", is keep.
func (d *DedupDecision) Action() Action {
	if strings.HasPrefix(strings.ToLower(d.RawAction), string(ActionMove)) {
		return ActionMove
	}
	switch Action(d.RawAction) {
	case ActionKeep, ActionDelete, ActionMerge:
		return Action(d.RawAction)
	}
	return ActionKeep
}

// Validate checks if the decision has valid values
func (d *DedupDecision) Validate() error {
	if d.TaskKey == "" {
		return fmt.Errorf("task_key is required")
	}
	if d.ClusterIndex < 0 {
		return fmt.Errorf("cluster_index cannot be negative (got %d)", d.ClusterIndex)
	}
	if !d.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", d.Source)
	}
	action := d.Action()
	if action == ActionMerge && strings.TrimSpace(d.MergedTitle) == "" {
		return fmt.Errorf("merged_title must be set when action is merge")
	}
	if action != ActionMerge && d.MergedTitle != "" {
		return fmt.Errorf("merged_title should not be set when action is %s", action)
	}
	if action == ActionMove && strings.TrimSpace(d.TargetList) == "" {
		return fmt.Errorf("target_list must be set when action is move")
	}
	if action != ActionMove && d.TargetList != "" {
		return fmt.Errorf("target_list should not be set when action is %s", action)
	}
	if d.CanonicalClusterIndex != nil && d.Source != SourceAuto {
		return fmt.Errorf("canonical fields are only set on auto decisions")
	}
	return nil
}
