package deduplication

import (
	"context"
	"fmt"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// Deduplicator turns clusters of likely duplicates into per-task decisions.
//
// Example usage:
//
//	svc, err := NewService(cfg)
//	if err != nil {
//	    return err
//	}
//	clusters := clustering.ClusterTasks(records, clustering.OptionsFromConfig(cfg))
//	result, err := svc.Process(ctx, records, clusters, lists)
//	if err != nil {
//	    return err
//	}
//	for _, diag := range result.Diagnostics {
//	    log.Warn(diag)
//	}
type Deduplicator interface {
	// Process decides every task of every cluster, in cluster order.
	//
	// Returns:
	// - Result with decisions keyed by task key, parse diagnostics and statistics
	// - Error if a model call fails or returns no content; no partial result
	//   is returned in that case
	Process(ctx context.Context, records []types.Record, clusters []types.TaskCluster, availableLists []string) (*Result, error)
}

// Result is the outcome of one deduplication run
type Result struct {
	// Decisions maps task key to its decision. Each key is written once; a
	// later cluster never overwrites an earlier decision.
	Decisions map[string]*types.DedupDecision `json:"decisions"`

	// Diagnostics lists problems with model output, prefixed with the cluster
	// id. Tasks named here may have no decision.
	Diagnostics []string `json:"diagnostics,omitempty"`

	Stats Stats `json:"stats"`
}

// Stats holds counters for a deduplication run
type Stats struct {
	// Clusters is the number of clusters processed
	Clusters int `json:"clusters"`

	// AutoResolvedClusters were settled without calling the model
	AutoResolvedClusters int `json:"auto_resolved_clusters"`

	// ModelCalls is the number of prompts sent to the model
	ModelCalls int `json:"model_calls"`

	// AutoDecisions and AIDecisions count merged decisions by source
	AutoDecisions int `json:"auto_decisions"`
	AIDecisions   int `json:"ai_decisions"`

	// Collisions counts decisions dropped because the key was already decided
	Collisions int `json:"collisions"`

	// ProcessingTimeMs is the wall time of the run in milliseconds
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

func newResult() *Result {
	return &Result{Decisions: make(map[string]*types.DedupDecision)}
}

// merge adds decisions in iteration order of keys, keeping existing entries.
// It returns the keys that collided.
func (r *Result) merge(keys []string, decisions map[string]*types.DedupDecision) []string {
	var collided []string
	for _, key := range keys {
		d, ok := decisions[key]
		if !ok {
			continue
		}
		if _, exists := r.Decisions[key]; exists {
			r.Stats.Collisions++
			collided = append(collided, key)
			continue
		}
		r.Decisions[key] = d
		switch d.Source {
		case types.SourceAuto:
			r.Stats.AutoDecisions++
		case types.SourceAI:
			r.Stats.AIDecisions++
		}
	}
	return collided
}

// ActionCounts tallies decisions by normalized action
func (r *Result) ActionCounts() map[types.Action]int {
	counts := make(map[types.Action]int)
	for _, d := range r.Decisions {
		counts[d.Action()]++
	}
	return counts
}

// Validate checks that the result is internally consistent
func (r *Result) Validate() error {
	if r.Decisions == nil {
		return fmt.Errorf("decisions map is required")
	}

	auto, aiCount := 0, 0
	for key, d := range r.Decisions {
		if d == nil {
			return fmt.Errorf("decision for %s is nil", key)
		}
		if d.TaskKey != key {
			return fmt.Errorf("decision keyed %s names task %s", key, d.TaskKey)
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("decision for %s: %w", key, err)
		}
		switch d.Source {
		case types.SourceAuto:
			auto++
		case types.SourceAI:
			aiCount++
		}
	}

	if r.Stats.AutoDecisions != auto {
		return fmt.Errorf("stats.auto_decisions (%d) does not match auto decisions (%d)", r.Stats.AutoDecisions, auto)
	}
	if r.Stats.AIDecisions != aiCount {
		return fmt.Errorf("stats.ai_decisions (%d) does not match ai decisions (%d)", r.Stats.AIDecisions, aiCount)
	}
	if r.Stats.AutoResolvedClusters > r.Stats.Clusters {
		return fmt.Errorf("stats.auto_resolved_clusters (%d) exceeds clusters (%d)", r.Stats.AutoResolvedClusters, r.Stats.Clusters)
	}
	if r.Stats.ModelCalls > r.Stats.Clusters-r.Stats.AutoResolvedClusters {
		return fmt.Errorf("stats.model_calls (%d) exceeds clusters needing the model (%d)",
			r.Stats.ModelCalls, r.Stats.Clusters-r.Stats.AutoResolvedClusters)
	}

	// A task deleted as an exact duplicate must point at a survivor that was not deleted
	for key, d := range r.Decisions {
		if d.CanonicalClusterIndex == nil {
			continue
		}
		for otherKey, other := range r.Decisions {
			if other.ClusterIndex == *d.CanonicalClusterIndex && other.Source == types.SourceAuto && other.Action() == types.ActionDelete {
				return fmt.Errorf("decision for %s names %s as canonical, but it was deleted too", key, otherKey)
			}
		}
	}
	return nil
}
