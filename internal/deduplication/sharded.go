package deduplication

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// ProcessSharded runs dedup.Process once per cluster on up to workers
// goroutines (unbounded when workers <= 0) and merges the results in cluster
// order. Clusters partition the task indices, so shards never share a task.
//
// Each shard makes its own model call; with batch mode that means one batch
// per cluster.
func ProcessSharded(ctx context.Context, dedup Deduplicator, records []types.Record, clusters []types.TaskCluster, availableLists []string, workers int) (*Result, error) {
	start := time.Now()
	shards := make([]*Result, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range clusters {
		g.Go(func() error {
			res, err := dedup.Process(gctx, records, clusters[i:i+1], availableLists)
			if err != nil {
				return fmt.Errorf("cluster %d: %w", clusters[i].ClusterID, err)
			}
			shards[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := newResult()
	for i, shard := range shards {
		keys := make([]string, 0, len(shard.Decisions))
		for _, idx := range clusters[i].Indices {
			if idx >= 0 && idx < len(records) {
				keys = append(keys, keyOf(records[idx], idx))
			}
		}
		merged.merge(keys, shard.Decisions)
		merged.Diagnostics = append(merged.Diagnostics, shard.Diagnostics...)
		merged.Stats.Clusters += shard.Stats.Clusters
		merged.Stats.AutoResolvedClusters += shard.Stats.AutoResolvedClusters
		merged.Stats.ModelCalls += shard.Stats.ModelCalls
		merged.Stats.Collisions += shard.Stats.Collisions
	}
	merged.Stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	return merged, nil
}
