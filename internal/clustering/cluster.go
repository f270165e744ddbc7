// Package clustering groups tasks that are likely duplicates by fuzzy text similarity.
package clustering

import (
	"math"

	"github.com/Auriora/admin-assistant-sub002/internal/config"
	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

const (
	// DefaultThreshold is the combined score needed to join a cluster
	DefaultThreshold = 86

	// bodySnippetLength caps how much of a body takes part in comparison
	bodySnippetLength = 200

	titleWeight = 0.7
	bodyWeight  = 0.3
)

// Options controls a clustering run
type Options struct {
	// Threshold is the minimum combined score (0-100) to group two tasks
	Threshold int
	// IncludeSingletons emits one-task clusters; when false they are dropped
	IncludeSingletons bool
	// UseBody blends body similarity into the title score
	UseBody bool
}

// DefaultOptions returns threshold 86 with singletons and body comparison on
func DefaultOptions() Options {
	return Options{
		Threshold:         DefaultThreshold,
		IncludeSingletons: true,
		UseBody:           true,
	}
}

// OptionsFromConfig returns the default options with the configured threshold
func OptionsFromConfig(cfg config.Config) Options {
	opts := DefaultOptions()
	opts.Threshold = cfg.FuzzyScoreThreshold
	return opts
}

// ClusterTasks groups record indices into clusters.
//
// Each unvisited task seeds a group and absorbs every later unvisited task
// whose combined score against the seed reaches the threshold. Cluster IDs are
// assigned from 1 in emission order. The scan is O(n²) and deterministic.
//
// Tasks with no text compare as empty strings, so they can group with each
// other.
func ClusterTasks(records []types.Record, opts Options) []types.TaskCluster {
	titles := make([]string, len(records))
	bodies := make([]string, len(records))
	for i, r := range records {
		if r == nil {
			continue
		}
		titles[i] = r.Title()
		if opts.UseBody {
			bodies[i] = bodySnippet(r.Body())
		}
	}

	visited := make([]bool, len(records))
	var clusters []types.TaskCluster
	for i := range records {
		if visited[i] {
			continue
		}
		visited[i] = true
		group := []int{i}

		for j := i + 1; j < len(records); j++ {
			if visited[j] {
				continue
			}
			if combinedScore(titles[i], titles[j], bodies[i], bodies[j], opts.UseBody) >= opts.Threshold {
				group = append(group, j)
				visited[j] = true
			}
		}

		if len(group) == 1 && !opts.IncludeSingletons {
			continue
		}
		clusters = append(clusters, types.TaskCluster{
			ClusterID: len(clusters) + 1,
			Indices:   group,
		})
	}
	return clusters
}

// combinedScore is max(title, round(0.7*title + 0.3*body)). Body evidence is
// only used when at least one of the two tasks has a body.
func combinedScore(titleA, titleB, bodyA, bodyB string, useBody bool) int {
	titleScore := PartialRatio(titleA, titleB)
	if !useBody || (bodyA == "" && bodyB == "") {
		return titleScore
	}
	bodyScore := PartialRatio(bodyA, bodyB)
	blended := int(math.Round(titleWeight*float64(titleScore) + bodyWeight*float64(bodyScore)))
	if blended > titleScore {
		return blended
	}
	return titleScore
}

func bodySnippet(body string) string {
	body = textutil.Normalize(body)
	runes := []rune(body)
	if len(runes) > bodySnippetLength {
		return string(runes[:bodySnippetLength])
	}
	return body
}
