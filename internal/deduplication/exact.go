package deduplication

import (
	"strconv"

	"github.com/Auriora/admin-assistant-sub002/internal/priorities"
	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// signature identifies tasks whose text is the same once case and spacing
// are ignored
type signature struct {
	title string
	body  string
}

func signatureOf(r types.Record) signature {
	if r == nil {
		return signature{}
	}
	return signature{title: textutil.Normalize(r.Title()), body: textutil.Normalize(r.Body())}
}

// ExactDetector resolves exact duplicates without asking the model. In each
// group of identical tasks the highest-priority task survives and the rest
// are deleted.
type ExactDetector struct {
	scorer *priorities.Scorer
}

// NewExactDetector creates a detector. A nil scorer uses the default weights.
func NewExactDetector(scorer *priorities.Scorer) *ExactDetector {
	if scorer == nil {
		scorer = priorities.NewScorer(priorities.DefaultWeights())
	}
	return &ExactDetector{scorer: scorer}
}

// Detect returns delete decisions for the non-canonical members of every
// exact-duplicate group in records. Canonical tasks get no decision.
//
// originalIndices maps each position in records to its index in the caller's
// full task slice; when nil, positions are used as is. cluster, when set, is
// stamped onto the decisions.
func (d *ExactDetector) Detect(records []types.Record, cluster *types.TaskCluster, originalIndices []int) map[string]*types.DedupDecision {
	decisions := make(map[string]*types.DedupDecision)
	if len(records) < 2 {
		return decisions
	}

	originalIndex := func(pos int) int {
		if pos < len(originalIndices) {
			return originalIndices[pos]
		}
		return pos
	}

	// Group in order of first appearance
	var order []signature
	groups := make(map[signature][]int)
	for pos, r := range records {
		sig := signatureOf(r)
		if _, ok := groups[sig]; !ok {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], pos)
	}

	for _, sig := range order {
		members := groups[sig]
		if len(members) < 2 {
			continue
		}

		canonical := members[0]
		best := d.scorer.Score(records[canonical], originalIndex(canonical))
		for _, pos := range members[1:] {
			if score := d.scorer.Score(records[pos], originalIndex(pos)); best.Less(score) {
				canonical, best = pos, score
			}
		}

		canonicalIndex := originalIndex(canonical)
		canonicalRow := canonicalIndex
		if row, ok := rowIndexOf(records[canonical]); ok {
			canonicalRow = row
		}
		canonicalList := listNameOf(records[canonical])

		for _, pos := range members {
			if pos == canonical {
				continue
			}
			decision := &types.DedupDecision{
				TaskKey:               keyOf(records[pos], originalIndex(pos)),
				ClusterIndex:          originalIndex(pos),
				RawAction:             string(types.ActionDelete),
				Source:                types.SourceAuto,
				Rationale:             textutil.Truncate("Exact duplicate of "+describe(records[canonical], canonicalList), types.MaxRationaleLength),
				Comment:               "Auto dedup: exact duplicate",
				CanonicalClusterIndex: intPtr(canonicalIndex),
				CanonicalRowIndex:     intPtr(canonicalRow),
				CanonicalList:         canonicalList,
			}
			if cluster != nil {
				decision.ClusterID = cluster.ClusterID
				decision.ClusterSize = cluster.Size()
			}
			decisions[decision.TaskKey] = decision
		}
	}
	return decisions
}

func describe(r types.Record, list string) string {
	title := ""
	if r != nil {
		title = textutil.CollapseSpace(r.Title())
	}
	if list == "" {
		return "\"" + title + "\""
	}
	return "\"" + title + "\" in " + list
}

func keyOf(r types.Record, pos int) string {
	if r == nil {
		return "missing:" + strconv.Itoa(pos)
	}
	return r.Key()
}

func rowIndexOf(r types.Record) (int, bool) {
	if r == nil {
		return 0, false
	}
	return r.RowIndex()
}

func listNameOf(r types.Record) string {
	if r == nil {
		return ""
	}
	return r.ListName()
}

func intPtr(i int) *int {
	return &i
}
