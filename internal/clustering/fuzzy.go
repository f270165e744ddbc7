package clustering

import (
	"math"

	"github.com/agnivade/levenshtein"

	"github.com/Auriora/admin-assistant-sub002/internal/textutil"
)

// PartialRatio scores how well the shorter string matches its best-aligned
// substring of the longer one, 0-100. Comparison is case-insensitive with
// whitespace collapsed. Two empty strings score 100; one empty string scores 0.
func PartialRatio(a, b string) int {
	short := []rune(textutil.Normalize(a))
	long := []rune(textutil.Normalize(b))
	if len(short) == 0 && len(long) == 0 {
		return 100
	}
	if len(short) == 0 || len(long) == 0 {
		return 0
	}
	if len(short) > len(long) {
		short, long = long, short
	}

	needle := string(short)
	best := 0
	for start := 0; start+len(short) <= len(long); start++ {
		score := ratio(needle, string(long[start:start+len(short)]), len(short))
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

// ratio converts the edit distance between two equal-length strings into a 0-100 similarity
func ratio(a, b string, length int) int {
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(length))))
}
