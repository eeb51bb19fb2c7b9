package vector

import (
	"cmp"
	"context"
	"slices"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

// Match is one similarity hit.
type Match struct {
	FragmentID string
	Score      float64
}

// Similarity is the vector-similarity service. Nearest returns at most k
// matches ordered by score descending, ties by fragment id ascending. An
// index that holds nothing yet returns an empty slice, not an error.
type Similarity interface {
	Nearest(ctx context.Context, query string, k int) ([]Match, error)
}

// Index is a Similarity that can be fed fragments.
type Index interface {
	Similarity
	Add(ctx context.Context, fragments ...common.Fragment) (added int, err error)
}

// SortMatches orders matches by score descending, then id ascending.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.FragmentID, b.FragmentID))
	})
}

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize over total items.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
