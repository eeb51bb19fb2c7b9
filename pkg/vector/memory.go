package vector

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
)

const defaultBatchSize = 64

// MemoryIndex is an exact cosine-similarity index held in process memory.
type MemoryIndex struct {
	embedder  ai.Embedder
	batchSize int

	mu   sync.RWMutex
	ids  []string
	vecs [][]float32
	seen map[string]struct{}
}

func NewMemoryIndex(embedder ai.Embedder, batchSize int) *MemoryIndex {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &MemoryIndex{
		embedder:  embedder,
		batchSize: batchSize,
		seen:      make(map[string]struct{}),
	}
}

// Add embeds and stores fragments whose id is not yet indexed.
func (m *MemoryIndex) Add(ctx context.Context, fragments ...common.Fragment) (int, error) {
	m.mu.RLock()
	todo := make([]common.Fragment, 0, len(fragments))
	pending := make(map[string]struct{})
	for _, f := range fragments {
		if _, ok := m.seen[f.ID]; ok {
			continue
		}
		if _, ok := pending[f.ID]; ok {
			continue
		}
		pending[f.ID] = struct{}{}
		todo = append(todo, f)
	}
	m.mu.RUnlock()

	added := 0
	err := ChunkRange(len(todo), m.batchSize, func(start, end int) error {
		inputs := make([][]byte, 0, end-start)
		for _, f := range todo[start:end] {
			inputs = append(inputs, []byte(f.Text))
		}
		vecs, err := m.embedder.GenerateEmbeddings(ctx, inputs)
		if err != nil {
			return fmt.Errorf("embed fragments: %w", err)
		}
		if len(vecs) != len(inputs) {
			return fmt.Errorf("embedding result size mismatch: got %d want %d", len(vecs), len(inputs))
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		for i, f := range todo[start:end] {
			if _, ok := m.seen[f.ID]; ok {
				continue
			}
			m.seen[f.ID] = struct{}{}
			m.ids = append(m.ids, f.ID)
			m.vecs = append(m.vecs, vecs[i])
			added++
		}
		return nil
	})
	return added, err
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Nearest returns the k fragments most similar to query.
func (m *MemoryIndex) Nearest(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 || m.Len() == 0 {
		return []Match{}, nil
	}

	q, err := m.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	m.mu.RLock()
	matches := make([]Match, len(m.ids))
	for i, id := range m.ids {
		matches[i] = Match{FragmentID: id, Score: Cosine(q, m.vecs[i])}
	}
	m.mu.RUnlock()

	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
