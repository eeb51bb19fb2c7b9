package retrieval

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/graph"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/vector"
)

const DefaultTopK = 5

// FragmentLookup resolves fragment ids to their text.
type FragmentLookup interface {
	Get(ctx context.Context, id string) (common.Fragment, bool, error)
}

// Retriever combines similarity search with concept graph lookup. It only
// reads its collaborators and is safe for concurrent use once the graph is
// frozen.
type Retriever struct {
	similarity vector.Similarity
	extractor  concept.Extractor
	graph      *graph.ConceptGraph
	fragments  FragmentLookup
	topK       int
	backoff    util.BackoffOptions
}

type NewRetrieverParams struct {
	Similarity vector.Similarity
	Extractor  concept.Extractor
	Graph      *graph.ConceptGraph
	Fragments  FragmentLookup
	TopK       int
	MaxTries   int
}

func NewRetriever(params NewRetrieverParams) *Retriever {
	if params.TopK <= 0 {
		params.TopK = DefaultTopK
	}
	if params.MaxTries <= 0 {
		params.MaxTries = 3
	}
	return &Retriever{
		similarity: params.Similarity,
		extractor:  params.Extractor,
		graph:      params.Graph,
		fragments:  params.Fragments,
		topK:       params.TopK,
		backoff: util.BackoffOptions{
			MaxTries:  params.MaxTries,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  10 * time.Second,
			Jitter:    250 * time.Millisecond,
			Retryable: ai.IsTransient,
		},
	}
}

// candidate is a fragment seen by at least one ranking. Ranks are 1-based,
// 0 when absent.
type candidate struct {
	id         string
	semantic   int
	graph      int
	similarity float64
	shared     int
}

func (c candidate) best() int {
	switch {
	case c.semantic == 0:
		return c.graph
	case c.graph == 0:
		return c.semantic
	default:
		return min(c.semantic, c.graph)
	}
}

// Retrieve returns at most topK fragments for question. A non-positive
// topK uses the retriever default. An empty result means no context was
// found and is not an error; the only error is the context's.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (common.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.topK
	}
	result := common.RetrievalResult{Question: question, Fragments: []common.RetrievedFragment{}}

	semantic := r.semanticRanking(ctx, question, topK)
	ranked := r.graphRanking(ctx, question, topK)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	merged := merge(semantic, ranked)
	for _, c := range merged {
		if len(result.Fragments) == topK {
			break
		}
		f, ok, err := r.lookup(ctx, c.id)
		if err != nil || !ok {
			logger.Warn("[Retrieval] Ranked fragment not in store", "fragment_id", c.id, "err", err)
			continue
		}
		result.Fragments = append(result.Fragments, common.RetrievedFragment{
			FragmentID:     c.id,
			Source:         f.Source,
			Text:           f.Text,
			Score:          1 / float64(c.best()),
			SemanticRank:   c.semantic,
			GraphRank:      c.graph,
			Similarity:     c.similarity,
			SharedConcepts: c.shared,
		})
	}

	logger.Debug(
		"[Retrieval] Retrieved context",
		"semantic", len(semantic),
		"graph", len(ranked),
		"returned", len(result.Fragments),
	)
	return result, ctx.Err()
}

func (r *Retriever) lookup(ctx context.Context, id string) (common.Fragment, bool, error) {
	if r.fragments == nil {
		return common.Fragment{ID: id}, true, nil
	}
	return r.fragments.Get(ctx, id)
}

func (r *Retriever) semanticRanking(ctx context.Context, question string, k int) []vector.Match {
	if r.similarity == nil {
		return nil
	}
	matches, err := util.RetryWithBackoff(ctx, r.backoff, func(ctx context.Context) ([]vector.Match, error) {
		return r.similarity.Nearest(ctx, question, k)
	})
	if err != nil {
		logger.Warn("[Retrieval] Similarity search unavailable", "err", err)
		return nil
	}
	matches = slices.Clone(matches)
	vector.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (r *Retriever) graphRanking(ctx context.Context, question string, k int) []graph.Ranked {
	if r.graph == nil || r.extractor == nil {
		return nil
	}
	concepts := concept.ExtractOrEmpty(ctx, r.extractor, question)
	if len(concepts) == 0 {
		return nil
	}
	ranked := r.graph.Rank(concepts)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// merge unions both rankings. A fragment in both keeps its better
// position; equal positions are ordered by id.
func merge(semantic []vector.Match, ranked []graph.Ranked) []candidate {
	byID := make(map[string]*candidate, len(semantic)+len(ranked))
	get := func(id string) *candidate {
		c, ok := byID[id]
		if !ok {
			c = &candidate{id: id}
			byID[id] = c
		}
		return c
	}
	for i, m := range semantic {
		c := get(m.FragmentID)
		if c.semantic == 0 {
			c.semantic = i + 1
			c.similarity = m.Score
		}
	}
	for i, g := range ranked {
		c := get(g.FragmentID)
		if c.graph == 0 {
			c.graph = i + 1
			c.shared = g.Shared
		}
	}

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b candidate) int {
		return cmp.Or(cmp.Compare(a.best(), b.best()), cmp.Compare(a.id, b.id))
	})
	return out
}
