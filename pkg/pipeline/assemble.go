package pipeline

import (
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/assess"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/gap"
	"github.com/OFFIS-RIT/diligence/pkg/graph"
	"github.com/OFFIS-RIT/diligence/pkg/retrieval"
	"github.com/OFFIS-RIT/diligence/pkg/risk"
	"github.com/OFFIS-RIT/diligence/pkg/vector"
)

type NewModelRunnerParams struct {
	Client     ai.Client
	Similarity vector.Similarity
	Fragments  retrieval.FragmentLookup
	Graph      *graph.ConceptGraph
	// Extractor and Keywords extract question concepts the same way
	// fragments were tagged at ingestion.
	Extractor concept.Extractor
	Keywords  *concept.KeywordExtractor
	Parallel  int
	// RetrievalTopK is the retriever default, TopK the per-run override.
	RetrievalTopK int
	TopK          int
}

// NewModelRunner wires a Runner whose answer, gap and risk steps all go
// through one language-model client.
func NewModelRunner(params NewModelRunnerParams) *Runner {
	svc := assess.NewService(assess.NewServiceParams{Client: params.Client})
	return NewRunner(NewRunnerParams{
		Retriever: retrieval.NewRetriever(retrieval.NewRetrieverParams{
			Similarity: params.Similarity,
			Extractor:  questionExtractor(params.Extractor, params.Keywords),
			Graph:      params.Graph,
			Fragments:  params.Fragments,
			TopK:       params.RetrievalTopK,
		}),
		Answerer: svc,
		Gaps:     gap.NewDetector(svc),
		Risks:    risk.NewScorer(svc, params.Parallel),
		Parallel: params.Parallel,
		TopK:     params.TopK,
	})
}

func questionExtractor(extractor concept.Extractor, keywords *concept.KeywordExtractor) concept.Extractor {
	switch {
	case extractor != nil && keywords != nil:
		return concept.Composite{extractor, keywords}
	case extractor != nil:
		return extractor
	case keywords != nil:
		return keywords
	}
	return nil
}
