package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/fragment"
	"github.com/OFFIS-RIT/diligence/pkg/graph"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/vector"
)

// ConceptSaver is implemented by stores that persist concept sets so a
// later batch can rebuild the graph without extraction.
type ConceptSaver interface {
	SaveConcepts(ctx context.Context, id string, concepts []string) error
}

// Ingester turns documents into stored, embedded fragments and one frozen
// concept graph per batch.
type Ingester struct {
	splitter  *fragment.Splitter
	store     fragment.Store
	index     vector.Index
	extractor concept.Extractor
	keywords  *concept.KeywordExtractor
	parallel  int
}

type NewIngesterParams struct {
	Splitter  *fragment.Splitter
	Store     fragment.Store
	// Index may be nil when similarity is served by a store that embeds on
	// its own.
	Index     vector.Index
	Extractor concept.Extractor
	// Keywords adds the configured concept set to every fragment's
	// extraction and drives Result.Flagged.
	Keywords *concept.KeywordExtractor
	Parallel int
}

func NewIngester(params NewIngesterParams) *Ingester {
	if params.Splitter == nil {
		params.Splitter = fragment.NewSplitter(nil, 0)
	}
	if params.Store == nil {
		params.Store = fragment.NewMemoryStore()
	}
	extractor := params.Extractor
	if params.Keywords != nil && len(params.Keywords.Keywords()) > 0 {
		if extractor == nil {
			extractor = params.Keywords
		} else {
			extractor = concept.Composite{extractor, params.Keywords}
		}
	}
	return &Ingester{
		splitter:  params.Splitter,
		store:     params.Store,
		index:     params.Index,
		extractor: extractor,
		keywords:  params.Keywords,
		parallel:  params.Parallel,
	}
}

// Result describes one ingestion batch.
type Result struct {
	Graph *graph.ConceptGraph
	// Fragments is every stored fragment, including earlier batches.
	Fragments []common.Fragment
	Added     int
	Embedded  int
	// Flagged lists fragments carrying a configured keyword concept.
	Flagged []string
	// Relevant lists the sources of this batch that mention a keyword.
	Relevant []string
}

// Ingest splits documents, stores the fragments, feeds the similarity
// index and builds the concept graph over everything the store holds.
// Similarity indexing failures degrade retrieval and are logged, not
// returned.
func (i *Ingester) Ingest(ctx context.Context, docs []common.Document) (Result, error) {
	start := time.Now()
	var fresh []common.Fragment
	for _, doc := range docs {
		fresh = append(fresh, i.splitter.Split(doc)...)
	}

	added, err := i.store.Put(ctx, fresh...)
	if err != nil {
		return Result{}, fmt.Errorf("store fragments: %w", err)
	}

	all, err := i.store.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list fragments: %w", err)
	}

	embedded := 0
	if i.index != nil {
		embedded, err = i.index.Add(ctx, all...)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			logger.Warn("[Ingest] Similarity indexing failed", "err", err)
		}
	}

	extractor := i.extractor
	if extractor == nil {
		extractor = concept.ExtractorFunc(func(context.Context, string) ([]string, error) { return nil, nil })
	}
	g, err := graph.NewBuilder(extractor, i.parallel).Build(ctx, all)
	if err != nil {
		return Result{}, fmt.Errorf("build concept graph: %w", err)
	}
	i.saveConcepts(ctx, g, all)

	res := Result{
		Graph:     g,
		Fragments: all,
		Added:     added,
		Embedded:  embedded,
		Flagged:   []string{},
		Relevant:  []string{},
	}
	if i.keywords != nil {
		res.Flagged = g.FragmentsWithAny(i.keywords.Keywords())
		for _, doc := range docs {
			if i.keywords.Relevant(doc.Text) {
				res.Relevant = append(res.Relevant, doc.Source)
			}
		}
	}

	logger.Info(
		"[Ingest] Batch ingested",
		"documents", len(docs),
		"fragments", len(all),
		"added", added,
		"embedded", embedded,
		"flagged", len(res.Flagged),
		"relevant", len(res.Relevant),
		"duration", time.Since(start).String(),
	)
	return res, nil
}

func (i *Ingester) saveConcepts(ctx context.Context, g *graph.ConceptGraph, fragments []common.Fragment) {
	saver, ok := i.store.(ConceptSaver)
	if !ok {
		return
	}
	for _, f := range fragments {
		if len(f.Concepts) > 0 {
			continue
		}
		concepts, ok := g.Concepts(f.ID)
		if !ok {
			continue
		}
		if err := saver.SaveConcepts(ctx, f.ID, concepts); err != nil {
			logger.Warn("[Ingest] Failed to persist concepts", "fragment_id", f.ID, "err", err)
		}
	}
}

// Store returns the fragment store backing the ingester.
func (i *Ingester) Store() fragment.Store {
	return i.store
}

// MemoryCorpus pairs the in-process fragment store with an in-process
// similarity index.
type MemoryCorpus struct {
	*fragment.MemoryStore
	*vector.MemoryIndex
}

func NewMemoryCorpus(embedder ai.Embedder) *MemoryCorpus {
	return &MemoryCorpus{
		MemoryStore: fragment.NewMemoryStore(),
		MemoryIndex: vector.NewMemoryIndex(embedder, 0),
	}
}
