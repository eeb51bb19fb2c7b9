package graph

import (
	"context"
	"sync"
	"time"

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Builder assembles one ConceptGraph per ingestion batch.
type Builder struct {
	extractor concept.Extractor
	parallel  int

	mu    sync.Mutex
	graph *ConceptGraph
}

// NewBuilder returns a builder that extracts concepts with extractor,
// running at most parallel extractions at once.
func NewBuilder(extractor concept.Extractor, parallel int) *Builder {
	if parallel <= 0 {
		parallel = 1
	}
	return &Builder{
		extractor: extractor,
		parallel:  parallel,
		graph:     NewConceptGraph(),
	}
}

// conceptsFor uses the concepts already carried by f, or extracts them.
// Extraction failures yield an empty set.
func (b *Builder) conceptsFor(ctx context.Context, f common.Fragment) []string {
	if len(f.Concepts) > 0 {
		return concept.Normalize(f.Concepts)
	}
	return concept.ExtractOrEmpty(ctx, b.extractor, f.Text)
}

// AddFragment extracts the concepts of f and inserts it into the graph
// under construction.
func (b *Builder) AddFragment(ctx context.Context, f common.Fragment) error {
	b.mu.Lock()
	frozen := b.graph.Frozen()
	known := b.graph.Has(f.ID)
	b.mu.Unlock()
	if frozen {
		return ErrFrozen
	}
	if known {
		return nil
	}

	f.Concepts = b.conceptsFor(ctx, f)

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.graph.Insert(f)
	return err
}

// Build extracts concepts for fragments concurrently, inserts them in input
// order, freezes the graph and returns it. The builder cannot be used
// afterwards.
func (b *Builder) Build(ctx context.Context, fragments []common.Fragment) (*ConceptGraph, error) {
	b.mu.Lock()
	if b.graph.Frozen() {
		b.mu.Unlock()
		return nil, ErrFrozen
	}
	b.mu.Unlock()

	start := time.Now()
	concepts := make([][]string, len(fragments))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.parallel)
	for i, f := range fragments {
		b.mu.Lock()
		known := b.graph.Has(f.ID)
		b.mu.Unlock()
		if known {
			continue
		}
		eg.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			concepts[i] = b.conceptsFor(gCtx, f)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	inserted, skipped := 0, 0
	for i, f := range fragments {
		f.Concepts = concepts[i]
		ok, err := b.graph.Insert(f)
		if err != nil {
			return nil, err
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	b.graph.Freeze()

	logger.Info(
		"[Graph] Built concept graph",
		"inserted", inserted,
		"skipped", skipped,
		"nodes", b.graph.NodeCount(),
		"edges", b.graph.EdgeCount(),
		"concepts", len(b.graph.index),
		"duration", time.Since(start),
	)
	return b.graph, nil
}
