package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/corroborate"
	"github.com/OFFIS-RIT/diligence/pkg/fragment"
	"github.com/OFFIS-RIT/diligence/pkg/ingest"
	"github.com/OFFIS-RIT/diligence/pkg/leaselock"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/pipeline"
	"github.com/OFFIS-RIT/diligence/pkg/question"
	"github.com/OFFIS-RIT/diligence/pkg/vector"
)

type RunLocker interface {
	WithLease(ctx context.Context, runID string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// CorpusStore stores fragments and answers similarity queries for one
// corpus.
type CorpusStore interface {
	fragment.Store
	vector.Index
}

// RunProcessor executes run messages end to end: load inputs, ingest,
// answer, score and write the outputs back to the bucket.
type RunProcessor struct {
	storage   *storage.Storage
	locker    RunLocker
	client    ai.Client
	stores    func(corpus string) CorpusStore
	fetcher   *corroborate.Fetcher
	extractor concept.Extractor
	keywords  *concept.KeywordExtractor
	splitter  *fragment.Splitter
	parallel  int
	topK      int
	leaseTTL  time.Duration
}

type NewRunProcessorParams struct {
	Storage *storage.Storage
	Locker  RunLocker
	Client  ai.Client
	// Stores returns the fragment store of a corpus.
	Stores    func(corpus string) CorpusStore
	Fetcher   *corroborate.Fetcher
	Extractor concept.Extractor
	Keywords  *concept.KeywordExtractor
	Splitter  *fragment.Splitter
	Parallel  int
	TopK      int
	LeaseTTL  time.Duration
}

func NewRunProcessor(params NewRunProcessorParams) *RunProcessor {
	if params.Fetcher == nil {
		params.Fetcher = corroborate.NewFetcher(corroborate.NewFetcherParams{})
	}
	if params.Splitter == nil {
		params.Splitter = fragment.NewSplitter(nil, 0)
	}
	if params.LeaseTTL <= 0 {
		params.LeaseTTL = 5 * time.Minute
	}
	return &RunProcessor{
		storage:   params.Storage,
		locker:    params.Locker,
		client:    params.Client,
		stores:    params.Stores,
		fetcher:   params.Fetcher,
		extractor: params.Extractor,
		keywords:  params.Keywords,
		splitter:  params.Splitter,
		parallel:  params.Parallel,
		topK:      params.TopK,
		leaseTTL:  params.LeaseTTL,
	}
}

// ProcessRunMessage handles one delivery body. A run already held by
// another worker is dropped without error.
func (p *RunProcessor) ProcessRunMessage(ctx context.Context, body []byte) error {
	msg, err := DecodeRunMsg(body)
	if err != nil {
		return err
	}

	err = p.locker.WithLease(ctx, msg.RunID, leaselock.Options{TTL: p.leaseTTL}, func(ctx context.Context) error {
		return p.run(ctx, msg)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Run already in progress elsewhere", "run_id", msg.RunID)
		return nil
	}
	return err
}

func (p *RunProcessor) run(ctx context.Context, msg RunMsg) (err error) {
	start := time.Now()
	partial := false
	defer func() {
		if err == nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if werr := p.storage.WriteStatus(writeCtx, storage.RunStatus{
			RunID:   msg.RunID,
			State:   storage.RunFailed,
			Partial: partial,
			Error:   err.Error(),
		}); werr != nil {
			logger.Warn("[Queue] Failed to mark run as failed", "run_id", msg.RunID, "err", werr)
		}
	}()

	if err := p.storage.WriteStatus(ctx, storage.RunStatus{RunID: msg.RunID, State: storage.RunRunning}); err != nil {
		return err
	}

	critical, err := p.loadQuestions(ctx, msg.CriticalQuestionsKey, question.ValidateCritical)
	if err != nil {
		return fmt.Errorf("%w: critical questions: %v", ErrPermanent, err)
	}
	bank := critical
	if msg.QuestionBankKey != "" {
		bank, err = p.loadQuestions(ctx, msg.QuestionBankKey, question.ValidateBank)
		if err != nil {
			return fmt.Errorf("%w: question bank: %v", ErrPermanent, err)
		}
	}

	docs, err := p.loadDocuments(ctx, msg)
	if err != nil {
		return err
	}

	store := p.stores(msg.Corpus)
	ingested, err := ingest.NewIngester(ingest.NewIngesterParams{
		Splitter:  p.splitter,
		Store:     store,
		Index:     store,
		Extractor: p.extractor,
		Keywords:  p.keywords,
		Parallel:  p.parallel,
	}).Ingest(ctx, docs)
	if err != nil {
		return err
	}

	runner := pipeline.NewModelRunner(pipeline.NewModelRunnerParams{
		Client:        p.client,
		Similarity:    store,
		Fragments:     store,
		Graph:         ingested.Graph,
		Extractor:     p.extractor,
		Keywords:      p.keywords,
		Parallel:      p.parallel,
		RetrievalTopK: p.topK,
		TopK:          msg.TopK,
	})

	result, runErr := runner.Run(ctx, bank, critical)
	partial = result.Partial

	files, err := result.Files()
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.storage.WriteRunOutputs(writeCtx, msg.RunID, files); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	metrics := p.client.GetMetrics()
	logger.Info(
		"[Queue] Run completed",
		"run_id", msg.RunID,
		"questions", len(result.Answers),
		"flagged", len(ingested.Flagged),
		"relevant_documents", len(ingested.Relevant),
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"duration", time.Since(start).String(),
	)
	return p.storage.WriteStatus(ctx, storage.RunStatus{RunID: msg.RunID, State: storage.RunCompleted})
}

func (p *RunProcessor) loadQuestions(
	ctx context.Context,
	key string,
	validateFn func([]common.Question) ([]common.Question, []question.InputError),
) ([]common.Question, error) {
	data, err := p.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	qs, _, err := question.Decode(data, question.FormatFor(key), validateFn)
	return qs, err
}

func (p *RunProcessor) loadDocuments(ctx context.Context, msg RunMsg) ([]common.Document, error) {
	keys := append([]string(nil), msg.DocumentKeys...)
	if msg.DocumentPrefix != "" {
		listed, err := p.storage.List(ctx, msg.DocumentPrefix)
		if err != nil {
			return nil, err
		}
		for _, k := range listed {
			if !strings.HasSuffix(k, "/") {
				keys = append(keys, k)
			}
		}
	}

	docs := make([]common.Document, 0, len(keys)+len(msg.URLs))
	for _, k := range keys {
		data, err := p.storage.Get(ctx, k)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Warn("[Queue] Skipping missing document", "key", k)
				continue
			}
			return nil, err
		}
		docs = append(docs, common.Document{Source: k, Text: string(data)})
	}
	docs = append(docs, p.fetcher.FetchAll(ctx, msg.URLs)...)
	return docs, nil
}
