// Package bootstrap builds the collaborators shared by the binaries from
// the environment.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	oai "github.com/OFFIS-RIT/diligence/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/diligence/pkg/ai/openai"
	"github.com/OFFIS-RIT/diligence/pkg/concept"
	"github.com/OFFIS-RIT/diligence/pkg/corroborate"
	"github.com/OFFIS-RIT/diligence/pkg/fragment"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/logger/console"
	"github.com/OFFIS-RIT/diligence/pkg/retrieval"
	pgstore "github.com/OFFIS-RIT/diligence/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Logger installs the console logger. JSON output is used when
// LOG_JSON=true.
func Logger() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	}))
}

// AIClient selects the adapter named by AI_ADAPTER (openai by default).
func AIClient() (ai.Client, error) {
	parallel := int64(util.GetEnvInt("AI_PARALLEL_REQ", 4))
	timeout := util.GetEnvInt("AI_TIMEOUT_MIN", 10)
	dim := util.GetEnvInt("AI_EMBED_DIM", 1536)

	switch util.GetEnvString("AI_ADAPTER", "openai") {
	case "ollama":
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			ChatModel:             util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel:       util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:        util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:          dim,
			BaseURL:               util.GetEnv("AI_CHAT_URL"),
			ApiKey:                util.GetEnv("AI_CHAT_KEY"),
			MaxConcurrentRequests: parallel,
			TimeoutMin:            timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	case "openai":
		return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			ChatModel:             util.GetEnv("AI_CHAT_MODEL"),
			ExtractionModel:       util.GetEnv("AI_EXTRACT_MODEL"),
			EmbeddingModel:        util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:          dim,
			ChatURL:               util.GetEnv("AI_CHAT_URL"),
			ChatKey:               util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL:          util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:          util.GetEnv("AI_EMBED_KEY"),
			MaxConcurrentRequests: parallel,
			TimeoutMin:            timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", util.GetEnv("AI_ADAPTER"))
	}
}

// Extractor is the language-model concept extractor, cached in Redis when
// REDIS_ADDR is set. The returned close function releases the cache.
func Extractor(ctx context.Context, client ai.Client) (concept.Extractor, func(), error) {
	var extractor concept.Extractor = concept.NewAIExtractor(concept.NewAIExtractorParams{
		Client:      client,
		MaxConcepts: util.GetEnvInt("CONCEPT_MAX", 20),
		MaxTries:    util.GetEnvInt("AI_MAX_RETRIES", 3),
	})

	addr := util.GetEnv("REDIS_ADDR")
	if addr == "" {
		return extractor, func() {}, nil
	}
	cache, err := concept.NewRedisCache(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	ttl := util.GetEnvSeconds("CONCEPT_CACHE_TTL_SEC", 7*24*time.Hour)
	logger.Info("[Concepts] Using redis cache", "addr", addr, "ttl", ttl.String())
	return concept.NewCachedExtractor(extractor, cache, "", ttl), func() { _ = cache.Close() }, nil
}

// Keywords returns the CONCEPT_KEYWORDS set, or nil when unset.
func Keywords() *concept.KeywordExtractor {
	kws := util.GetEnvList("CONCEPT_KEYWORDS")
	if len(kws) == 0 {
		return nil
	}
	return concept.NewKeywordExtractor(kws)
}

// Splitter sizes fragments in o200k tokens, falling back to words.
func Splitter() *fragment.Splitter {
	count, err := fragment.TiktokenCounter("o200k_base")
	if err != nil {
		logger.Warn("[Ingest] Tokenizer unavailable, counting words", "err", err)
		count = fragment.WordCount
	}
	return fragment.NewSplitter(count, util.GetEnvInt("FRAGMENT_MAX_TOKENS", fragment.DefaultMaxTokens))
}

// RetrievalTopK is the number of fragments retrieved per question.
func RetrievalTopK() int {
	return util.GetEnvInt("RETRIEVAL_TOP_K", retrieval.DefaultTopK)
}

func Fetcher() *corroborate.Fetcher {
	return corroborate.NewFetcher(corroborate.NewFetcherParams{
		Timeout:           util.GetEnvSeconds("FETCH_TIMEOUT_SEC", 15*time.Second),
		RequestsPerSecond: util.GetEnvNumeric("FETCH_RPS", 1),
	})
}

// Pool migrates DATABASE_URL and opens a pool with the pgvector types
// registered.
func Pool(ctx context.Context) (*pgxpool.Pool, error) {
	dbURL := util.GetEnv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if err := pgstore.Migrate(dbURL, util.GetEnvString("MIGRATIONS_PATH", "migrations")); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}
