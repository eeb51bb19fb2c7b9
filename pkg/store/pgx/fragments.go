package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/fragment"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/vector"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

const (
	insertChunkSize = 1000
	embedBatchSize  = 64
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// FragmentStore persists fragments in Postgres and serves similarity search
// through pgvector. It implements fragment.Store and vector.Index.
type FragmentStore struct {
	conn     pgxIConn
	embedder ai.Embedder
	corpus   string
}

// NewFragmentStore wraps an existing connection or pool. Every read and
// write is scoped to corpus, so runs over different data rooms never see
// each other's fragments. The pool must have the pgvector types registered.
func NewFragmentStore(conn pgxIConn, embedder ai.Embedder, corpus string) *FragmentStore {
	return &FragmentStore{conn: conn, embedder: embedder, corpus: corpus}
}

var (
	_ fragment.Store = (*FragmentStore)(nil)
	_ vector.Index   = (*FragmentStore)(nil)
)

// Put inserts fragments, ignoring ids that already exist.
func (s *FragmentStore) Put(ctx context.Context, fragments ...common.Fragment) (int, error) {
	added := 0
	err := vector.ChunkRange(len(fragments), insertChunkSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgxv5.Batch{}
		for _, f := range fragments[start:end] {
			batch.Queue(
				insertFragmentSQL,
				s.corpus, f.ID,
				util.SanitizePostgresText(f.Source), f.Position, util.SanitizePostgresText(f.Text),
				util.SanitizePostgresTexts(f.Concepts),
			)
		}

		res := tx.SendBatch(ctx, batch)
		for range end - start {
			tag, err := res.Exec()
			if err != nil {
				_ = res.Close()
				return fmt.Errorf("insert fragment: %w", err)
			}
			added += int(tag.RowsAffected())
		}
		if err := res.Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return added, err
	}

	logger.Debug("[Store] Stored fragments", "received", len(fragments), "added", added)
	return added, nil
}

func (s *FragmentStore) Get(ctx context.Context, id string) (common.Fragment, bool, error) {
	var f common.Fragment
	err := s.conn.QueryRow(ctx, getFragmentSQL, s.corpus, id).Scan(&f.ID, &f.Source, &f.Position, &f.Text, &f.Concepts)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Fragment{}, false, nil
	}
	if err != nil {
		return common.Fragment{}, false, err
	}
	return f, true, nil
}

// All returns every fragment ordered by source then position.
func (s *FragmentStore) All(ctx context.Context) ([]common.Fragment, error) {
	rows, err := s.conn.Query(ctx, allFragmentsSQL, s.corpus)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Fragment, error) {
		var f common.Fragment
		err := row.Scan(&f.ID, &f.Source, &f.Position, &f.Text, &f.Concepts)
		return f, err
	})
}

// SaveConcepts records the concept set of a fragment the first time it is
// known, so later graph rebuilds do not need the extractor.
func (s *FragmentStore) SaveConcepts(ctx context.Context, id string, concepts []string) error {
	if len(concepts) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx, saveConceptsSQL, s.corpus, id, util.SanitizePostgresTexts(concepts))
	return err
}

// Add embeds the fragments that have no embedding yet.
func (s *FragmentStore) Add(ctx context.Context, fragments ...common.Fragment) (int, error) {
	ids := make([]string, len(fragments))
	for i, f := range fragments {
		ids[i] = f.ID
	}
	rows, err := s.conn.Query(ctx, missingEmbeddingsSQL, s.corpus, ids)
	if err != nil {
		return 0, err
	}
	missing, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		want[id] = struct{}{}
	}

	todo := make([]common.Fragment, 0, len(missing))
	for _, f := range fragments {
		if _, ok := want[f.ID]; ok {
			todo = append(todo, f)
			delete(want, f.ID)
		}
	}

	added := 0
	err = vector.ChunkRange(len(todo), embedBatchSize, func(start, end int) error {
		inputs := make([][]byte, 0, end-start)
		for _, f := range todo[start:end] {
			inputs = append(inputs, []byte(f.Text))
		}
		vecs, err := s.embedder.GenerateEmbeddings(ctx, inputs)
		if err != nil {
			return fmt.Errorf("embed fragments: %w", err)
		}
		if len(vecs) != len(inputs) {
			return fmt.Errorf("embedding result size mismatch: got %d want %d", len(vecs), len(inputs))
		}

		batch := &pgxv5.Batch{}
		for i, f := range todo[start:end] {
			batch.Queue(saveEmbeddingSQL, s.corpus, f.ID, pgvector.NewVector(vecs[i]))
		}
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save embeddings: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		added += end - start
		return nil
	})
	return added, err
}

// Nearest ranks embedded fragments by cosine similarity to query.
func (s *FragmentStore) Nearest(ctx context.Context, query string, k int) ([]vector.Match, error) {
	if k <= 0 {
		return []vector.Match{}, nil
	}
	var warm bool
	if err := s.conn.QueryRow(ctx, anyEmbeddingSQL, s.corpus).Scan(&warm); err != nil {
		return nil, err
	}
	if !warm {
		return []vector.Match{}, nil
	}

	q, err := s.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.conn.Query(ctx, nearestSQL, s.corpus, pgvector.NewVector(q), k)
	if err != nil {
		return nil, err
	}
	matches, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (vector.Match, error) {
		var m vector.Match
		err := row.Scan(&m.FragmentID, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	vector.SortMatches(matches)
	return matches, nil
}

const insertFragmentSQL = `
INSERT INTO fragments (corpus, id, source, position, text, concepts)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (corpus, id) DO NOTHING;
`

const getFragmentSQL = `
SELECT id, source, position, text, concepts
FROM fragments
WHERE corpus = $1 AND id = $2;
`

const allFragmentsSQL = `
SELECT id, source, position, text, concepts
FROM fragments
WHERE corpus = $1
ORDER BY source, position, id;
`

const saveConceptsSQL = `
UPDATE fragments
SET concepts = $3
WHERE corpus = $1 AND id = $2 AND cardinality(concepts) = 0;
`

const missingEmbeddingsSQL = `
SELECT id
FROM fragments
WHERE corpus = $1 AND id = ANY($2::text[]) AND embedding IS NULL;
`

const saveEmbeddingSQL = `
UPDATE fragments
SET embedding = $3
WHERE corpus = $1 AND id = $2 AND embedding IS NULL;
`

const anyEmbeddingSQL = `
SELECT EXISTS (SELECT 1 FROM fragments WHERE corpus = $1 AND embedding IS NOT NULL);
`

const nearestSQL = `
SELECT id, 1 - (embedding <=> $2) AS score
FROM fragments
WHERE corpus = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2, id
LIMIT $3;
`
