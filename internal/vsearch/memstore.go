package vsearch

import (
	"bytes"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// memStore keeps every embedding in memory and answers KNN with an exact
// scan. Chunks are still persisted through the repo; the map is a cache that
// Rebuild can always reconstruct from the chunk table.
type memStore struct {
	log    *logger.Logger
	chunks repos.ChunkRepo
	tx     repos.TxRunner

	mu      sync.RWMutex
	sources map[uuid.UUID][]memChunk
}

type memChunk struct {
	chunk domain.Chunk
	vec   []float32
}

func NewMemStore(baseLog *logger.Logger, chunks repos.ChunkRepo, tx repos.TxRunner) Store {
	return &memStore{
		log:     baseLog.With("service", "VectorStoreMem"),
		chunks:  chunks,
		tx:      tx,
		sources: map[uuid.UUID][]memChunk{},
	}
}

func (s *memStore) StoreChunks(ctx context.Context, chunks []*domain.Chunk) error {
	const op = "vsearch.StoreChunks"

	if err := validateBatch(op, chunks); err != nil {
		return err
	}

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := s.chunks.DeleteBySourceFileID(dbc, chunks[0].SourceFileID); err != nil {
			return err
		}
		_, err := s.chunks.Create(dbc, chunks)
		return err
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}

	entries := make([]memChunk, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, memChunk{chunk: *c, vec: c.Embedding.Slice()})
	}
	s.mu.Lock()
	s.sources[chunks[0].SourceFileID] = entries
	s.mu.Unlock()
	return nil
}

func (s *memStore) KNN(ctx context.Context, tenantID uuid.UUID, queryVec []float32, topK int, filter Filter) ([]Hit, error) {
	const op = "vsearch.KNN"

	if err := validateQuery(op, queryVec); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	categories := toSet(filter.Categories)
	sourceIDs := make(map[uuid.UUID]bool, len(filter.SourceFileIDs))
	for _, id := range filter.SourceFileIDs {
		sourceIDs[id] = true
	}

	s.mu.RLock()
	var hits []Hit
	for sourceID, entries := range s.sources {
		if len(sourceIDs) > 0 && !sourceIDs[sourceID] {
			continue
		}
		for _, e := range entries {
			if e.chunk.TenantID != tenantID {
				continue
			}
			if len(categories) > 0 && !categories[e.chunk.Category] {
				continue
			}
			hits = append(hits, Hit{Chunk: e.chunk, Distance: l2Distance(queryVec, e.vec)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		a, b := hits[i].Chunk, hits[j].Chunk
		if a.SourceFileID != b.SourceFileID {
			return bytes.Compare(a.SourceFileID[:], b.SourceFileID[:]) < 0
		}
		return a.Ordinal < b.Ordinal
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *memStore) DeleteSource(ctx context.Context, tenantID, sourceFileID uuid.UUID) error {
	const op = "vsearch.DeleteSource"

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		return s.chunks.DeleteBySourceFileID(dbc, sourceFileID)
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}

	s.mu.Lock()
	delete(s.sources, sourceFileID)
	s.mu.Unlock()
	return nil
}

// Rebuild reloads the whole cache from the chunk table. Called once at
// startup and available to operators after manual repair.
func (s *memStore) Rebuild(ctx context.Context) error {
	const op = "vsearch.Rebuild"

	fresh := map[uuid.UUID][]memChunk{}
	total := 0
	err := s.chunks.ForEachBatch(dbctx.Context{Ctx: ctx}, 500, func(batch []*domain.Chunk) error {
		for _, c := range batch {
			fresh[c.SourceFileID] = append(fresh[c.SourceFileID], memChunk{chunk: *c, vec: c.Embedding.Slice()})
			total++
		}
		return nil
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}

	s.mu.Lock()
	s.sources = fresh
	s.mu.Unlock()
	s.log.Info("vector cache rebuilt", "chunks", total, "sources", len(fresh))
	return nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
