// Package search composes the retrieval paths over the indexed corpus:
// trie lookups for prefix queries, embedding plus nearest-neighbor search
// for semantic ones, and both at once for hybrid queries.
package search

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/stowagehq/stowage-backend/internal/clients/embed"
	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/textindex"
	"github.com/stowagehq/stowage-backend/internal/vsearch"
)

// Mode selects how a query is answered.
type Mode string

const (
	ModePrefix   Mode = "prefix"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Token hit kinds, in the order the prefix path ranks them.
const (
	KindExact      = "exact"
	KindSuggestion = "suggestion"
	KindFuzzy      = "fuzzy"
)

const (
	defaultTopK = 10
	maxTopK     = 100

	// Queries shorter than this are answered from the trie regardless of
	// the requested mode. Two runes still mean something as a prefix;
	// embedding them does not.
	shortQueryRunes = 3

	// queryLogTimeout bounds the detached QueryLog insert.
	queryLogTimeout = 5 * time.Second
)

// Options tune a single search call. Zero values select the defaults:
// semantic mode, ten results, no category filter.
type Options struct {
	Mode       Mode     `json:"mode"`
	TopK       int      `json:"topK"`
	Categories []string `json:"categories"`
}

// TokenHit is one trie match together with the files whose chunks contain
// the token. Distance is only set for fuzzy rescues.
type TokenHit struct {
	Token         string      `json:"token"`
	Kind          string      `json:"kind"`
	Distance      int         `json:"distance,omitempty"`
	SourceFileIDs []uuid.UUID `json:"sourceFileIds"`
}

// ChunkHit is one nearest-neighbor chunk, nearest first.
type ChunkHit struct {
	ChunkID      uuid.UUID `json:"chunkId"`
	SourceFileID uuid.UUID `json:"sourceFileId"`
	Ordinal      int       `json:"ordinal"`
	Text         string    `json:"text"`
	Category     string    `json:"category"`
	Distance     float64   `json:"distance"`
}

// Response carries the hits of one search. Mode reports the path that
// actually ran, which differs from the requested one for short queries.
type Response struct {
	Query     string     `json:"query"`
	Mode      Mode       `json:"mode"`
	TokenHits []TokenHit `json:"tokenHits,omitempty"`
	ChunkHits []ChunkHit `json:"chunkHits,omitempty"`
	Total     int        `json:"total"`
}

type Composer interface {
	Search(ctx context.Context, tenantID uuid.UUID, query string, opts Options) (*Response, error)
	Autocomplete(ctx context.Context, tenantID uuid.UUID, prefix string, k int) ([]textindex.Suggestion, error)
}

type composer struct {
	log     *logger.Logger
	embed   embed.Client
	vec     vsearch.Store
	tokens  *textindex.Index
	files   repos.CatalogFileRepo
	queries repos.QueryLogRepo
}

func NewComposer(baseLog *logger.Logger, embedClient embed.Client, vec vsearch.Store, tokens *textindex.Index, files repos.CatalogFileRepo, queries repos.QueryLogRepo) Composer {
	return &composer{
		log:     baseLog.With("service", "SearchComposer"),
		embed:   embedClient,
		vec:     vec,
		tokens:  tokens,
		files:   files,
		queries: queries,
	}
}

// Search answers query for one tenant. Chunk hits are tenant-scoped by the
// vector store; token hits are filtered against the tenant's catalog. The
// category filter applies to chunk hits only, since token postings carry no
// category. Every served call records a QueryLog row in the background, and
// a failed record never fails the query.
func (c *composer) Search(ctx context.Context, tenantID uuid.UUID, query string, opts Options) (*Response, error) {
	const op = "SearchComposer.Search"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "query is required")
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeSemantic
	}
	switch mode {
	case ModePrefix, ModeSemantic, ModeHybrid:
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "unknown search mode %q", opts.Mode)
	}
	if mode != ModePrefix && utf8.RuneCountInString(query) < shortQueryRunes {
		mode = ModePrefix
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	topK = min(topK, maxTopK)

	resp := &Response{Query: query, Mode: mode}
	var queryVec *pgvector.Vector

	if mode == ModeSemantic || mode == ModeHybrid {
		raw, err := c.embed.EmbedOne(ctx, query)
		if err != nil {
			return nil, err
		}
		v := pgvector.NewVector(raw)
		queryVec = &v

		hits, err := c.vec.KNN(ctx, tenantID, raw, topK, vsearch.Filter{Categories: opts.Categories})
		if err != nil {
			return nil, err
		}
		resp.ChunkHits = make([]ChunkHit, 0, len(hits))
		for _, h := range hits {
			resp.ChunkHits = append(resp.ChunkHits, ChunkHit{
				ChunkID:      h.Chunk.ID,
				SourceFileID: h.Chunk.SourceFileID,
				Ordinal:      h.Chunk.Ordinal,
				Text:         h.Chunk.Text,
				Category:     h.Chunk.Category,
				Distance:     h.Distance,
			})
		}
	}

	if mode == ModePrefix || mode == ModeHybrid {
		tokenHits, err := c.tokenHits(ctx, tenantID, query, topK)
		if err != nil {
			return nil, err
		}
		resp.TokenHits = tokenHits
	}
	if mode == ModeHybrid {
		resp.TokenHits = dropCoveredFiles(resp.TokenHits, resp.ChunkHits)
	}
	resp.Total = len(resp.ChunkHits) + len(resp.TokenHits)

	c.logQuery(ctx, &domain.QueryLog{
		TenantID:    tenantID,
		Text:        query,
		Mode:        string(mode),
		ResultCount: resp.Total,
		Embedding:   queryVec,
	})

	c.log.Info("search served",
		"tenantId", tenantID,
		"mode", mode,
		"tokenHits", len(resp.TokenHits),
		"chunkHits", len(resp.ChunkHits))
	return resp, nil
}

// Autocomplete completes prefix against the trie, most frequent first,
// keeping only tokens the tenant's own files contain.
func (c *composer) Autocomplete(ctx context.Context, tenantID uuid.UUID, prefix string, k int) ([]textindex.Suggestion, error) {
	const op = "SearchComposer.Autocomplete"

	if k <= 0 {
		k = defaultTopK
	}
	k = min(k, maxTopK)

	// Over-fetch before the ownership filter trims foreign tokens away.
	candidates := c.tokens.Autocomplete(prefix, 4*k)
	if len(candidates) == 0 {
		return nil, nil
	}

	ownersOf := make(map[string][]uuid.UUID, len(candidates))
	var union []uuid.UUID
	inUnion := map[uuid.UUID]bool{}
	for _, s := range candidates {
		owners := c.tokens.Exact(s.Token)
		ownersOf[s.Token] = owners
		for _, id := range owners {
			if !inUnion[id] {
				inUnion[id] = true
				union = append(union, id)
			}
		}
	}
	owned, err := c.ownedSet(ctx, op, tenantID, union)
	if err != nil {
		return nil, err
	}

	out := make([]textindex.Suggestion, 0, k)
	for _, s := range candidates {
		if len(out) == k {
			break
		}
		for _, id := range ownersOf[s.Token] {
			if owned[id] {
				out = append(out, s)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// tokenHits answers a prefix query from the trie: exact owners for every
// query token, completions of the last token, and edit-distance rescues for
// tokens the index has never seen. The trie is shared across tenants, so
// candidate owners pass through a catalog ownership check before anything
// reaches the caller.
func (c *composer) tokenHits(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]TokenHit, error) {
	const op = "SearchComposer.Search"

	tokens := c.tokens.Tokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var candidates []TokenHit
	seen := map[string]bool{}
	add := func(hit TokenHit) {
		if seen[hit.Token] {
			return
		}
		seen[hit.Token] = true
		candidates = append(candidates, hit)
	}

	var misses []string
	for _, tok := range tokens {
		if owners := c.tokens.Exact(tok); len(owners) > 0 {
			add(TokenHit{Token: tok, Kind: KindExact, SourceFileIDs: owners})
		} else {
			misses = append(misses, tok)
		}
	}
	for _, s := range c.tokens.Autocomplete(tokens[len(tokens)-1], topK) {
		if owners := c.tokens.Exact(s.Token); len(owners) > 0 {
			add(TokenHit{Token: s.Token, Kind: KindSuggestion, SourceFileIDs: owners})
		}
	}
	for _, tok := range misses {
		for _, m := range c.tokens.Fuzzy(tok, textindex.MaxFuzzyEdits) {
			if owners := c.tokens.Exact(m.Token); len(owners) > 0 {
				add(TokenHit{Token: m.Token, Kind: KindFuzzy, Distance: m.Distance, SourceFileIDs: owners})
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var union []uuid.UUID
	inUnion := map[uuid.UUID]bool{}
	for _, hit := range candidates {
		for _, id := range hit.SourceFileIDs {
			if !inUnion[id] {
				inUnion[id] = true
				union = append(union, id)
			}
		}
	}
	owned, err := c.ownedSet(ctx, op, tenantID, union)
	if err != nil {
		return nil, err
	}

	var out []TokenHit
	for _, hit := range candidates {
		if len(out) == topK {
			break
		}
		var keep []uuid.UUID
		for _, id := range hit.SourceFileIDs {
			if owned[id] {
				keep = append(keep, id)
			}
		}
		if len(keep) > 0 {
			hit.SourceFileIDs = keep
			out = append(out, hit)
		}
	}
	return out, nil
}

func (c *composer) ownedSet(ctx context.Context, op string, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ownedIDs, err := c.files.OwnedIDs(dbctx.Context{Ctx: ctx}, tenantID, ids)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	owned := make(map[uuid.UUID]bool, len(ownedIDs))
	for _, id := range ownedIDs {
		owned[id] = true
	}
	return owned, nil
}

// dropCoveredFiles removes files already represented by a semantic hit from
// the token hits. A token hit left with no files disappears entirely.
func dropCoveredFiles(tokenHits []TokenHit, chunkHits []ChunkHit) []TokenHit {
	if len(tokenHits) == 0 || len(chunkHits) == 0 {
		return tokenHits
	}
	covered := make(map[uuid.UUID]bool, len(chunkHits))
	for _, h := range chunkHits {
		covered[h.SourceFileID] = true
	}

	var out []TokenHit
	for _, th := range tokenHits {
		var keep []uuid.UUID
		for _, id := range th.SourceFileIDs {
			if !covered[id] {
				keep = append(keep, id)
			}
		}
		if len(keep) > 0 {
			th.SourceFileIDs = keep
			out = append(out, th)
		}
	}
	return out
}

// logQuery records the call without holding the response hostage. The insert
// runs on a detached context so a client hang-up right after the response
// does not lose the row.
func (c *composer) logQuery(ctx context.Context, row *domain.QueryLog) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryLogTimeout)
	go func() {
		defer cancel()
		if _, err := c.queries.Create(dbctx.Context{Ctx: logCtx}, row); err != nil {
			c.log.Warn("query log write failed", "tenantId", row.TenantID, "error", err)
		}
	}()
}
