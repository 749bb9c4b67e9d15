package textindex

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

const (
	minTokenRunes = 2
	maxTokenRunes = 50

	// MaxFuzzyEdits bounds the edit distance a fuzzy lookup may request.
	MaxFuzzyEdits = 2

	defaultAutocompleteK = 10
)

// DefaultStopWords are common function words excluded from the index.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to",
	"for", "of", "with", "is", "are", "was", "were", "be", "been", "being",
}

// Stats summarizes index size for the stats endpoint.
type Stats struct {
	UniqueTokens int `json:"uniqueTokens"`
	Files        int `json:"files"`
}

// Index is the shared trie over chunk text. One writer mutates it after a
// chunk transaction commits; request handlers read it concurrently.
type Index struct {
	log    *logger.Logger
	chunks repos.ChunkRepo
	stop   map[string]bool

	mu    sync.RWMutex
	tr    *trie
	files map[uuid.UUID]map[string]int
}

// NewIndex builds an empty index. A nil stopWords slice selects
// DefaultStopWords; an explicit empty slice disables stop-word filtering.
func NewIndex(baseLog *logger.Logger, chunks repos.ChunkRepo, stopWords []string) *Index {
	if stopWords == nil {
		stopWords = DefaultStopWords
	}
	stop := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = true
	}
	return &Index{
		log:    baseLog.With("service", "TextIndex"),
		chunks: chunks,
		stop:   stop,
		tr:     newTrie(),
		files:  map[uuid.UUID]map[string]int{},
	}
}

// IndexDocument replaces the indexed tokens for one source file with the
// tokens of the given chunk texts.
func (x *Index) IndexDocument(sourceFileID uuid.UUID, texts []string) {
	counts := map[string]int{}
	for _, t := range texts {
		tokenizeInto(t, x.stop, counts)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(sourceFileID)
	if len(counts) == 0 {
		return
	}
	for token, count := range counts {
		x.tr.insert(token, sourceFileID, count)
	}
	x.files[sourceFileID] = counts
}

// RemoveDocument drops every token contribution of one source file.
func (x *Index) RemoveDocument(sourceFileID uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(sourceFileID)
}

func (x *Index) removeLocked(sourceFileID uuid.UUID) {
	old, ok := x.files[sourceFileID]
	if !ok {
		return
	}
	for token := range old {
		x.tr.remove(token, sourceFileID)
	}
	delete(x.files, sourceFileID)
}

// Rebuild re-derives the whole index from the chunk table. The replacement
// is built off-lock and swapped in, so readers never see a half-built trie.
func (x *Index) Rebuild(ctx context.Context) error {
	const op = "textindex.Rebuild"

	perFile := map[uuid.UUID]map[string]int{}
	err := x.chunks.ForEachBatch(dbctx.Context{Ctx: ctx}, 500, func(chunks []*domain.Chunk) error {
		for _, c := range chunks {
			counts, ok := perFile[c.SourceFileID]
			if !ok {
				counts = map[string]int{}
				perFile[c.SourceFileID] = counts
			}
			tokenizeInto(c.Text, x.stop, counts)
		}
		return nil
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}

	fresh := newTrie()
	for fileID, counts := range perFile {
		if len(counts) == 0 {
			delete(perFile, fileID)
			continue
		}
		for token, count := range counts {
			fresh.insert(token, fileID, count)
		}
	}

	x.mu.Lock()
	x.tr = fresh
	x.files = perFile
	x.mu.Unlock()

	x.log.Info("text index rebuilt", "files", len(perFile), "tokens", fresh.tokens)
	return nil
}

// Autocomplete returns up to k tokens extending prefix, most frequent first,
// ties broken lexicographically. k <= 0 selects a default of 10.
func (x *Index) Autocomplete(prefix string, k int) []Suggestion {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	if k <= 0 {
		k = defaultAutocompleteK
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tr.autocomplete(prefix, k)
}

// Exact returns the source files containing token, ordered by id.
func (x *Index) Exact(token string) []uuid.UUID {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tr.exact(token)
}

// Fuzzy returns indexed tokens within maxEdits of token, nearest first. The
// distance is clamped to MaxFuzzyEdits; zero or negative selects the cap.
func (x *Index) Fuzzy(token string, maxEdits int) []FuzzyMatch {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil
	}
	if maxEdits <= 0 || maxEdits > MaxFuzzyEdits {
		maxEdits = MaxFuzzyEdits
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tr.fuzzy(token, maxEdits)
}

// Tokens applies the index tokenization rules to free text, preserving first
// occurrence order. Query handling uses it so probe tokens match indexed ones.
func (x *Index) Tokens(text string) []string {
	counts := map[string]int{}
	var ordered []string
	for _, token := range splitTokens(text) {
		if !x.keep(token) {
			continue
		}
		if counts[token] == 0 {
			ordered = append(ordered, token)
		}
		counts[token]++
	}
	return ordered
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{UniqueTokens: x.tr.tokens, Files: len(x.files)}
}

func (x *Index) keep(token string) bool {
	if n := utf8.RuneCountInString(token); n < minTokenRunes || n > maxTokenRunes {
		return false
	}
	return !x.stop[token]
}

func tokenizeInto(text string, stop map[string]bool, counts map[string]int) {
	for _, token := range splitTokens(text) {
		if n := utf8.RuneCountInString(token); n < minTokenRunes || n > maxTokenRunes {
			continue
		}
		if stop[token] {
			continue
		}
		counts[token]++
	}
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
