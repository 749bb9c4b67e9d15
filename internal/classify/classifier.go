// Package classify maps uploaded files onto a fixed, config-driven taxonomy.
// Classification is pure: the same (filename, mime, magic) triple always
// produces the same category.
package classify

import (
	"path/filepath"
	"strings"
)

// MatchedBy records which signal decided the category.
type MatchedBy string

const (
	MatchedByExtension MatchedBy = "extension"
	MatchedByMime      MatchedBy = "mime"
	MatchedByMagic     MatchedBy = "magic"
	MatchedByDefault   MatchedBy = "default"
)

// Result is the outcome of a single classification.
type Result struct {
	Tag           string    `json:"tag"`
	Description   string    `json:"description"`
	MatchedBy     MatchedBy `json:"matched_by"`
	Thumbable     bool      `json:"thumbable"`
	EffectiveMime string    `json:"effective_mime"`
}

// Classifier answers category lookups against a loaded taxonomy. Build one at
// startup with New and share it; it is immutable and safe for concurrent use.
type Classifier struct {
	categories []Category
	byTag      map[string]Category
}

func New(cfg *Config) *Classifier {
	byTag := make(map[string]Category, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		byTag[cat.Tag] = cat
	}
	return &Classifier{categories: cfg.Categories, byTag: byTag}
}

// Classify picks the category for a file. Extensions win over MIME signals:
// the whole taxonomy is scanned for an extension match first, then again for
// a MIME prefix match against the effective MIME, then the fallback applies.
//
// The effective MIME is the sniffed magic type when it is non-generic,
// otherwise the declared type, otherwise application/octet-stream.
func (c *Classifier) Classify(filename, declaredMime, magicMime string) Result {
	base := strings.ToLower(filepath.Base(filename))

	for _, cat := range c.categories {
		for _, ext := range cat.Extensions {
			// Suffix match instead of filepath.Ext so multi-dot
			// entries like .tar.gz resolve to their own category.
			if strings.HasSuffix(base, ext) {
				return c.result(cat, MatchedByExtension, c.effectiveMime(declaredMime, magicMime))
			}
		}
	}

	effective := c.effectiveMime(declaredMime, magicMime)
	matched := MatchedByMime
	if !isGenericMime(normalizeMime(magicMime)) {
		matched = MatchedByMagic
	}
	for _, cat := range c.categories {
		for _, pat := range cat.MimePatterns {
			if strings.HasPrefix(effective, pat) {
				return c.result(cat, matched, effective)
			}
		}
	}

	return c.result(c.byTag[FallbackTag], MatchedByDefault, effective)
}

// Thumbable reports whether a tag admits thumbnail generation. Unknown tags
// never do.
func (c *Classifier) Thumbable(tag string) bool {
	return c.byTag[tag].Thumbable
}

// Describe returns the full taxonomy entry for a tag.
func (c *Classifier) Describe(tag string) (Category, bool) {
	cat, ok := c.byTag[tag]
	return cat, ok
}

// Tags returns every category tag in configured order.
func (c *Classifier) Tags() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.Tag
	}
	return out
}

func (c *Classifier) result(cat Category, matched MatchedBy, effective string) Result {
	return Result{
		Tag:           cat.Tag,
		Description:   cat.Description,
		MatchedBy:     matched,
		Thumbable:     cat.Thumbable,
		EffectiveMime: effective,
	}
}

func (c *Classifier) effectiveMime(declaredMime, magicMime string) string {
	if magic := normalizeMime(magicMime); !isGenericMime(magic) {
		return magic
	}
	if declared := normalizeMime(declaredMime); declared != "" {
		return declared
	}
	return "application/octet-stream"
}

// normalizeMime lowercases and strips media type parameters, so
// "Text/Plain; charset=utf-8" compares as "text/plain".
func normalizeMime(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func isGenericMime(s string) bool {
	return s == "" || s == "application/octet-stream"
}
