package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

// FallbackTag is the category every unmatched file lands in. The taxonomy
// file must declare it or LoadConfig refuses to start.
const FallbackTag = "other"

// Category is one taxonomy entry. Entries are matched in file order, so the
// config should list specific tags before catch-alls.
type Category struct {
	Tag          string   `yaml:"tag"`
	Description  string   `yaml:"description"`
	Thumbable    bool     `yaml:"thumbable"`
	Extensions   []string `yaml:"extensions"`
	MimePatterns []string `yaml:"mime_patterns"`
}

// Config holds the ordered taxonomy. It is loaded once at startup and passed
// around as an immutable value; changing the file requires a restart.
type Config struct {
	Categories []Category `yaml:"categories"`
}

// LoadConfig reads and validates the taxonomy file. Tags, extensions and MIME
// patterns are normalized to lowercase; extensions get a leading dot.
func LoadConfig(path string) (*Config, error) {
	const op = "classify.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse taxonomy config %s: %w", path, err)
	}

	if len(cfg.Categories) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, op, "taxonomy config declares no categories")
	}

	seen := make(map[string]bool, len(cfg.Categories))
	for i := range cfg.Categories {
		cat := &cfg.Categories[i]
		cat.Tag = strings.ToLower(strings.TrimSpace(cat.Tag))
		if cat.Tag == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "category %d has an empty tag", i)
		}
		if seen[cat.Tag] {
			return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "duplicate category tag %q", cat.Tag)
		}
		seen[cat.Tag] = true

		for j, ext := range cat.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "category %q has an empty extension", cat.Tag)
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			cat.Extensions[j] = ext
		}
		for j, pat := range cat.MimePatterns {
			pat = strings.ToLower(strings.TrimSpace(pat))
			if pat == "" {
				return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "category %q has an empty mime pattern", cat.Tag)
			}
			cat.MimePatterns[j] = pat
		}
	}

	if !seen[FallbackTag] {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "taxonomy config is missing the %q fallback category", FallbackTag)
	}

	return &cfg, nil
}
