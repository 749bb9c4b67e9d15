package classify

import (
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

func loadTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "taxonomy.yaml"))
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	return New(cfg)
}

func TestLoadConfigTaxonomy(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "taxonomy.yaml"))
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	if len(cfg.Categories) < 50 {
		t.Fatalf("expected full taxonomy, got %d categories", len(cfg.Categories))
	}
	if got := cfg.Categories[0].Tag; got != "photos" {
		t.Fatalf("first category: want photos, got %q", got)
	}
	if got := cfg.Categories[len(cfg.Categories)-1].Tag; got != FallbackTag {
		t.Fatalf("last category: want %q, got %q", FallbackTag, got)
	}

	thumbable := map[string]bool{}
	for _, cat := range cfg.Categories {
		if cat.Thumbable {
			thumbable[cat.Tag] = true
		}
	}
	for _, tag := range []string{"photos", "gifs", "webp", "icons"} {
		if !thumbable[tag] {
			t.Fatalf("category %s should be thumbable", tag)
		}
	}
	if thumbable["vector_graphics"] {
		t.Fatalf("vector_graphics should not be thumbable")
	}
	if len(thumbable) != 4 {
		t.Fatalf("expected 4 thumbable categories, got %d", len(thumbable))
	}
}

func TestLoadConfigMissingFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	body := "categories:\n  - tag: photos\n    extensions: [.jpg]\n    mime_patterns: [image/jpeg]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for taxonomy without %q", FallbackTag)
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestLoadConfigNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	body := "categories:\n" +
		"  - tag: Photos\n    extensions: [JPG, .PNG]\n    mime_patterns: [IMAGE/JPEG]\n" +
		"  - tag: other\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cat := cfg.Categories[0]
	if cat.Tag != "photos" {
		t.Fatalf("tag not lowercased: %q", cat.Tag)
	}
	if cat.Extensions[0] != ".jpg" || cat.Extensions[1] != ".png" {
		t.Fatalf("extensions not normalized: %v", cat.Extensions)
	}
	if cat.MimePatterns[0] != "image/jpeg" {
		t.Fatalf("mime pattern not lowercased: %v", cat.MimePatterns)
	}
}

func TestLoadConfigDuplicateTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	body := "categories:\n  - tag: other\n  - tag: other\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for duplicate tag")
	}
}

func TestClassify(t *testing.T) {
	c := loadTestClassifier(t)

	cases := []struct {
		name         string
		filename     string
		declaredMime string
		magicMime    string
		wantTag      string
		wantMatched  MatchedBy
	}{
		{"uppercase extension", "photo.JPG", "image/jpeg", "", "photos", MatchedByExtension},
		{"extension beats mime", "script.py", "text/plain", "text/plain", "python", MatchedByExtension},
		{"multi dot extension", "backup.tar.gz", "application/gzip", "", "tar", MatchedByExtension},
		{"single gz extension", "data.gz", "", "", "archives_other", MatchedByExtension},
		{"declared mime", "download", "image/png", "", "photos", MatchedByMime},
		{"mime with parameters", "readme", "text/plain; charset=utf-8", "", "text", MatchedByMime},
		{"magic mime", "blob", "", "image/gif", "gifs", MatchedByMagic},
		{"magic beats declared", "payload", "text/plain", "image/png", "photos", MatchedByMagic},
		{"generic magic falls back to declared", "download", "image/webp", "application/octet-stream", "webp", MatchedByMime},
		{"video family catch-all", "clip", "", "video/x-unknown", "videos_other", MatchedByMagic},
		{"nothing matches", "mystery.xyz", "", "", FallbackTag, MatchedByDefault},
		{"no signals at all", "mystery", "", "", FallbackTag, MatchedByDefault},
	}

	for _, tc := range cases {
		got := c.Classify(tc.filename, tc.declaredMime, tc.magicMime)
		if got.Tag != tc.wantTag || got.MatchedBy != tc.wantMatched {
			t.Fatalf("%s: want (%s, %s), got (%s, %s)", tc.name, tc.wantTag, tc.wantMatched, got.Tag, got.MatchedBy)
		}
	}
}

func TestClassifyEffectiveMime(t *testing.T) {
	c := loadTestClassifier(t)

	got := c.Classify("mystery", "", "")
	if got.EffectiveMime != "application/octet-stream" {
		t.Fatalf("want octet-stream fallback, got %q", got.EffectiveMime)
	}

	got = c.Classify("mystery", "Text/Plain; charset=UTF-8", "")
	if got.EffectiveMime != "text/plain" {
		t.Fatalf("mime not normalized: %q", got.EffectiveMime)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := loadTestClassifier(t)

	first := c.Classify("holiday.jpeg", "image/jpeg", "image/jpeg")
	for i := 0; i < 10; i++ {
		if got := c.Classify("holiday.jpeg", "image/jpeg", "image/jpeg"); got != first {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestThumbable(t *testing.T) {
	c := loadTestClassifier(t)

	if !c.Thumbable("photos") {
		t.Fatalf("photos should be thumbable")
	}
	if c.Thumbable("pdf") {
		t.Fatalf("pdf should not be thumbable")
	}
	if c.Thumbable("no_such_tag") {
		t.Fatalf("unknown tags should not be thumbable")
	}
}
