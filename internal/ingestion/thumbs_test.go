package ingestion

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/storage"
)

func writeCanonical(t *testing.T, lay storage.Layout, rel string, data []byte) {
	t.Helper()
	abs, err := lay.Abs(rel)
	if err != nil {
		t.Fatalf("abs %s: %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestFitBox(t *testing.T) {
	cases := []struct {
		name         string
		w, h, box    int
		wantW, wantH int
	}{
		{"landscape shrinks", 400, 200, 150, 150, 75},
		{"portrait shrinks", 200, 400, 150, 75, 150},
		{"square shrinks", 600, 600, 300, 300, 300},
		{"smaller stays", 100, 80, 150, 100, 80},
		{"exact fit stays", 150, 150, 150, 150, 150},
		{"extreme ratio clamps to one pixel", 10000, 5, 150, 150, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := fitBox(tc.w, tc.h, tc.box)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("fitBox(%d, %d, %d): want %dx%d, got %dx%d",
					tc.w, tc.h, tc.box, tc.wantW, tc.wantH, w, h)
			}
		})
	}
}

func TestRenderThumbsOpaque(t *testing.T) {
	lay := newTestLayout(t)
	rel := "photos/2026/08/25/tenant_20260825_abcdef123456.png"
	writeCanonical(t, lay, rel, makePNG(t, 400, 200, false))

	img, format, err := decodeImage(lay, rel)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "png" {
		t.Fatalf("format: want png, got %q", format)
	}

	thumbs := renderThumbs(lay, logger.New("test"), rel, img)
	if len(thumbs) != 3 {
		t.Fatalf("thumbs: want 3, got %d", len(thumbs))
	}

	wantPaths := map[string]string{
		"small":  "thumbnails/tenant_20260825_abcdef123456_small.jpg",
		"medium": "thumbnails/tenant_20260825_abcdef123456_medium.jpg",
		"large":  "thumbnails/tenant_20260825_abcdef123456_large.jpg",
	}
	wantDims := map[string][2]int{
		"small":  {150, 75},
		"medium": {300, 150},
		"large":  {400, 200},
	}
	for _, th := range thumbs {
		if th.Path != wantPaths[th.Size] {
			t.Fatalf("thumb %s path: want %q, got %q", th.Size, wantPaths[th.Size], th.Path)
		}
		if th.Format != "jpeg" {
			t.Fatalf("thumb %s format: want jpeg, got %q", th.Size, th.Format)
		}
		f, err := lay.Open(th.Path)
		if err != nil {
			t.Fatalf("open thumb: %v", err)
		}
		cfg, format, err := image.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode thumb %s: %v", th.Size, err)
		}
		if format != "jpeg" {
			t.Fatalf("thumb %s on disk encoded as %q", th.Size, format)
		}
		want := wantDims[th.Size]
		if cfg.Width != want[0] || cfg.Height != want[1] {
			t.Fatalf("thumb %s: want %dx%d, got %dx%d", th.Size, want[0], want[1], cfg.Width, cfg.Height)
		}
	}
}

func TestRenderThumbsNeverUpscales(t *testing.T) {
	lay := newTestLayout(t)
	rel := "photos/2026/08/25/tiny.png"
	writeCanonical(t, lay, rel, makePNG(t, 100, 80, false))

	img, _, err := decodeImage(lay, rel)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	thumbs := renderThumbs(lay, logger.New("test"), rel, img)
	if len(thumbs) != 3 {
		t.Fatalf("thumbs: want 3, got %d", len(thumbs))
	}
	for _, th := range thumbs {
		if th.Width != 100 || th.Height != 80 {
			t.Fatalf("thumb %s should keep source size, got %dx%d", th.Size, th.Width, th.Height)
		}
	}
}

func TestColorModeAndTransparency(t *testing.T) {
	opaque, _, err := image.Decode(bytes.NewReader(makePNG(t, 10, 10, false)))
	if err != nil {
		t.Fatalf("decode opaque: %v", err)
	}
	if got := colorMode(opaque); got != "RGB" {
		t.Fatalf("opaque mode: want RGB, got %q", got)
	}
	if hasTransparency(opaque) {
		t.Fatalf("opaque image reported as transparent")
	}

	trans, _, err := image.Decode(bytes.NewReader(makePNG(t, 10, 10, true)))
	if err != nil {
		t.Fatalf("decode transparent: %v", err)
	}
	if got := colorMode(trans); got != "RGBA" {
		t.Fatalf("transparent mode: want RGBA, got %q", got)
	}
	if !hasTransparency(trans) {
		t.Fatalf("transparent image reported as opaque")
	}

	if got := colorMode(image.NewGray(image.Rect(0, 0, 4, 4))); got != "L" {
		t.Fatalf("gray mode: want L, got %q", got)
	}
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	if got := colorMode(pal); got != "P" {
		t.Fatalf("paletted mode: want P, got %q", got)
	}
}

func TestImageMetadata(t *testing.T) {
	img, format, err := image.Decode(bytes.NewReader(makePNG(t, 64, 48, false)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	meta := imageMetadata(img, format)
	if got := meta["width"]; got != 64 {
		t.Fatalf("width: want 64, got %v", got)
	}
	if got := meta["height"]; got != 48 {
		t.Fatalf("height: want 48, got %v", got)
	}
	if got := meta["format"]; got != "png" {
		t.Fatalf("format: want png, got %v", got)
	}
	if got := meta["mode"]; got != "RGB" {
		t.Fatalf("mode: want RGB, got %v", got)
	}
	if got := meta["has_transparency"]; got != false {
		t.Fatalf("has_transparency: want false, got %v", got)
	}
}

func TestReadEXIFWithoutBlockIsNil(t *testing.T) {
	lay := newTestLayout(t)
	rel := "photos/2026/08/25/noexif.png"
	writeCanonical(t, lay, rel, makePNG(t, 20, 20, false))

	if got := readEXIF(lay, rel); got != nil {
		t.Fatalf("png without EXIF: want nil, got %v", got)
	}
}
