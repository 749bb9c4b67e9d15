package ingestion

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	_ "image/gif"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/storage"
)

// Derivative boxes, smallest first. Width and height both bound the image;
// aspect ratio is preserved and sources smaller than the box keep their size.
var thumbSizes = []struct {
	Name string
	Box  int
}{
	{"small", 150},
	{"medium", 300},
	{"large", 600},
}

const thumbJPEGQuality = 85

// decodeImage loads the canonical file into memory. The registered codecs
// cover jpeg, png, gif, bmp, tiff and webp.
func decodeImage(lay storage.Layout, rel string) (image.Image, string, error) {
	const op = "ingestion.decodeImage"

	f, err := lay.Open(rel)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, op, err)
	}
	return img, format, nil
}

// fitBox shrinks w by h to fit inside box-by-box, keeping aspect ratio.
func fitBox(w, h, box int) (int, int) {
	if w <= box && h <= box {
		return w, h
	}
	scale := float64(box) / float64(w)
	if h > w {
		scale = float64(box) / float64(h)
	}
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return nw, nh
}

// renderThumbs writes the derivative set under thumbnails/. Transparent
// sources keep their alpha in PNG; opaque ones are flattened onto white and
// encoded as JPEG. A failing size is skipped so one bad derivative does not
// sink the upload.
func renderThumbs(lay storage.Layout, log *logger.Logger, rel string, src image.Image) []domain.ThumbDescriptor {
	transparent := hasTransparency(src)
	encExt, format := ".jpg", "jpeg"
	if transparent {
		encExt, format = ".png", "png"
	}

	bounds := src.Bounds()
	out := make([]domain.ThumbDescriptor, 0, len(thumbSizes))
	for _, size := range thumbSizes {
		w, h := fitBox(bounds.Dx(), bounds.Dy(), size.Box)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		if !transparent {
			draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		}
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

		var buf bytes.Buffer
		var encErr error
		if transparent {
			encErr = png.Encode(&buf, dst)
		} else {
			encErr = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbJPEGQuality})
		}
		if encErr != nil {
			log.Warn("thumbnail encode failed", "path", rel, "size", size.Name, "error", encErr)
			continue
		}

		thumbRel := storage.ThumbRel(rel, size.Name, encExt)
		if err := writeThumb(lay, thumbRel, buf.Bytes()); err != nil {
			log.Warn("thumbnail write failed", "path", thumbRel, "size", size.Name, "error", err)
			continue
		}
		out = append(out, domain.ThumbDescriptor{
			Size:   size.Name,
			Path:   thumbRel,
			Width:  w,
			Height: h,
			Format: format,
		})
	}
	return out
}

func writeThumb(lay storage.Layout, rel string, data []byte) error {
	abs, err := lay.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}
