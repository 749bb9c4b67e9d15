package ingestion

import (
	"image"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/stowagehq/stowage-backend/internal/storage"
)

// imageMetadata captures what the catalog keeps about a decoded image:
// pixel dimensions, the color model and whether any pixel carries alpha.
func imageMetadata(img image.Image, format string) map[string]any {
	b := img.Bounds()
	return map[string]any{
		"width":            b.Dx(),
		"height":           b.Dy(),
		"format":           format,
		"mode":             colorMode(img),
		"has_transparency": hasTransparency(img),
	}
}

// colorMode names the decoded color model the way imaging tools do: decoders
// produce NRGBA only for sources that carry an alpha channel, RGBA for plain
// truecolor.
func colorMode(img image.Image) string {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64:
		return "RGBA"
	case *image.RGBA, *image.RGBA64:
		if hasTransparency(img) {
			return "RGBA"
		}
		return "RGB"
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.Paletted:
		return "P"
	case *image.CMYK:
		return "CMYK"
	default:
		return "RGB"
	}
}

func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}

// exifFields flattens the EXIF IFDs into tag-name keyed strings.
type exifFields map[string]string

func (f exifFields) Walk(name exif.FieldName, tag *tiff.Tag) error {
	f[string(name)] = tag.String()
	return nil
}

// readEXIF pulls EXIF tags out of the canonical file. Most non-camera images
// carry none; a missing or unparsable block is not an error.
func readEXIF(lay storage.Layout, rel string) map[string]string {
	f, err := lay.Open(rel)
	if err != nil {
		return nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}
	fields := exifFields{}
	if err := x.Walk(fields); err != nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
