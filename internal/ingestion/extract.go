package ingestion

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// textExts are extensions accepted as text even when the stored MIME type is
// generic.
var textExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".log": true,
	".json": true, ".xml": true, ".yaml": true, ".yml": true,
	".html": true, ".htm": true,
}

// extractText turns stored bytes into indexable text. Declared text MIME
// types and well-known text extensions pass through, HTML is stripped to its
// visible text, and anything else must look overwhelmingly printable or the
// file is rejected as non-indexable. Paragraph breaks are preserved for the
// chunker.
func extractText(name, mime string, data []byte) (string, error) {
	const op = "ingestion.extractText"

	ext := strings.ToLower(filepath.Ext(name))
	textual := strings.HasPrefix(mime, "text/") ||
		strings.Contains(mime, "json") ||
		strings.Contains(mime, "xml") ||
		textExts[ext]

	text := strings.ToValidUTF8(string(data), "")
	if ext == ".html" || ext == ".htm" || strings.Contains(mime, "html") {
		text = htmlTagPattern.ReplaceAllString(text, " ")
	}
	if textual {
		return text, nil
	}
	if printableRatio(text) > 0.90 {
		return text, nil
	}
	return "", pkgerrors.Newf(pkgerrors.CodeValidation, op,
		"%q does not contain indexable text", name)
}

func printableRatio(s string) float64 {
	if s == "" {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
