package jsonstore

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/bytedance/sonic"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

// canonicalJSON sorts map keys, so the same tree always serializes to the
// same bytes regardless of decode order. Ids and hashes depend on that.
var canonicalJSON = sonic.ConfigStd

var docIDPattern = regexp.MustCompile(`^doc_[0-9]{14}_[0-9a-f]{12}$`)

// Canonicalize serializes a decoded JSON tree to its canonical byte form.
func Canonicalize(tree any) ([]byte, error) {
	const op = "jsonstore.Canonicalize"

	b, err := canonicalJSON.Marshal(tree)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, op, err)
	}
	return b, nil
}

// DocID derives the document id from the canonical bytes and ingest time:
// doc_<UTC yyyymmddhhmmss>_<first 12 hex of sha256>.
func DocID(canonical []byte, now time.Time) string {
	sum := sha256.Sum256(canonical)
	return "doc_" + now.UTC().Format("20060102150405") + "_" + hex.EncodeToString(sum[:6])
}

// ValidDocID reports whether id has the synthesized shape. Payload table
// names interpolate the id into SQL, so nothing else may pass.
func ValidDocID(id string) bool {
	return docIDPattern.MatchString(id)
}

func decodeTree(op string, raw []byte) (any, error) {
	var tree any
	if err := canonicalJSON.Unmarshal(raw, &tree); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}
	return tree, nil
}
