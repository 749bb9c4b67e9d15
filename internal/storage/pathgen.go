package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

// randHexLen is the number of hex characters appended to every canonical
// name. At 12 chars a collision needs ~16M uploads in the same second for
// the same tenant, so Promote's existence check is the only guard we need.
const randHexLen = 12

// Synthesize builds the canonical root-relative path for a newly ingested
// file:
//
//	<tag>/<YYYY>/<MM>/<DD>/<tenantId>_<YYYYMMDD_HHMMSS>_<rand12><ext>
//
// The timestamp is UTC and the extension is the lowercased original one, or
// empty when the name has none. Callers re-invoke on a name collision to get
// a fresh random suffix.
func Synthesize(tag string, tenantID uuid.UUID, originalName string, now time.Time) (string, error) {
	buf := make([]byte, randHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, "storage.Synthesize", err)
	}

	now = now.UTC()
	name := fmt.Sprintf("%s_%s_%s%s",
		tenantID.String(),
		now.Format("20060102_150405"),
		hex.EncodeToString(buf),
		safeExt(originalName),
	)
	return path.Join(tag, now.Format("2006/01/02"), name), nil
}

// ThumbRel maps a canonical path to one derivative in the thumbnails tree.
// The canonical stem is already unique, so derivatives live flat:
//
//	thumbnails/<stem>_<size><encExt>
func ThumbRel(canonicalRel, sizeName, encExt string) string {
	base := path.Base(canonicalRel)
	stem := strings.TrimSuffix(base, path.Ext(base))
	return path.Join(thumbnailsDir, stem+"_"+sizeName+encExt)
}

// safeExt pulls the lowercased extension out of a client-supplied name,
// dropping it entirely when it carries anything beyond [a-z0-9].
func safeExt(originalName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(originalName, "\\", "/"))))
	if ext == "." || ext == "" {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
