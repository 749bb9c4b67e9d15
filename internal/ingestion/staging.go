package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/google/uuid"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/storage"
)

const (
	// sniffLen is how much of the stream head is retained for content
	// detection. http.DetectContentType looks at no more than 512 bytes;
	// a few KiB also lets format probes see past container preambles.
	sniffLen = 8 << 10

	copyBufLen = 32 << 10
)

// staged describes one upload parked in the staging tree: hashed, sized and
// sniffed, but not yet classified or promoted.
type staged struct {
	Path   string // absolute path of the staging file
	Size   int64
	SHA256 string
	Sniff  []byte
}

// stageStream copies body into a fresh staging file, hashing and counting
// bytes as they arrive. remaining is the quota headroom granted at admission;
// the copy aborts with CodeQuotaExceeded the moment the stream crosses it,
// so an oversized upload never lands in full. On any error the partial file
// is removed; on success the caller owns the file and its removal.
func stageStream(ctx context.Context, lay storage.Layout, tenantID uuid.UUID, body io.Reader, remaining int64) (*staged, error) {
	const op = "ingestion.stage"

	path, err := lay.NewStagingPath(tenantID)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(path)
		}
	}()

	hash := sha256.New()
	sniff := make([]byte, 0, sniffLen)
	buf := make([]byte, copyBufLen)
	var size int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, pkgerrors.MapStoreError(op, err)
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > remaining {
				return nil, pkgerrors.Newf(pkgerrors.CodeQuotaExceeded, op,
					"upload exceeds remaining quota of %d bytes", remaining)
			}
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, writeErr)
			}
			hash.Write(buf[:n])
			if len(sniff) < sniffLen {
				take := min(sniffLen-len(sniff), n)
				sniff = append(sniff, buf[:take]...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, op, readErr)
		}
	}
	if err := f.Close(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}

	ok = true
	return &staged{
		Path:   path,
		Size:   size,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
		Sniff:  sniff,
	}, nil
}
