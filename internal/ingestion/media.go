// Package ingestion receives uploads, classifies and stores them, derives
// thumbnails, and moves stored files in and out of the search indexes.
package ingestion

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/classify"
	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/storage"
	"github.com/stowagehq/stowage-backend/internal/tenancy"
)

const promoteAttempts = 3

// Upload carries one incoming file alongside what the client claimed about it.
type Upload struct {
	Name     string
	MimeType string
	Comment  string
	Body     io.Reader
}

// MediaService runs the upload pipeline: admit, stage, classify, promote,
// derive, commit. Every failure path removes what it had already written.
type MediaService interface {
	IngestMedia(ctx context.Context, tenantID uuid.UUID, up Upload) (*domain.CatalogFile, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.CatalogFile, error)
	List(ctx context.Context, tenantID uuid.UUID, opts repos.CatalogFileListOptions) ([]*domain.CatalogFile, error)
	OpenContent(ctx context.Context, tenantID, id uuid.UUID) (*os.File, *domain.CatalogFile, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

type mediaService struct {
	log     *logger.Logger
	files   repos.CatalogFileRepo
	tax     *classify.Classifier
	lay     storage.Layout
	guard   tenancy.Guard
	tx      repos.TxRunner
	indexer Indexer
	now     func() time.Time
}

func NewMediaService(
	baseLog *logger.Logger,
	files repos.CatalogFileRepo,
	tax *classify.Classifier,
	lay storage.Layout,
	guard tenancy.Guard,
	tx repos.TxRunner,
	indexer Indexer,
) MediaService {
	return &mediaService{
		log:     baseLog.With("service", "MediaService"),
		files:   files,
		tax:     tax,
		lay:     lay,
		guard:   guard,
		tx:      tx,
		indexer: indexer,
		now:     time.Now,
	}
}

// IngestMedia streams one upload to durable storage and registers it in the
// catalog. Identical content already held by the tenant is deduplicated on
// the SHA-256 and returns the existing record. Thumbnail or metadata trouble
// degrades to a plain stored file; only storage and catalog failures abort.
func (s *mediaService) IngestMedia(ctx context.Context, tenantID uuid.UUID, up Upload) (*domain.CatalogFile, error) {
	const op = "ingestion.IngestMedia"

	if strings.TrimSpace(up.Name) == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "file name is required")
	}

	token, err := s.guard.Admit(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	defer s.guard.Release(token)

	st, err := stageStream(ctx, s.lay, tenantID, up.Body, token.Remaining)
	if err != nil {
		return nil, err
	}
	stagedLeft := true
	defer func() {
		if stagedLeft {
			if rmErr := os.Remove(st.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warn("staging cleanup failed", "path", st.Path, "error", rmErr)
			}
		}
	}()

	if existing, getErr := s.files.GetBySHA256(dbctx.Context{Ctx: ctx}, tenantID, st.SHA256); getErr == nil {
		if existing.Status != domain.ArtifactStatusOrphaned {
			s.log.Info("upload deduplicated", "tenantId", tenantID, "fileId", existing.ID, "sha256", st.SHA256)
			return existing, nil
		}
		// Same content as a row whose payload was lost. Retire the stale
		// row and ingest fresh.
		if err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
			return s.files.DeleteByID(dbc, tenantID, existing.ID)
		}); err != nil {
			return nil, pkgerrors.MapStoreError(op, err)
		}
		if err := s.guard.Refund(ctx, tenantID, existing.SizeBytes); err != nil {
			s.log.Error("refund for retired orphan failed",
				"tenantId", tenantID, "bytes", existing.SizeBytes, "error", err)
		}
	} else if !errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.MapStoreError(op, getErr)
	}

	var magicMime string
	if len(st.Sniff) > 0 {
		magicMime = http.DetectContentType(st.Sniff)
	}
	cls := s.tax.Classify(up.Name, up.MimeType, magicMime)

	createdAt := s.now().UTC()
	var rel string
	for attempt := 1; ; attempt++ {
		rel, err = storage.Synthesize(cls.Tag, tenantID, up.Name, createdAt)
		if err != nil {
			return nil, err
		}
		err = s.lay.Promote(st.Path, rel)
		if err == nil {
			break
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeNameCollision) || attempt == promoteAttempts {
			return nil, err
		}
		s.log.Warn("canonical path collision, regenerating", "path", rel, "attempt", attempt)
	}
	stagedLeft = false

	var thumbs []domain.ThumbDescriptor
	committed := false
	defer func() {
		if committed {
			return
		}
		if rmErr := s.lay.Remove(rel); rmErr != nil {
			s.log.Warn("canonical cleanup failed", "path", rel, "error", rmErr)
		}
		for _, t := range thumbs {
			if rmErr := s.lay.Remove(t.Path); rmErr != nil {
				s.log.Warn("thumbnail cleanup failed", "path", t.Path, "error", rmErr)
			}
		}
	}()

	meta := map[string]any{}
	if cls.Thumbable {
		img, format, decErr := decodeImage(s.lay, rel)
		if decErr != nil {
			s.log.Warn("image decode failed, storing without derivatives", "path", rel, "error", decErr)
		} else {
			for k, v := range imageMetadata(img, format) {
				meta[k] = v
			}
			if fields := readEXIF(s.lay, rel); len(fields) > 0 {
				meta["exif"] = fields
			}
			thumbs = renderThumbs(s.lay, s.log, rel, img)
		}
	}
	if c := strings.TrimSpace(up.Comment); c != "" {
		meta["comment"] = c
	}

	row := &domain.CatalogFile{
		TenantID:      tenantID,
		OriginalName:  up.Name,
		Category:      cls.Tag,
		MimeType:      cls.EffectiveMime,
		SizeBytes:     st.Size,
		SHA256:        st.SHA256,
		CanonicalPath: rel,
		Status:        domain.ArtifactStatusActive,
		CreatedAt:     createdAt,
	}
	if len(thumbs) > 0 {
		blob, mErr := sonic.Marshal(thumbs)
		if mErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, mErr)
		}
		row.Thumbs = datatypes.JSON(blob)
	}
	if len(meta) > 0 {
		blob, mErr := sonic.Marshal(meta)
		if mErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, mErr)
		}
		row.Metadata = datatypes.JSON(blob)
	}

	// The commit itself is not cancellable: once the row insert starts it
	// runs to success or store failure, keeping catalog and usage aligned.
	err = s.tx.InTx(context.WithoutCancel(ctx), func(dbc dbctx.Context) error {
		if _, createErr := s.files.Create(dbc, row); createErr != nil {
			return createErr
		}
		return s.guard.Commit(dbc, token, st.Size)
	})
	if err != nil {
		mapped := pkgerrors.MapStoreError(op, err)
		if pkgerrors.IsCode(mapped, pkgerrors.CodeNameCollision) {
			// A concurrent identical upload won the (tenant, sha256) race.
			// Serve its row; the deferred cleanup discards our copy.
			if existing, getErr := s.files.GetBySHA256(dbctx.Context{Ctx: ctx}, tenantID, st.SHA256); getErr == nil {
				s.log.Info("upload deduplicated after commit race",
					"tenantId", tenantID, "fileId", existing.ID, "sha256", st.SHA256)
				return existing, nil
			}
		}
		return nil, mapped
	}
	committed = true

	s.log.Info("media ingested",
		"tenantId", tenantID, "fileId", row.ID, "category", cls.Tag,
		"matchedBy", cls.MatchedBy, "mime", cls.EffectiveMime,
		"bytes", st.Size, "thumbs", len(thumbs))
	return row, nil
}

func (s *mediaService) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.CatalogFile, error) {
	const op = "ingestion.Get"

	file, err := s.files.GetByID(dbctx.Context{Ctx: ctx}, tenantID, id)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	return file, nil
}

func (s *mediaService) List(ctx context.Context, tenantID uuid.UUID, opts repos.CatalogFileListOptions) ([]*domain.CatalogFile, error) {
	const op = "ingestion.List"

	files, err := s.files.List(dbctx.Context{Ctx: ctx}, tenantID, opts)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	return files, nil
}

// OpenContent opens the canonical bytes for streaming. The caller closes the
// returned file.
func (s *mediaService) OpenContent(ctx context.Context, tenantID, id uuid.UUID) (*os.File, *domain.CatalogFile, error) {
	const op = "ingestion.OpenContent"

	file, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if file.Status == domain.ArtifactStatusOrphaned {
		return nil, nil, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "content of file %s is gone", id)
	}
	f, err := s.lay.Open(file.CanonicalPath)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeInternal, op,
				"content missing for active file %s", id)
		}
		return nil, nil, err
	}
	return f, file, nil
}

// Delete removes the payload, its derivatives and its index entries, then
// the catalog row, and finally refunds the quota. Disk removal runs first so
// a crash leaves a row the reconciler can flag rather than unreferenced
// bytes nothing will ever find.
func (s *mediaService) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	const op = "ingestion.Delete"

	file, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if err := s.indexer.RemoveSource(ctx, tenantID, id); err != nil {
		return err
	}

	for _, t := range decodeThumbs(file.Thumbs, s.log) {
		if rmErr := s.lay.Remove(t.Path); rmErr != nil {
			s.log.Warn("thumbnail removal failed", "path", t.Path, "error", rmErr)
		}
	}
	if err := s.lay.Remove(file.CanonicalPath); err != nil {
		return err
	}

	if err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		return s.files.DeleteByID(dbc, tenantID, id)
	}); err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	if err := s.guard.Refund(ctx, tenantID, file.SizeBytes); err != nil {
		s.log.Error("quota refund failed", "tenantId", tenantID, "bytes", file.SizeBytes, "error", err)
	}

	s.log.Info("media deleted", "tenantId", tenantID, "fileId", id, "bytes", file.SizeBytes)
	return nil
}

func decodeThumbs(blob datatypes.JSON, log *logger.Logger) []domain.ThumbDescriptor {
	if len(blob) == 0 {
		return nil
	}
	var thumbs []domain.ThumbDescriptor
	if err := sonic.Unmarshal([]byte(blob), &thumbs); err != nil {
		log.Warn("stored thumbs are unreadable", "error", err)
		return nil
	}
	return thumbs
}
