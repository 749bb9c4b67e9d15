package jsonstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/tenancy"
)

// FetchResult pairs a catalog row with the reassembled tree.
type FetchResult struct {
	Doc  *domain.CatalogJSON `json:"doc"`
	Data any                 `json:"data"`
}

// Service routes JSON trees to their backing store and keeps the catalog,
// the quota counters, and the payload stores consistent.
type Service interface {
	// Ingest analyzes the tree, persists it to the chosen backing, and
	// commits the catalog row and quota reservation together.
	Ingest(ctx context.Context, tenantID uuid.UUID, tree any, tags []string) (*domain.CatalogJSON, error)
	// Preview runs the shape analysis without persisting anything.
	Preview(tree any) Decision
	Fetch(ctx context.Context, tenantID uuid.UUID, id string) (*FetchResult, error)
	List(ctx context.Context, tenantID uuid.UUID, opts repos.CatalogJSONListOptions) ([]*domain.CatalogJSON, error)
	Delete(ctx context.Context, tenantID uuid.UUID, id string) error
}

type service struct {
	log     *logger.Logger
	catalog repos.CatalogJSONRepo
	rel     RelationalStore
	docs    DocumentStore
	guard   tenancy.Guard
	tx      repos.TxRunner
	now     func() time.Time
}

func NewService(
	baseLog *logger.Logger,
	catalog repos.CatalogJSONRepo,
	rel RelationalStore,
	docs DocumentStore,
	guard tenancy.Guard,
	tx repos.TxRunner,
) Service {
	return &service{
		log:     baseLog.With("service", "JSONStore"),
		catalog: catalog,
		rel:     rel,
		docs:    docs,
		guard:   guard,
		tx:      tx,
		now:     time.Now,
	}
}

// analysisRecord is what lands in the catalog's metrics column.
type analysisRecord struct {
	Metrics    Metrics  `json:"metrics"`
	SQLScore   float64  `json:"sqlScore"`
	NoSQLScore float64  `json:"noSqlScore"`
	Reasons    []string `json:"reasons"`
}

func (s *service) Ingest(ctx context.Context, tenantID uuid.UUID, tree any, tags []string) (*domain.CatalogJSON, error) {
	const op = "jsonstore.Ingest"

	decision := Analyze(tree)
	canonical, err := Canonicalize(tree)
	if err != nil {
		return nil, err
	}
	size := int64(len(canonical))

	token, err := s.guard.Admit(ctx, tenantID, size)
	if err != nil {
		return nil, err
	}
	defer s.guard.Release(token)

	createdAt := s.now()
	id := DocID(canonical, createdAt)

	// Payload first. The catalog row goes in last so a crash in between
	// leaves an orphan payload for the reconciler, never a catalog row
	// that points at nothing.
	var rowCount int64 = 1
	if decision.Backing == domain.BackingRelational {
		rowCount, err = s.rel.CreateAndFill(ctx, id, tenantID, tree)
	} else {
		err = s.docs.Upsert(ctx, DocumentRecord{
			ID:        id,
			TenantID:  tenantID,
			Body:      canonical,
			Tags:      tags,
			CreatedAt: createdAt,
		})
	}
	if err != nil {
		return nil, err
	}

	metricsJSON, err := canonicalJSON.Marshal(analysisRecord{
		Metrics:    decision.Metrics,
		SQLScore:   decision.SQLScore,
		NoSQLScore: decision.NoSQLScore,
		Reasons:    decision.Reasons,
	})
	if err != nil {
		s.compensate(ctx, decision.Backing, id)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}
	tagsJSON, err := canonicalJSON.Marshal(tags)
	if err != nil {
		s.compensate(ctx, decision.Backing, id)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}

	row := &domain.CatalogJSON{
		ID:         id,
		TenantID:   tenantID,
		Backing:    decision.Backing,
		Confidence: decision.Confidence,
		SizeBytes:  size,
		Status:     domain.ArtifactStatusActive,
		Metrics:    datatypes.JSON(metricsJSON),
		Tags:       datatypes.JSON(tagsJSON),
	}

	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if _, err := s.catalog.Create(dbc, row); err != nil {
			return err
		}
		return s.guard.Commit(dbc, token, size)
	})
	if err != nil {
		s.compensate(ctx, decision.Backing, id)
		return nil, pkgerrors.MapStoreError(op, err)
	}

	s.log.Info("json ingested",
		"docId", id,
		"tenantId", tenantID,
		"backing", decision.Backing,
		"confidence", decision.Confidence,
		"rows", rowCount,
		"bytes", size,
	)
	return row, nil
}

func (s *service) Preview(tree any) Decision {
	return Analyze(tree)
}

func (s *service) Fetch(ctx context.Context, tenantID uuid.UUID, id string) (*FetchResult, error) {
	const op = "jsonstore.Fetch"

	doc, err := s.catalog.GetByID(dbctx.Context{Ctx: ctx}, tenantID, id)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	if doc.Status == domain.ArtifactStatusOrphaned {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "document %s payload is gone", id)
	}

	var tree any
	if doc.Backing == domain.BackingRelational {
		tree, err = s.rel.Fetch(ctx, id)
	} else {
		var rec *DocumentRecord
		rec, err = s.docs.Fetch(ctx, id)
		if err == nil {
			tree, err = decodeTree(op, rec.Body)
		}
	}
	if err != nil {
		// The catalog said this document is active, so a missing payload
		// is drift the reconciler has not caught yet.
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeInternal, op, "payload missing for active document %s", id)
		}
		return nil, err
	}

	return &FetchResult{Doc: doc, Data: tree}, nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, opts repos.CatalogJSONListOptions) ([]*domain.CatalogJSON, error) {
	const op = "jsonstore.List"

	docs, err := s.catalog.List(dbctx.Context{Ctx: ctx}, tenantID, opts)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	return docs, nil
}

func (s *service) Delete(ctx context.Context, tenantID uuid.UUID, id string) error {
	const op = "jsonstore.Delete"

	doc, err := s.catalog.GetByID(dbctx.Context{Ctx: ctx}, tenantID, id)
	if err != nil {
		// Deleting an already-deleted id lands here as not-found.
		return pkgerrors.MapStoreError(op, err)
	}

	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		return s.catalog.DeleteByID(dbc, tenantID, id)
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	if err := s.guard.Refund(ctx, tenantID, doc.SizeBytes); err != nil {
		s.log.Error("usage refund failed after delete", "docId", id, "error", err)
	}

	// The catalog row is gone, so a failed payload drop leaves an orphan
	// the reconciler will sweep.
	var dropErr error
	if doc.Backing == domain.BackingRelational {
		dropErr = s.rel.Drop(ctx, id)
	} else {
		dropErr = s.docs.Delete(ctx, id)
	}
	if dropErr != nil {
		s.log.Warn("payload drop failed, reconciler will sweep", "docId", id, "error", dropErr)
	}

	s.log.Info("json deleted", "docId", id, "tenantId", tenantID, "backing", doc.Backing)
	return nil
}

// compensate removes a payload written before a failed catalog commit.
// Best effort; the reconciler sweeps whatever this misses.
func (s *service) compensate(ctx context.Context, backing, id string) {
	var err error
	if backing == domain.BackingRelational {
		err = s.rel.Drop(ctx, id)
	} else {
		err = s.docs.Delete(ctx, id)
	}
	if err != nil {
		s.log.Warn("payload compensation failed, reconciler will sweep", "docId", id, "error", err)
	}
}
