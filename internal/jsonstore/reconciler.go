package jsonstore

import (
	"context"
	"time"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/storage"
)

const reconcilePageSize = 200

// Report counts what one reconciliation sweep repaired.
type Report struct {
	OrphanTablesDropped  int `json:"orphanTablesDropped"`
	OrphanDocsDropped    int `json:"orphanDocsDropped"`
	JSONMarkedOrphaned   int `json:"jsonMarkedOrphaned"`
	FilesMarkedOrphaned  int `json:"filesMarkedOrphaned"`
	CatalogIDsScanned    int `json:"catalogIdsScanned"`
	PayloadStoresScanned int `json:"payloadStoresScanned"`
}

// Reconciler repairs drift between the catalog and the payload stores.
// Payloads without a catalog row are dropped; catalog rows without bytes
// behind them are marked orphaned, never deleted.
type Reconciler struct {
	log      *logger.Logger
	catalog  repos.CatalogJSONRepo
	files    repos.CatalogFileRepo
	rel      RelationalStore
	docs     DocumentStore
	layout   storage.Layout
	interval time.Duration
}

func NewReconciler(
	baseLog *logger.Logger,
	catalog repos.CatalogJSONRepo,
	files repos.CatalogFileRepo,
	rel RelationalStore,
	docs DocumentStore,
	layout storage.Layout,
	interval time.Duration,
) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reconciler{
		log:      baseLog.With("service", "Reconciler"),
		catalog:  catalog,
		files:    files,
		rel:      rel,
		docs:     docs,
		layout:   layout,
		interval: interval,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep
// failures are logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler running", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			report, err := r.Sweep(ctx)
			if err != nil {
				r.log.Error("reconcile sweep failed", "error", err)
				continue
			}
			if report.OrphanTablesDropped+report.OrphanDocsDropped+
				report.JSONMarkedOrphaned+report.FilesMarkedOrphaned > 0 {
				r.log.Info("reconcile sweep repaired drift",
					"orphanTablesDropped", report.OrphanTablesDropped,
					"orphanDocsDropped", report.OrphanDocsDropped,
					"jsonMarkedOrphaned", report.JSONMarkedOrphaned,
					"filesMarkedOrphaned", report.FilesMarkedOrphaned,
				)
			}
		}
	}
}

// Sweep runs one full reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	const op = "jsonstore.Reconciler.Sweep"

	var report Report

	catalogIDs, err := r.catalog.ListIDs(dbctx.Context{Ctx: ctx})
	if err != nil {
		return report, pkgerrors.MapStoreError(op, err)
	}
	known := make(map[string]bool, len(catalogIDs))
	for _, id := range catalogIDs {
		known[id] = true
	}
	report.CatalogIDsScanned = len(catalogIDs)

	// Payload stores first: anything the catalog does not know about was
	// written by an ingest that never committed its catalog row.
	tableIDs, err := r.rel.ListPayloadIDs(ctx)
	if err != nil {
		return report, err
	}
	report.PayloadStoresScanned += len(tableIDs)
	for _, id := range tableIDs {
		if known[id] {
			continue
		}
		if err := r.rel.Drop(ctx, id); err != nil {
			r.log.Warn("orphan payload table drop failed", "docId", id, "error", err)
			continue
		}
		report.OrphanTablesDropped++
	}

	docIDs, err := r.docs.ListIDs(ctx)
	if err != nil {
		return report, err
	}
	report.PayloadStoresScanned += len(docIDs)
	for _, id := range docIDs {
		if known[id] {
			continue
		}
		if err := r.docs.Delete(ctx, id); err != nil {
			r.log.Warn("orphan document drop failed", "docId", id, "error", err)
			continue
		}
		report.OrphanDocsDropped++
	}

	// Catalog rows next: a row whose payload is gone stays visible as
	// orphaned so operators can see what was lost.
	marked, err := r.sweepJSONRows(ctx)
	if err != nil {
		return report, err
	}
	report.JSONMarkedOrphaned = marked

	markedFiles, err := r.sweepFileRows(ctx)
	if err != nil {
		return report, err
	}
	report.FilesMarkedOrphaned = markedFiles

	return report, nil
}

func (r *Reconciler) sweepJSONRows(ctx context.Context) (int, error) {
	const op = "jsonstore.Reconciler.sweepJSONRows"

	marked := 0
	for offset := 0; ; offset += reconcilePageSize {
		page, err := r.catalog.ListPage(dbctx.Context{Ctx: ctx}, offset, reconcilePageSize)
		if err != nil {
			return marked, pkgerrors.MapStoreError(op, err)
		}
		if len(page) == 0 {
			return marked, nil
		}

		for _, doc := range page {
			if doc.Status == domain.ArtifactStatusOrphaned {
				continue
			}
			var exists bool
			if doc.Backing == domain.BackingRelational {
				exists, err = r.rel.Exists(ctx, doc.ID)
			} else {
				exists, err = r.docs.Exists(ctx, doc.ID)
			}
			if err != nil {
				r.log.Warn("payload existence check failed", "docId", doc.ID, "error", err)
				continue
			}
			if exists {
				continue
			}
			if err := r.catalog.SetStatus(dbctx.Context{Ctx: ctx}, doc.ID, domain.ArtifactStatusOrphaned); err != nil {
				r.log.Warn("orphan mark failed", "docId", doc.ID, "error", err)
				continue
			}
			marked++
		}
	}
}

func (r *Reconciler) sweepFileRows(ctx context.Context) (int, error) {
	const op = "jsonstore.Reconciler.sweepFileRows"

	marked := 0
	for offset := 0; ; offset += reconcilePageSize {
		page, err := r.files.ListPage(dbctx.Context{Ctx: ctx}, offset, reconcilePageSize)
		if err != nil {
			return marked, pkgerrors.MapStoreError(op, err)
		}
		if len(page) == 0 {
			return marked, nil
		}

		for _, file := range page {
			if file.Status == domain.ArtifactStatusOrphaned {
				continue
			}
			exists, err := r.layout.Exists(file.CanonicalPath)
			if err != nil {
				r.log.Warn("file existence check failed", "fileId", file.ID, "error", err)
				continue
			}
			if exists {
				continue
			}
			if err := r.files.SetStatus(dbctx.Context{Ctx: ctx}, file.ID, domain.ArtifactStatusOrphaned); err != nil {
				r.log.Warn("orphan mark failed", "fileId", file.ID, "error", err)
				continue
			}
			marked++
		}
	}
}
