// Package tenancy enforces per-tenant isolation and storage quotas. Every
// write path admits through the Guard before touching disk or store, and
// commits usage through it inside the same transaction as the catalog row.
package tenancy

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// AdmitToken is the receipt for one admitted write. Remaining carries the
// quota headroom observed at admission so streaming writers can abort the
// moment they cross it; the authoritative check happens again at Commit.
type AdmitToken struct {
	TenantID  uuid.UUID
	Expected  int64
	Remaining int64

	committed bool
	released  bool
}

func (t *AdmitToken) Committed() bool { return t.committed }

// Guard is the only component allowed to mutate tenant usage counters.
type Guard interface {
	// Admit verifies the tenant is known and active and that expectedBytes
	// fits the quota headroom. Pass 0 when the size is unknown; streaming
	// callers then enforce against the token's Remaining.
	Admit(ctx context.Context, tenantID uuid.UUID, expectedBytes int64) (*AdmitToken, error)
	// Commit reserves actualBytes against the quota, re-verifying it so two
	// concurrently admitted writers cannot jointly overshoot. Run it inside
	// the same transaction as the catalog write; a rollback then undoes the
	// reservation too.
	Commit(dbc dbctx.Context, token *AdmitToken, actualBytes int64) error
	// Release abandons an uncommitted token. Admission reserves nothing, so
	// this only closes the token; it is safe on any failure path.
	Release(token *AdmitToken)
	// Refund returns bytes to the tenant after a delete.
	Refund(ctx context.Context, tenantID uuid.UUID, bytes int64) error
	// Scope yields the tenant predicate for ad-hoc catalog queries.
	Scope(tenantID uuid.UUID) func(*gorm.DB) *gorm.DB
}

type guard struct {
	log     *logger.Logger
	tenants repos.TenantRepo
	locks   sync.Map // tenantID -> *sync.Mutex
}

func NewGuard(baseLog *logger.Logger, tenants repos.TenantRepo) Guard {
	return &guard{
		log:     baseLog.With("service", "TenantGuard"),
		tenants: tenants,
	}
}

func (g *guard) Admit(ctx context.Context, tenantID uuid.UUID, expectedBytes int64) (*AdmitToken, error) {
	const op = "tenancy.Admit"

	tenant, err := g.tenants.GetByID(dbctx.Context{Ctx: ctx}, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, op, "unknown tenant")
		}
		return nil, pkgerrors.MapStoreError(op, err)
	}
	if !tenant.Active {
		return nil, pkgerrors.Newf(pkgerrors.CodeForbidden, op, "tenant %s is deactivated", tenantID)
	}

	remaining := tenant.QuotaBytes - tenant.UsedBytes
	if remaining < 0 {
		remaining = 0
	}
	if expectedBytes > remaining {
		return nil, pkgerrors.Newf(pkgerrors.CodeQuotaExceeded, op,
			"tenant %s has %d bytes of quota left, write expects %d", tenantID, remaining, expectedBytes)
	}

	return &AdmitToken{TenantID: tenantID, Expected: expectedBytes, Remaining: remaining}, nil
}

func (g *guard) Commit(dbc dbctx.Context, token *AdmitToken, actualBytes int64) error {
	const op = "tenancy.Commit"

	if token == nil || token.released {
		return pkgerrors.New(pkgerrors.CodeInternal, op, "commit without a live admit token")
	}
	if token.committed {
		return pkgerrors.New(pkgerrors.CodeInternal, op, "admit token committed twice")
	}

	mu := g.lockFor(token.TenantID)
	mu.Lock()
	defer mu.Unlock()

	ok, err := g.tenants.ReserveUsage(dbc, token.TenantID, actualBytes)
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeQuotaExceeded, op,
			"tenant %s quota exhausted at commit for %d bytes", token.TenantID, actualBytes)
	}

	token.committed = true
	return nil
}

func (g *guard) Release(token *AdmitToken) {
	if token == nil || token.committed {
		return
	}
	token.released = true
}

func (g *guard) Refund(ctx context.Context, tenantID uuid.UUID, bytes int64) error {
	const op = "tenancy.Refund"

	if bytes <= 0 {
		return nil
	}

	mu := g.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if err := g.tenants.AdjustUsage(dbctx.Context{Ctx: ctx}, tenantID, -bytes); err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	return nil
}

func (g *guard) Scope(tenantID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

func (g *guard) lockFor(tenantID uuid.UUID) *sync.Mutex {
	mu, _ := g.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
