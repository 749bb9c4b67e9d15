package tenancy

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*domain.Tenant
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{tenants: map[uuid.UUID]*domain.Tenant{}}
}

func (f *fakeTenantRepo) add(t *domain.Tenant) *domain.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.tenants[t.ID] = t
	return t
}

func (f *fakeTenantRepo) Create(dbc dbctx.Context, t *domain.Tenant) (*domain.Tenant, error) {
	return f.add(t), nil
}

func (f *fakeTenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTenantRepo) GetByName(dbc dbctx.Context, name string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		if t.Name == name {
			copied := *t
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTenantRepo) List(dbc dbctx.Context) ([]*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Tenant
	for _, t := range f.tenants {
		copied := *t
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeTenantRepo) ReserveUsage(dbc dbctx.Context, id uuid.UUID, bytes int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return false, nil
	}
	if bytes < 0 {
		bytes = 0
	}
	if t.UsedBytes+bytes > t.QuotaBytes {
		return false, nil
	}
	t.UsedBytes += bytes
	return true, nil
}

func (f *fakeTenantRepo) AdjustUsage(dbc dbctx.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tenants[id]; ok {
		t.UsedBytes += delta
		if t.UsedBytes < 0 {
			t.UsedBytes = 0
		}
	}
	return nil
}

func (f *fakeTenantRepo) used(id uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenants[id].UsedBytes
}

func newTestGuard(t *testing.T) (Guard, *fakeTenantRepo) {
	t.Helper()
	log := logger.New("test")
	repo := newFakeTenantRepo()
	return NewGuard(log, repo), repo
}

func TestGuardAdmit(t *testing.T) {
	ctx := context.Background()
	g, repo := newTestGuard(t)

	if _, err := g.Admit(ctx, uuid.New(), 1); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("unknown tenant: want unauthorized, got %v", err)
	}

	inactive := repo.add(&domain.Tenant{Name: "old", Active: false, QuotaBytes: 100})
	if _, err := g.Admit(ctx, inactive.ID, 1); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("inactive tenant: want forbidden, got %v", err)
	}

	tenant := repo.add(&domain.Tenant{Name: "acme", Active: true, QuotaBytes: 100, UsedBytes: 60})
	if _, err := g.Admit(ctx, tenant.ID, 50); !pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded) {
		t.Fatalf("oversized admit: want quota exceeded, got %v", err)
	}

	token, err := g.Admit(ctx, tenant.ID, 30)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if token.Remaining != 40 || token.Expected != 30 {
		t.Fatalf("token snapshot wrong: remaining=%d expected=%d", token.Remaining, token.Expected)
	}
	if got := repo.used(tenant.ID); got != 60 {
		t.Fatalf("admission must not reserve usage, used=%d", got)
	}
}

func TestGuardCommitReVerifies(t *testing.T) {
	ctx := context.Background()
	g, repo := newTestGuard(t)
	tenant := repo.add(&domain.Tenant{Name: "acme", Active: true, QuotaBytes: 100, UsedBytes: 60})

	token, err := g.Admit(ctx, tenant.ID, 10)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// A racing writer eats the headroom between admit and commit.
	if ok, _ := repo.ReserveUsage(dbctx.Context{Ctx: ctx}, tenant.ID, 35); !ok {
		t.Fatalf("racing reserve should succeed")
	}

	err = g.Commit(dbctx.Context{Ctx: ctx}, token, 10)
	if !pkgerrors.IsCode(err, pkgerrors.CodeQuotaExceeded) {
		t.Fatalf("commit after race: want quota exceeded, got %v", err)
	}
	if got := repo.used(tenant.ID); got != 95 {
		t.Fatalf("failed commit must not change usage, used=%d", got)
	}

	token2, err := g.Admit(ctx, tenant.ID, 5)
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if err := g.Commit(dbctx.Context{Ctx: ctx}, token2, 5); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !token2.Committed() {
		t.Fatalf("token should be committed")
	}
	if got := repo.used(tenant.ID); got != 100 {
		t.Fatalf("usage after commit: want 100, got %d", got)
	}
}

func TestGuardCommitLifecycle(t *testing.T) {
	ctx := context.Background()
	g, repo := newTestGuard(t)
	tenant := repo.add(&domain.Tenant{Name: "acme", Active: true, QuotaBytes: 100})

	token, err := g.Admit(ctx, tenant.ID, 10)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := g.Commit(dbctx.Context{Ctx: ctx}, token, 10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := g.Commit(dbctx.Context{Ctx: ctx}, token, 10); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("double commit: want internal, got %v", err)
	}

	released, err := g.Admit(ctx, tenant.ID, 10)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	g.Release(released)
	if err := g.Commit(dbctx.Context{Ctx: ctx}, released, 10); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("commit after release: want internal, got %v", err)
	}
	if got := repo.used(tenant.ID); got != 10 {
		t.Fatalf("released token must not consume quota, used=%d", got)
	}

	if err := g.Commit(dbctx.Context{Ctx: ctx}, nil, 10); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("nil token: want internal, got %v", err)
	}
}

func TestGuardRefund(t *testing.T) {
	ctx := context.Background()
	g, repo := newTestGuard(t)
	tenant := repo.add(&domain.Tenant{Name: "acme", Active: true, QuotaBytes: 100, UsedBytes: 30})

	if err := g.Refund(ctx, tenant.ID, 10); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := repo.used(tenant.ID); got != 20 {
		t.Fatalf("usage after refund: want 20, got %d", got)
	}

	// Refunding more than used floors at zero instead of going negative.
	if err := g.Refund(ctx, tenant.ID, 999); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := repo.used(tenant.ID); got != 0 {
		t.Fatalf("usage should floor at 0, got %d", got)
	}

	if err := g.Refund(ctx, tenant.ID, 0); err != nil {
		t.Fatalf("zero refund should be a no-op: %v", err)
	}
}

func TestGuardScope(t *testing.T) {
	g, _ := newTestGuard(t)
	if g.Scope(uuid.New()) == nil {
		t.Fatalf("scope should return a predicate")
	}
}
