package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type fakeTenantRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Tenant
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{rows: map[uuid.UUID]*domain.Tenant{}}
}

func (f *fakeTenantRepo) add(t *domain.Tenant) *domain.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.rows[t.ID] = t
	return t
}

func (f *fakeTenantRepo) Create(dbc dbctx.Context, tenant *domain.Tenant) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Name == tenant.Name {
			return nil, &pgconn.PgError{Code: "23505"}
		}
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	cp := *tenant
	f.rows[tenant.ID] = &cp
	return tenant, nil
}

func (f *fakeTenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeTenantRepo) GetByName(dbc dbctx.Context, name string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Name == name {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTenantRepo) List(dbc dbctx.Context) ([]*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Tenant
	for _, row := range f.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTenantRepo) ReserveUsage(dbc dbctx.Context, id uuid.UUID, bytes int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	if row.UsedBytes+bytes > row.QuotaBytes {
		return false, nil
	}
	row.UsedBytes += bytes
	return true, nil
}

func (f *fakeTenantRepo) AdjustUsage(dbc dbctx.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.UsedBytes = max(row.UsedBytes+delta, 0)
	}
	return nil
}

func (f *fakeTenantRepo) setActive(id uuid.UUID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Active = active
	}
}

func newTestAuthService(t *testing.T) (AuthService, *fakeTenantRepo) {
	t.Helper()
	repo := newFakeTenantRepo()
	return NewAuthService(logger.New("test"), repo, "test-secret", time.Hour), repo
}

func TestBootstrapIssueAuthenticate(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	tenant, err := svc.BootstrapTenant(ctx, "acme", "super-secret-key", 1<<30)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}
	if tenant.ID == uuid.Nil || !tenant.Active || tenant.QuotaBytes != 1<<30 {
		t.Fatalf("bootstrapped tenant = %+v", tenant)
	}
	if tenant.APIKeyHash == "" || tenant.APIKeyHash == "super-secret-key" {
		t.Fatalf("api key stored without hashing")
	}

	before := time.Now()
	issued, err := svc.IssueToken(ctx, tenant.ID, "super-secret-key")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if issued.Token == "" {
		t.Fatalf("issued an empty token")
	}
	if issued.ExpiresAt.Before(before.Add(59 * time.Minute)) {
		t.Fatalf("expiry %v is earlier than the configured hour", issued.ExpiresAt)
	}

	authed, err := svc.Authenticate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	rd := ctxutil.GetRequestData(authed)
	if rd == nil {
		t.Fatalf("authenticated context carries no request data")
	}
	if rd.TenantID != tenant.ID || rd.TenantName != "acme" || rd.TokenString != issued.Token {
		t.Fatalf("request data = %+v", rd)
	}
}

func TestBootstrapTenantIdempotent(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	first, err := svc.BootstrapTenant(ctx, "acme", "original-key", 1<<20)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}
	second, err := svc.BootstrapTenant(ctx, "acme", "different-key", 1<<10)
	if err != nil {
		t.Fatalf("second BootstrapTenant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second bootstrap created a new tenant: %s vs %s", second.ID, first.ID)
	}

	// The existing hash survives, so the original key keeps working.
	if _, err := svc.IssueToken(ctx, first.ID, "original-key"); err != nil {
		t.Fatalf("original key stopped working: %v", err)
	}
	if _, err := svc.IssueToken(ctx, first.ID, "different-key"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("unknown key error = %v, want unauthorized", err)
	}
}

func TestBootstrapTenantValidation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		key   string
		quota int64
	}{
		{"", "key", 100},
		{"acme", "", 100},
		{"acme", "key", 0},
		{"acme", "key", -5},
	}
	for _, tc := range cases {
		if _, err := svc.BootstrapTenant(ctx, tc.name, tc.key, tc.quota); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("BootstrapTenant(%q, %q, %d) error = %v, want validation", tc.name, tc.key, tc.quota, err)
		}
	}
}

func TestIssueTokenRejections(t *testing.T) {
	svc, repo := newTestAuthService(t)
	ctx := context.Background()

	tenant, err := svc.BootstrapTenant(ctx, "acme", "right-key", 1<<20)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}

	if _, err := svc.IssueToken(ctx, tenant.ID, "wrong-key"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("wrong key error = %v, want unauthorized", err)
	}
	if _, err := svc.IssueToken(ctx, uuid.New(), "right-key"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("unknown tenant error = %v, want unauthorized", err)
	}
	if _, err := svc.IssueToken(ctx, tenant.ID, ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("empty key error = %v, want validation", err)
	}

	repo.setActive(tenant.ID, false)
	if _, err := svc.IssueToken(ctx, tenant.ID, "right-key"); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("inactive tenant error = %v, want forbidden", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc, repo := newTestAuthService(t)
	ctx := context.Background()

	tenant, err := svc.BootstrapTenant(ctx, "acme", "right-key", 1<<20)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}

	if _, err := svc.Authenticate(ctx, ""); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("empty token error = %v, want unauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "not-a-token"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("garbage token error = %v, want unauthorized", err)
	}

	// Signed with a different secret.
	other := NewAuthService(logger.New("test"), repo, "other-secret", time.Hour)
	foreign, err := other.IssueToken(ctx, tenant.ID, "right-key")
	if err != nil {
		t.Fatalf("IssueToken with other secret: %v", err)
	}
	if _, err := svc.Authenticate(ctx, foreign.Token); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("wrong secret error = %v, want unauthorized", err)
	}

	// Unsigned token claiming the right subject.
	claims := JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   tenant.ID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}
	if _, err := svc.Authenticate(ctx, unsigned); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("alg=none error = %v, want unauthorized", err)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	repo := newFakeTenantRepo()
	svc := NewAuthService(logger.New("test"), repo, "test-secret", time.Hour)
	ctx := context.Background()

	tenant, err := svc.BootstrapTenant(ctx, "acme", "right-key", 1<<20)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}

	// A clock two hours in the past issues a token that is already stale.
	stale := &authService{
		log:       logger.New("test"),
		tenants:   repo,
		jwtSecret: []byte("test-secret"),
		tokenTTL:  time.Hour,
		now:       func() time.Time { return time.Now().Add(-2 * time.Hour) },
	}
	issued, err := stale.IssueToken(ctx, tenant.ID, "right-key")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.Token); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expired token error = %v, want unauthorized", err)
	}
}

func TestAuthenticateDeactivatedTenant(t *testing.T) {
	svc, repo := newTestAuthService(t)
	ctx := context.Background()

	tenant, err := svc.BootstrapTenant(ctx, "acme", "right-key", 1<<20)
	if err != nil {
		t.Fatalf("BootstrapTenant: %v", err)
	}
	issued, err := svc.IssueToken(ctx, tenant.ID, "right-key")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	repo.setActive(tenant.ID, false)
	if _, err := svc.Authenticate(ctx, issued.Token); !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("deactivated tenant error = %v, want forbidden", err)
	}
}
