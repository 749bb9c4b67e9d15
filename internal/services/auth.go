// Package services holds the tenant-facing services outside the ingestion
// pipelines: credential exchange and account statistics.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/pkg/ctxutil"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// IssuedToken is the response of a successful key exchange.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuthService interface {
	// IssueToken exchanges a tenant api key for a signed bearer token.
	IssueToken(ctx context.Context, tenantID uuid.UUID, apiKey string) (*IssuedToken, error)

	// Authenticate validates a bearer token, re-checks the tenant row, and
	// returns a context carrying the caller identity.
	Authenticate(ctx context.Context, tokenString string) (context.Context, error)

	// BootstrapTenant creates a named tenant with a hashed key, or returns
	// the existing row when the name is already taken.
	BootstrapTenant(ctx context.Context, name, apiKey string, quotaBytes int64) (*domain.Tenant, error)
}

type authService struct {
	log       *logger.Logger
	tenants   repos.TenantRepo
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(baseLog *logger.Logger, tenants repos.TenantRepo, jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		log:       baseLog.With("service", "AuthService"),
		tenants:   tenants,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *authService) IssueToken(ctx context.Context, tenantID uuid.UUID, apiKey string) (*IssuedToken, error) {
	const op = "AuthService.IssueToken"

	if apiKey == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "api key is required")
	}

	tenant, err := s.tenants.GetByID(dbctx.Context{Ctx: ctx}, tenantID)
	if err != nil {
		mapped := pkgerrors.MapStoreError(op, err)
		if pkgerrors.IsCode(mapped, pkgerrors.CodeNotFound) {
			// An unknown tenant reads the same as a bad key.
			return nil, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "invalid tenant credentials")
		}
		return nil, mapped
	}
	if !tenant.Active {
		return nil, pkgerrors.Newf(pkgerrors.CodeForbidden, op, "tenant %s is deactivated", tenantID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(tenant.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "invalid tenant credentials")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}

	s.log.Info("token issued", "tenantId", tenant.ID, "expiresAt", expiresAt)
	return &IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *authService) Authenticate(ctx context.Context, tokenString string) (context.Context, error) {
	const op = "AuthService.Authenticate"

	if tokenString == "" {
		return ctx, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "missing bearer token")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ctx, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "invalid or expired token")
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "invalid or expired token")
	}
	tenantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "malformed subject in token")
	}

	// The row is re-read on every request so a deactivated tenant is cut
	// off before its tokens expire.
	tenant, err := s.tenants.GetByID(dbctx.Context{Ctx: ctx}, tenantID)
	if err != nil {
		mapped := pkgerrors.MapStoreError(op, err)
		if pkgerrors.IsCode(mapped, pkgerrors.CodeNotFound) {
			return ctx, pkgerrors.Newf(pkgerrors.CodeUnauthorized, op, "unknown tenant in token")
		}
		return ctx, mapped
	}
	if !tenant.Active {
		return ctx, pkgerrors.Newf(pkgerrors.CodeForbidden, op, "tenant %s is deactivated", tenantID)
	}

	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
		TokenString: tokenString,
		TenantID:    tenant.ID,
		TenantName:  tenant.Name,
	}), nil
}

func (s *authService) BootstrapTenant(ctx context.Context, name, apiKey string, quotaBytes int64) (*domain.Tenant, error) {
	const op = "AuthService.BootstrapTenant"

	name = strings.TrimSpace(name)
	if name == "" || apiKey == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "tenant name and api key are required")
	}
	if quotaBytes <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "tenant quota must be positive")
	}

	existing, err := s.tenants.GetByName(dbctx.Context{Ctx: ctx}, name)
	if err == nil {
		return existing, nil
	}
	if mapped := pkgerrors.MapStoreError(op, err); !pkgerrors.IsCode(mapped, pkgerrors.CodeNotFound) {
		return nil, mapped
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}
	created, err := s.tenants.Create(dbctx.Context{Ctx: ctx}, &domain.Tenant{
		Name:       name,
		APIKeyHash: string(hash),
		Active:     true,
		QuotaBytes: quotaBytes,
	})
	if err != nil {
		mapped := pkgerrors.MapStoreError(op, err)
		if pkgerrors.IsCode(mapped, pkgerrors.CodeNameCollision) {
			// Another instance won the race; serve its row.
			return s.bootstrapWinner(ctx, op, name)
		}
		return nil, mapped
	}

	s.log.Info("tenant bootstrapped", "tenantId", created.ID, "name", name, "quotaBytes", quotaBytes)
	return created, nil
}

func (s *authService) bootstrapWinner(ctx context.Context, op, name string) (*domain.Tenant, error) {
	winner, err := s.tenants.GetByName(dbctx.Context{Ctx: ctx}, name)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	return winner, nil
}
