package app

import (
	"time"

	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/utils"
)

// defaultTenantQuotaBytes caps a bootstrap tenant at 10 GiB unless
// TENANT_QUOTA_BYTES overrides it. Quotas are hard ceilings, so zero
// would admit nothing and BootstrapTenant rejects it.
const defaultTenantQuotaBytes = 10 << 30

type Config struct {
	JWTSecretKey string
	TokenTTL     time.Duration

	TaxonomyPath   string
	VectorProvider string

	ReconcileInterval time.Duration

	// Bootstrap tenant, created at startup when both name and key are set.
	TenantName       string
	TenantAPIKey     string
	TenantQuotaBytes int64
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	tokenTTLSeconds := utils.GetEnvAsInt("TOKEN_TTL", 3600, log)
	taxonomyPath := utils.GetEnv("TAXONOMY_PATH", "./configs/taxonomy.yaml", log)
	vectorProvider := utils.GetEnv("VECTOR_PROVIDER", "pgvector", log)
	reconcileIntervalSeconds := utils.GetEnvAsInt("RECONCILE_INTERVAL", 600, log)
	tenantName := utils.GetEnv("TENANT_NAME", "", log)
	tenantAPIKey := utils.GetEnv("TENANT_API_KEY", "", log)
	tenantQuotaBytes := utils.GetEnvAsInt64("TENANT_QUOTA_BYTES", defaultTenantQuotaBytes, log)
	return Config{
		JWTSecretKey:      jwtSecretKey,
		TokenTTL:          time.Duration(tokenTTLSeconds) * time.Second,
		TaxonomyPath:      taxonomyPath,
		VectorProvider:    vectorProvider,
		ReconcileInterval: time.Duration(reconcileIntervalSeconds) * time.Second,
		TenantName:        tenantName,
		TenantAPIKey:      tenantAPIKey,
		TenantQuotaBytes:  tenantQuotaBytes,
	}
}
