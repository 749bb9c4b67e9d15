package app

import (
	"fmt"
	"strings"

	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/vsearch"
)

// wireVectorStore selects the KNN provider. "pgvector" queries the chunk
// table directly; "memory" keeps an exact in-process copy for deployments
// where the extension is unavailable.
func wireVectorStore(log *logger.Logger, cfg Config, reposet Repos) (vsearch.Store, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.VectorProvider))
	switch provider {
	case "", "pgvector":
		return vsearch.NewPgStore(log, reposet.Chunk, reposet.Tx), nil
	case "memory":
		return vsearch.NewMemStore(log, reposet.Chunk, reposet.Tx), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_PROVIDER %q (want pgvector or memory)", cfg.VectorProvider)
	}
}
