package repos

import (
	"context"

	"gorm.io/gorm"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
)

// TxRunner provides a shared transaction boundary for invariant-critical
// writes (catalog row + usage update, chunk batch swap, tenant delete).
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "repos.InTx", "transaction runner has nil db")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}
