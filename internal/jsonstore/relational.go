package jsonstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// RelationalStore owns the per-document payload tables in Postgres. Table
// names embed the document id, so every entry point validates the id shape
// before it reaches SQL text.
type RelationalStore interface {
	// CreateAndFill creates payload_<id> with its indexes and inserts the
	// rows in one transaction. Returns the number of rows written.
	CreateAndFill(ctx context.Context, id string, tenantID uuid.UUID, tree any) (int64, error)
	// Fetch reassembles the stored tree: element rows fold back into an
	// array, a whole-tree row comes back as is.
	Fetch(ctx context.Context, id string) (any, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Drop removes the payload table. Dropping a missing table is a no-op.
	Drop(ctx context.Context, id string) error
	// ListPayloadIDs scans the schema for payload tables and returns their
	// document ids. The reconciler diffs these against the catalog.
	ListPayloadIDs(ctx context.Context) ([]string, error)
}

type relationalStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRelationalStore(db *gorm.DB, baseLog *logger.Logger) RelationalStore {
	return &relationalStore{db: db, log: baseLog.With("service", "RelationalStore")}
}

type payloadRow struct {
	body      []byte
	isElement bool
}

type payloadRecord struct {
	Body      []byte `gorm:"column:body"`
	IsElement bool   `gorm:"column:is_element"`
}

func (s *relationalStore) CreateAndFill(ctx context.Context, id string, tenantID uuid.UUID, tree any) (int64, error) {
	const op = "jsonstore.RelationalStore.CreateAndFill"

	table, err := payloadTable(op, id)
	if err != nil {
		return 0, err
	}
	rows, err := fanOut(op, tree)
	if err != nil {
		return 0, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			tenant_id UUID NOT NULL,
			body JSONB NOT NULL,
			is_element BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
		if err := tx.Exec(ddl).Error; err != nil {
			return err
		}
		if err := tx.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_body_gin ON %s USING GIN (body)", table, table,
		)).Error; err != nil {
			return err
		}
		if err := tx.Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_tenant_idx ON %s (tenant_id)", table, table,
		)).Error; err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.Exec(fmt.Sprintf(
				"INSERT INTO %s (tenant_id, body, is_element) VALUES (?, ?::jsonb, ?)", table,
			), tenantID, string(r.body), r.isElement).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.MapStoreError(op, err)
	}

	s.log.Debug("payload table filled", "table", table, "rows", len(rows))
	return int64(len(rows)), nil
}

func (s *relationalStore) Fetch(ctx context.Context, id string) (any, error) {
	const op = "jsonstore.RelationalStore.Fetch"

	table, err := payloadTable(op, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "payload table for %s does not exist", id)
	}

	var recs []payloadRecord
	if err := s.db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT body, is_element FROM %s ORDER BY id ASC", table)).
		Scan(&recs).Error; err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	if len(recs) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "payload table for %s is empty", id)
	}

	if !recs[0].IsElement {
		return decodeTree(op, recs[0].Body)
	}
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		el, err := decodeTree(op, rec.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (s *relationalStore) Exists(ctx context.Context, id string) (bool, error) {
	const op = "jsonstore.RelationalStore.Exists"

	table, err := payloadTable(op, id)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = ?)", table).
		Scan(&exists).Error; err != nil {
		return false, pkgerrors.MapStoreError(op, err)
	}
	return exists, nil
}

func (s *relationalStore) Drop(ctx context.Context, id string) error {
	const op = "jsonstore.RelationalStore.Drop"

	table, err := payloadTable(op, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Error; err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	return nil
}

func (s *relationalStore) ListPayloadIDs(ctx context.Context) ([]string, error) {
	const op = "jsonstore.RelationalStore.ListPayloadIDs"

	var tables []string
	if err := s.db.WithContext(ctx).
		Raw("SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE 'payload_%'").
		Scan(&tables).Error; err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}

	ids := make([]string, 0, len(tables))
	for _, t := range tables {
		id := strings.TrimPrefix(t, "payload_")
		if ValidDocID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func payloadTable(op, id string) (string, error) {
	if !ValidDocID(id) {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, op, "malformed document id %q", id)
	}
	return "payload_" + id, nil
}

// fanOut maps the tree onto payload rows: one per element when the top of
// the tree is a non-empty array, one whole-tree row otherwise. An empty
// array keeps the whole-tree row so the table never ends up empty.
func fanOut(op string, tree any) ([]payloadRow, error) {
	if arr, ok := tree.([]any); ok && len(arr) > 0 {
		out := make([]payloadRow, 0, len(arr))
		for _, el := range arr {
			b, err := canonicalJSON.Marshal(el)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, op, err)
			}
			out = append(out, payloadRow{body: b, isElement: true})
		}
		return out, nil
	}

	b, err := canonicalJSON.Marshal(tree)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, op, err)
	}
	return []payloadRow{{body: b}}, nil
}
