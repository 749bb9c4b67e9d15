package jsonstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// Key layout in the document store. The per-tenant zset and per-tag sets
// are the pre-created global indexes document reads rely on.
const (
	docKeyPrefix    = "json:doc:"
	tenantKeyPrefix = "json:tenant:"
	tagKeyPrefix    = "json:tag:"
)

// DocumentRecord is one stored document plus its index fields.
type DocumentRecord struct {
	ID        string
	TenantID  uuid.UUID
	Body      []byte
	Tags      []string
	CreatedAt time.Time
}

type DocumentStore interface {
	// Upsert writes the document hash and its index entries in one
	// MULTI/EXEC round trip. Writing the same id again overwrites.
	Upsert(ctx context.Context, rec DocumentRecord) error
	Fetch(ctx context.Context, id string) (*DocumentRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes the document and its index entries. Missing ids are
	// tolerated so the reconciler can retry safely.
	Delete(ctx context.Context, id string) error
	// ListIDs scans the keyspace for stored document ids.
	ListIDs(ctx context.Context) ([]string, error)
}

type documentStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewDocumentStore(rdb *goredis.Client, baseLog *logger.Logger) DocumentStore {
	return &documentStore{log: baseLog.With("service", "DocumentStore"), rdb: rdb}
}

func (s *documentStore) Upsert(ctx context.Context, rec DocumentRecord) error {
	const op = "jsonstore.DocumentStore.Upsert"

	if !ValidDocID(rec.ID) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, op, "malformed document id %q", rec.ID)
	}
	tagsJSON, err := canonicalJSON.Marshal(rec.Tags)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, op, err)
	}

	createdAt := rec.CreatedAt.UTC()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, docKeyPrefix+rec.ID, map[string]any{
		"body":       rec.Body,
		"tenant_id":  rec.TenantID.String(),
		"created_at": createdAt.Format(time.RFC3339Nano),
		"tags":       tagsJSON,
	})
	pipe.ZAdd(ctx, tenantKeyPrefix+rec.TenantID.String(), goredis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: rec.ID,
	})
	for _, tag := range rec.Tags {
		pipe.SAdd(ctx, tagKeyPrefix+tag, rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, op, err)
	}
	return nil
}

func (s *documentStore) Fetch(ctx context.Context, id string) (*DocumentRecord, error) {
	const op = "jsonstore.DocumentStore.Fetch"

	if !ValidDocID(id) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, op, "malformed document id %q", id)
	}

	vals, err := s.rdb.HGetAll(ctx, docKeyPrefix+id).Result()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, op, err)
	}
	// HGETALL returns an empty map, not a nil reply, for a missing key.
	if len(vals) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "document %s not found", id)
	}

	rec := &DocumentRecord{ID: id, Body: []byte(vals["body"])}
	if raw := vals["tenant_id"]; raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
		}
		rec.TenantID = tenantID
	}
	if raw := vals["created_at"]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
		}
		rec.CreatedAt = createdAt
	}
	if raw := vals["tags"]; raw != "" {
		if err := canonicalJSON.Unmarshal([]byte(raw), &rec.Tags); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
		}
	}
	return rec, nil
}

func (s *documentStore) Exists(ctx context.Context, id string) (bool, error) {
	const op = "jsonstore.DocumentStore.Exists"

	if !ValidDocID(id) {
		return false, pkgerrors.Newf(pkgerrors.CodeValidation, op, "malformed document id %q", id)
	}

	n, err := s.rdb.Exists(ctx, docKeyPrefix+id).Result()
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, op, err)
	}
	return n > 0, nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	const op = "jsonstore.DocumentStore.Delete"

	rec, err := s.Fetch(ctx, id)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, docKeyPrefix+id)
	pipe.ZRem(ctx, tenantKeyPrefix+rec.TenantID.String(), id)
	for _, tag := range rec.Tags {
		pipe.SRem(ctx, tagKeyPrefix+tag, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, op, err)
	}
	return nil
}

func (s *documentStore) ListIDs(ctx context.Context) ([]string, error) {
	const op = "jsonstore.DocumentStore.ListIDs"

	var ids []string
	iter := s.rdb.Scan(ctx, 0, docKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), docKeyPrefix)
		if ValidDocID(id) {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStoreUnavailable, op, err)
	}
	return ids, nil
}
