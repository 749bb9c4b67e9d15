// Package storage owns the on-disk layout: canonical category trees, the
// parallel thumbnails tree and per-tenant staging directories, plus the
// synthesis of collision-free canonical paths.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/utils"
)

const (
	thumbnailsDir = "thumbnails"
	stagingDir    = "staging"
)

// Layout resolves and manipulates paths under the storage root. All rel
// arguments are root-relative paths as produced by Synthesize or ThumbRel.
type Layout interface {
	Root() string
	// Abs resolves a root-relative path, rejecting anything that would
	// escape the root.
	Abs(rel string) (string, error)
	// NewStagingPath returns a fresh .part path inside the tenant's
	// staging directory, creating the directory if needed.
	NewStagingPath(tenantID uuid.UUID) (string, error)
	// Promote atomically renames a staged file onto its canonical path.
	// It fails with a name collision if the target already exists.
	Promote(stagingPath, rel string) error
	Exists(rel string) (bool, error)
	Open(rel string) (*os.File, error)
	Remove(rel string) error
}

type layout struct {
	log  *logger.Logger
	root string
}

// NewLayout prepares the storage root from STORAGE_ROOT and creates the
// directories every ingest depends on.
func NewLayout(log *logger.Logger) (Layout, error) {
	root := utils.GetEnv("STORAGE_ROOT", "./data/storage", log)
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, thumbnailsDir), filepath.Join(abs, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	slog := log.With("service", "StorageLayout")
	slog.Info("storage layout ready", "root", abs)
	return &layout{log: slog, root: abs}, nil
}

func (l *layout) Root() string { return l.root }

func (l *layout) Abs(rel string) (string, error) {
	const op = "storage.Abs"
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, op, "path %q escapes the storage root", rel)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *layout) NewStagingPath(tenantID uuid.UUID) (string, error) {
	dir := filepath.Join(l.root, stagingDir, tenantID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return filepath.Join(dir, uuid.NewString()+".part"), nil
}

func (l *layout) Promote(stagingPath, rel string) error {
	const op = "storage.Promote"
	abs, err := l.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create canonical dir for %s: %w", rel, err)
	}
	if _, err := os.Stat(abs); err == nil {
		return pkgerrors.Newf(pkgerrors.CodeNameCollision, op, "canonical path %s already exists", rel)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat canonical path %s: %w", rel, err)
	}
	if err := os.Rename(stagingPath, abs); err != nil {
		return fmt.Errorf("promote %s to %s: %w", stagingPath, rel, err)
	}
	return nil
}

func (l *layout) Exists(rel string) (bool, error) {
	abs, err := l.Abs(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return true, nil
}

func (l *layout) Open(rel string) (*os.File, error) {
	abs, err := l.Abs(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "storage.Open", "no stored file at %s", rel)
		}
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	return f, nil
}

func (l *layout) Remove(rel string) error {
	abs, err := l.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}
