// Package storage persists uploaded datasets on local disk and optionally
// mirrors them to object storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
)

// Object describes a mirrored blob.
type Object struct {
	Key  string
	Size int64
	ETag string
}

// ObjectStore is the remote side of the archive.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (Object, error)
}

// LocalArchive writes each upload under a fixed directory, creating it on
// first use. A configured mirror receives a copy on a best-effort basis.
type LocalArchive struct {
	dir    string
	mirror ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLocalArchive constructs the archive. mirror may be nil.
func NewLocalArchive(dir string, mirror ObjectStore, logger *slog.Logger) *LocalArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalArchive{
		dir:    dir,
		mirror: mirror,
		logger: logger.With("component", "faq.storage.archive"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save implements faq.UploadArchive and returns the local path.
func (a *LocalArchive) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s", a.now().Format("20060102T150405.000000000"), sanitizeFilename(filename))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}

	if a.mirror != nil {
		if _, err := a.mirror.Put(ctx, "uploads/"+name, data, "text/csv"); err != nil {
			a.logger.Warn("upload mirror failed", "key", name, "error", err)
		}
	}
	return path, nil
}

// sanitizeFilename keeps the base name and replaces anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "dataset.csv"
	}
	return cleaned
}

var _ faq.UploadArchive = (*LocalArchive)(nil)
