// Package gcs archives uploaded statement files in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/config"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
)

// StatementArchive stores the original bytes of an uploaded statement.
type StatementArchive interface {
	// Archive stores content and returns the object URI, or "" when
	// archiving is disabled.
	Archive(ctx context.Context, userID, statementID uuid.UUID, content []byte) (string, error)
}

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Archive writes statements to a bucket as <prefix>/<user>/<statement>.pdf.
type Archive struct {
	bucket string
	prefix string
	logger *slog.Logger
	client *storage.Client

	// newWriter opens the object writer. Replaced in tests.
	newWriter func(ctx context.Context, object string) io.WriteCloser
}

var _ StatementArchive = (*Archive)(nil)

// NewArchive opens a storage client using Application Default Credentials.
func NewArchive(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Archive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage bucket cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a := newArchive(cfg, logger)
	a.client = client
	a.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := client.Bucket(cfg.Bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/pdf"
		return w
	}
	return a, nil
}

func newArchive(cfg config.StorageConfig, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default()
	}
	return &Archive{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: log.With("component", "statement_archive"),
	}
}

// Archive uploads content and returns its gs:// URI.
func (a *Archive) Archive(ctx context.Context, userID, statementID uuid.UUID, content []byte) (string, error) {
	object := a.objectName(userID, statementID)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.newWriter(ctx, object)
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write statement object %q: %w", object, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize statement object %q: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", a.bucket, object)
	logger.FromContextOrDefault(ctx, a.logger).Debug("archived statement",
		slog.String("uri", uri),
		slog.Int("bytes", len(content)))
	return uri, nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Archive) objectName(userID, statementID uuid.UUID) string {
	return path.Join(a.prefix, userID.String(), statementID.String()+".pdf")
}

// NoopArchive discards statements. Used when no bucket is configured.
type NoopArchive struct{}

// Archive implements StatementArchive.
func (NoopArchive) Archive(context.Context, uuid.UUID, uuid.UUID, []byte) (string, error) {
	return "", nil
}
