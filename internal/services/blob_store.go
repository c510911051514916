package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"zporta/internal/observability"
	contextutils "zporta/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// BlobStoreInterface defines write-once blob storage under per-user prefixes
type BlobStoreInterface interface {
	// Save writes a blob and returns its storage name
	Save(ctx context.Context, userID int, extension string, data []byte) (string, error)
	// Open returns the blob contents for a storage name
	Open(ctx context.Context, name string) ([]byte, error)
}

// FileBlobStore stores blobs on the local filesystem. Names embed a UUID so
// every write lands on a new file; a rename publishes the finished file so
// readers never observe partial writes.
type FileBlobStore struct {
	root   string
	logger *observability.Logger
}

// NewFileBlobStore creates a blob store rooted at dir
func NewFileBlobStore(root string, logger *observability.Logger) *FileBlobStore {
	return &FileBlobStore{root: root, logger: logger}
}

// Save writes a blob and returns its storage name
func (s *FileBlobStore) Save(ctx context.Context, userID int, extension string, data []byte) (result0 string, err error) {
	ctx, span := observability.TracePodcastFunction(ctx, "save_blob",
		observability.AttributeUserID(userID),
		attribute.Int("blob.size", len(data)),
	)
	defer observability.FinishSpan(span, &err)

	name := filepath.Join(fmt.Sprintf("users/%d", userID), uuid.NewString()+"."+extension)
	path := filepath.Join(s.root, name)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", contextutils.WrapError(err, "failed to create blob directory")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", contextutils.WrapError(err, "failed to write blob")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", contextutils.WrapError(err, "failed to publish blob")
	}

	s.logger.Debug(ctx, "Blob stored", map[string]interface{}{"name": name, "size": len(data)})
	return name, nil
}

// Open returns the blob contents for a storage name
func (s *FileBlobStore) Open(ctx context.Context, name string) (result0 []byte, err error) {
	_, span := observability.TracePodcastFunction(ctx, "open_blob")
	defer observability.FinishSpan(span, &err)

	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, contextutils.ErrRecordNotFound
		}
		return nil, contextutils.WrapError(err, "failed to read blob")
	}
	return data, nil
}
