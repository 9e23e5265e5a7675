package entity

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/tendant/simple-entity/pkg/entity/objectkey"
)

// ChecksumAlgorithm names the hash recorded for uploaded files.
const ChecksumAlgorithm = "blake3"

// FileUpload describes content to store as a file property value.
type FileUpload struct {
	Name        string
	ContentType string
	Reader      io.Reader
	// Scope groups the stored object, e.g. by info-block code. Optional.
	Scope string
}

// UploadFile stores the content in the configured blob store, registers it
// with the repository and returns the reference to assign to a file field.
func (m *Mapper) UploadFile(ctx context.Context, upload FileUpload) (FileRef, error) {
	if m.blobStore == nil {
		return 0, ErrBlobStoreRequired
	}
	if upload.Reader == nil {
		return 0, fmt.Errorf("upload %q: no content", upload.Name)
	}

	key := m.keys.GenerateKey(uuid.New(), &objectkey.KeyMetadata{
		FileName:    upload.Name,
		ContentType: upload.ContentType,
		Scope:       upload.Scope,
	})

	hasher := blake3.New()
	counter := &countingWriter{}
	reader := io.TeeReader(upload.Reader, io.MultiWriter(hasher, counter))
	if err := m.blobStore.Upload(ctx, key, reader); err != nil {
		return 0, fmt.Errorf("upload %q: %w", upload.Name, err)
	}

	file := &File{
		Backend:           m.backend,
		ObjectKey:         key,
		FileName:          upload.Name,
		ContentType:       upload.ContentType,
		Size:              counter.n,
		Checksum:          hex.EncodeToString(hasher.Sum(nil)),
		ChecksumAlgorithm: ChecksumAlgorithm,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.repository.CreateFile(ctx, file); err != nil {
		if delErr := m.blobStore.Delete(ctx, key); delErr != nil {
			m.logger.Warn("failed to remove orphaned object", "key", key, "err", delErr)
		}
		return 0, fmt.Errorf("register file %q: %w", upload.Name, err)
	}
	m.logger.Debug("file uploaded", "file_id", file.ID, "key", key, "size", file.Size)
	return FileRef(file.ID), nil
}

// OpenFile returns the record and content of a stored file.
// The caller must close the reader.
func (m *Mapper) OpenFile(ctx context.Context, ref FileRef) (*File, io.ReadCloser, error) {
	if m.blobStore == nil {
		return nil, nil, ErrBlobStoreRequired
	}
	file, err := m.repository.GetFile(ctx, int64(ref))
	if err != nil {
		return nil, nil, err
	}
	rc, err := m.blobStore.Download(ctx, file.ObjectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open file %d: %w", ref, err)
	}
	return file, rc, nil
}

// FileURL returns a download URL for a stored file.
func (m *Mapper) FileURL(ctx context.Context, ref FileRef) (string, error) {
	if m.blobStore == nil {
		return "", ErrBlobStoreRequired
	}
	file, err := m.repository.GetFile(ctx, int64(ref))
	if err != nil {
		return "", err
	}
	return m.blobStore.GetDownloadURL(ctx, file.ObjectKey, file.FileName)
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
