package entity

import (
	"context"
	"io"
)

// Repository is the storage platform the mapper projects entities onto.
//
// Implementations return ErrInfoBlockNotFound, ErrElementNotFound and
// ErrFileNotFound for missing records so callers can use errors.Is.
type Repository interface {
	// Info-block operations
	FindInfoBlock(ctx context.Context, iblockType, code string) (*InfoBlock, error)
	CreateInfoBlock(ctx context.Context, iblock *InfoBlock) error

	// Property definition operations
	ListProperties(ctx context.Context, iblockID int64) ([]*Property, error)
	CreateProperty(ctx context.Context, property *Property) error
	UpdateProperty(ctx context.Context, property *Property) error

	// Enum option operations
	ListPropertyEnums(ctx context.Context, filter PropertyEnumFilter) ([]*PropertyEnum, error)
	CreatePropertyEnum(ctx context.Context, enum *PropertyEnum) error

	// Element operations
	CreateElement(ctx context.Context, element *Element) error
	UpdateElement(ctx context.Context, id int64, update ElementUpdate) error
	GetElement(ctx context.Context, id int64) (*Element, error)
	ListElements(ctx context.Context, params ListElementsParams) (ElementCursor, error)

	// File registry operations
	CreateFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, id int64) (*File, error)
}

// ElementCursor is a forward-only cursor over a listing.
type ElementCursor interface {
	// Next returns the next element, or nil and a nil error once exhausted.
	Next(ctx context.Context) (*Element, error)
	Close() error
}

// BlobStore stores the bytes behind file properties.
type BlobStore interface {
	// Upload stores content under objectKey
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// Download opens the content stored under objectKey
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes the content stored under objectKey
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// GetDownloadURL returns a URL for downloading content
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)
}

// EventSink receives notifications about successful writes.
type EventSink interface {
	// ElementCreated is fired after an element is created
	ElementCreated(ctx context.Context, iblock *InfoBlock, element *Element) error

	// ElementUpdated is fired after an element is updated
	ElementUpdated(ctx context.Context, iblock *InfoBlock, id int64, update ElementUpdate) error

	// SchemaChanged is fired when the schema builder creates or updates a definition
	SchemaChanged(ctx context.Context, iblock *InfoBlock, property *Property, op string) error
}
