package entity

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrInfoBlockNotFound indicates an info-block was not found
	ErrInfoBlockNotFound = errors.New("info-block not found")

	// ErrElementNotFound indicates an element was not found
	ErrElementNotFound = errors.New("element not found")

	// ErrFileNotFound indicates a file was not found
	ErrFileNotFound = errors.New("file not found")

	// ErrObjectNotFound indicates a blob store has no object under a key
	ErrObjectNotFound = errors.New("object not found")

	// ErrNotFound is returned by Get when no entity matches
	ErrNotFound = errors.New("entity not found")

	// ErrNoPrimaryKey indicates a struct has no primary key field
	ErrNoPrimaryKey = errors.New("no primary key field")

	// ErrDuplicateCode indicates two fields share a storage code
	ErrDuplicateCode = errors.New("duplicate storage code")

	// ErrDuplicateRole indicates two fields claim the same special role
	ErrDuplicateRole = errors.New("duplicate field role")

	// ErrUnknownType indicates a field type has no codec
	ErrUnknownType = errors.New("no codec for field type")

	// ErrNotStruct indicates the mapped type is not a struct
	ErrNotStruct = errors.New("mapped type is not a struct")

	// ErrUnknownField indicates a query referenced an unmapped field
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownOperator indicates a query used an unsupported operator
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidDirection indicates a sort direction other than asc or desc
	ErrInvalidDirection = errors.New("invalid sort direction")

	// ErrBlobStoreRequired indicates a file operation without a configured blob store
	ErrBlobStoreRequired = errors.New("blob store is required")
)

// MappingError reports a structurally invalid entity mapping.
type MappingError struct {
	Type  string
	Field string
	Err   error
}

func (e *MappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("mapping of %s.%s failed: %v", e.Type, e.Field, e.Err)
	}
	return fmt.Sprintf("mapping of %s failed: %v", e.Type, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// SchemaError reports a failed info-block or property operation.
type SchemaError struct {
	InfoBlock string
	Property  string
	Op        string
	Err       error
}

func (e *SchemaError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("schema operation %s failed for property %s of info-block %s: %v", e.Op, e.Property, e.InfoBlock, e.Err)
	}
	return fmt.Sprintf("schema operation %s failed for info-block %s: %v", e.Op, e.InfoBlock, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed element write.
type PersistenceError struct {
	InfoBlock string
	ElementID int64
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("element operation %s failed for element %d in info-block %s: %v", e.Op, e.ElementID, e.InfoBlock, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TypeMismatchError reports a stored primitive that could not be decoded.
type TypeMismatchError struct {
	Field string
	Kind  Kind
	Value string
	Err   error
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot decode %q into %s field %s: %v", e.Value, e.Kind, e.Field, e.Err)
}

func (e *TypeMismatchError) Unwrap() error {
	return e.Err
}

// QueryError reports an invalid where or order clause.
type QueryError struct {
	Type  string
	Field string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %s failed for field %q: %v", e.Type, e.Field, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
