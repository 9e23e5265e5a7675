package entity

import (
	"fmt"
	"strings"
	"time"
)

// PropertyType is the platform's storage type tag of a property.
type PropertyType string

// Property type constants.
const (
	PropertyTypeString PropertyType = "S"
	PropertyTypeNumber PropertyType = "N"
	PropertyTypeList   PropertyType = "L"
)

// User type and list type hints understood by the platform.
const (
	UserTypeDateTime = "DateTime"
	ListTypeCheckbox = "C"
)

// Element column keys used in filters and sort clauses. Properties are
// addressed as PropertyKey(code).
const (
	FieldID     = "ID"
	FieldName   = "NAME"
	FieldActive = "ACTIVE"

	propertyPrefix = "PROPERTY_"
)

// Platform encoding of the active flag.
const (
	ActiveYes = "Y"
	ActiveNo  = "N"
)

// PropertyKey returns the filter/sort key addressing the property with the given code.
func PropertyKey(code string) string {
	return propertyPrefix + code
}

// PropertyCode reports the property code addressed by key, if key is a property key.
func PropertyCode(key string) (string, bool) {
	if !strings.HasPrefix(key, propertyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, propertyPrefix), true
}

// ResolveKey validates a filter or sort key. For element columns it returns
// the column key and an empty code; for properties it returns the property
// code as well.
func ResolveKey(key string) (column, code string, err error) {
	switch key {
	case FieldID, FieldName, FieldActive:
		return key, "", nil
	}
	if code, ok := PropertyCode(key); ok && isValidCode(code) {
		return propertyPrefix, code, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownField, key)
}

// Operator is a filter comparison understood by Repository.ListElements.
type Operator string

// Operator constants.
const (
	OpEqual     Operator = "="
	OpSubstring Operator = "%"
)

// InfoBlock is a typed container holding the elements of one entity type.
type InfoBlock struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Property is a field definition attached to an info-block.
type Property struct {
	ID          int64        `json:"id"`
	InfoBlockID int64        `json:"iblock_id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Type        PropertyType `json:"property_type"`
	UserType    string       `json:"user_type,omitempty"`
	ListType    string       `json:"list_type,omitempty"`
	Multiple    bool         `json:"multiple"`
	Sort        int          `json:"sort"`
}

// PropertyEnum is a selectable option of a list-typed property.
type PropertyEnum struct {
	ID         int64  `json:"id"`
	PropertyID int64  `json:"property_id"`
	XMLID      string `json:"xml_id"`
	Value      string `json:"value"`
	Default    bool   `json:"def"`
	Sort       int    `json:"sort"`
}

// PropertyEnumFilter selects enum options. Empty string fields are ignored.
type PropertyEnumFilter struct {
	PropertyID int64
	XMLID      string
	Value      string
}

// Element is one stored entity instance. Properties maps property codes to
// their primitive string values; an absent or empty value means "not set".
type Element struct {
	ID          int64             `json:"id"`
	InfoBlockID int64             `json:"iblock_id"`
	Name        string            `json:"name"`
	Active      bool              `json:"active"`
	Properties  map[string]string `json:"properties"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Property returns the stored value of the property with the given code.
func (e *Element) Property(code string) string {
	if e.Properties == nil {
		return ""
	}
	return e.Properties[code]
}

// ElementUpdate is a partial update of an element. Nil fields are left as is;
// an empty property value clears the property.
type ElementUpdate struct {
	Name       *string
	Active     *bool
	Properties map[string]string
}

// IsEmpty reports whether the update changes nothing.
func (u ElementUpdate) IsEmpty() bool {
	return u.Name == nil && u.Active == nil && len(u.Properties) == 0
}

// Condition is a single filter clause. Conditions are combined with AND.
type Condition struct {
	Key   string
	Op    Operator
	Value string
}

// SortField orders a listing by one key.
type SortField struct {
	Key  string
	Desc bool
}

// ListElementsParams describes a listing of the elements of one info-block.
type ListElementsParams struct {
	InfoBlockID int64
	Conditions  []Condition
	Sort        []SortField
	// PageSize bounds how many elements a cursor loads per round-trip.
	PageSize int
}

// File is a stored file registered with the platform.
type File struct {
	ID                int64     `json:"id"`
	Backend           string    `json:"backend"`
	ObjectKey         string    `json:"object_key"`
	FileName          string    `json:"file_name"`
	ContentType       string    `json:"content_type"`
	Size              int64     `json:"size"`
	Checksum          string    `json:"checksum,omitempty"`
	ChecksumAlgorithm string    `json:"checksum_algorithm,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ObjectMeta contains metadata about a blob in a BlobStore.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}
