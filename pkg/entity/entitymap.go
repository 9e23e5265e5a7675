package entity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Kind is the closed set of mapped field types.
type Kind int

// Field kinds.
const (
	KindString Kind = iota + 1
	KindInteger
	KindBoolean
	KindDateTime
	KindFile
)

var kindNames = map[Kind]string{
	KindString:   "string",
	KindInteger:  "integer",
	KindBoolean:  "boolean",
	KindDateTime: "datetime",
	KindFile:     "file",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name as used in the `type=` tag option.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	return 0, false
}

// Role is the special meaning of a field.
type Role int

// Field roles.
const (
	RoleProperty Role = iota
	RolePrimaryKey
	RoleName
	RoleActive
)

// FileRef is the numeric identifier of a file registered with the platform.
type FileRef int64

// InfoBlockSpec identifies the info-block holding an entity type.
type InfoBlockSpec struct {
	Type string
	Code string
	Name string
}

// InfoBlockDescriber lets a mapped struct override its info-block identity.
// Empty fields fall back to the derived defaults.
type InfoBlockDescriber interface {
	InfoBlock() InfoBlockSpec
}

// DefaultInfoBlockType is the info-block type used when a struct does not name one.
const DefaultInfoBlockType = "entity"

// FieldMap describes one mapped struct field.
type FieldMap struct {
	Name  string // Go field name
	Code  string // storage code
	Label string // display name of the property
	Kind  Kind
	Role  Role

	index []int
	typ   reflect.Type
}

// Key returns the filter and sort key addressing the field in storage.
func (f *FieldMap) Key() string {
	switch f.Role {
	case RolePrimaryKey:
		return FieldID
	case RoleName:
		return FieldName
	case RoleActive:
		return FieldActive
	}
	return PropertyKey(f.Code)
}

// EntityMap is the immutable mapping of a struct type.
type EntityMap struct {
	InfoBlock  InfoBlockSpec
	PrimaryKey *FieldMap
	Name       *FieldMap
	Active     *FieldMap

	typ     reflect.Type
	fields  []*FieldMap
	byName  map[string]*FieldMap
	tracked bool
}

// Type returns the mapped struct type.
func (m *EntityMap) Type() reflect.Type { return m.typ }

// TypeName returns the mapped struct type's name.
func (m *EntityMap) TypeName() string { return m.typ.Name() }

// Tracked reports whether the struct embeds Tracked.
func (m *EntityMap) Tracked() bool { return m.tracked }

// Fields returns every mapped field in declaration order.
func (m *EntityMap) Fields() []*FieldMap {
	out := make([]*FieldMap, len(m.fields))
	copy(out, m.fields)
	return out
}

// Properties returns the fields stored as info-block properties.
func (m *EntityMap) Properties() []*FieldMap {
	var out []*FieldMap
	for _, f := range m.fields {
		if f.Role == RoleProperty {
			out = append(out, f)
		}
	}
	return out
}

// Field looks a field up by Go name, case-insensitively, falling back to its storage code.
func (m *EntityMap) Field(name string) (*FieldMap, bool) {
	f, ok := m.byName[strings.ToLower(name)]
	return f, ok
}

var (
	entityMaps   sync.Map // reflect.Type -> *EntityMap
	timeType     = reflect.TypeOf(time.Time{})
	fileRefType  = reflect.TypeOf(FileRef(0))
	trackedType  = reflect.TypeOf((*trackable)(nil)).Elem()
	describeType = reflect.TypeOf((*InfoBlockDescriber)(nil)).Elem()
)

// MapOf returns the entity map of T.
func MapOf[T any]() (*EntityMap, error) {
	return MapOfType(reflect.TypeOf((*T)(nil)).Elem())
}

// MapOfType returns the entity map of the struct type t (or pointer to it).
// Maps are built once per type; concurrent first calls may build twice but
// always yield equivalent maps.
func MapOfType(t reflect.Type) (*EntityMap, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := entityMaps.Load(t); ok {
		return cached.(*EntityMap), nil
	}
	em, err := buildEntityMap(t)
	if err != nil {
		return nil, err
	}
	actual, _ := entityMaps.LoadOrStore(t, em)
	return actual.(*EntityMap), nil
}

func buildEntityMap(t reflect.Type) (*EntityMap, error) {
	if t.Kind() != reflect.Struct {
		return nil, &MappingError{Type: t.String(), Err: ErrNotStruct}
	}

	em := &EntityMap{
		typ:     t,
		byName:  make(map[string]*FieldMap),
		tracked: reflect.PointerTo(t).Implements(trackedType),
	}
	codes := make(map[string]string)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		tag, ok := sf.Tag.Lookup("entity")
		if !ok || tag == "-" {
			continue
		}
		f, err := parseField(sf, tag)
		if err != nil {
			return nil, &MappingError{Type: t.Name(), Field: sf.Name, Err: err}
		}

		switch f.Role {
		case RolePrimaryKey:
			if em.PrimaryKey != nil {
				return nil, &MappingError{Type: t.Name(), Field: sf.Name, Err: fmt.Errorf("%w: pk", ErrDuplicateRole)}
			}
			em.PrimaryKey = f
		case RoleName:
			if em.Name != nil {
				return nil, &MappingError{Type: t.Name(), Field: sf.Name, Err: fmt.Errorf("%w: name", ErrDuplicateRole)}
			}
			em.Name = f
		case RoleActive:
			if em.Active != nil {
				return nil, &MappingError{Type: t.Name(), Field: sf.Name, Err: fmt.Errorf("%w: active", ErrDuplicateRole)}
			}
			em.Active = f
		default:
			lower := strings.ToLower(f.Code)
			if other, dup := codes[lower]; dup {
				return nil, &MappingError{Type: t.Name(), Field: sf.Name, Err: fmt.Errorf("%w: %q already used by %s", ErrDuplicateCode, f.Code, other)}
			}
			codes[lower] = sf.Name
		}

		em.fields = append(em.fields, f)
		em.byName[strings.ToLower(f.Name)] = f
	}

	if em.PrimaryKey == nil {
		return nil, &MappingError{Type: t.Name(), Err: ErrNoPrimaryKey}
	}
	for _, f := range em.fields {
		if f.Role != RoleProperty {
			continue
		}
		if _, taken := em.byName[strings.ToLower(f.Code)]; !taken {
			em.byName[strings.ToLower(f.Code)] = f
		}
	}

	em.InfoBlock = infoBlockSpecOf(t)
	return em, nil
}

func infoBlockSpecOf(t reflect.Type) InfoBlockSpec {
	spec := InfoBlockSpec{}
	if reflect.PointerTo(t).Implements(describeType) {
		spec = reflect.New(t).Interface().(InfoBlockDescriber).InfoBlock()
	}
	if spec.Type == "" {
		spec.Type = DefaultInfoBlockType
	}
	if spec.Code == "" {
		spec.Code = InfoBlockCode(t.Name())
	}
	if spec.Name == "" {
		spec.Name = t.Name()
	}
	return spec
}

func parseField(sf reflect.StructField, tag string) (*FieldMap, error) {
	parts := strings.Split(tag, ",")
	f := &FieldMap{
		Name:  sf.Name,
		Code:  strings.TrimSpace(parts[0]),
		Label: sf.Tag.Get("label"),
		index: sf.Index,
		typ:   sf.Type,
	}

	var explicit Kind
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "pk":
			f.Role = RolePrimaryKey
		case opt == "name":
			f.Role = RoleName
		case opt == "active":
			f.Role = RoleActive
		case strings.HasPrefix(opt, "type="):
			k, ok := ParseKind(strings.TrimPrefix(opt, "type="))
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownType, opt)
			}
			explicit = k
		case opt == "":
		default:
			return nil, fmt.Errorf("unknown tag option %q", opt)
		}
	}

	inferred, ok := inferKind(sf.Type)
	switch {
	case explicit != 0 && isInterface(sf.Type):
		f.Kind = explicit
	case explicit != 0:
		if !ok || !compatibleKind(explicit, inferred) {
			return nil, fmt.Errorf("%w: %s cannot hold %s", ErrUnknownType, sf.Type, explicit)
		}
		f.Kind = explicit
	case ok:
		f.Kind = inferred
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, sf.Type)
	}

	switch f.Role {
	case RolePrimaryKey:
		f.Code = FieldID
		if f.Kind != KindInteger {
			return nil, fmt.Errorf("%w: primary key must be an integer, got %s", ErrUnknownType, sf.Type)
		}
		// element ids are int64
		if t := sf.Type; !isInterface(t) && indirect(t).Bits() < 64 {
			return nil, fmt.Errorf("%w: primary key must be a 64-bit integer, got %s", ErrUnknownType, sf.Type)
		}
	case RoleName:
		f.Code = FieldName
		if f.Kind != KindString {
			return nil, fmt.Errorf("%w: name field must be a string, got %s", ErrUnknownType, sf.Type)
		}
	case RoleActive:
		f.Code = FieldActive
		if f.Kind != KindBoolean {
			return nil, fmt.Errorf("%w: active field must be a bool, got %s", ErrUnknownType, sf.Type)
		}
	default:
		if f.Code == "" {
			f.Code = DefaultCode(sf.Name)
		}
		if !isValidCode(f.Code) {
			return nil, fmt.Errorf("invalid storage code %q", f.Code)
		}
	}
	if f.Label == "" {
		f.Label = sf.Name
	}
	return f, nil
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func isInterface(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.NumMethod() == 0
}

func inferKind(t reflect.Type) (Kind, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == fileRefType:
		return KindFile, true
	case t == timeType:
		return KindDateTime, true
	}
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Bool:
		return KindBoolean, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInteger, true
	}
	return 0, false
}

func compatibleKind(explicit, inferred Kind) bool {
	if explicit == inferred {
		return true
	}
	// integer fields may carry file ids and vice versa
	return (explicit == KindFile && inferred == KindInteger) || (explicit == KindInteger && inferred == KindFile)
}
