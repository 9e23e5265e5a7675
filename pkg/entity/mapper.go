package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/tendant/simple-entity/pkg/entity/objectkey"
)

// DefaultPageSize is the number of elements a select loads per round-trip.
const DefaultPageSize = 50

// Mapper projects mapped structs onto a Repository.
// A Mapper is safe for concurrent use.
type Mapper struct {
	repository Repository
	blobStore  BlobStore
	backend    string
	eventSink  EventSink
	logger     *slog.Logger
	location   *time.Location
	pageSize   int
	keys       objectkey.Generator

	mu      sync.RWMutex
	iblocks map[InfoBlockSpec]*InfoBlock
	enums   map[enumKey]string
}

type enumKey struct {
	iblockID int64
	code     string
}

// Option represents a functional option for configuring the mapper
type Option func(*Mapper)

// WithRepository sets the repository for the mapper
func WithRepository(repo Repository) Option {
	return func(m *Mapper) {
		m.repository = repo
	}
}

// WithBlobStore sets the blob store holding uploaded files and the backend
// name recorded on them
func WithBlobStore(name string, store BlobStore) Option {
	return func(m *Mapper) {
		m.backend = name
		m.blobStore = store
	}
}

// WithEventSink sets the event sink for the mapper
func WithEventSink(sink EventSink) Option {
	return func(m *Mapper) {
		m.eventSink = sink
	}
}

// WithLogger sets the logger for the mapper
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// WithLocation sets the time zone date-times are stored in
func WithLocation(loc *time.Location) Option {
	return func(m *Mapper) {
		m.location = loc
	}
}

// WithPageSize sets how many elements a select loads per round-trip
func WithPageSize(n int) Option {
	return func(m *Mapper) {
		m.pageSize = n
	}
}

// WithObjectKeyGenerator sets the generator naming uploaded files
func WithObjectKeyGenerator(gen objectkey.Generator) Option {
	return func(m *Mapper) {
		m.keys = gen
	}
}

// New creates a new mapper with the given options
func New(options ...Option) (*Mapper, error) {
	m := &Mapper{
		eventSink: NewNoopEventSink(),
		logger:    slog.Default(),
		location:  time.UTC,
		pageSize:  DefaultPageSize,
		keys:      objectkey.NewRecommendedGenerator(),
		iblocks:   make(map[InfoBlockSpec]*InfoBlock),
		enums:     make(map[enumKey]string),
	}

	for _, option := range options {
		option(m)
	}

	if m.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if m.pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", m.pageSize)
	}
	if m.location == nil {
		m.location = time.UTC
	}
	return m, nil
}

// Repository returns the repository the mapper writes to.
func (m *Mapper) Repository() Repository { return m.repository }

// Location returns the time zone date-times are stored in.
func (m *Mapper) Location() *time.Location { return m.location }

// InfoBlockOf returns the stored info-block of the mapped type.
// It returns ErrInfoBlockNotFound until the schema has been built.
func (m *Mapper) InfoBlockOf(ctx context.Context, em *EntityMap) (*InfoBlock, error) {
	m.mu.RLock()
	cached, ok := m.iblocks[em.InfoBlock]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	iblock, err := m.repository.FindInfoBlock(ctx, em.InfoBlock.Type, em.InfoBlock.Code)
	if err != nil {
		return nil, err
	}
	m.rememberInfoBlock(em.InfoBlock, iblock)
	return iblock, nil
}

func (m *Mapper) rememberInfoBlock(spec InfoBlockSpec, iblock *InfoBlock) {
	m.mu.Lock()
	m.iblocks[spec] = iblock
	m.mu.Unlock()
}

// yesEnum returns the id of the option meaning "yes" of a boolean property.
func (m *Mapper) yesEnum(ctx context.Context, iblockID int64, code string) (string, error) {
	key := enumKey{iblockID: iblockID, code: code}
	m.mu.RLock()
	id, ok := m.enums[key]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}

	props, err := m.repository.ListProperties(ctx, iblockID)
	if err != nil {
		return "", err
	}
	var prop *Property
	for _, p := range props {
		if p.Code == code {
			prop = p
			break
		}
	}
	if prop == nil {
		return "", fmt.Errorf("property %s of info-block %d is not defined", code, iblockID)
	}

	enums, err := m.repository.ListPropertyEnums(ctx, PropertyEnumFilter{PropertyID: prop.ID, XMLID: ActiveYes})
	if err != nil {
		return "", err
	}
	if len(enums) == 0 {
		return "", fmt.Errorf("property %s has no %q option", code, ActiveYes)
	}
	id = FormatInteger(enums[0].ID)
	m.rememberEnum(iblockID, code, id)
	return id, nil
}

func (m *Mapper) rememberEnum(iblockID int64, code, id string) {
	m.mu.Lock()
	m.enums[enumKey{iblockID: iblockID, code: code}] = id
	m.mu.Unlock()
}

func (m *Mapper) codecContext(iblock *InfoBlock, f *FieldMap) CodecContext {
	return CodecContext{
		Field:    f,
		Location: m.location,
		Enum: func(ctx context.Context, code string) (string, error) {
			return m.yesEnum(ctx, iblock.ID, code)
		},
	}
}

// encode converts every non-key field of rv to its storage form, keyed by FieldMap.Key.
func (m *Mapper) encode(ctx context.Context, em *EntityMap, iblock *InfoBlock, rv reflect.Value) (map[string]string, error) {
	values := make(map[string]string, len(em.fields))
	for _, f := range em.fields {
		v := fieldValue(rv.FieldByIndex(f.index))
		switch f.Role {
		case RolePrimaryKey:
			continue
		case RoleName:
			s, err := stringCodec{}.Encode(ctx, m.codecContext(iblock, f), v)
			if err != nil {
				return nil, err
			}
			values[FieldName] = s
		case RoleActive:
			b, err := asBool(v)
			if err != nil {
				return nil, mismatch(m.codecContext(iblock, f), KindBoolean, fmt.Sprint(v), err)
			}
			values[FieldActive] = encodeActive(b)
		default:
			codec, ok := CodecFor(f.Kind)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownType, f.Kind)
			}
			s, err := codec.Encode(ctx, m.codecContext(iblock, f), v)
			if err != nil {
				return nil, err
			}
			values[f.Key()] = s
		}
	}
	return values, nil
}

// decode populates rv from a stored element.
func (m *Mapper) decode(em *EntityMap, iblock *InfoBlock, el *Element, rv reflect.Value) error {
	for _, f := range em.fields {
		cc := m.codecContext(iblock, f)
		var decoded any
		switch f.Role {
		case RolePrimaryKey:
			decoded = el.ID
		case RoleName:
			decoded = el.Name
		case RoleActive:
			decoded = el.Active
		default:
			codec, ok := CodecFor(f.Kind)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownType, f.Kind)
			}
			var err error
			if decoded, err = codec.Decode(cc, el.Property(f.Code)); err != nil {
				return err
			}
		}
		if err := assign(cc, rv.FieldByIndex(f.index), decoded); err != nil {
			return err
		}
	}
	return nil
}

// load builds a new T from a stored element and records its snapshot.
func (m *Mapper) load(ctx context.Context, em *EntityMap, iblock *InfoBlock, el *Element) (reflect.Value, error) {
	ptr := reflect.New(em.typ)
	if err := m.decode(em, iblock, el, ptr.Elem()); err != nil {
		return reflect.Value{}, err
	}
	if tr, ok := ptr.Interface().(trackable); ok {
		values, err := m.encode(ctx, em, iblock, ptr.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		tr.trackedState().reset(values)
	}
	return ptr, nil
}

func encodeActive(b bool) string {
	if b {
		return ActiveYes
	}
	return ActiveNo
}

func primaryKey(em *EntityMap, rv reflect.Value) int64 {
	v := fieldValue(rv.FieldByIndex(em.PrimaryKey.index))
	if v == nil {
		return 0
	}
	pk := reflect.ValueOf(v)
	switch pk.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return pk.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(pk.Uint())
	}
	return 0
}

// PrimaryKeyOf returns the primary key of entity; zero means not yet saved.
func PrimaryKeyOf[T any](entity *T) (int64, error) {
	em, err := MapOf[T]()
	if err != nil {
		return 0, err
	}
	return primaryKey(em, reflect.ValueOf(entity).Elem()), nil
}

// SetPrimaryKey assigns id to the primary key field of entity.
func SetPrimaryKey[T any](entity *T, id int64) error {
	em, err := MapOf[T]()
	if err != nil {
		return err
	}
	dst := reflect.ValueOf(entity).Elem().FieldByIndex(em.PrimaryKey.index)
	return assign(CodecContext{Field: em.PrimaryKey}, dst, id)
}

// Save persists entity and returns its primary key. New entities (zero key)
// are created and receive their key; existing ones are updated with the
// fields that changed since they were loaded or last saved.
func Save[T any](ctx context.Context, m *Mapper, entity *T) (int64, error) {
	em, err := MapOf[T]()
	if err != nil {
		return 0, err
	}
	if entity == nil {
		return 0, &PersistenceError{InfoBlock: em.InfoBlock.Code, Op: "save", Err: errors.New("nil entity")}
	}
	return m.save(ctx, em, reflect.ValueOf(entity).Elem())
}

func (m *Mapper) save(ctx context.Context, em *EntityMap, rv reflect.Value) (int64, error) {
	id := primaryKey(em, rv)
	op := "update"
	if id == 0 {
		op = "create"
	}
	fail := func(err error) (int64, error) {
		return id, &PersistenceError{InfoBlock: em.InfoBlock.Code, ElementID: id, Op: op, Err: err}
	}

	iblock, err := m.InfoBlockOf(ctx, em)
	if err != nil {
		return fail(err)
	}
	values, err := m.encode(ctx, em, iblock, rv)
	if err != nil {
		return fail(err)
	}

	var tracked *Tracked
	if tr, ok := rv.Addr().Interface().(trackable); ok {
		tracked = tr.trackedState()
	}

	if id == 0 {
		el := &Element{
			InfoBlockID: iblock.ID,
			Name:        values[FieldName],
			Active:      em.Active == nil || values[FieldActive] == ActiveYes,
			Properties:  make(map[string]string),
		}
		for _, f := range em.Properties() {
			if s := values[f.Key()]; s != "" {
				el.Properties[f.Code] = s
			}
		}
		if err := m.repository.CreateElement(ctx, el); err != nil {
			return fail(err)
		}
		id = el.ID
		if err := assign(CodecContext{Field: em.PrimaryKey}, rv.FieldByIndex(em.PrimaryKey.index), el.ID); err != nil {
			return fail(err)
		}
		if tracked != nil {
			tracked.reset(values)
		}
		if err := m.eventSink.ElementCreated(ctx, iblock, el); err != nil {
			m.logger.Warn("event sink failed", "event", "element_created", "element_id", id, "err", err)
		}
		return id, nil
	}

	changed := values
	if tracked != nil && tracked.snapshot != nil {
		changed = diff(tracked.snapshot, values)
	}
	if len(changed) == 0 {
		m.logger.Debug("save skipped, entity unchanged", "iblock", iblock.Code, "element_id", id)
		return id, nil
	}

	update := elementUpdate(changed)
	if err := m.repository.UpdateElement(ctx, id, update); err != nil {
		return fail(err)
	}
	if tracked != nil {
		tracked.reset(values)
	}
	if err := m.eventSink.ElementUpdated(ctx, iblock, id, update); err != nil {
		m.logger.Warn("event sink failed", "event", "element_updated", "element_id", id, "err", err)
	}
	return id, nil
}

func diff(snapshot, values map[string]string) map[string]string {
	changed := make(map[string]string)
	for k, v := range values {
		if snapshot[k] != v {
			changed[k] = v
		}
	}
	return changed
}

func elementUpdate(changed map[string]string) ElementUpdate {
	var update ElementUpdate
	for key, v := range changed {
		switch key {
		case FieldName:
			name := v
			update.Name = &name
		case FieldActive:
			active := v == ActiveYes
			update.Active = &active
		default:
			code, _ := PropertyCode(key)
			if update.Properties == nil {
				update.Properties = make(map[string]string)
			}
			update.Properties[code] = v
		}
	}
	return update
}
