package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-entity/pkg/entity"
)

// Repository implements entity.Repository using in-memory storage
type Repository struct {
	mu         sync.RWMutex
	seq        int64
	iblocks    map[int64]*entity.InfoBlock
	properties map[int64]*entity.Property
	enums      map[int64]*entity.PropertyEnum
	elements   map[int64]*entity.Element
	files      map[int64]*entity.File
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		iblocks:    make(map[int64]*entity.InfoBlock),
		properties: make(map[int64]*entity.Property),
		enums:      make(map[int64]*entity.PropertyEnum),
		elements:   make(map[int64]*entity.Element),
		files:      make(map[int64]*entity.File),
	}
}

func (r *Repository) nextID() int64 {
	r.seq++
	return r.seq
}

// Info-block operations

func (r *Repository) FindInfoBlock(ctx context.Context, iblockType, code string) (*entity.InfoBlock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ib := range r.iblocks {
		if ib.Type == iblockType && ib.Code == code {
			ibCopy := *ib
			return &ibCopy, nil
		}
	}
	return nil, entity.ErrInfoBlockNotFound
}

func (r *Repository) CreateInfoBlock(ctx context.Context, iblock *entity.InfoBlock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ib := range r.iblocks {
		if ib.Type == iblock.Type && ib.Code == iblock.Code {
			return fmt.Errorf("info-block %s/%s already exists", iblock.Type, iblock.Code)
		}
	}
	iblock.ID = r.nextID()
	if iblock.CreatedAt.IsZero() {
		iblock.CreatedAt = time.Now().UTC()
	}
	ibCopy := *iblock
	r.iblocks[iblock.ID] = &ibCopy
	return nil
}

// Property definition operations

func (r *Repository) ListProperties(ctx context.Context, iblockID int64) ([]*entity.Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.Property
	for _, p := range r.properties {
		if p.InfoBlockID == iblockID {
			pCopy := *p
			result = append(result, &pCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Sort != result[j].Sort {
			return result[i].Sort < result[j].Sort
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *Repository) CreateProperty(ctx context.Context, property *entity.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.iblocks[property.InfoBlockID]; !ok {
		return entity.ErrInfoBlockNotFound
	}
	for _, p := range r.properties {
		if p.InfoBlockID == property.InfoBlockID && p.Code == property.Code {
			return fmt.Errorf("property %s already exists", property.Code)
		}
	}
	property.ID = r.nextID()
	pCopy := *property
	r.properties[property.ID] = &pCopy
	return nil
}

func (r *Repository) UpdateProperty(ctx context.Context, property *entity.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.properties[property.ID]; !ok {
		return fmt.Errorf("property %d not found", property.ID)
	}
	pCopy := *property
	r.properties[property.ID] = &pCopy
	return nil
}

// Enum option operations

func (r *Repository) ListPropertyEnums(ctx context.Context, filter entity.PropertyEnumFilter) ([]*entity.PropertyEnum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.PropertyEnum
	for _, e := range r.enums {
		if filter.PropertyID != 0 && e.PropertyID != filter.PropertyID {
			continue
		}
		if filter.XMLID != "" && e.XMLID != filter.XMLID {
			continue
		}
		if filter.Value != "" && e.Value != filter.Value {
			continue
		}
		eCopy := *e
		result = append(result, &eCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *Repository) CreatePropertyEnum(ctx context.Context, enum *entity.PropertyEnum) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.properties[enum.PropertyID]; !ok {
		return fmt.Errorf("property %d not found", enum.PropertyID)
	}
	enum.ID = r.nextID()
	eCopy := *enum
	r.enums[enum.ID] = &eCopy
	return nil
}

// Element operations

func (r *Repository) CreateElement(ctx context.Context, element *entity.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.iblocks[element.InfoBlockID]; !ok {
		return entity.ErrInfoBlockNotFound
	}
	now := time.Now().UTC()
	element.ID = r.nextID()
	element.CreatedAt = now
	element.UpdatedAt = now
	r.elements[element.ID] = copyElement(element)
	return nil
}

func (r *Repository) UpdateElement(ctx context.Context, id int64, update entity.ElementUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.elements[id]
	if !ok {
		return entity.ErrElementNotFound
	}
	if update.Name != nil {
		el.Name = *update.Name
	}
	if update.Active != nil {
		el.Active = *update.Active
	}
	for code, v := range update.Properties {
		if v == "" {
			delete(el.Properties, code)
			continue
		}
		el.Properties[code] = v
	}
	el.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) GetElement(ctx context.Context, id int64) (*entity.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	el, ok := r.elements[id]
	if !ok {
		return nil, entity.ErrElementNotFound
	}
	return copyElement(el), nil
}

// ListElements returns a cursor over the matching elements. The filter runs
// once on the first Next; pages then hold the current copies of those elements.
func (r *Repository) ListElements(ctx context.Context, params entity.ListElementsParams) (entity.ElementCursor, error) {
	for _, c := range params.Conditions {
		if _, _, err := entity.ResolveKey(c.Key); err != nil {
			return nil, err
		}
		if c.Op != entity.OpEqual && c.Op != entity.OpSubstring {
			return nil, fmt.Errorf("%w: %q", entity.ErrUnknownOperator, c.Op)
		}
	}
	for _, s := range params.Sort {
		if _, _, err := entity.ResolveKey(s.Key); err != nil {
			return nil, err
		}
	}

	resolve := func(ctx context.Context) ([]int64, error) {
		matches := r.match(params)
		ids := make([]int64, len(matches))
		for i, el := range matches {
			ids[i] = el.ID
		}
		return ids, nil
	}
	return entity.NewPagedCursor(params.PageSize, resolve, r.load), nil
}

func (r *Repository) load(ctx context.Context, ids []int64) ([]*entity.Element, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page := make([]*entity.Element, 0, len(ids))
	for _, id := range ids {
		if el, ok := r.elements[id]; ok {
			page = append(page, copyElement(el))
		}
	}
	return page, nil
}

func (r *Repository) match(params entity.ListElementsParams) []*entity.Element {
	r.mu.RLock()
	defer r.mu.RUnlock()

	numeric := make(map[string]bool)
	for _, p := range r.properties {
		if p.InfoBlockID == params.InfoBlockID && p.Type == entity.PropertyTypeNumber {
			numeric[entity.PropertyKey(p.Code)] = true
		}
	}
	numeric[entity.FieldID] = true

	var result []*entity.Element
	for _, el := range r.elements {
		if el.InfoBlockID != params.InfoBlockID || !Matches(el, params.Conditions) {
			continue
		}
		result = append(result, copyElement(el))
	}

	sort.SliceStable(result, func(i, j int) bool {
		for _, s := range params.Sort {
			c := compare(Value(result[i], s.Key), Value(result[j], s.Key), numeric[s.Key])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Value returns the stored value an element holds under a filter key.
func Value(el *entity.Element, key string) string {
	switch key {
	case entity.FieldID:
		return strconv.FormatInt(el.ID, 10)
	case entity.FieldName:
		return el.Name
	case entity.FieldActive:
		if el.Active {
			return entity.ActiveYes
		}
		return entity.ActiveNo
	}
	code, _ := entity.PropertyCode(key)
	return el.Property(code)
}

// Matches reports whether el satisfies every condition.
func Matches(el *entity.Element, conditions []entity.Condition) bool {
	for _, c := range conditions {
		v := Value(el, c.Key)
		switch c.Op {
		case entity.OpSubstring:
			if !strings.Contains(strings.ToLower(v), strings.ToLower(c.Value)) {
				return false
			}
		default:
			if v != c.Value {
				return false
			}
		}
	}
	return true
}

// compare orders stored values. Empty values sort first; numeric keys
// compare as integers.
func compare(a, b string, numeric bool) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	if numeric {
		x, errA := strconv.ParseInt(a, 10, 64)
		y, errB := strconv.ParseInt(b, 10, 64)
		if errA == nil && errB == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

// File registry operations

func (r *Repository) CreateFile(ctx context.Context, file *entity.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file.ID = r.nextID()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	fCopy := *file
	r.files[file.ID] = &fCopy
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id int64) (*entity.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, entity.ErrFileNotFound
	}
	fCopy := *f
	return &fCopy, nil
}

func copyElement(el *entity.Element) *entity.Element {
	elCopy := *el
	elCopy.Properties = make(map[string]string, len(el.Properties))
	maps.Copy(elCopy.Properties, el.Properties)
	return &elCopy
}
