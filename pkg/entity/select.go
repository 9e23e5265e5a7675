package entity

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"
)

// Sort directions accepted by OrderBy.
const (
	Asc  = "asc"
	Desc = "desc"
)

type clause struct {
	field *FieldMap
	op    Operator
	// value holds the encoded form, except for boolean properties whose
	// "yes" option id is only known once the info-block is resolved.
	value   string
	boolean *bool
}

type ordering struct {
	field *FieldMap
	desc  bool
}

// Select is an immutable query over the stored entities of type T.
// Where and OrderBy return new descriptors; the receiver is unchanged.
//
// Fetch keeps an iterator inside the Select, so a Select used with Fetch
// must not be shared between goroutines.
type Select[T any] struct {
	m       *Mapper
	em      *EntityMap
	err     error
	clauses []clause
	order   []ordering

	it *Iterator[T]
}

// From starts a select over the entities of type T.
func From[T any](m *Mapper) *Select[T] {
	em, err := MapOf[T]()
	return &Select[T]{m: m, em: em, err: err}
}

func (s *Select[T]) clone() *Select[T] {
	return &Select[T]{
		m:       s.m,
		em:      s.em,
		err:     s.err,
		clauses: append([]clause(nil), s.clauses...),
		order:   append([]ordering(nil), s.order...),
	}
}

func (s *Select[T]) typeName() string {
	if s.em == nil {
		return reflect.TypeOf((*T)(nil)).Elem().String()
	}
	return s.em.TypeName()
}

func (s *Select[T]) fail(field string, err error) *Select[T] {
	next := s.clone()
	if next.err == nil {
		next.err = &QueryError{Type: s.typeName(), Field: field, Err: err}
	}
	return next
}

// Err returns the first error recorded while building the select.
func (s *Select[T]) Err() error { return s.err }

// Where adds a filter on field. With one argument it matches equality; with
// two the first is the operator ("=" or "%") and the second the value. The
// "%" operator matches a case-insensitive substring.
func (s *Select[T]) Where(field string, args ...any) *Select[T] {
	if s.err != nil {
		return s.clone()
	}
	f, ok := s.em.Field(field)
	if !ok {
		return s.fail(field, ErrUnknownField)
	}

	op := OpEqual
	var value any
	switch len(args) {
	case 1:
		value = args[0]
	case 2:
		switch o := args[0].(type) {
		case string:
			op = Operator(o)
		case Operator:
			op = o
		default:
			return s.fail(field, fmt.Errorf("%w: %v", ErrUnknownOperator, args[0]))
		}
		if op != OpEqual && op != OpSubstring {
			return s.fail(field, fmt.Errorf("%w: %q", ErrUnknownOperator, op))
		}
		value = args[1]
	default:
		return s.fail(field, fmt.Errorf("where takes a value or an operator and a value, got %d arguments", len(args)))
	}

	c, err := s.makeClause(f, op, value)
	if err != nil {
		return s.fail(field, err)
	}
	next := s.clone()
	next.clauses = append(next.clauses, c)
	return next
}

func (s *Select[T]) makeClause(f *FieldMap, op Operator, value any) (clause, error) {
	c := clause{field: f, op: op}
	cc := CodecContext{Field: f, Location: s.m.location}

	if op == OpSubstring {
		if value == nil {
			return c, fmt.Errorf("substring match needs a value")
		}
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.String {
			c.value = rv.String()
		} else {
			c.value = fmt.Sprint(value)
		}
		return c, nil
	}

	switch {
	case f.Role == RoleActive:
		b, err := asBool(value)
		if err != nil {
			return c, mismatch(cc, KindBoolean, fmt.Sprint(value), err)
		}
		c.value = encodeActive(b)
	case f.Role == RolePrimaryKey:
		v, err := integerCodec{}.Encode(context.Background(), cc, value)
		if err != nil {
			return c, err
		}
		c.value = v
	case f.Kind == KindBoolean:
		b, err := asBool(value)
		if err != nil {
			return c, mismatch(cc, KindBoolean, fmt.Sprint(value), err)
		}
		c.boolean = &b
	default:
		codec, ok := CodecFor(f.Kind)
		if !ok {
			return c, fmt.Errorf("%w: %s", ErrUnknownType, f.Kind)
		}
		v, err := codec.Encode(context.Background(), cc, value)
		if err != nil {
			return c, err
		}
		c.value = v
	}
	return c, nil
}

// OrderBy adds a sort key. dir is "asc" or "desc", case-insensitively.
func (s *Select[T]) OrderBy(field, dir string) *Select[T] {
	if s.err != nil {
		return s.clone()
	}
	f, ok := s.em.Field(field)
	if !ok {
		return s.fail(field, ErrUnknownField)
	}
	var desc bool
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case Asc, "":
		desc = false
	case Desc:
		desc = true
	default:
		return s.fail(field, fmt.Errorf("%w: %q", ErrInvalidDirection, dir))
	}
	next := s.clone()
	next.order = append(next.order, ordering{field: f, desc: desc})
	return next
}

// params resolves the select into a storage listing request.
func (s *Select[T]) params(ctx context.Context, iblock *InfoBlock) (ListElementsParams, error) {
	params := ListElementsParams{
		InfoBlockID: iblock.ID,
		PageSize:    s.m.pageSize,
	}
	for _, c := range s.clauses {
		value := c.value
		if c.boolean != nil {
			value = ""
			if *c.boolean {
				id, err := s.m.yesEnum(ctx, iblock.ID, c.field.Code)
				if err != nil {
					return params, &QueryError{Type: s.typeName(), Field: c.field.Name, Err: err}
				}
				value = id
			}
		}
		params.Conditions = append(params.Conditions, Condition{Key: c.field.Key(), Op: c.op, Value: value})
	}
	for _, o := range s.order {
		params.Sort = append(params.Sort, SortField{Key: o.field.Key(), Desc: o.desc})
	}
	return params, nil
}

// Iterator returns a lazy cursor over the matching entities. Nothing is
// read from storage until the first call to Next.
func (s *Select[T]) Iterator(ctx context.Context) *Iterator[T] {
	return &Iterator[T]{sel: s, ctx: ctx}
}

// All returns the matching entities as a range-over-func sequence.
func (s *Select[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return s.Iterator(ctx).All()
}

// Fetch returns the next matching entity, or nil once all were returned.
// Successive calls walk the same result set.
func (s *Select[T]) Fetch(ctx context.Context) (*T, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.it == nil {
		s.it = s.Iterator(ctx)
	}
	return s.it.Next()
}

// FetchAll returns every matching entity. It returns an empty slice when
// nothing matches and stops at the first error.
func (s *Select[T]) FetchAll(ctx context.Context) ([]*T, error) {
	if s.err != nil {
		return nil, s.err
	}
	it := s.Iterator(ctx)
	defer it.Close()

	out := make([]*T, 0)
	for {
		v, err := it.Next()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return out, nil
		}
		out = append(out, v)
	}
}

// Get loads the entity of type T with the given primary key. It returns
// ErrNotFound when no such entity exists.
func Get[T any](ctx context.Context, m *Mapper, id int64) (*T, error) {
	em, err := MapOf[T]()
	if err != nil {
		return nil, err
	}
	iblock, err := m.InfoBlockOf(ctx, em)
	if err != nil {
		return nil, err
	}
	el, err := m.repository.GetElement(ctx, id)
	if errors.Is(err, ErrElementNotFound) {
		return nil, fmt.Errorf("%s %d: %w", em.TypeName(), id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if el.InfoBlockID != iblock.ID {
		return nil, fmt.Errorf("%s %d: %w", em.TypeName(), id, ErrNotFound)
	}
	ptr, err := m.load(ctx, em, iblock, el)
	if err != nil {
		return nil, err
	}
	return ptr.Interface().(*T), nil
}
