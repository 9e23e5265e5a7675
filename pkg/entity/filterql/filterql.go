// Package filterql parses a small text query language into entity selects.
//
//	author % "stevenson" and isShow = true order by pagesNum desc, id
//
// Conditions are joined with "and". Operators are "=" (equality) and "%"
// (case-insensitive substring). Values are double-quoted strings, integers,
// true, false and null. Keywords are case-insensitive.
package filterql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/tendant/simple-entity/pkg/entity"
)

// ErrSyntax is returned for input that does not parse.
var ErrSyntax = errors.New("invalid query")

// Query is a parsed filter expression.
type Query struct {
	Conditions []*Condition `parser:"( @@ ( 'and' @@ )* )?"`
	Order      []*Order     `parser:"( 'order' 'by' @@ ( ',' @@ )* )?"`
}

// Condition is one field comparison.
type Condition struct {
	Pos lexer.Position

	Field string `parser:"@Ident"`
	Op    string `parser:"@( '=' | '%' )"`
	Value *Value `parser:"@@"`
}

// Order is one sort key.
type Order struct {
	Pos lexer.Position

	Field     string `parser:"@Ident"`
	Direction string `parser:"@( 'asc' | 'desc' )?"`
}

// Value is a literal operand.
type Value struct {
	Text *string  `parser:"  @String"`
	Int  *int64   `parser:"| @Int"`
	Bool *Boolean `parser:"| @( 'true' | 'false' )"`
	Null bool     `parser:"| @'null'"`
}

// Boolean captures the true and false keywords.
type Boolean bool

func (b *Boolean) Capture(values []string) error {
	*b = strings.EqualFold(values[0], "true")
	return nil
}

// Any returns the Go value passed to Select.Where.
func (v *Value) Any() any {
	switch {
	case v.Text != nil:
		return *v.Text
	case v.Int != nil:
		return *v.Int
	case v.Bool != nil:
		return bool(*v.Bool)
	}
	return nil
}

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(and|order|by|asc|desc|true|false|null)\b`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Int", Pattern: `-?\d+`},
	{Name: "Punct", Pattern: `[=%,]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[Query](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
	participle.CaseInsensitive("Keyword"),
	participle.Elide("Whitespace"),
)

// Parse parses a filter expression. An empty or blank input yields an empty query.
func Parse(input string) (*Query, error) {
	if strings.TrimSpace(input) == "" {
		return &Query{}, nil
	}
	q, err := parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return q, nil
}

// String renders the query back in filterql syntax.
func (q *Query) String() string {
	var b strings.Builder
	for i, c := range q.Conditions {
		if i > 0 {
			b.WriteString(" and ")
		}
		fmt.Fprintf(&b, "%s %s %s", c.Field, c.Op, c.Value)
	}
	if len(q.Order) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("order by ")
		for i, o := range q.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Field)
			if o.Direction != "" {
				b.WriteString(" " + strings.ToLower(o.Direction))
			}
		}
	}
	return b.String()
}

func (v *Value) String() string {
	switch {
	case v.Text != nil:
		return fmt.Sprintf("%q", *v.Text)
	case v.Int != nil:
		return fmt.Sprint(*v.Int)
	case v.Bool != nil:
		return fmt.Sprint(bool(*v.Bool))
	}
	return "null"
}

// Apply adds the query's conditions and ordering to sel. Invalid field
// names or values surface as the select's QueryError.
func Apply[T any](sel *entity.Select[T], q *Query) *entity.Select[T] {
	for _, c := range q.Conditions {
		sel = sel.Where(c.Field, c.Op, c.Value.Any())
	}
	for _, o := range q.Order {
		sel = sel.OrderBy(o.Field, o.Direction)
	}
	return sel
}

// Select parses input and applies it to a fresh select over T.
func Select[T any](m *entity.Mapper, input string) (*entity.Select[T], error) {
	q, err := Parse(input)
	if err != nil {
		return nil, err
	}
	sel := Apply(entity.From[T](m), q)
	if err := sel.Err(); err != nil {
		return nil, err
	}
	return sel, nil
}
