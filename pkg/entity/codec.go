package entity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/constraints"
)

// Date-time formats of the platform. Values are stored in DateTimeLayout and
// shown to users in DisplayDateTimeLayout.
const (
	DateTimeLayout        = "2006-01-02 15:04:05"
	DisplayDateTimeLayout = "02.01.2006 15:04:05"
)

var dateTimeInputLayouts = []string{
	DateTimeLayout,
	DisplayDateTimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"02.01.2006",
}

var errNotNumeric = errors.New("not a number")

// CodecContext carries what a codec needs beyond the value itself.
type CodecContext struct {
	Field    *FieldMap
	Location *time.Location
	// Enum resolves the option id representing "yes" for the boolean
	// property with the given code.
	Enum func(ctx context.Context, code string) (string, error)
}

func (cc CodecContext) location() *time.Location {
	if cc.Location == nil {
		return time.UTC
	}
	return cc.Location
}

func (cc CodecContext) fieldName() string {
	if cc.Field == nil {
		return ""
	}
	return cc.Field.Name
}

// Codec converts between in-memory values and storage primitives.
type Codec interface {
	// Encode converts v to its storage form. Nil encodes to the empty string.
	Encode(ctx context.Context, cc CodecContext, v any) (string, error)
	// Decode converts a stored primitive back. The empty string decodes to nil.
	Decode(cc CodecContext, raw string) (any, error)
}

var codecs = map[Kind]Codec{
	KindString:   stringCodec{},
	KindInteger:  integerCodec{},
	KindBoolean:  booleanCodec{},
	KindDateTime: dateTimeCodec{},
	KindFile:     fileCodec{},
}

// CodecFor returns the codec of kind k.
func CodecFor(k Kind) (Codec, bool) {
	c, ok := codecs[k]
	return c, ok
}

// FormatInteger renders any integer in its storage form.
func FormatInteger[N constraints.Integer](n N) string {
	if n < 0 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatUint(uint64(n), 10)
}

func mismatch(cc CodecContext, kind Kind, value string, err error) error {
	return &TypeMismatchError{Field: cc.fieldName(), Kind: kind, Value: value, Err: err}
}

type stringCodec struct{}

func (stringCodec) Encode(_ context.Context, cc CodecContext, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", mismatch(cc, KindString, fmt.Sprint(v), fmt.Errorf("unsupported type %T", v))
}

func (stringCodec) Decode(_ CodecContext, raw string) (any, error) {
	return raw, nil
}

type integerCodec struct{}

func (integerCodec) Encode(_ context.Context, cc CodecContext, v any) (string, error) {
	return encodeInteger(cc, KindInteger, v)
}

func (integerCodec) Decode(cc CodecContext, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return n, nil
	}
	return nil, mismatch(cc, KindInteger, raw, errNotNumeric)
}

func encodeInteger(cc CodecContext, kind Kind, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return FormatInteger(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FormatInteger(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return "", mismatch(cc, kind, fmt.Sprint(v), errNotNumeric)
		}
		return FormatInteger(int64(f)), nil
	case reflect.String:
		s := strings.TrimSpace(rv.String())
		if s == "" {
			return "", nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return FormatInteger(n), nil
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return FormatInteger(n), nil
		}
		return "", mismatch(cc, kind, s, errNotNumeric)
	}
	return "", mismatch(cc, kind, fmt.Sprint(v), fmt.Errorf("unsupported type %T", v))
}

type booleanCodec struct{}

func (booleanCodec) Encode(ctx context.Context, cc CodecContext, v any) (string, error) {
	b, err := asBool(v)
	if err != nil {
		return "", mismatch(cc, KindBoolean, fmt.Sprint(v), err)
	}
	if !b {
		return "", nil
	}
	if cc.Enum == nil || cc.Field == nil {
		return "", mismatch(cc, KindBoolean, "true", errors.New("no enum resolver"))
	}
	return cc.Enum(ctx, cc.Field.Code)
}

func (booleanCodec) Decode(_ CodecContext, raw string) (any, error) {
	return raw != "", nil
}

func asBool(v any) (bool, error) {
	if v == nil {
		return false, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		switch s := rv.String(); s {
		case ActiveYes:
			return true, nil
		case ActiveNo, "":
			return false, nil
		default:
			return strconv.ParseBool(s)
		}
	}
	return false, fmt.Errorf("unsupported type %T", v)
}

type dateTimeCodec struct{}

func (dateTimeCodec) Encode(_ context.Context, cc CodecContext, v any) (string, error) {
	loc := cc.location()
	switch t := v.(type) {
	case nil:
		return "", nil
	case time.Time:
		if t.IsZero() {
			return "", nil
		}
		return t.In(loc).Format(DateTimeLayout), nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return "", nil
		}
		return t.In(loc).Format(DateTimeLayout), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		s := strings.TrimSpace(rv.String())
		if s == "" {
			return "", nil
		}
		parsed, err := parseDateTime(s, loc)
		if err != nil {
			return "", mismatch(cc, KindDateTime, s, err)
		}
		return parsed.Format(DateTimeLayout), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Unix(rv.Int(), 0).In(loc).Format(DateTimeLayout), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Unix(int64(rv.Uint()), 0).In(loc).Format(DateTimeLayout), nil
	}
	return "", mismatch(cc, KindDateTime, fmt.Sprint(v), fmt.Errorf("unsupported type %T", v))
}

func (dateTimeCodec) Decode(cc CodecContext, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseDateTime(raw, cc.location())
	if err != nil {
		return nil, mismatch(cc, KindDateTime, raw, err)
	}
	return t, nil
}

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	var firstErr error
	for _, layout := range dateTimeInputLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t.In(loc), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

type fileCodec struct{}

func (fileCodec) Encode(_ context.Context, cc CodecContext, v any) (string, error) {
	s, err := encodeInteger(cc, KindFile, v)
	if err != nil || s == "0" {
		return "", err
	}
	return s, nil
}

func (fileCodec) Decode(cc CodecContext, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, mismatch(cc, KindFile, raw, errNotNumeric)
	}
	return FileRef(n), nil
}

// fieldValue extracts the value held by a struct field, dereferencing
// pointers and interfaces. Nil pointers and interfaces yield nil.
func fieldValue(fv reflect.Value) any {
	switch fv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if fv.IsNil() {
			return nil
		}
		return fv.Elem().Interface()
	}
	return fv.Interface()
}

// assign stores a decoded value into a struct field.
func assign(cc CodecContext, dst reflect.Value, decoded any) error {
	if decoded == nil {
		dst.SetZero()
		return nil
	}
	switch dst.Kind() {
	case reflect.Interface:
		dst.Set(reflect.ValueOf(decoded))
		return nil
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(cc, elem.Elem(), decoded); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	src := reflect.ValueOf(decoded)
	raw := fmt.Sprint(decoded)
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = src.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if src.Uint() > math.MaxInt64 {
				return mismatch(cc, KindInteger, raw, errors.New("overflow"))
			}
			n = int64(src.Uint())
		default:
			return mismatch(cc, KindInteger, raw, fmt.Errorf("cannot assign %T to %s", decoded, dst.Type()))
		}
		if dst.OverflowInt(n) {
			return mismatch(cc, KindInteger, raw, errors.New("overflow"))
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if src.Int() < 0 {
				return mismatch(cc, KindInteger, raw, errors.New("negative value for unsigned field"))
			}
			n = uint64(src.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = src.Uint()
		default:
			return mismatch(cc, KindInteger, raw, fmt.Errorf("cannot assign %T to %s", decoded, dst.Type()))
		}
		if dst.OverflowUint(n) {
			return mismatch(cc, KindInteger, raw, errors.New("overflow"))
		}
		dst.SetUint(n)
	default:
		if !src.Type().ConvertibleTo(dst.Type()) {
			return mismatch(cc, 0, raw, fmt.Errorf("cannot assign %T to %s", decoded, dst.Type()))
		}
		dst.Set(src.Convert(dst.Type()))
	}
	return nil
}
