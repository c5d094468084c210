package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	NullKind Kind = iota
	TextKind
	IntKind
	FloatKind
	BoolKind
)

// Value is one typed cell. The zero Value is NULL.
type Value struct {
	Kind  Kind
	Text  string
	Int   int64
	Float float64
	Bool  bool
}

// Row holds one value per table column, in column order.
type Row []Value

func Null() Value { return Value{} }
func TextValue(s string) Value { return Value{Kind: TextKind, Text: s} }
func IntValue(i int64) Value { return Value{Kind: IntKind, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: FloatKind, Float: f} }
func BoolValue(b bool) Value { return Value{Kind: BoolKind, Bool: b} }

func (v Value) IsNull() bool {
	return v.Kind == NullKind
}

func (v Value) String() string {
	switch v.Kind {
	case TextKind:
		return v.Text
	case IntKind:
		return strconv.FormatInt(v.Int, 10)
	case FloatKind:
		return formatFloat(v.Float)
	case BoolKind:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "NULL"
	}
}

// formatFloat keeps a trailing ".0" on integral floats so FLOAT cells stay
// distinguishable from INT cells in rendered output.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !math.IsInf(f, 0) && !math.IsNaN(f) && !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (v Value) numeric() (float64, bool) {
	switch v.Kind {
	case IntKind:
		return float64(v.Int), true
	case FloatKind:
		return v.Float, true
	default:
		return 0, false
	}
}

// Compare orders two values. The boolean result is false when either value is
// NULL or the kinds cannot be ordered against each other. INT and FLOAT
// compare numerically.
func (v Value) Compare(other Value) (int, bool) {
	if v.IsNull() || other.IsNull() {
		return 0, false
	}
	if v.Kind == IntKind && other.Kind == IntKind {
		return compareOrdered(v.Int, other.Int), true
	}
	if a, ok := v.numeric(); ok {
		if b, ok := other.numeric(); ok {
			return compareOrdered(a, b), true
		}
		return 0, false
	}
	switch {
	case v.Kind == TextKind && other.Kind == TextKind:
		return strings.Compare(v.Text, other.Text), true
	case v.Kind == BoolKind && other.Kind == BoolKind:
		return compareOrdered(boolRank(v.Bool), boolRank(other.Bool)), true
	}
	return 0, false
}

// Equal reports whether two non-NULL values are equal. NULL equals nothing.
func (v Value) Equal(other Value) bool {
	c, ok := v.Compare(other)
	return ok && c == 0
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case TextKind:
		return json.Marshal(v.Text)
	case IntKind:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case FloatKind:
		if math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			return json.Marshal(formatFloat(v.Float))
		}
		return []byte(formatFloat(v.Float)), nil
	case BoolKind:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = TextValue(x)
	case bool:
		*v = BoolValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil && !strings.ContainsAny(x.String(), ".eE") {
			*v = IntValue(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %s: %w", x, err)
		}
		*v = FloatValue(f)
	default:
		return fmt.Errorf("unsupported JSON value %s", string(data))
	}
	return nil
}

// Literal is one value token as written in a statement. Quoted literals are
// always text; an unquoted NULL is the NULL value.
type Literal struct {
	Text   string
	Quoted bool
}

func (l Literal) IsNull() bool {
	return !l.Quoted && strings.EqualFold(l.Text, "NULL")
}

func (l Literal) String() string {
	if l.Quoted {
		return strconv.Quote(l.Text)
	}
	return l.Text
}

// Convert coerces literal text to a value of the given column type.
func Convert(text string, t ColumnType) (Value, error) {
	switch t.Base {
	case IntType:
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, Errorf(TypeMismatch, "Invalid INT value: %s", text)
		}
		return IntValue(i), nil
	case FloatType:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, Errorf(TypeMismatch, "Invalid FLOAT value: %s", text)
		}
		return FloatValue(f), nil
	case BoolType:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "1", "true", "yes", "on":
			return BoolValue(true), nil
		case "0", "false", "no", "off":
			return BoolValue(false), nil
		default:
			return Value{}, Errorf(TypeMismatch, "Invalid BOOL value: %s", text)
		}
	default:
		return TextValue(text), nil
	}
}

// ConvertLiteral is Convert with NULL handling for unquoted NULL literals.
func ConvertLiteral(l Literal, t ColumnType) (Value, error) {
	if l.IsNull() {
		return Null(), nil
	}
	return Convert(l.Text, t)
}
