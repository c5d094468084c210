package core

import (
	"strconv"
	"strings"
)

type BaseType string

const (
	TextType    BaseType = "TEXT"
	CharType    BaseType = "CHAR"
	VarcharType BaseType = "VARCHAR"
	IntType     BaseType = "INT"
	FloatType   BaseType = "FLOAT"
	BoolType    BaseType = "BOOL"
)

// ColumnType is a declared column type. Size is kept for display only and is
// never enforced against stored values.
type ColumnType struct {
	Base BaseType
	Size int
}

// DefaultColumnType is used for columns declared without a type.
var DefaultColumnType = ColumnType{Base: TextType}

func (t ColumnType) String() string {
	if t.Size > 0 {
		return string(t.Base) + "(" + strconv.Itoa(t.Size) + ")"
	}
	return string(t.Base)
}

// IsText reports whether values of this type are stored as text.
func (t ColumnType) IsText() bool {
	return t.Base == TextType || t.Base == CharType || t.Base == VarcharType
}

func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnTypeString(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// LookupBaseType resolves a type keyword, including the common aliases, to a
// base type.
func LookupBaseType(name string) (BaseType, bool) {
	switch strings.ToUpper(name) {
	case "TEXT", "STRING":
		return TextType, true
	case "CHAR":
		return CharType, true
	case "VARCHAR":
		return VarcharType, true
	case "INT", "INTEGER":
		return IntType, true
	case "FLOAT", "DOUBLE", "REAL":
		return FloatType, true
	case "BOOL", "BOOLEAN":
		return BoolType, true
	default:
		return "", false
	}
}

// ParseColumnTypeString parses the rendered form of a type, e.g. "VARCHAR(40)".
func ParseColumnTypeString(text string) (ColumnType, error) {
	text = strings.TrimSpace(text)
	name := text
	size := 0
	if open := strings.IndexByte(text, '('); open >= 0 && strings.HasSuffix(text, ")") {
		name = strings.TrimSpace(text[:open])
		n, err := strconv.Atoi(strings.TrimSpace(text[open+1 : len(text)-1]))
		if err != nil {
			return ColumnType{}, Errorf(InvalidCommand, "Invalid column type '%s'", text)
		}
		size = n
	}
	base, ok := LookupBaseType(name)
	if !ok {
		return ColumnType{}, Errorf(InvalidCommand, "Unknown column type '%s'", name)
	}
	return ColumnType{Base: base, Size: size}, nil
}

type IndexKind string

const (
	NoIndex       IndexKind = ""
	PrimaryKey    IndexKind = "PRIMARY KEY"
	UniqueIndex   IndexKind = "UNIQUE"
	PlainIndex    IndexKind = "INDEX"
	KeyIndex      IndexKind = "KEY"
	FulltextIndex IndexKind = "FULLTEXT"
	SpatialIndex  IndexKind = "SPATIAL"
)

// Enforced reports whether the index kind is checked for duplicates on writes.
func (kind IndexKind) Enforced() bool {
	return kind == PrimaryKey || kind == UniqueIndex
}

// ParseIndexKind normalizes an index keyword. "UNIQUE KEY" maps to UNIQUE and
// the legacy "PRIMARY" maps to PRIMARY KEY.
func ParseIndexKind(text string) (IndexKind, bool) {
	switch strings.Join(strings.Fields(strings.ToUpper(text)), " ") {
	case "PRIMARY KEY", "PRIMARY":
		return PrimaryKey, true
	case "UNIQUE", "UNIQUE KEY", "UNIQUE INDEX":
		return UniqueIndex, true
	case "INDEX":
		return PlainIndex, true
	case "KEY":
		return KeyIndex, true
	case "FULLTEXT", "FULLTEXT KEY", "FULLTEXT INDEX":
		return FulltextIndex, true
	case "SPATIAL", "SPATIAL KEY", "SPATIAL INDEX":
		return SpatialIndex, true
	default:
		return NoIndex, false
	}
}

// ColumnDef is one parsed column definition.
type ColumnDef struct {
	Name          string
	Type          ColumnType
	AutoIncrement bool
	Index         IndexKind
}

func (def ColumnDef) String() string {
	s := def.Name + " " + def.Type.String()
	if def.AutoIncrement {
		s += " AUTO_INCREMENT"
	}
	if def.Index != NoIndex {
		s += " " + string(def.Index)
	}
	return s
}

// Schema is a parsed CREATE TABLE column list. PrimaryKey collects the
// columns named by standalone PRIMARY KEY (...) clauses; PrimaryKeyClauses
// counts those clauses.
type Schema struct {
	Columns           []ColumnDef
	PrimaryKey        []string
	PrimaryKeyClauses int
}
