package sql

import (
	"slices"
	"strconv"
	"strings"

	"github.com/quailsql/QuailDB/core"
)

// ParseColumnDefinitions parses the text between the parentheses of a
// CREATE TABLE statement. Standalone PRIMARY KEY (a, b) clauses are collected
// into Schema.PrimaryKey; semantic checks such as duplicate keys belong to the
// caller.
func ParseColumnDefinitions(text string) (core.Schema, error) {
	var schema core.Schema

	source := strings.TrimSpace(text)
	groups, err := splitTopLevel(source, tokenize(source))
	if err != nil {
		return schema, err
	}

	seen := make(map[string]bool)
	for _, group := range groups {
		if len(group) == 0 {
			return schema, core.Errorf(core.InvalidCommand, "Empty column definition in '%s'", source)
		}

		if isPrimaryKeyClause(group) {
			columns, err := parsePrimaryKeyClause(source, group)
			if err != nil {
				return schema, err
			}
			schema.PrimaryKeyClauses++
			for _, c := range columns {
				if !slices.Contains(schema.PrimaryKey, c) {
					schema.PrimaryKey = append(schema.PrimaryKey, c)
				}
			}
			continue
		}

		def, err := parseColumnTokens(source, group)
		if err != nil {
			return schema, err
		}
		if seen[def.Name] {
			return schema, core.Errorf(core.InvalidCommand, "Duplicate column name '%s'", def.Name)
		}
		seen[def.Name] = true
		schema.Columns = append(schema.Columns, def)
	}

	if len(schema.Columns) == 0 {
		return schema, core.Errorf(core.InvalidCommand, "A table must have at least one column")
	}
	return schema, nil
}

// ParseColumnDefinition parses a single NAME [TYPE[(SIZE)]] [modifiers]
// definition, as used by ALTER TABLE ADD and MODIFY.
func ParseColumnDefinition(text string) (core.ColumnDef, error) {
	source := strings.TrimSpace(text)
	tokens := tokenize(source)
	return parseColumnTokens(source, tokens[:len(tokens)-1])
}

func parseColumnTokens(source string, tokens []Token) (core.ColumnDef, error) {
	var def core.ColumnDef
	if len(tokens) == 0 || tokens[0].Type != Identifier {
		return def, core.Errorf(core.InvalidCommand, "Invalid column definition '%s'", spanText(source, tokens))
	}
	def.Name = tokens[0].Value
	def.Type = core.DefaultColumnType

	i := 1
	if i < len(tokens) && tokens[i].Type == Identifier && !isColumnModifier(tokens[i].Value) {
		base, ok := core.LookupBaseType(tokens[i].Value)
		if !ok {
			return def, core.Errorf(core.InvalidCommand, "Unknown column type '%s'", tokens[i].Value)
		}
		def.Type = core.ColumnType{Base: base}
		i++

		if i < len(tokens) && tokens[i].Type == ParenOpen {
			if i+2 >= len(tokens) || tokens[i+1].Type != Int || tokens[i+2].Type != ParenClose {
				return def, core.Errorf(core.InvalidCommand, "Invalid size for column '%s'", def.Name)
			}
			size, err := strconv.Atoi(tokens[i+1].Value)
			if err != nil || size < 0 {
				return def, core.Errorf(core.InvalidCommand, "Invalid size for column '%s'", def.Name)
			}
			def.Type.Size = size
			i += 3
		}
	}

	for i < len(tokens) {
		word := toUpper(tokens[i].Value)
		next := ""
		if i+1 < len(tokens) {
			next = toUpper(tokens[i+1].Value)
		}

		var index core.IndexKind
		switch {
		case word == "AUTO_INCREMENT" || word == "AUTOINCREMENT":
			def.AutoIncrement = true
			i++
			continue
		case tokens[i].Type == Not && next == "NULL":
			i += 2
			continue
		case tokens[i].Type == Null:
			i++
			continue
		case word == "PRIMARY":
			index = core.PrimaryKey
			i++
			if next == "KEY" {
				i++
			}
		case word == "UNIQUE" || word == "FULLTEXT" || word == "SPATIAL":
			index, _ = core.ParseIndexKind(word)
			i++
			if next == "KEY" || next == "INDEX" {
				i++
			}
		case word == "INDEX" || word == "KEY":
			index, _ = core.ParseIndexKind(word)
			i++
		default:
			return def, core.Errorf(core.InvalidCommand, "Unexpected '%s' in definition of column '%s'", tokens[i].Value, def.Name)
		}

		if def.Index != core.NoIndex {
			return def, core.Errorf(core.InvalidCommand, "Multiple index definitions for column '%s'", def.Name)
		}
		def.Index = index
	}

	return def, nil
}

func isColumnModifier(word string) bool {
	switch toUpper(word) {
	case "AUTO_INCREMENT", "AUTOINCREMENT", "PRIMARY", "UNIQUE", "INDEX", "KEY", "FULLTEXT", "SPATIAL":
		return true
	default:
		return false
	}
}

func isPrimaryKeyClause(group []Token) bool {
	return len(group) >= 3 &&
		group[0].Type == Identifier && toUpper(group[0].Value) == "PRIMARY" &&
		group[1].Type == Identifier && toUpper(group[1].Value) == "KEY" &&
		group[2].Type == ParenOpen
}

func parsePrimaryKeyClause(source string, group []Token) ([]string, error) {
	var columns []string
	expectName := true
	for i := 3; i < len(group); i++ {
		token := group[i]
		switch {
		case expectName && token.Type == Identifier:
			columns = append(columns, token.Value)
			expectName = false
		case !expectName && token.Type == Comma:
			expectName = true
		case !expectName && token.Type == ParenClose && i == len(group)-1:
			return columns, nil
		default:
			return nil, core.Errorf(core.InvalidCommand, "Invalid PRIMARY KEY clause '%s'", spanText(source, group))
		}
	}
	return nil, core.Errorf(core.InvalidCommand, "Invalid PRIMARY KEY clause '%s'", spanText(source, group))
}

// splitTopLevel splits tokens on commas outside parentheses. The trailing EOF
// token is dropped.
func splitTopLevel(source string, tokens []Token) ([][]Token, error) {
	var (
		groups  [][]Token
		current []Token
		depth   int
	)
	for _, token := range tokens {
		switch token.Type {
		case EOF:
			if depth != 0 {
				return nil, core.Errorf(core.InvalidCommand, "Unbalanced parentheses in '%s'", source)
			}
			if len(current) > 0 || len(groups) > 0 {
				groups = append(groups, current)
			}
			return groups, nil
		case Unknown:
			return nil, core.Errorf(core.InvalidCommand, "Unexpected '%s' in '%s'", token.Value, source)
		case ParenOpen:
			depth++
		case ParenClose:
			depth--
			if depth < 0 {
				return nil, core.Errorf(core.InvalidCommand, "Unbalanced parentheses in '%s'", source)
			}
		case Comma:
			if depth == 0 {
				groups = append(groups, current)
				current = nil
				continue
			}
		}
		current = append(current, token)
	}
	return groups, nil
}

func spanText(source string, tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	return source[tokens[0].Pos:tokens[len(tokens)-1].End]
}
