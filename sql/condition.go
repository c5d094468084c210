package sql

import (
	"fmt"
	"strings"

	"github.com/quailsql/QuailDB/core"
)

// Condition is a node of a parsed WHERE expression.
type Condition interface {
	fmt.Stringer
	condition()
}

type Operator string

const (
	OpEquals             Operator = "="
	OpNotEquals          Operator = "!="
	OpLessThan           Operator = "<"
	OpGreaterThan        Operator = ">"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThanOrEqual Operator = ">="
)

// Comparison is column <op> literal.
type Comparison struct {
	Column   string
	Operator Operator
	Value    core.Literal
}

type AndCondition struct {
	Left, Right Condition
}

type OrCondition struct {
	Left, Right Condition
}

type NotCondition struct {
	Inner Condition
}

// LikeCondition matches with % and _ wildcards, anchored and case-insensitive.
type LikeCondition struct {
	Column  string
	Pattern string
	Negated bool
}

// InCondition is column IN (literals) or column IN (SELECT ...). When
// Subquery is set, Results is filled in by whoever executes it and keeps the
// cells typed.
type InCondition struct {
	Column   string
	Values   []core.Literal
	Subquery string
	Results  []core.Value
	Negated  bool
}

type IsNullCondition struct {
	Column  string
	Negated bool
}

// TextEquals is the lenient col = value form used when the text does not
// parse as a structured condition. Value is trimmed and unquoted.
type TextEquals struct {
	Column string
	Value  string
}

func (Comparison) condition()      {}
func (AndCondition) condition()    {}
func (OrCondition) condition()     {}
func (NotCondition) condition()    {}
func (LikeCondition) condition()   {}
func (InCondition) condition()     {}
func (IsNullCondition) condition() {}
func (TextEquals) condition()      {}

func (c Comparison) String() string {
	return c.Column + " " + string(c.Operator) + " " + c.Value.String()
}

func (c AndCondition) String() string {
	return "(" + c.Left.String() + " AND " + c.Right.String() + ")"
}

func (c OrCondition) String() string {
	return "(" + c.Left.String() + " OR " + c.Right.String() + ")"
}

func (c NotCondition) String() string {
	return "NOT " + c.Inner.String()
}

func (c LikeCondition) String() string {
	if c.Negated {
		return c.Column + " NOT LIKE " + core.Literal{Text: c.Pattern, Quoted: true}.String()
	}
	return c.Column + " LIKE " + core.Literal{Text: c.Pattern, Quoted: true}.String()
}

func (c InCondition) String() string {
	var list string
	if c.Subquery != "" {
		list = c.Subquery
	} else {
		values := make([]string, len(c.Values))
		for i, v := range c.Values {
			values[i] = v.String()
		}
		list = strings.Join(values, ", ")
	}
	if c.Negated {
		return c.Column + " NOT IN (" + list + ")"
	}
	return c.Column + " IN (" + list + ")"
}

func (c IsNullCondition) String() string {
	if c.Negated {
		return c.Column + " IS NOT NULL"
	}
	return c.Column + " IS NULL"
}

func (c TextEquals) String() string {
	return c.Column + " = " + c.Value
}

// Subqueries returns every IN (SELECT ...) node of the tree in evaluation
// order.
func Subqueries(condition Condition) []*InCondition {
	var out []*InCondition
	var walk func(c Condition)
	walk = func(c Condition) {
		switch node := c.(type) {
		case *InCondition:
			if node.Subquery != "" {
				out = append(out, node)
			}
		case *AndCondition:
			walk(node.Left)
			walk(node.Right)
		case *OrCondition:
			walk(node.Left)
			walk(node.Right)
		case *NotCondition:
			walk(node.Inner)
		}
	}
	walk(condition)
	return out
}

// ParseCondition parses WHERE text into a condition tree. Parentheses group;
// otherwise the first top-level AND splits the text, then the first
// top-level OR. A side that does not parse but still reads as col = value
// becomes a TextEquals node, and so does the whole text when nothing else
// parses.
//
// Nodes are returned as pointers so that subquery results can be attached to
// InCondition in place.
func ParseCondition(text string) (Condition, error) {
	source := trimStatementEnd(text)
	if source == "" {
		return nil, core.Errorf(core.InvalidCommand, "Empty condition")
	}

	tokens := tokenize(source)
	condition, err := parseConditionTokens(source, tokens[:len(tokens)-1])
	if err == nil {
		return condition, nil
	}

	if fallback, ok := parseTextEquals(source); ok {
		return fallback, nil
	}
	return nil, core.Errorf(core.InvalidCommand, "Invalid condition '%s': %s", source, err.Error())
}

func parseConditionTokens(source string, tokens []Token) (Condition, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	if tokens[0].Type == ParenOpen && closingParen(tokens, 0) == len(tokens)-1 {
		return parseConditionTokens(source, tokens[1:len(tokens)-1])
	}

	if i := findTopLevel(tokens, And); i >= 0 {
		left, err := parseConditionTokens(source, tokens[:i])
		if err != nil {
			return nil, err
		}
		right, err := parseConditionTokens(source, tokens[i+1:])
		if err != nil {
			return nil, err
		}
		return &AndCondition{Left: left, Right: right}, nil
	}

	if i := findTopLevel(tokens, Or); i >= 0 {
		left, err := parseConditionTokens(source, tokens[:i])
		if err != nil {
			return nil, err
		}
		right, err := parseConditionTokens(source, tokens[i+1:])
		if err != nil {
			return nil, err
		}
		return &OrCondition{Left: left, Right: right}, nil
	}

	if tokens[0].Type == Not {
		inner, err := parseConditionTokens(source, tokens[1:])
		if err != nil {
			return nil, err
		}
		return &NotCondition{Inner: inner}, nil
	}

	condition, err := parsePredicate(source, tokens)
	if err != nil {
		if fallback, ok := parseTextEquals(spanText(source, tokens)); ok {
			return fallback, nil
		}
		return nil, err
	}
	return condition, nil
}

func parsePredicate(source string, tokens []Token) (Condition, error) {
	for _, token := range tokens {
		if token.Type == Unknown || token.Type == Semicolon {
			return nil, fmt.Errorf("unexpected %s", token.String())
		}
	}
	if tokens[0].Type != Identifier {
		return nil, fmt.Errorf("expected column name, got %s", tokens[0].String())
	}
	column := tokens[0].Value
	if len(tokens) < 2 {
		return nil, fmt.Errorf("expected operator after %s", column)
	}

	rest := tokens[1:]
	negated := false
	if rest[0].Type == Not && len(rest) > 1 && (rest[1].Type == Like || rest[1].Type == In) {
		negated = true
		rest = rest[1:]
	}

	switch {
	case rest[0].Type == Is:
		if len(rest) == 2 && rest[1].Type == Null {
			return &IsNullCondition{Column: column}, nil
		}
		if len(rest) == 3 && rest[1].Type == Not && rest[2].Type == Null {
			return &IsNullCondition{Column: column, Negated: true}, nil
		}
		return nil, fmt.Errorf("expected NULL or NOT NULL after IS")

	case rest[0].Type == Like:
		if len(rest) != 2 || (rest[1].Type != String && rest[1].Type != Identifier) {
			return nil, fmt.Errorf("expected pattern after LIKE")
		}
		return &LikeCondition{Column: column, Pattern: rest[1].Value, Negated: negated}, nil

	case rest[0].Type == In:
		return parseIn(source, column, rest[1:], negated)

	case rest[0].IsOperator():
		if len(rest) != 2 || !rest[1].IsValue() {
			return nil, fmt.Errorf("expected a single value after %s", rest[0].Value)
		}
		literal := core.Literal{Text: rest[1].Value, Quoted: rest[1].Type == String}
		return &Comparison{Column: column, Operator: operatorFor(rest[0].Type), Value: literal}, nil
	}

	return nil, fmt.Errorf("unexpected %s after %s", rest[0].String(), column)
}

func parseIn(source, column string, tokens []Token, negated bool) (Condition, error) {
	if len(tokens) < 2 || tokens[0].Type != ParenOpen || closingParen(tokens, 0) != len(tokens)-1 {
		return nil, fmt.Errorf("expected parenthesized list after IN")
	}
	inner := tokens[1 : len(tokens)-1]

	if len(inner) > 0 && inner[0].Type == Select {
		subquery := strings.TrimSpace(source[inner[0].Pos:inner[len(inner)-1].End])
		return &InCondition{Column: column, Subquery: subquery, Negated: negated}, nil
	}

	values := []core.Literal{}
	groups, err := splitTopLevel(source, append(inner[:len(inner):len(inner)], Token{Type: EOF}))
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		literal, err := literalFromTokens(source, group)
		if err != nil {
			return nil, err
		}
		values = append(values, literal)
	}
	return &InCondition{Column: column, Values: values, Negated: negated}, nil
}

// parseTextEquals is the lenient col = value reading of text that failed to
// parse: everything after the first '=' is the value, stripped of
// surrounding whitespace and quotes.
func parseTextEquals(source string) (Condition, bool) {
	i := strings.IndexByte(source, '=')
	if i <= 0 {
		return nil, false
	}
	column := strings.TrimSpace(source[:i])
	if column == "" || strings.ContainsAny(column, " \t\r\n!<>()'\"") {
		return nil, false
	}
	column = strings.Trim(column, "`")
	value := strings.TrimSpace(source[i+1:])
	value = strings.Trim(value, `"'`)
	return &TextEquals{Column: column, Value: value}, true
}

func operatorFor(tokenType TokenType) Operator {
	switch tokenType {
	case NotEquals:
		return OpNotEquals
	case LessThan:
		return OpLessThan
	case GreaterThan:
		return OpGreaterThan
	case LessThanOrEqual:
		return OpLessThanOrEqual
	case GreaterThanOrEqual:
		return OpGreaterThanOrEqual
	default:
		return OpEquals
	}
}

// closingParen returns the index of the parenthesis closing tokens[open], or
// -1 when it is unbalanced.
func closingParen(tokens []Token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch tokens[i].Type {
		case ParenOpen:
			depth++
		case ParenClose:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func findTopLevel(tokens []Token, tokenType TokenType) int {
	depth := 0
	for i, token := range tokens {
		switch token.Type {
		case ParenOpen:
			depth++
		case ParenClose:
			depth--
		case tokenType:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
