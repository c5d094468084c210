package db

import (
	"regexp"
	"strings"

	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/op"
	"github.com/quailsql/QuailDB/sql"
)

func never(core.Row) bool { return false }

// wherePredicate parses where and compiles it against table. IN (SELECT ...)
// nodes are resolved by running the subquery, which only happens for the
// subquery kinds.
func (engine *Engine) wherePredicate(table *core.Table, where string, kind sql.WhereKind) (op.Predicate, error) {
	if kind == sql.NoWhere {
		return op.MatchAll, nil
	}

	condition, err := sql.ParseCondition(where)
	if err != nil {
		return nil, err
	}

	engine.logger.Debug("compiling where", "table", table.Name, "where_kind", kind.String())
	if kind == sql.SubqueryWhere || kind == sql.NestedSubqueryWhere {
		for _, in := range sql.Subqueries(condition) {
			values, err := engine.subqueryValues(in.Subquery)
			if err != nil {
				return nil, err
			}
			in.Results = values
		}
	}

	return compileCondition(condition, table), nil
}

// subqueryValues runs a subquery SELECT and returns the cells of its single
// column. NULL cells are left out since they can never match.
func (engine *Engine) subqueryValues(text string) ([]core.Value, error) {
	statement, ok := sql.Parse(text).(sql.SelectStatement)
	if !ok {
		return nil, core.Errorf(core.InvalidCommand, "Invalid subquery '%s'", text)
	}

	result, err := engine.executeSelectStatement(statement)
	if err != nil {
		return nil, err
	}
	if len(result.Columns) != 1 {
		return nil, core.Errorf(core.InvalidCommand, "Operand should contain 1 column(s)")
	}

	values := make([]core.Value, 0, len(result.Rows))
	for _, row := range result.Rows {
		if !row[0].IsNull() {
			values = append(values, row[0])
		}
	}
	engine.logger.Debug("resolved subquery", "subquery", text, "values", len(values))
	return values, nil
}

// compileCondition turns a condition tree into a row predicate. Unknown
// columns never match, and neither do NULL cells.
func compileCondition(condition sql.Condition, table *core.Table) op.Predicate {
	switch c := condition.(type) {
	case *sql.AndCondition:
		left, right := compileCondition(c.Left, table), compileCondition(c.Right, table)
		return func(row core.Row) bool { return left(row) && right(row) }

	case *sql.OrCondition:
		left, right := compileCondition(c.Left, table), compileCondition(c.Right, table)
		return func(row core.Row) bool { return left(row) || right(row) }

	case *sql.NotCondition:
		inner := compileCondition(c.Inner, table)
		return func(row core.Row) bool { return !inner(row) }

	case *sql.Comparison:
		return compileComparison(table, c.Column, c.Operator, c.Value)

	case *sql.TextEquals:
		return compileComparison(table, c.Column, sql.OpEquals, core.Literal{Text: c.Value, Quoted: true})

	case *sql.LikeCondition:
		idx := table.ColumnIndex(c.Column)
		if idx < 0 {
			return never
		}
		pattern := likeRegexp(c.Pattern)
		return func(row core.Row) bool {
			if row[idx].IsNull() {
				return false
			}
			return pattern.MatchString(row[idx].String()) != c.Negated
		}

	case *sql.InCondition:
		idx := table.ColumnIndex(c.Column)
		if idx < 0 {
			return never
		}
		typ := table.TypeOf(c.Column)
		targets := make([]operand, 0, len(c.Values)+len(c.Results))
		for _, literal := range c.Values {
			if literal.IsNull() {
				continue
			}
			targets = append(targets, newOperand(literal, typ))
		}
		for _, value := range c.Results {
			targets = append(targets, operand{value: value, typed: true})
		}
		return func(row core.Row) bool {
			if row[idx].IsNull() {
				return false
			}
			found := false
			for _, target := range targets {
				if cmp, ok := target.compare(row[idx]); ok && cmp == 0 {
					found = true
					break
				}
			}
			return found != c.Negated
		}

	case *sql.IsNullCondition:
		idx := table.ColumnIndex(c.Column)
		if idx < 0 {
			return never
		}
		return func(row core.Row) bool { return row[idx].IsNull() != c.Negated }
	}

	return never
}

func compileComparison(table *core.Table, column string, operator sql.Operator, literal core.Literal) op.Predicate {
	idx := table.ColumnIndex(column)
	if idx < 0 || literal.IsNull() {
		return never
	}
	target := newOperand(literal, table.TypeOf(column))
	return func(row core.Row) bool {
		if row[idx].IsNull() {
			return false
		}
		cmp, ok := target.compare(row[idx])
		if !ok {
			return false
		}
		switch operator {
		case sql.OpEquals:
			return cmp == 0
		case sql.OpNotEquals:
			return cmp != 0
		case sql.OpLessThan:
			return cmp < 0
		case sql.OpGreaterThan:
			return cmp > 0
		case sql.OpLessThanOrEqual:
			return cmp <= 0
		case sql.OpGreaterThanOrEqual:
			return cmp >= 0
		}
		return false
	}
}

// operand is a literal coerced once to the column type. When coercion fails
// the literal is compared as text against the rendered cell.
type operand struct {
	value core.Value
	typed bool
}

func newOperand(literal core.Literal, typ core.ColumnType) operand {
	text := strings.TrimSpace(literal.Text)
	if value, err := core.Convert(text, typ); err == nil {
		return operand{value: value, typed: true}
	}
	return operand{value: core.TextValue(text)}
}

// compare orders cell against the operand, cell first.
func (o operand) compare(cell core.Value) (int, bool) {
	if o.typed {
		if cmp, ok := cell.Compare(o.value); ok {
			return cmp, true
		}
	}
	return strings.Compare(cell.String(), o.value.String()), true
}

// likeRegexp translates a LIKE pattern into an anchored, case-insensitive
// regular expression.
func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
