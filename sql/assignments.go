package sql

import (
	"strings"

	"github.com/quailsql/QuailDB/core"
)

// Assignment is one col = value pair of an UPDATE SET clause.
type Assignment struct {
	Column string
	Value  core.Literal
}

// ParseAssignments parses the text of a SET clause. Pairs are separated by
// commas outside quotes; a value is either one quoted string or bare text.
func ParseAssignments(text string) ([]Assignment, error) {
	source := strings.TrimSpace(text)
	groups, err := splitTopLevel(source, tokenize(source))
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, core.Errorf(core.InvalidCommand, "No assignments in '%s'", source)
	}

	assignments := make([]Assignment, 0, len(groups))
	for _, group := range groups {
		if len(group) < 3 || group[0].Type != Identifier || group[1].Type != Equals {
			return nil, core.Errorf(core.InvalidCommand, "Invalid assignment '%s'", spanText(source, group))
		}
		value, err := literalFromTokens(source, group[2:])
		if err != nil {
			return nil, core.Errorf(core.InvalidCommand, "Invalid assignment '%s'", spanText(source, group))
		}
		assignments = append(assignments, Assignment{Column: group[0].Value, Value: value})
	}
	return assignments, nil
}
