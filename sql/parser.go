package sql

import (
	"errors"
	"regexp"
	"strings"

	"github.com/quailsql/QuailDB/core"
)

type StatementType int

const (
	SelectStatementType StatementType = iota
	InsertStatementType
	UpdateStatementType
	DeleteStatementType
	CreateTableStatementType
	DropTableStatementType
	CreateDatabaseStatementType
	DropDatabaseStatementType
	UseDatabaseStatementType
	AlterTableStatementType
	DescribeStatementType
	ShowDatabasesStatementType
	ShowTablesStatementType
	InvalidStatementType
)

func (t StatementType) String() string {
	switch t {
	case SelectStatementType:
		return "SELECT"
	case InsertStatementType:
		return "INSERT"
	case UpdateStatementType:
		return "UPDATE"
	case DeleteStatementType:
		return "DELETE"
	case CreateTableStatementType:
		return "CREATE TABLE"
	case DropTableStatementType:
		return "DROP TABLE"
	case CreateDatabaseStatementType:
		return "CREATE DATABASE"
	case DropDatabaseStatementType:
		return "DROP DATABASE"
	case UseDatabaseStatementType:
		return "USE"
	case AlterTableStatementType:
		return "ALTER TABLE"
	case DescribeStatementType:
		return "DESCRIBE"
	case ShowDatabasesStatementType:
		return "SHOW DATABASES"
	case ShowTablesStatementType:
		return "SHOW TABLES"
	default:
		return "INVALID"
	}
}

// Mutates reports whether statements of this type can change the registry.
func (t StatementType) Mutates() bool {
	switch t {
	case InsertStatementType, UpdateStatementType, DeleteStatementType,
		CreateTableStatementType, DropTableStatementType,
		CreateDatabaseStatementType, DropDatabaseStatementType,
		AlterTableStatementType:
		return true
	default:
		return false
	}
}

type Statement interface {
	Type() StatementType
}

// WhereKind classifies the WHERE clause of a SELECT.
type WhereKind int

const (
	NoWhere WhereKind = iota
	NestedSubqueryWhere
	SubqueryWhere
	ConditionWhere
	InListWhere
)

func (kind WhereKind) String() string {
	switch kind {
	case NestedSubqueryWhere:
		return "nested-subquery"
	case SubqueryWhere:
		return "subquery"
	case ConditionWhere:
		return "condition"
	case InListWhere:
		return "in-list"
	default:
		return "none"
	}
}

type SelectStatement struct {
	Database  string
	Table     string
	Columns   []string // nil selects every column
	Where     string
	WhereKind WhereKind
}

type InsertStatement struct {
	Database string
	Table    string
	Columns  []string
	Values   []core.Literal
}

type UpdateStatement struct {
	Database string
	Table    string
	Set      string
	Where    string
}

type DeleteStatement struct {
	Database string
	Table    string
	Where    string
}

type CreateTableStatement struct {
	Database    string
	Table       string
	ColumnDefs  string
	IfNotExists bool
}

type DropTableStatement struct {
	Database string
	Table    string
	IfExists bool
}

type CreateDatabaseStatement struct {
	Database    string
	IfNotExists bool
}

type DropDatabaseStatement struct {
	Database string
	IfExists bool
}

type UseDatabaseStatement struct {
	Database string
}

type AlterAction string

const (
	AlterAdd    AlterAction = "ADD"
	AlterDrop   AlterAction = "DROP"
	AlterModify AlterAction = "MODIFY"
)

type AlterTableStatement struct {
	Database string
	Table    string
	Action   AlterAction
	Argument string // column definition for ADD and MODIFY, column name for DROP
}

type DescribeStatement struct {
	Database string
	Table    string
}

type ShowDatabasesStatement struct{}

type ShowTablesStatement struct {
	Database string
}

// InvalidStatement is produced for text that matches no statement form.
type InvalidStatement struct {
	Text   string
	Reason string
}

func (s SelectStatement) Type() StatementType {
	return SelectStatementType
}

func (s InsertStatement) Type() StatementType {
	return InsertStatementType
}

func (s UpdateStatement) Type() StatementType {
	return UpdateStatementType
}

func (s DeleteStatement) Type() StatementType {
	return DeleteStatementType
}

func (s CreateTableStatement) Type() StatementType {
	return CreateTableStatementType
}

func (s DropTableStatement) Type() StatementType {
	return DropTableStatementType
}

func (s CreateDatabaseStatement) Type() StatementType {
	return CreateDatabaseStatementType
}

func (s DropDatabaseStatement) Type() StatementType {
	return DropDatabaseStatementType
}

func (s UseDatabaseStatement) Type() StatementType {
	return UseDatabaseStatementType
}

func (s AlterTableStatement) Type() StatementType {
	return AlterTableStatementType
}

func (s DescribeStatement) Type() StatementType {
	return DescribeStatementType
}

func (s ShowDatabasesStatement) Type() StatementType {
	return ShowDatabasesStatementType
}

func (s ShowTablesStatement) Type() StatementType {
	return ShowTablesStatementType
}

func (s InvalidStatement) Type() StatementType {
	return InvalidStatementType
}

type Parser struct {
	lexer *Lexer
}

func NewParser(sql string) *Parser {
	lexer := NewLexer(sql)
	return &Parser{lexer: lexer}
}

// Parse turns the parser's text into exactly one statement. It never fails:
// text that matches no statement form yields an InvalidStatement carrying the
// original text and the reason.
func (parser *Parser) Parse() Statement {
	statement, err := parser.parse()
	if err != nil {
		return InvalidStatement{Text: strings.TrimSpace(parser.lexer.Source()), Reason: err.Error()}
	}
	return statement
}

func (parser *Parser) parse() (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case Select:
		return ParseSelect(parser)
	case Insert:
		return ParseInsert(parser)
	case Update:
		return ParseUpdate(parser)
	case Delete:
		return ParseDelete(parser)
	case Create:
		return ParseCreate(parser)
	case Drop:
		return ParseDrop(parser)
	case Alter:
		return ParseAlter(parser)
	case Use:
		return ParseUse(parser)
	case Describe:
		return ParseDescribe(parser)
	case Show:
		return ParseShow(parser)
	case EOF:
		return nil, errors.New("empty statement")
	default:
		return nil, errors.New("unknown statement type")
	}
}

// Parse is shorthand for NewParser(sql).Parse().
func Parse(sql string) Statement {
	return NewParser(sql).Parse()
}

// expectEnd consumes an optional trailing semicolon and requires the end of
// input after it.
func (parser *Parser) expectEnd() error {
	token := parser.lexer.NextToken()
	if token.Type == Semicolon {
		token = parser.lexer.NextToken()
	}
	if token.Type != EOF {
		return errors.New("unexpected " + token.String() + " at end of statement")
	}
	return nil
}

// rest returns the raw source from pos to the end, without surrounding
// whitespace and trailing semicolons.
func (parser *Parser) rest(pos int) string {
	return trimStatementEnd(parser.lexer.Source()[pos:])
}

func trimStatementEnd(text string) string {
	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

func (parser *Parser) parseName(what string) (string, error) {
	token := parser.lexer.NextToken()
	if token.Type != Identifier {
		return "", errors.New("expected " + what + " name")
	}
	return token.Value, nil
}

// parseTableName reads a table reference, optionally qualified as db.table.
func (parser *Parser) parseTableName() (string, string, error) {
	name, err := parser.parseName("table")
	if err != nil {
		return "", "", err
	}
	database, table := splitTableName(name)
	if table == "" {
		return "", "", errors.New("expected table name")
	}
	return database, table, nil
}

func splitTableName(name string) (string, string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func (parser *Parser) parseIfExists() (bool, error) {
	if parser.lexer.PeekToken().Type != If {
		return false, nil
	}
	parser.lexer.NextToken()
	if parser.lexer.NextToken().Type != Exists {
		return false, errors.New("expected EXISTS after IF")
	}
	return true, nil
}

func (parser *Parser) parseIfNotExists() (bool, error) {
	if parser.lexer.PeekToken().Type != If {
		return false, nil
	}
	parser.lexer.NextToken()
	if parser.lexer.NextToken().Type != Not || parser.lexer.NextToken().Type != Exists {
		return false, errors.New("expected NOT EXISTS after IF")
	}
	return true, nil
}

func ParseSelect(parser *Parser) (Statement, error) {
	var selectStatement SelectStatement

	token := parser.lexer.NextToken()
	if token.Type == Wildcard {
		token = parser.lexer.NextToken()
	} else {
		selectStatement.Columns = []string{}
		for {
			if token.Type != Identifier {
				return nil, errors.New("expected column name or * after SELECT")
			}
			selectStatement.Columns = append(selectStatement.Columns, token.Value)

			token = parser.lexer.NextToken()
			if token.Type != Comma {
				break
			}
			token = parser.lexer.NextToken()
		}
	}

	if token.Type != From {
		return nil, errors.New("expected FROM")
	}

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}
	selectStatement.Database = database
	selectStatement.Table = table

	token = parser.lexer.PeekToken()
	if token.Type != Where {
		if err := parser.expectEnd(); err != nil {
			return nil, err
		}
		return selectStatement, nil
	}

	parser.lexer.NextToken()
	selectStatement.Where = parser.rest(token.End)
	if selectStatement.Where == "" {
		return nil, errors.New("expected condition after WHERE")
	}
	selectStatement.WhereKind = ClassifyWhere(selectStatement.Where)

	return selectStatement, nil
}

var (
	nestedSubqueryPattern = regexp.MustCompile(`(?is)\bIN\s*\(\s*SELECT\b.*\bIN\s*\(`)
	subqueryPattern       = regexp.MustCompile(`(?is)\bIN\s*\(\s*SELECT\b`)
	inListPattern         = regexp.MustCompile("(?is)^\\s*[\\w`.]+\\s+IN\\s*\\([^()]*\\)\\s*$")
)

// ClassifyWhere tags WHERE text in order: nested subquery, subquery, general
// condition, lone literal IN list.
func ClassifyWhere(where string) WhereKind {
	switch {
	case strings.TrimSpace(where) == "":
		return NoWhere
	case nestedSubqueryPattern.MatchString(where):
		return NestedSubqueryWhere
	case subqueryPattern.MatchString(where):
		return SubqueryWhere
	case !inListPattern.MatchString(where):
		return ConditionWhere
	default:
		return InListWhere
	}
}

func ParseInsert(parser *Parser) (Statement, error) {
	var insertStatement InsertStatement

	token := parser.lexer.NextToken()
	if token.Type != Into {
		return nil, errors.New("expected INTO after INSERT")
	}

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}
	insertStatement.Database = database
	insertStatement.Table = table

	token = parser.lexer.NextToken()
	if token.Type == ParenOpen {
		insertStatement.Columns = []string{}
		for {
			token = parser.lexer.NextToken()
			if token.Type != Identifier {
				return nil, errors.New("expected column name")
			}
			insertStatement.Columns = append(insertStatement.Columns, token.Value)

			token = parser.lexer.NextToken()
			if token.Type == Comma {
				continue
			} else if token.Type == ParenClose {
				break
			} else {
				return nil, errors.New("expected ',' or ')' in column list")
			}
		}
		token = parser.lexer.NextToken()
	}

	if token.Type != Values {
		return nil, errors.New("expected VALUES")
	}

	token = parser.lexer.NextToken()
	if token.Type != ParenOpen {
		return nil, errors.New("expected '(' after VALUES")
	}

	values, err := parser.parseLiteralList()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("expected at least one value")
	}
	insertStatement.Values = values

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return insertStatement, nil
}

// parseLiteralList reads comma separated literals up to and including the
// closing parenthesis. A quoted string is one quoted literal; anything else
// between commas is taken as bare text.
func (parser *Parser) parseLiteralList() ([]core.Literal, error) {
	var (
		literals []core.Literal
		group    []Token
	)

	flush := func() error {
		literal, err := literalFromTokens(parser.lexer.Source(), group)
		if err != nil {
			return err
		}
		literals = append(literals, literal)
		group = group[:0]
		return nil
	}

	for {
		token := parser.lexer.NextToken()
		switch token.Type {
		case EOF, Semicolon:
			return nil, errors.New("expected ')' to close value list")
		case ParenOpen:
			return nil, errors.New("unexpected '(' in value list")
		case Comma:
			if err := flush(); err != nil {
				return nil, err
			}
		case ParenClose:
			if len(literals) == 0 && len(group) == 0 {
				return []core.Literal{}, nil
			}
			if err := flush(); err != nil {
				return nil, err
			}
			return literals, nil
		case Unknown:
			return nil, errors.New("unterminated or invalid value " + token.Value)
		default:
			group = append(group, token)
		}
	}
}

func literalFromTokens(source string, tokens []Token) (core.Literal, error) {
	switch {
	case len(tokens) == 0:
		return core.Literal{}, errors.New("empty value")
	case len(tokens) == 1 && tokens[0].Type == String:
		return core.Literal{Text: tokens[0].Value, Quoted: true}, nil
	case len(tokens) == 1:
		return core.Literal{Text: tokens[0].Value}, nil
	}
	for _, token := range tokens {
		if token.Type == String {
			return core.Literal{}, errors.New("unexpected quoted text in value " + source[tokens[0].Pos:tokens[len(tokens)-1].End])
		}
	}
	return core.Literal{Text: source[tokens[0].Pos:tokens[len(tokens)-1].End]}, nil
}

func ParseUpdate(parser *Parser) (Statement, error) {
	var updateStatement UpdateStatement

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}
	updateStatement.Database = database
	updateStatement.Table = table

	token := parser.lexer.NextToken()
	if token.Type != Set {
		return nil, errors.New("expected SET")
	}

	setStart := token.End
	depth := 0
	for {
		token = parser.lexer.NextToken()
		if token.Type == EOF {
			return nil, errors.New("expected WHERE after SET")
		}
		if token.Type == ParenOpen {
			depth++
		} else if token.Type == ParenClose {
			depth--
		} else if token.Type == Where && depth == 0 {
			break
		}
	}

	updateStatement.Set = strings.TrimSpace(parser.lexer.Source()[setStart:token.Pos])
	if updateStatement.Set == "" {
		return nil, errors.New("expected assignments after SET")
	}
	updateStatement.Where = parser.rest(token.End)
	if updateStatement.Where == "" {
		return nil, errors.New("expected condition after WHERE")
	}

	return updateStatement, nil
}

func ParseDelete(parser *Parser) (Statement, error) {
	var deleteStatement DeleteStatement

	token := parser.lexer.NextToken()
	if token.Type != From {
		return nil, errors.New("expected FROM after DELETE")
	}

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}
	deleteStatement.Database = database
	deleteStatement.Table = table

	token = parser.lexer.NextToken()
	if token.Type != Where {
		return nil, errors.New("expected WHERE")
	}
	deleteStatement.Where = parser.rest(token.End)
	if deleteStatement.Where == "" {
		return nil, errors.New("expected condition after WHERE")
	}

	return deleteStatement, nil
}

func ParseCreate(parser *Parser) (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case TableIdentifier:
		return ParseCreateTable(parser)
	case DatabaseIdentifier:
		return ParseCreateDatabase(parser)
	default:
		return nil, errors.New("expected TABLE or DATABASE after CREATE")
	}
}

func ParseCreateTable(parser *Parser) (Statement, error) {
	var createTableStatement CreateTableStatement

	ifNotExists, err := parser.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	createTableStatement.IfNotExists = ifNotExists

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}
	createTableStatement.Database = database
	createTableStatement.Table = table

	open := parser.lexer.NextToken()
	if open.Type != ParenOpen {
		return nil, errors.New("expected '(' after table name")
	}

	depth := 1
	var token Token
	for depth > 0 {
		token = parser.lexer.NextToken()
		switch token.Type {
		case EOF:
			return nil, errors.New("expected ')' to close column definitions")
		case ParenOpen:
			depth++
		case ParenClose:
			depth--
		}
	}

	createTableStatement.ColumnDefs = strings.TrimSpace(parser.lexer.Source()[open.End:token.Pos])

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return createTableStatement, nil
}

func ParseCreateDatabase(parser *Parser) (Statement, error) {
	ifNotExists, err := parser.parseIfNotExists()
	if err != nil {
		return nil, err
	}

	name, err := parser.parseName("database")
	if err != nil {
		return nil, err
	}

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return CreateDatabaseStatement{Database: name, IfNotExists: ifNotExists}, nil
}

func ParseDrop(parser *Parser) (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case TableIdentifier:
		return ParseDropTable(parser)
	case DatabaseIdentifier:
		return ParseDropDatabase(parser)
	default:
		return nil, errors.New("expected TABLE or DATABASE after DROP")
	}
}

func ParseDropTable(parser *Parser) (Statement, error) {
	ifExists, err := parser.parseIfExists()
	if err != nil {
		return nil, err
	}

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return DropTableStatement{Database: database, Table: table, IfExists: ifExists}, nil
}

func ParseDropDatabase(parser *Parser) (Statement, error) {
	ifExists, err := parser.parseIfExists()
	if err != nil {
		return nil, err
	}

	name, err := parser.parseName("database")
	if err != nil {
		return nil, err
	}

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return DropDatabaseStatement{Database: name, IfExists: ifExists}, nil
}

func ParseUse(parser *Parser) (Statement, error) {
	name, err := parser.parseName("database")
	if err != nil {
		return nil, err
	}

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return UseDatabaseStatement{Database: name}, nil
}

func ParseShow(parser *Parser) (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case DatabasesIdentifier:
		if err := parser.expectEnd(); err != nil {
			return nil, err
		}
		return ShowDatabasesStatement{}, nil
	case TablesIdentifier:
		var showTablesStatement ShowTablesStatement
		next := parser.lexer.PeekToken()
		if next.Type == In || next.Type == From {
			parser.lexer.NextToken()
			name, err := parser.parseName("database")
			if err != nil {
				return nil, err
			}
			showTablesStatement.Database = name
		}
		if err := parser.expectEnd(); err != nil {
			return nil, err
		}
		return showTablesStatement, nil
	case Identifier:
		// SHOW COLUMNS FROM table
		if toUpper(token.Value) == "COLUMNS" {
			if parser.lexer.NextToken().Type != From {
				return nil, errors.New("expected FROM after COLUMNS")
			}
			return ParseDescribe(parser)
		}
	}
	return nil, errors.New("expected DATABASES, TABLES or COLUMNS after SHOW")
}

// ParseAlter parses ALTER TABLE statements
func ParseAlter(parser *Parser) (Statement, error) {
	token := parser.lexer.NextToken()
	if token.Type != TableIdentifier {
		return nil, errors.New("expected TABLE after ALTER")
	}

	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}

	alterStatement := AlterTableStatement{Database: database, Table: table}

	token = parser.lexer.NextToken()
	switch token.Type {
	case Add:
		alterStatement.Action = AlterAdd
	case Drop:
		alterStatement.Action = AlterDrop
	case Modify:
		alterStatement.Action = AlterModify
	default:
		return nil, errors.New("expected ADD, DROP or MODIFY after table name")
	}

	if parser.lexer.PeekToken().Type == ColumnIdentifier {
		token = parser.lexer.NextToken()
	}

	alterStatement.Argument = parser.rest(token.End)
	if alterStatement.Argument == "" {
		return nil, errors.New("expected column after " + string(alterStatement.Action))
	}

	if alterStatement.Action == AlterDrop {
		name, err := parser.parseName("column")
		if err != nil {
			return nil, err
		}
		if err := parser.expectEnd(); err != nil {
			return nil, err
		}
		alterStatement.Argument = name
	}

	return alterStatement, nil
}

func ParseDescribe(parser *Parser) (Statement, error) {
	database, table, err := parser.parseTableName()
	if err != nil {
		return nil, err
	}

	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return DescribeStatement{Database: database, Table: table}, nil
}
