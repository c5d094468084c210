package sql

// Token is one lexical unit. Pos and End are byte offsets into the source so
// the parser can slice raw clause text (WHERE, SET, column definitions).
type Token struct {
	Type  TokenType
	Value string
	Pos   int
	End   int
}

type TokenType int

const (
	Identifier TokenType = iota
	DatabaseIdentifier
	DatabasesIdentifier
	TableIdentifier
	TablesIdentifier
	ColumnIdentifier
	Show
	Use
	In
	If
	Exists
	Wildcard
	String
	Int
	Float
	Comma
	Semicolon
	ParenOpen
	ParenClose
	Equals
	NotEquals
	LessThan
	GreaterThan
	LessThanOrEqual
	GreaterThanOrEqual
	And
	Or
	Not
	Is
	Null
	Like
	Select
	From
	Where
	Create
	Drop
	Alter
	Add
	Modify
	Insert
	Update
	Delete
	Set
	Into
	Values
	Describe
	EOF
	Unknown
)

func (token Token) String() string {
	switch token.Type {
	case Identifier:
		return "Identifier(" + token.Value + ")"
	case String:
		return "String(" + token.Value + ")"
	case Int:
		return "Int(" + token.Value + ")"
	case Float:
		return "Float(" + token.Value + ")"
	case Comma:
		return "Comma"
	case Semicolon:
		return "Semicolon"
	case ParenOpen:
		return "ParenOpen"
	case ParenClose:
		return "ParenClose"
	case Wildcard:
		return "Wildcard"
	case EOF:
		return "EOF"
	case Unknown:
		return "Unknown(" + token.Value + ")"
	default:
		return "Keyword(" + token.Value + ")"
	}
}

// IsOperator reports whether the token is a comparison operator.
func (token Token) IsOperator() bool {
	switch token.Type {
	case Equals, NotEquals, LessThan, GreaterThan, LessThanOrEqual, GreaterThanOrEqual:
		return true
	default:
		return false
	}
}

// IsValue reports whether the token can stand for a literal value.
func (token Token) IsValue() bool {
	switch token.Type {
	case String, Int, Float, Identifier, Null:
		return true
	default:
		return false
	}
}

type Lexer struct {
	sql          string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(sql string) *Lexer {
	lexer := &Lexer{sql: sql}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.sql) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.sql[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.sql) {
		return 0
	}
	return lexer.sql[lexer.readPosition]
}

func (lexer *Lexer) NextToken() Token {
	lexer.skipWhitespace()

	start := lexer.position
	token := lexer.scan()
	token.Pos = start
	token.End = lexer.position
	if token.Type == EOF {
		token.Pos = len(lexer.sql)
		token.End = len(lexer.sql)
	}
	return token
}

func (lexer *Lexer) scan() Token {
	var token Token

	switch lexer.ch {
	case ',':
		token = Token{Type: Comma, Value: ","}
	case ';':
		token = Token{Type: Semicolon, Value: ";"}
	case '(':
		token = Token{Type: ParenOpen, Value: "("}
	case ')':
		token = Token{Type: ParenClose, Value: ")"}
	case '*':
		token = Token{Type: Wildcard, Value: "*"}
	case 0:
		return Token{Type: EOF, Value: ""}
	case '\'', '"':
		value, ok := lexer.readString(lexer.ch)
		if !ok {
			return Token{Type: Unknown, Value: value}
		}
		return Token{Type: String, Value: value}
	case '`':
		value, ok := lexer.readString('`')
		if !ok {
			return Token{Type: Unknown, Value: value}
		}
		return Token{Type: Identifier, Value: value}
	default:
		if isOperator(lexer.ch) {
			operator := lexer.readOperator()
			switch operator {
			case "=", "==":
				return Token{Type: Equals, Value: operator}
			case "!=", "<>":
				return Token{Type: NotEquals, Value: operator}
			case "<":
				return Token{Type: LessThan, Value: operator}
			case ">":
				return Token{Type: GreaterThan, Value: operator}
			case "<=":
				return Token{Type: LessThanOrEqual, Value: operator}
			case ">=":
				return Token{Type: GreaterThanOrEqual, Value: operator}
			default:
				return Token{Type: Unknown, Value: operator}
			}
		} else if isDigit(lexer.ch) || (lexer.ch == '-' && isDigit(lexer.peekChar())) {
			return lexer.readNumberToken()
		} else if isAlphaNumeric(lexer.ch) {
			literal := lexer.readIdentifier()
			return Token{Type: lookupIdentifier(literal), Value: literal}
		} else {
			token = Token{Type: Unknown, Value: string(lexer.ch)}
		}
	}

	lexer.readChar()
	return token
}

func (lexer *Lexer) PeekToken() Token {
	savedPosition := lexer.position
	savedReadPosition := lexer.readPosition
	savedCh := lexer.ch

	token := lexer.NextToken()

	lexer.position = savedPosition
	lexer.readPosition = savedReadPosition
	lexer.ch = savedCh

	return token
}

// Source returns the text the lexer was built from.
func (lexer *Lexer) Source() string {
	return lexer.sql
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isAlphaNumeric(lexer.ch) {
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

// readString reads a quoted run. A doubled quote character inside the run
// stands for one literal quote. The boolean is false when the run is not
// terminated.
func (lexer *Lexer) readString(quote byte) (string, bool) {
	lexer.readChar() // opening quote
	var out []byte
	for {
		switch {
		case lexer.ch == 0:
			return string(out), false
		case lexer.ch == quote && lexer.peekChar() == quote:
			out = append(out, quote)
			lexer.readChar()
			lexer.readChar()
		case lexer.ch == quote:
			lexer.readChar() // closing quote
			return string(out), true
		default:
			out = append(out, lexer.ch)
			lexer.readChar()
		}
	}
}

func (lexer *Lexer) readNumberToken() Token {
	position := lexer.position
	if lexer.ch == '-' {
		lexer.readChar()
	}
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	tokenType := Int
	if lexer.ch == '.' && isDigit(lexer.peekChar()) {
		tokenType = Float
		lexer.readChar()
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
	}
	// 12abc is a bare word, not a number
	if isAlphaNumeric(lexer.ch) {
		for isAlphaNumeric(lexer.ch) {
			lexer.readChar()
		}
		return Token{Type: Identifier, Value: lexer.sql[position:lexer.position]}
	}
	return Token{Type: tokenType, Value: lexer.sql[position:lexer.position]}
}

func (lexer *Lexer) readOperator() string {
	position := lexer.position
	for isOperator(lexer.ch) {
		lexer.readChar()
	}
	return lexer.sql[position:lexer.position]
}

func isAlphaNumeric(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch == '.' || ch == '@' || isDigit(ch) || ch >= 0x80
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isOperator(ch byte) bool {
	return ch == '=' || ch == '!' || ch == '<' || ch == '>'
}

func lookupIdentifier(id string) TokenType {
	switch toUpper(id) {
	case "DATABASE", "SCHEMA":
		return DatabaseIdentifier
	case "DATABASES", "SCHEMAS":
		return DatabasesIdentifier
	case "TABLE":
		return TableIdentifier
	case "TABLES":
		return TablesIdentifier
	case "COLUMN":
		return ColumnIdentifier
	case "SHOW":
		return Show
	case "USE":
		return Use
	case "IN":
		return In
	case "IF":
		return If
	case "EXISTS":
		return Exists
	case "AND":
		return And
	case "OR":
		return Or
	case "NOT":
		return Not
	case "IS":
		return Is
	case "NULL":
		return Null
	case "LIKE":
		return Like
	case "SELECT":
		return Select
	case "FROM":
		return From
	case "WHERE":
		return Where
	case "CREATE":
		return Create
	case "DROP":
		return Drop
	case "ALTER":
		return Alter
	case "ADD":
		return Add
	case "MODIFY":
		return Modify
	case "INSERT":
		return Insert
	case "UPDATE":
		return Update
	case "DELETE":
		return Delete
	case "SET":
		return Set
	case "INTO":
		return Into
	case "VALUES":
		return Values
	case "DESCRIBE", "DESC":
		return Describe
	default:
		return Identifier
	}
}

// toUpper converts a string to uppercase without allocating for ASCII strings
func toUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := make([]byte, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] >= 'a' && s[j] <= 'z' {
					b[j] = s[j] - 32
				} else {
					b[j] = s[j]
				}
			}
			return string(b)
		}
	}
	return s
}

func tokenize(sql string) []Token {
	lexer := NewLexer(sql)

	var tokens []Token

	for {
		token := lexer.NextToken()
		if token.Type == EOF {
			return append(tokens, token)
		}
		tokens = append(tokens, token)
	}
}
