// Package parser builds the AST from a token stream. Statements are
// parsed by recursive descent; expressions use Pratt-style precedence
// climbing. A statement ends at a newline, a semicolon, end of file, or
// a closing brace, interchangeably.
package parser

import (
	"fmt"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/diag"
	"github.com/codeassociates/bulu/lexer"
)

// Operator precedence levels, lowest to highest.
const (
	_ int = iota
	LOWEST
	ASSIGN_PREC // = += -= *= /= %= (right-assoc)
	SEND_PREC   // ch <- v
	OR_PREC     // ||
	AND_PREC    // &&
	EQUALS      // == !=
	LESSGREATER // < > <= >=
	BITOR_PREC  // | ^
	BITAND_PREC // &
	SHIFT_PREC  // << >>
	RANGE_PREC  // ... ..<
	SUM         // + -
	PRODUCT     // * / %
	EXPONENT    // ** (right-assoc)
	PREFIX      // -x !x ~x <-ch
	CALL        // f(x) a[i] a.b  expr as T
)

var precedences = map[lexer.TokenType]int{
	lexer.ASSIGN:         ASSIGN_PREC,
	lexer.PLUS_ASSIGN:    ASSIGN_PREC,
	lexer.MINUS_ASSIGN:   ASSIGN_PREC,
	lexer.STAR_ASSIGN:    ASSIGN_PREC,
	lexer.SLASH_ASSIGN:   ASSIGN_PREC,
	lexer.PERCENT_ASSIGN: ASSIGN_PREC,
	lexer.LEFT_ARROW:     SEND_PREC,
	lexer.PIPE_PIPE:      OR_PREC,
	lexer.AMP_AMP:        AND_PREC,
	lexer.EQ:             EQUALS,
	lexer.NEQ:            EQUALS,
	lexer.LT:             LESSGREATER,
	lexer.GT:             LESSGREATER,
	lexer.LE:             LESSGREATER,
	lexer.GE:             LESSGREATER,
	lexer.PIPE:           BITOR_PREC,
	lexer.CARET:          BITOR_PREC,
	lexer.AMP:            BITAND_PREC,
	lexer.SHL:            SHIFT_PREC,
	lexer.SHR:            SHIFT_PREC,
	lexer.DOT_DOT_DOT:    RANGE_PREC,
	lexer.DOT_DOT_LESS:   RANGE_PREC,
	lexer.PLUS:           SUM,
	lexer.MINUS:          SUM,
	lexer.STAR:           PRODUCT,
	lexer.SLASH:          PRODUCT,
	lexer.PERCENT:        PRODUCT,
	lexer.POWER:          EXPONENT,
	lexer.LPAREN:         CALL,
	lexer.LBRACKET:       CALL,
	lexer.DOT:            CALL,
	lexer.AS:             CALL,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser consumes the token vector produced by the lexer. It keeps the
// full vector because struct-literal and arrow-function disambiguation
// need lookahead past matching delimiters.
type Parser struct {
	tokens []lexer.Token
	pos    int
	file   string

	errors []*diag.ParseError

	prefixParseFns map[lexer.TokenType]prefixParseFn
	infixParseFns  map[lexer.TokenType]infixParseFn

	pendingDoc string
}

// New creates a parser over the lexer's token stream. A lex failure is
// surfaced as the parser's first error.
func New(l *lexer.Lexer) *Parser {
	tokens, err := l.Tokenize()
	p := &Parser{tokens: tokens}
	if err != nil {
		le := err.(*diag.LexError)
		p.errors = append(p.errors, &diag.ParseError{
			Message: le.Message, Line: le.Line, Column: le.Column, File: le.File,
		})
		p.tokens = []lexer.Token{{Type: lexer.EOF}}
	}

	p.prefixParseFns = map[lexer.TokenType]prefixParseFn{
		lexer.INT:        p.parseIntegerLiteral,
		lexer.FLOAT:      p.parseFloatLiteral,
		lexer.STRING:     p.parseStringLiteral,
		lexer.CHAR:       p.parseCharLiteral,
		lexer.TRUE:       p.parseBoolLiteral,
		lexer.FALSE:      p.parseBoolLiteral,
		lexer.NULL:       p.parseNullLiteral,
		lexer.IDENT:      p.parseIdentifier,
		lexer.MINUS:      p.parsePrefixExpr,
		lexer.NOT:        p.parsePrefixExpr,
		lexer.TILDE:      p.parsePrefixExpr,
		lexer.LEFT_ARROW: p.parseChannelReceive,
		lexer.LPAREN:     p.parseParenOrLambdaOrTuple,
		lexer.LBRACKET:   p.parseArrayLiteral,
		lexer.LBRACE:     p.parseMapOrBlockExpr,
		lexer.IF:         p.parseIfExpr,
		lexer.MATCH:      p.parseMatchExpr,
		lexer.ASYNC:      p.parseAsyncExpr,
		lexer.AWAIT:      p.parseAwaitExpr,
		lexer.YIELD:      p.parseYieldExpr,
		lexer.RUN:        p.parseRunExpr,
	}
	p.infixParseFns = map[lexer.TokenType]infixParseFn{
		lexer.PLUS:           p.parseInfixExpr,
		lexer.MINUS:          p.parseInfixExpr,
		lexer.STAR:           p.parseInfixExpr,
		lexer.SLASH:          p.parseInfixExpr,
		lexer.PERCENT:        p.parseInfixExpr,
		lexer.POWER:          p.parseInfixExpr,
		lexer.EQ:             p.parseInfixExpr,
		lexer.NEQ:            p.parseInfixExpr,
		lexer.LT:             p.parseInfixExpr,
		lexer.GT:             p.parseInfixExpr,
		lexer.LE:             p.parseInfixExpr,
		lexer.GE:             p.parseInfixExpr,
		lexer.AMP_AMP:        p.parseInfixExpr,
		lexer.PIPE_PIPE:      p.parseInfixExpr,
		lexer.AMP:            p.parseInfixExpr,
		lexer.PIPE:           p.parseInfixExpr,
		lexer.CARET:          p.parseInfixExpr,
		lexer.SHL:            p.parseInfixExpr,
		lexer.SHR:            p.parseInfixExpr,
		lexer.ASSIGN:         p.parseAssignExpr,
		lexer.PLUS_ASSIGN:    p.parseAssignExpr,
		lexer.MINUS_ASSIGN:   p.parseAssignExpr,
		lexer.STAR_ASSIGN:    p.parseAssignExpr,
		lexer.SLASH_ASSIGN:   p.parseAssignExpr,
		lexer.PERCENT_ASSIGN: p.parseAssignExpr,
		lexer.DOT_DOT_DOT:    p.parseRangeExpr,
		lexer.DOT_DOT_LESS:   p.parseRangeExpr,
		lexer.LPAREN:         p.parseCallExpr,
		lexer.LBRACKET:       p.parseIndexExpr,
		lexer.DOT:            p.parseMemberExpr,
		lexer.AS:             p.parseCastExpr,
		lexer.LEFT_ARROW:     p.parseChannelSend,
	}
	return p
}

// SetFile sets the file name reported in diagnostics.
func (p *Parser) SetFile(file string) { p.file = file }

// Errors returns all recorded parse errors as strings.
func (p *Parser) Errors() []string {
	out := make([]string, len(p.errors))
	for i, e := range p.errors {
		out[i] = e.Error()
	}
	return out
}

// FirstError returns the first parse error, which is the one surfaced
// to the driver, or nil.
func (p *Parser) FirstError() error {
	if len(p.errors) == 0 {
		return nil
	}
	return p.errors[0]
}

func (p *Parser) curToken() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekToken() lexer.Token {
	return p.tokenAt(p.pos + 1)
}

func (p *Parser) tokenAt(i int) lexer.Token {
	if i >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[i]
}

func (p *Parser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool  { return p.curToken().Type == t }
func (p *Parser) peekTokenIs(t lexer.TokenType) bool { return p.peekToken().Type == t }

func (p *Parser) expectPeek(t lexer.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) expectCur(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.curToken().Type))
	return false
}

func (p *Parser) addError(msg string) {
	tok := p.curToken()
	p.errors = append(p.errors, &diag.ParseError{
		Message: msg,
		Line:    tok.Pos.Line,
		Column:  tok.Pos.Column,
		File:    p.file,
		Token:   tok.Literal,
	})
}

func (p *Parser) peekError(t lexer.TokenType) {
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.peekToken().Type))
}

func (p *Parser) noPrefixParseFnError(t lexer.TokenType) {
	p.addError(fmt.Sprintf("unexpected token %s in expression", t))
}

// skipNewlines advances past NEWLINE tokens.
func (p *Parser) skipNewlines() {
	for p.curTokenIs(lexer.NEWLINE) {
		p.nextToken()
	}
}

// atStatementEnd reports whether the current token terminates a
// statement: newline, semicolon, EOF, or a closing brace.
func (p *Parser) atStatementEnd() bool {
	switch p.curToken().Type {
	case lexer.NEWLINE, lexer.SEMICOLON, lexer.EOF, lexer.RBRACE:
		return true
	}
	return false
}

// consumeStatementEnd eats an explicit statement terminator. A closing
// brace is left in place for the enclosing block.
func (p *Parser) consumeStatementEnd() {
	for p.curTokenIs(lexer.NEWLINE) || p.curTokenIs(lexer.SEMICOLON) {
		p.nextToken()
	}
}

// statement-start keywords used as synchronization points.
var syncTokens = map[lexer.TokenType]bool{
	lexer.LET: true, lexer.CONST: true, lexer.FUNC: true,
	lexer.STRUCT: true, lexer.INTERFACE: true, lexer.TYPE: true,
	lexer.IF: true, lexer.WHILE: true, lexer.FOR: true,
	lexer.MATCH: true, lexer.SELECT: true, lexer.RETURN: true,
	lexer.BREAK: true, lexer.CONTINUE: true, lexer.DEFER: true,
	lexer.TRY: true, lexer.FAIL: true, lexer.IMPORT: true,
	lexer.EXPORT: true,
}

// synchronize skips ahead to the next statement boundary after a parse
// error so later statements still get parsed; only the first error is
// reported to the driver. It always advances at least one token so a
// failure on a statement keyword cannot loop.
func (p *Parser) synchronize() {
	p.nextToken()
	for !p.curTokenIs(lexer.EOF) {
		if p.curTokenIs(lexer.NEWLINE) || p.curTokenIs(lexer.SEMICOLON) {
			p.nextToken()
			return
		}
		if syncTokens[p.curToken().Type] {
			return
		}
		p.nextToken()
	}
}

// ParseProgram parses a whole translation unit.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	p.skipNewlines()
	for !p.curTokenIs(lexer.EOF) {
		errsBefore := len(p.errors)
		stmt := p.parseStatement()
		if stmt != nil && len(p.errors) == errsBefore {
			program.Statements = append(program.Statements, stmt)
			p.consumeStatementEnd()
		} else {
			p.synchronize()
		}
		p.skipNewlines()
	}
	return program
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken().Type {
	case lexer.DOC_COMMENT:
		p.pendingDoc = p.curToken().Literal
		p.nextToken()
		p.skipNewlines()
		if p.curTokenIs(lexer.EOF) {
			return nil
		}
		return p.parseStatement()
	case lexer.LET, lexer.CONST:
		return p.parseLetStatement()
	case lexer.FUNC:
		return p.parseFunctionDecl(false)
	case lexer.ASYNC:
		if p.peekTokenIs(lexer.FUNC) {
			p.nextToken()
			return p.parseFunctionDecl(true)
		}
		return p.parseExpressionStatement()
	case lexer.STRUCT:
		return p.parseStructDecl()
	case lexer.INTERFACE:
		return p.parseInterfaceDecl()
	case lexer.TYPE:
		return p.parseTypeAlias()
	case lexer.IF:
		return p.parseIfStatement()
	case lexer.WHILE:
		return p.parseWhileStatement()
	case lexer.FOR:
		return p.parseForStatement()
	case lexer.MATCH:
		return p.parseMatchStatement()
	case lexer.SELECT:
		return p.parseSelectStatement()
	case lexer.RETURN:
		return p.parseReturnStatement()
	case lexer.BREAK:
		tok := p.curToken()
		p.nextToken()
		return &ast.BreakStmt{Token: tok}
	case lexer.CONTINUE:
		tok := p.curToken()
		p.nextToken()
		return &ast.ContinueStmt{Token: tok}
	case lexer.DEFER:
		return p.parseDeferStatement()
	case lexer.TRY:
		return p.parseTryStatement()
	case lexer.FAIL:
		return p.parseFailStatement()
	case lexer.IMPORT:
		return p.parseImportStatement()
	case lexer.EXPORT:
		return p.parseExportStatement()
	case lexer.LBRACE:
		block := p.parseBlockStatement()
		p.nextToken()
		return block
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) takeDoc() string {
	doc := p.pendingDoc
	p.pendingDoc = ""
	return doc
}

// parseLetStatement handles `let x = e`, `const x: T = e`,
// `let (a, b) = e`, and `let a = 1, b = 2`.
func (p *Parser) parseLetStatement() ast.Statement {
	tok := p.curToken()
	isConst := tok.Type == lexer.CONST
	doc := p.takeDoc()

	if p.peekTokenIs(lexer.LPAREN) {
		return p.parseDestructuringDecl(tok)
	}

	if !p.expectPeek(lexer.IDENT) {
		return nil
	}

	first := p.parseSingleVarDecl(tok, isConst)
	if first == nil {
		return nil
	}
	first.Doc = doc
	if !p.curTokenIs(lexer.COMMA) {
		return first
	}

	multi := &ast.MultipleDecl{Token: tok, Decls: []*ast.VarDecl{first}}
	for p.curTokenIs(lexer.COMMA) {
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		decl := p.parseSingleVarDecl(tok, isConst)
		if decl == nil {
			return nil
		}
		multi.Decls = append(multi.Decls, decl)
	}
	return multi
}

// parseSingleVarDecl parses `name[: type][= value]` with the cursor on
// the name; it leaves the cursor after the initializer.
func (p *Parser) parseSingleVarDecl(tok lexer.Token, isConst bool) *ast.VarDecl {
	decl := &ast.VarDecl{Token: tok, Name: p.curToken().Literal, IsConst: isConst}
	p.nextToken()

	if p.curTokenIs(lexer.COLON) {
		p.nextToken()
		decl.Type = p.parseType()
		if decl.Type == nil {
			return nil
		}
	}
	if p.curTokenIs(lexer.ASSIGN) {
		p.nextToken()
		decl.Value = p.parseExpression(LOWEST)
		if decl.Value == nil {
			return nil
		}
	}
	return decl
}

func (p *Parser) parseDestructuringDecl(tok lexer.Token) ast.Statement {
	p.nextToken() // (
	decl := &ast.DestructuringDecl{Token: tok}
	for {
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		decl.Names = append(decl.Names, p.curToken().Literal)
		if p.peekTokenIs(lexer.COMMA) {
			p.nextToken()
			continue
		}
		break
	}
	if !p.expectPeek(lexer.RPAREN) {
		return nil
	}
	if !p.expectPeek(lexer.ASSIGN) {
		return nil
	}
	p.nextToken()
	decl.Value = p.parseExpression(LOWEST)
	return decl
}

func (p *Parser) parseFunctionDecl(isAsync bool) ast.Statement {
	tok := p.curToken()
	doc := p.takeDoc()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	fn := &ast.FunctionDecl{Token: tok, Name: p.curToken().Literal, IsAsync: isAsync, Doc: doc}

	// Generic type parameters: func id<T, U>(...)
	if p.peekTokenIs(lexer.LT) {
		p.nextToken()
		for {
			if !p.expectPeek(lexer.IDENT) {
				return nil
			}
			fn.TypeParams = append(fn.TypeParams, p.curToken().Literal)
			if p.peekTokenIs(lexer.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		if !p.expectPeek(lexer.GT) {
			return nil
		}
	}

	if !p.expectPeek(lexer.LPAREN) {
		return nil
	}
	params, ok := p.parseParamList()
	if !ok {
		return nil
	}
	fn.Params = params

	// Optional return types: -> T or -> (T1, T2)
	if p.peekTokenIs(lexer.ARROW) {
		p.nextToken()
		p.nextToken()
		if p.curTokenIs(lexer.LPAREN) {
			p.nextToken()
			for !p.curTokenIs(lexer.RPAREN) {
				t := p.parseType()
				if t == nil {
					return nil
				}
				fn.ReturnTypes = append(fn.ReturnTypes, t)
				if p.curTokenIs(lexer.COMMA) {
					p.nextToken()
				}
			}
			p.nextToken() // )
		} else {
			t := p.parseType()
			if t == nil {
				return nil
			}
			fn.ReturnTypes = append(fn.ReturnTypes, t)
		}
	} else {
		p.nextToken() // past )
	}

	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected function body")
		return nil
	}
	body := p.parseBlockStatement()
	p.nextToken()
	fn.Body = body.(*ast.BlockStmt)
	return fn
}

// parseParamList parses a parenthesized parameter list with the cursor
// on '('; it leaves the cursor on ')'.
func (p *Parser) parseParamList() ([]ast.Param, bool) {
	var params []ast.Param
	p.nextToken() // past (
	p.skipNewlines()
	for !p.curTokenIs(lexer.RPAREN) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated parameter list")
			return nil, false
		}
		var param ast.Param
		if p.curTokenIs(lexer.DOT_DOT_DOT) {
			param.IsVariadic = true
			p.nextToken()
		}
		if !p.curTokenIs(lexer.IDENT) {
			p.addError(fmt.Sprintf("expected parameter name, got %s", p.curToken().Type))
			return nil, false
		}
		param.Name = p.curToken().Literal
		p.nextToken()
		if p.curTokenIs(lexer.COLON) {
			p.nextToken()
			param.Type = p.parseType()
			if param.Type == nil {
				return nil, false
			}
		}
		if p.curTokenIs(lexer.ASSIGN) {
			p.nextToken()
			param.Default = p.parseExpression(LOWEST)
		}
		params = append(params, param)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
			p.skipNewlines()
		}
	}
	return params, true
}

func (p *Parser) parseStructDecl() ast.Statement {
	tok := p.curToken()
	doc := p.takeDoc()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	decl := &ast.StructDecl{Token: tok, Name: p.curToken().Literal, Doc: doc}

	if p.peekTokenIs(lexer.LT) {
		p.nextToken()
		for {
			if !p.expectPeek(lexer.IDENT) {
				return nil
			}
			decl.TypeParams = append(decl.TypeParams, p.curToken().Literal)
			if p.peekTokenIs(lexer.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		if !p.expectPeek(lexer.GT) {
			return nil
		}
	}

	if !p.expectPeek(lexer.LBRACE) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated struct declaration")
			return nil
		}
		if p.curTokenIs(lexer.DOC_COMMENT) {
			p.pendingDoc = p.curToken().Literal
			p.nextToken()
			p.skipNewlines()
			continue
		}
		if p.curTokenIs(lexer.FUNC) || (p.curTokenIs(lexer.ASYNC) && p.peekTokenIs(lexer.FUNC)) {
			isAsync := p.curTokenIs(lexer.ASYNC)
			if isAsync {
				p.nextToken()
			}
			m := p.parseFunctionDecl(isAsync)
			if m == nil {
				return nil
			}
			decl.Methods = append(decl.Methods, m.(*ast.FunctionDecl))
		} else if p.curTokenIs(lexer.IDENT) {
			field := ast.StructField{Name: p.curToken().Literal}
			if !p.expectPeek(lexer.COLON) {
				return nil
			}
			p.nextToken()
			field.Type = p.parseType()
			if field.Type == nil {
				return nil
			}
			if p.curTokenIs(lexer.ASSIGN) {
				p.nextToken()
				field.Default = p.parseExpression(LOWEST)
			}
			decl.Fields = append(decl.Fields, field)
			if p.curTokenIs(lexer.COMMA) || p.curTokenIs(lexer.SEMICOLON) {
				p.nextToken()
			}
		} else {
			p.addError(fmt.Sprintf("unexpected token %s in struct body", p.curToken().Type))
			return nil
		}
		p.skipNewlines()
	}
	p.nextToken() // }
	return decl
}

func (p *Parser) parseInterfaceDecl() ast.Statement {
	tok := p.curToken()
	doc := p.takeDoc()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	decl := &ast.InterfaceDecl{Token: tok, Name: p.curToken().Literal, Doc: doc}
	if !p.expectPeek(lexer.LBRACE) {
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated interface declaration")
			return nil
		}
		if !p.curTokenIs(lexer.FUNC) {
			p.addError(fmt.Sprintf("expected method signature, got %s", p.curToken().Type))
			return nil
		}
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		m := ast.InterfaceMethod{Name: p.curToken().Literal}
		if !p.expectPeek(lexer.LPAREN) {
			return nil
		}
		params, ok := p.parseParamList()
		if !ok {
			return nil
		}
		m.Params = params
		if p.peekTokenIs(lexer.ARROW) {
			p.nextToken()
			p.nextToken()
			t := p.parseType()
			if t == nil {
				return nil
			}
			m.ReturnTypes = append(m.ReturnTypes, t)
		} else {
			p.nextToken()
		}
		decl.Methods = append(decl.Methods, m)
		p.skipNewlines()
	}
	p.nextToken()
	return decl
}

func (p *Parser) parseTypeAlias() ast.Statement {
	tok := p.curToken()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	name := p.curToken().Literal
	if !p.expectPeek(lexer.ASSIGN) {
		return nil
	}
	p.nextToken()
	t := p.parseType()
	if t == nil {
		return nil
	}
	return &ast.TypeAlias{Token: tok, Name: name, Type: t}
}

func (p *Parser) parseIfStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if cond == nil {
		return nil
	}
	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected block after if condition")
		return nil
	}
	then := p.parseBlockStatement().(*ast.BlockStmt)
	stmt := &ast.IfStmt{Token: tok, Condition: cond, Then: then}

	// `else` may sit after the closing brace, possibly across newlines.
	save := p.pos
	p.nextToken()
	p.skipNewlines()
	if p.curTokenIs(lexer.ELSE) {
		p.nextToken()
		p.skipNewlines()
		if p.curTokenIs(lexer.IF) {
			stmt.Else = p.parseIfStatement()
		} else if p.curTokenIs(lexer.LBRACE) {
			stmt.Else = p.parseBlockStatement()
			p.nextToken()
		} else {
			p.addError("expected block or if after else")
			return nil
		}
	} else {
		p.pos = save
		p.nextToken() // past the closing brace
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if cond == nil {
		return nil
	}
	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected block after while condition")
		return nil
	}
	body := p.parseBlockStatement().(*ast.BlockStmt)
	p.nextToken()
	return &ast.WhileStmt{Token: tok, Condition: cond, Body: body}
}

func (p *Parser) parseForStatement() ast.Statement {
	tok := p.curToken()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	stmt := &ast.ForStmt{Token: tok, Value: p.curToken().Literal}
	if p.peekTokenIs(lexer.COMMA) {
		p.nextToken()
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		stmt.Index = stmt.Value
		stmt.Value = p.curToken().Literal
	}
	if !p.expectPeek(lexer.IN) {
		return nil
	}
	p.nextToken()
	stmt.Iterable = p.parseExpression(LOWEST)
	if stmt.Iterable == nil {
		return nil
	}
	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected block after for header")
		return nil
	}
	stmt.Body = p.parseBlockStatement().(*ast.BlockStmt)
	p.nextToken()
	return stmt
}

func (p *Parser) parseMatchStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	subject := p.parseExpression(LOWEST)
	if subject == nil {
		return nil
	}
	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected block after match subject")
		return nil
	}
	stmt := &ast.MatchStmt{Token: tok, Subject: subject}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated match statement")
			return nil
		}
		arm, ok := p.parseMatchArm()
		if !ok {
			return nil
		}
		stmt.Arms = append(stmt.Arms, arm)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
		}
		p.skipNewlines()
	}
	p.nextToken()
	return stmt
}

func (p *Parser) parseMatchArm() (ast.MatchArm, bool) {
	var arm ast.MatchArm
	pat := p.parsePattern()
	if pat == nil {
		return arm, false
	}
	arm.Pattern = pat
	if p.curTokenIs(lexer.WHERE) {
		p.nextToken()
		arm.Guard = p.parseExpression(LOWEST)
		if arm.Guard == nil {
			return arm, false
		}
	}
	if !p.expectCur(lexer.ARROW) {
		return arm, false
	}
	p.skipNewlines()
	switch {
	case p.curTokenIs(lexer.LBRACE):
		arm.Body = p.parseBlockStatement()
		p.nextToken()
	case syncTokens[p.curToken().Type]:
		stmt := p.parseStatement()
		if stmt == nil {
			return arm, false
		}
		arm.Body = stmt
	default:
		// A bare expression body; the trailing comma separates arms
		// and must stay unconsumed.
		tok := p.curToken()
		expr := p.parseExpression(SEND_PREC)
		if expr == nil {
			return arm, false
		}
		arm.Body = &ast.ExpressionStmt{Token: tok, Expression: expr}
	}
	return arm, true
}

// parsePattern parses a match pattern, including |-joined alternatives.
// The cursor ends on the token after the pattern.
func (p *Parser) parsePattern() ast.Pattern {
	first := p.parseSinglePattern()
	if first == nil {
		return nil
	}
	if !p.curTokenIs(lexer.PIPE) {
		return first
	}
	or := &ast.OrPattern{Token: p.curToken(), Alts: []ast.Pattern{first}}
	for p.curTokenIs(lexer.PIPE) {
		p.nextToken()
		alt := p.parseSinglePattern()
		if alt == nil {
			return nil
		}
		or.Alts = append(or.Alts, alt)
	}
	return or
}

func (p *Parser) parseSinglePattern() ast.Pattern {
	tok := p.curToken()
	switch tok.Type {
	case lexer.IDENT:
		if tok.Literal == "_" {
			p.nextToken()
			return &ast.WildcardPattern{Token: tok}
		}
		// Struct pattern: Name { field: pat, ... }
		if p.peekTokenIs(lexer.LBRACE) {
			return p.parseStructPattern()
		}
		p.nextToken()
		return &ast.IdentifierPattern{Token: tok, Name: tok.Literal}
	case lexer.LBRACKET:
		return p.parseArrayPattern()
	case lexer.INT, lexer.FLOAT, lexer.STRING, lexer.CHAR, lexer.TRUE, lexer.FALSE, lexer.NULL, lexer.MINUS:
		start := p.parseUnaryLiteral()
		if start == nil {
			return nil
		}
		if p.curTokenIs(lexer.DOT_DOT_DOT) || p.curTokenIs(lexer.DOT_DOT_LESS) {
			inclusive := p.curTokenIs(lexer.DOT_DOT_DOT)
			p.nextToken()
			end := p.parseUnaryLiteral()
			if end == nil {
				return nil
			}
			return &ast.RangePattern{Token: tok, Start: start, End: end, Inclusive: inclusive}
		}
		return &ast.LiteralPattern{Token: tok, Value: start}
	default:
		p.addError(fmt.Sprintf("unexpected token %s in pattern", tok.Type))
		return nil
	}
}

// parseUnaryLiteral parses a literal with optional leading minus, used
// by literal and range patterns. The cursor ends after the literal.
func (p *Parser) parseUnaryLiteral() ast.Expression {
	tok := p.curToken()
	neg := false
	if tok.Type == lexer.MINUS {
		neg = true
		p.nextToken()
		tok = p.curToken()
	}
	var expr ast.Expression
	switch tok.Type {
	case lexer.INT:
		expr = p.parseIntegerLiteral()
	case lexer.FLOAT:
		expr = p.parseFloatLiteral()
	case lexer.STRING:
		expr = p.parseStringLiteral()
	case lexer.CHAR:
		expr = p.parseCharLiteral()
	case lexer.TRUE, lexer.FALSE:
		expr = p.parseBoolLiteral()
	case lexer.NULL:
		expr = p.parseNullLiteral()
	default:
		p.addError(fmt.Sprintf("expected literal in pattern, got %s", tok.Type))
		return nil
	}
	if neg {
		return &ast.UnaryExpr{Token: tok, Operator: lexer.MINUS, Operand: expr}
	}
	return expr
}

func (p *Parser) parseStructPattern() ast.Pattern {
	tok := p.curToken()
	pat := &ast.StructPattern{Token: tok, Name: tok.Literal}
	p.nextToken() // name
	p.nextToken() // {
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if !p.curTokenIs(lexer.IDENT) {
			p.addError("expected field name in struct pattern")
			return nil
		}
		field := ast.StructPatternField{Name: p.curToken().Literal}
		if p.peekTokenIs(lexer.COLON) {
			p.nextToken()
			p.nextToken()
			field.Pattern = p.parseSinglePattern()
			if field.Pattern == nil {
				return nil
			}
		} else {
			// Shorthand `Name { x }` binds the field to x.
			field.Pattern = &ast.IdentifierPattern{Token: p.curToken(), Name: p.curToken().Literal}
			p.nextToken()
		}
		pat.Fields = append(pat.Fields, field)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
			p.skipNewlines()
		}
	}
	p.nextToken() // }
	return pat
}

func (p *Parser) parseArrayPattern() ast.Pattern {
	tok := p.curToken()
	pat := &ast.ArrayPattern{Token: tok}
	p.nextToken() // [
	for !p.curTokenIs(lexer.RBRACKET) {
		el := p.parseSinglePattern()
		if el == nil {
			return nil
		}
		pat.Elements = append(pat.Elements, el)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
		}
	}
	p.nextToken() // ]
	return pat
}

func (p *Parser) parseSelectStatement() ast.Statement {
	tok := p.curToken()
	if !p.expectPeek(lexer.LBRACE) {
		return nil
	}
	stmt := &ast.SelectStmt{Token: tok}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated select statement")
			return nil
		}
		if p.curTokenIs(lexer.IDENT) && p.curToken().Literal == "default" {
			p.nextToken()
			if !p.expectCur(lexer.ARROW) {
				return nil
			}
			p.skipNewlines()
			if !p.curTokenIs(lexer.LBRACE) {
				p.addError("expected block in select default arm")
				return nil
			}
			stmt.Default = p.parseBlockStatement().(*ast.BlockStmt)
			p.nextToken()
		} else {
			var arm ast.SelectArm
			// `v = <-ch -> { ... }` binds the received value.
			if p.curTokenIs(lexer.IDENT) && p.peekTokenIs(lexer.ASSIGN) {
				arm.Bind = p.curToken().Literal
				p.nextToken()
				p.nextToken()
			}
			comm := p.parseExpression(LOWEST)
			if comm == nil {
				return nil
			}
			arm.Comm = comm
			if !p.expectCur(lexer.ARROW) {
				return nil
			}
			p.skipNewlines()
			if !p.curTokenIs(lexer.LBRACE) {
				p.addError("expected block in select arm")
				return nil
			}
			arm.Body = p.parseBlockStatement().(*ast.BlockStmt)
			p.nextToken()
			stmt.Arms = append(stmt.Arms, arm)
		}
		p.skipNewlines()
	}
	p.nextToken()
	return stmt
}

func (p *Parser) parseReturnStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	stmt := &ast.ReturnStmt{Token: tok}
	if p.atStatementEnd() {
		return stmt
	}
	first := p.parseExpression(LOWEST)
	if first == nil {
		return nil
	}
	if !p.curTokenIs(lexer.COMMA) {
		stmt.Value = first
		return stmt
	}
	// Multiple returns become a synthetic tuple.
	tuple := &ast.TupleExpr{Token: tok, Elements: []ast.Expression{first}}
	for p.curTokenIs(lexer.COMMA) {
		p.nextToken()
		next := p.parseExpression(LOWEST)
		if next == nil {
			return nil
		}
		tuple.Elements = append(tuple.Elements, next)
	}
	stmt.Value = tuple
	return stmt
}

func (p *Parser) parseDeferStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	call := p.parseExpression(LOWEST)
	if call == nil {
		return nil
	}
	return &ast.DeferStmt{Token: tok, Call: call}
}

func (p *Parser) parseTryStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	p.skipNewlines()
	if !p.curTokenIs(lexer.LBRACE) {
		p.addError("expected block after try")
		return nil
	}
	stmt := &ast.TryStmt{Token: tok, Body: p.parseBlockStatement().(*ast.BlockStmt)}

	save := p.pos
	p.nextToken()
	p.skipNewlines()
	if p.curTokenIs(lexer.FAIL) {
		if !p.expectPeek(lexer.IDENT) || p.curToken().Literal != "on" {
			p.addError("expected 'on' after 'fail' in try statement")
			return nil
		}
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		stmt.ErrName = p.curToken().Literal
		p.nextToken()
		p.skipNewlines()
		if !p.curTokenIs(lexer.LBRACE) {
			p.addError("expected block after fail on clause")
			return nil
		}
		stmt.Handler = p.parseBlockStatement().(*ast.BlockStmt)
		p.nextToken()
	} else {
		p.pos = save
		p.nextToken() // past the closing brace
	}
	return stmt
}

func (p *Parser) parseFailStatement() ast.Statement {
	tok := p.curToken()
	p.nextToken()
	value := p.parseExpression(LOWEST)
	if value == nil {
		return nil
	}
	return &ast.FailStmt{Token: tok, Value: value}
}

func (p *Parser) parseImportStatement() ast.Statement {
	tok := p.curToken()
	stmt := &ast.ImportStmt{Token: tok}

	if p.peekTokenIs(lexer.LBRACE) {
		// import { a, b as c } from "path"
		p.nextToken()
		items, ok := p.parseImportItems()
		if !ok {
			return nil
		}
		stmt.Items = items
		if !p.expectPeek(lexer.FROM) {
			return nil
		}
		if !p.expectPeek(lexer.STRING) {
			return nil
		}
		stmt.Path = p.curToken().Value.Str
		p.nextToken()
		return stmt
	}

	if !p.expectPeek(lexer.STRING) {
		return nil
	}
	stmt.Path = p.curToken().Value.Str
	if p.peekTokenIs(lexer.AS) {
		p.nextToken()
		if !p.expectPeek(lexer.IDENT) {
			return nil
		}
		stmt.Alias = p.curToken().Literal
	}
	p.nextToken()
	return stmt
}

// parseImportItems parses `{ a, b as c }` with the cursor on '{'; it
// leaves the cursor on '}'.
func (p *Parser) parseImportItems() ([]ast.ImportItem, bool) {
	var items []ast.ImportItem
	for {
		if !p.expectPeek(lexer.IDENT) {
			return nil, false
		}
		item := ast.ImportItem{Name: p.curToken().Literal}
		if p.peekTokenIs(lexer.AS) {
			p.nextToken()
			if !p.expectPeek(lexer.IDENT) {
				return nil, false
			}
			item.Alias = p.curToken().Literal
		}
		items = append(items, item)
		if p.peekTokenIs(lexer.COMMA) {
			p.nextToken()
			continue
		}
		break
	}
	if !p.expectPeek(lexer.RBRACE) {
		return nil, false
	}
	return items, true
}

func (p *Parser) parseExportStatement() ast.Statement {
	tok := p.curToken()

	// Re-export: export { a, b } from "path"
	if p.peekTokenIs(lexer.LBRACE) {
		p.nextToken()
		items, ok := p.parseImportItems()
		if !ok {
			return nil
		}
		if !p.expectPeek(lexer.FROM) {
			return nil
		}
		if !p.expectPeek(lexer.STRING) {
			return nil
		}
		inner := &ast.ImportStmt{Token: tok, Path: p.curToken().Value.Str, Items: items}
		p.nextToken()
		return &ast.ExportStmt{Token: tok, Inner: inner}
	}

	p.nextToken()
	inner := p.parseStatement()
	if inner == nil {
		return nil
	}
	return &ast.ExportStmt{Token: tok, Inner: inner}
}

// parseBlockStatement parses `{ ... }` with the cursor on '{'; it
// leaves the cursor on '}'.
func (p *Parser) parseBlockStatement() ast.Statement {
	block := &ast.BlockStmt{Token: p.curToken()}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated block")
			return block
		}
		errsBefore := len(p.errors)
		stmt := p.parseStatement()
		if stmt != nil && len(p.errors) == errsBefore {
			block.Statements = append(block.Statements, stmt)
			p.consumeStatementEnd()
		} else {
			p.synchronize()
		}
		p.skipNewlines()
	}
	return block
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	tok := p.curToken()
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}

	// Multiple assignment: a, b = f()
	if p.curTokenIs(lexer.COMMA) {
		targets := []ast.Expression{expr}
		for p.curTokenIs(lexer.COMMA) {
			p.nextToken()
			// Targets must not consume the '=', so parse at a
			// precedence above assignment.
			t := p.parseExpression(SEND_PREC)
			if t == nil {
				return nil
			}
			targets = append(targets, t)
		}
		if !p.curTokenIs(lexer.ASSIGN) {
			p.addError("expected '=' after assignment targets")
			return nil
		}
		eq := p.curToken()
		p.nextToken()
		var values []ast.Expression
		for {
			v := p.parseExpression(SEND_PREC)
			if v == nil {
				return nil
			}
			values = append(values, v)
			if p.curTokenIs(lexer.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		return &ast.MultipleAssignment{Token: eq, Targets: targets, Values: values}
	}

	return &ast.ExpressionStmt{Token: tok, Expression: expr}
}

// ---------------------------------------------------------------------
// Expressions

// parseExpression climbs while the next operator binds tighter than
// precedence. The cursor ends on the first token after the expression.
func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken().Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken().Type)
		return nil
	}
	left := prefix()
	if left == nil {
		return nil
	}

	for left != nil && !p.atStatementEnd() && precedence < p.curPrecedence() {
		infix := p.infixParseFns[p.curToken().Type]
		if infix == nil {
			return left
		}
		left = infix(left)
	}
	return left
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken().Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	tok := p.curToken()
	expr := &ast.IntegerLiteral{Token: tok, Value: tok.Value.Int}
	p.nextToken()
	return expr
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	tok := p.curToken()
	expr := &ast.FloatLiteral{Token: tok, Value: tok.Value.Float}
	p.nextToken()
	return expr
}

func (p *Parser) parseStringLiteral() ast.Expression {
	tok := p.curToken()
	expr := &ast.StringLiteral{Token: tok, Value: tok.Value.Str}
	p.nextToken()
	return expr
}

func (p *Parser) parseCharLiteral() ast.Expression {
	tok := p.curToken()
	expr := &ast.CharLiteral{Token: tok, Value: tok.Value.Char}
	p.nextToken()
	return expr
}

func (p *Parser) parseBoolLiteral() ast.Expression {
	tok := p.curToken()
	expr := &ast.BoolLiteral{Token: tok, Value: tok.Type == lexer.TRUE}
	p.nextToken()
	return expr
}

func (p *Parser) parseNullLiteral() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	return &ast.NullLiteral{Token: tok}
}

// parseIdentifier handles plain names plus the forms that start with
// one: `x => e` lambdas and `Name { field: v }` struct literals.
func (p *Parser) parseIdentifier() ast.Expression {
	tok := p.curToken()

	if p.peekTokenIs(lexer.FAT_ARROW) {
		return p.parseSingleParamLambda()
	}
	if p.peekTokenIs(lexer.LBRACE) && p.looksLikeStructLiteral(p.pos+1) {
		return p.parseStructLiteral()
	}
	p.nextToken()
	return &ast.Identifier{Token: tok, Name: tok.Literal}
}

// looksLikeStructLiteral reports whether the brace at bracePos opens a
// struct literal: the brace encloses `identifier:` field patterns
// (possibly after newlines) or is empty. Anything else is a block.
func (p *Parser) looksLikeStructLiteral(bracePos int) bool {
	i := bracePos + 1
	for p.tokenAt(i).Type == lexer.NEWLINE {
		i++
	}
	if p.tokenAt(i).Type == lexer.RBRACE {
		return true
	}
	return p.tokenAt(i).Type == lexer.IDENT && p.tokenAt(i+1).Type == lexer.COLON
}

func (p *Parser) parseStructLiteral() ast.Expression {
	tok := p.curToken()
	lit := &ast.StructLiteral{Token: tok, Name: tok.Literal}
	p.nextToken() // name
	p.nextToken() // {
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if !p.curTokenIs(lexer.IDENT) {
			p.addError("expected field name in struct literal")
			return nil
		}
		field := ast.StructFieldInit{Name: p.curToken().Literal}
		if !p.expectPeek(lexer.COLON) {
			return nil
		}
		p.nextToken()
		field.Value = p.parseExpression(SEND_PREC)
		if field.Value == nil {
			return nil
		}
		lit.Fields = append(lit.Fields, field)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
		}
		p.skipNewlines()
	}
	p.nextToken() // }
	return lit
}

func (p *Parser) parseSingleParamLambda() ast.Expression {
	tok := p.curToken()
	param := ast.Param{Name: tok.Literal}
	p.nextToken() // name
	p.nextToken() // =>
	return p.parseLambdaBody(tok, []ast.Param{param})
}

func (p *Parser) parseLambdaBody(tok lexer.Token, params []ast.Param) ast.Expression {
	lambda := &ast.LambdaExpr{Token: tok, Params: params}
	p.skipNewlines()
	if p.curTokenIs(lexer.LBRACE) {
		body := p.parseBlockStatement()
		p.nextToken()
		lambda.Body = body
	} else {
		exprTok := p.curToken()
		expr := p.parseExpression(SEND_PREC)
		if expr == nil {
			return nil
		}
		lambda.Body = &ast.ExpressionStmt{Token: exprTok, Expression: expr}
	}
	return lambda
}

func (p *Parser) parsePrefixExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	operand := p.parseExpression(PREFIX)
	if operand == nil {
		return nil
	}
	return &ast.UnaryExpr{Token: tok, Operator: tok.Type, Operand: operand}
}

func (p *Parser) parseChannelReceive() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	ch := p.parseExpression(PREFIX)
	if ch == nil {
		return nil
	}
	return &ast.ChannelReceiveExpr{Token: tok, Channel: ch}
}

// parseParenOrLambdaOrTuple disambiguates `(x + y)`, `(a, b)` tuples,
// and `(a, b) => e` lambdas by scanning past the matching ')'.
func (p *Parser) parseParenOrLambdaOrTuple() ast.Expression {
	tok := p.curToken()

	if p.isLambdaAhead() {
		params, ok := p.parseParamList()
		if !ok {
			return nil
		}
		p.nextToken() // )
		// Optional return annotation: (x) -> T => ...
		var ret *ast.Type
		if p.curTokenIs(lexer.ARROW) {
			p.nextToken()
			ret = p.parseType()
			if ret == nil {
				return nil
			}
		}
		if !p.expectCur(lexer.FAT_ARROW) {
			return nil
		}
		lam := p.parseLambdaBody(tok, params)
		if lam != nil {
			lam.(*ast.LambdaExpr).ReturnType = ret
		}
		return lam
	}

	p.nextToken() // (
	p.skipNewlines()
	if p.curTokenIs(lexer.RPAREN) {
		p.addError("empty parentheses are not an expression")
		return nil
	}
	first := p.parseExpression(LOWEST)
	if first == nil {
		return nil
	}
	if p.curTokenIs(lexer.COMMA) {
		tuple := &ast.TupleExpr{Token: tok, Elements: []ast.Expression{first}}
		for p.curTokenIs(lexer.COMMA) {
			p.nextToken()
			p.skipNewlines()
			el := p.parseExpression(LOWEST)
			if el == nil {
				return nil
			}
			tuple.Elements = append(tuple.Elements, el)
		}
		if !p.expectCur(lexer.RPAREN) {
			return nil
		}
		return tuple
	}
	if !p.expectCur(lexer.RPAREN) {
		return nil
	}
	return &ast.ParenExpr{Token: tok, Inner: first}
}

// isLambdaAhead reports whether the '(' at the cursor starts a lambda
// parameter list, i.e. the matching ')' is followed by '=>' (or by
// '-> T =>').
func (p *Parser) isLambdaAhead() bool {
	depth := 0
	i := p.pos
	for {
		switch p.tokenAt(i).Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
			if depth == 0 {
				j := i + 1
				if p.tokenAt(j).Type == lexer.FAT_ARROW {
					return true
				}
				if p.tokenAt(j).Type == lexer.ARROW {
					// Skip a simple return annotation looking for =>.
					for k := j + 1; k < j+16; k++ {
						switch p.tokenAt(k).Type {
						case lexer.FAT_ARROW:
							return true
						case lexer.NEWLINE, lexer.EOF, lexer.LBRACE, lexer.SEMICOLON:
							return false
						}
					}
				}
				return false
			}
		case lexer.EOF:
			return false
		}
		i++
	}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.curToken()
	arr := &ast.ArrayLiteral{Token: tok}
	p.nextToken()
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACKET) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated array literal")
			return nil
		}
		el := p.parseExpression(SEND_PREC)
		if el == nil {
			return nil
		}
		arr.Elements = append(arr.Elements, el)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
		}
		p.skipNewlines()
	}
	p.nextToken()
	return arr
}

// parseMapOrBlockExpr handles '{' in expression position: `{ k: v }`
// map literals and `{ stmts }` block expressions.
func (p *Parser) parseMapOrBlockExpr() ast.Expression {
	tok := p.curToken()
	if p.looksLikeMapLiteral() {
		m := &ast.MapLiteral{Token: tok}
		p.nextToken()
		p.skipNewlines()
		for !p.curTokenIs(lexer.RBRACE) {
			key := p.parseExpression(SEND_PREC)
			if key == nil {
				return nil
			}
			if !p.expectCur(lexer.COLON) {
				return nil
			}
			value := p.parseExpression(SEND_PREC)
			if value == nil {
				return nil
			}
			m.Entries = append(m.Entries, ast.MapEntry{Key: key, Value: value})
			if p.curTokenIs(lexer.COMMA) {
				p.nextToken()
			}
			p.skipNewlines()
		}
		p.nextToken()
		return m
	}
	block := p.parseBlockStatement()
	p.nextToken()
	return &ast.BlockExpr{Token: tok, Block: block.(*ast.BlockStmt)}
}

// looksLikeMapLiteral distinguishes `{ "k": v` / `{ ident: v` map
// literals from block expressions. An empty `{}` is an empty map.
func (p *Parser) looksLikeMapLiteral() bool {
	i := p.pos + 1
	for p.tokenAt(i).Type == lexer.NEWLINE {
		i++
	}
	if p.tokenAt(i).Type == lexer.RBRACE {
		return true
	}
	switch p.tokenAt(i).Type {
	case lexer.STRING, lexer.INT, lexer.CHAR:
		return p.tokenAt(i+1).Type == lexer.COLON
	case lexer.IDENT:
		return p.tokenAt(i+1).Type == lexer.COLON
	}
	return false
}

func (p *Parser) parseIfExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	if cond == nil {
		return nil
	}
	p.skipNewlines()
	var thenExpr ast.Expression
	if p.curTokenIs(lexer.LBRACE) {
		thenExpr = p.parseBlockValue()
	} else {
		thenExpr = p.parseExpression(LOWEST)
	}
	if thenExpr == nil {
		return nil
	}
	p.skipNewlines()
	if !p.curTokenIs(lexer.ELSE) {
		p.addError("if expression requires an else branch")
		return nil
	}
	p.nextToken()
	p.skipNewlines()
	var elseExpr ast.Expression
	if p.curTokenIs(lexer.LBRACE) {
		elseExpr = p.parseBlockValue()
	} else if p.curTokenIs(lexer.IF) {
		elseExpr = p.parseIfExpr()
	} else {
		elseExpr = p.parseExpression(LOWEST)
	}
	if elseExpr == nil {
		return nil
	}
	return &ast.IfExpr{Token: tok, Condition: cond, Then: thenExpr, Else: elseExpr}
}

// parseBlockValue parses `{ ... }` as a value-producing block.
func (p *Parser) parseBlockValue() ast.Expression {
	tok := p.curToken()
	block := p.parseBlockStatement()
	p.nextToken()
	return &ast.BlockExpr{Token: tok, Block: block.(*ast.BlockStmt)}
}

func (p *Parser) parseMatchExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	subject := p.parseExpression(LOWEST)
	if subject == nil {
		return nil
	}
	p.skipNewlines()
	if !p.expectCur(lexer.LBRACE) {
		return nil
	}
	expr := &ast.MatchExpr{Token: tok, Subject: subject}
	p.skipNewlines()
	for !p.curTokenIs(lexer.RBRACE) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated match expression")
			return nil
		}
		var arm ast.MatchExprArm
		arm.Pattern = p.parsePattern()
		if arm.Pattern == nil {
			return nil
		}
		if p.curTokenIs(lexer.WHERE) {
			p.nextToken()
			arm.Guard = p.parseExpression(LOWEST)
			if arm.Guard == nil {
				return nil
			}
		}
		if !p.expectCur(lexer.ARROW) {
			return nil
		}
		p.skipNewlines()
		arm.Value = p.parseExpression(SEND_PREC)
		if arm.Value == nil {
			return nil
		}
		expr.Arms = append(expr.Arms, arm)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
		}
		p.skipNewlines()
	}
	p.nextToken()
	return expr
}

func (p *Parser) parseAsyncExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	value := p.parseExpression(LOWEST)
	if value == nil {
		return nil
	}
	return &ast.AsyncExpr{Token: tok, Value: value}
}

func (p *Parser) parseAwaitExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	value := p.parseExpression(PREFIX)
	if value == nil {
		return nil
	}
	return &ast.AwaitExpr{Token: tok, Value: value}
}

func (p *Parser) parseYieldExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	expr := &ast.YieldExpr{Token: tok}
	if !p.atStatementEnd() {
		expr.Value = p.parseExpression(LOWEST)
	}
	return expr
}

// parseRunExpr keeps a call payload unevaluated so the IR generator
// can spawn function+args instead of calling first.
func (p *Parser) parseRunExpr() ast.Expression {
	tok := p.curToken()
	p.nextToken()
	value := p.parseExpression(LOWEST)
	if value == nil {
		return nil
	}
	return &ast.RunExpr{Token: tok, Value: value}
}

func (p *Parser) parseInfixExpr(left ast.Expression) ast.Expression {
	tok := p.curToken()
	prec := p.curPrecedence()
	p.nextToken()
	// ** is right-associative.
	if tok.Type == lexer.POWER {
		prec--
	}
	right := p.parseExpression(prec)
	if right == nil {
		return nil
	}
	return &ast.BinaryExpr{Token: tok, Operator: tok.Type, Left: left, Right: right}
}

func (p *Parser) parseAssignExpr(left ast.Expression) ast.Expression {
	tok := p.curToken()
	switch left.(type) {
	case *ast.Identifier, *ast.IndexExpr, *ast.MemberExpr:
	default:
		p.addError("invalid assignment target")
		return nil
	}
	p.nextToken()
	// Right-associative: a = b = c parses as a = (b = c).
	value := p.parseExpression(ASSIGN_PREC - 1)
	if value == nil {
		return nil
	}
	return &ast.AssignExpr{Token: tok, Operator: tok.Type, Target: left, Value: value}
}

func (p *Parser) parseRangeExpr(left ast.Expression) ast.Expression {
	tok := p.curToken()
	inclusive := tok.Type == lexer.DOT_DOT_DOT
	p.nextToken()
	end := p.parseExpression(RANGE_PREC)
	if end == nil {
		return nil
	}
	expr := &ast.RangeExpr{Token: tok, Start: left, End: end, Inclusive: inclusive}
	if p.curTokenIs(lexer.STEP) {
		p.nextToken()
		expr.Step = p.parseExpression(RANGE_PREC)
		if expr.Step == nil {
			return nil
		}
	}
	return expr
}

func (p *Parser) parseCallExpr(callee ast.Expression) ast.Expression {
	tok := p.curToken()
	call := &ast.CallExpr{Token: tok, Callee: callee}
	p.nextToken() // (
	p.skipNewlines()
	for !p.curTokenIs(lexer.RPAREN) {
		if p.curTokenIs(lexer.EOF) {
			p.addError("unterminated argument list")
			return nil
		}
		arg := p.parseExpression(SEND_PREC)
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)
		if p.curTokenIs(lexer.COMMA) {
			p.nextToken()
			p.skipNewlines()
		}
	}
	p.nextToken() // )
	return call
}

func (p *Parser) parseIndexExpr(obj ast.Expression) ast.Expression {
	tok := p.curToken()
	p.nextToken()
	index := p.parseExpression(LOWEST)
	if index == nil {
		return nil
	}
	if !p.expectCur(lexer.RBRACKET) {
		return nil
	}
	return &ast.IndexExpr{Token: tok, Object: obj, Index: index}
}

func (p *Parser) parseMemberExpr(obj ast.Expression) ast.Expression {
	tok := p.curToken()
	if !p.expectPeek(lexer.IDENT) {
		return nil
	}
	member := p.curToken().Literal
	p.nextToken()
	return &ast.MemberExpr{Token: tok, Object: obj, Member: member}
}

func (p *Parser) parseCastExpr(value ast.Expression) ast.Expression {
	tok := p.curToken()
	p.nextToken()
	t := p.parseType()
	if t == nil {
		return nil
	}
	return &ast.CastExpr{Token: tok, Value: value, Type: t}
}

func (p *Parser) parseChannelSend(ch ast.Expression) ast.Expression {
	tok := p.curToken()
	p.nextToken()
	value := p.parseExpression(SEND_PREC)
	if value == nil {
		return nil
	}
	return &ast.ChannelSendExpr{Token: tok, Channel: ch, Value: value}
}

// ---------------------------------------------------------------------
// Types

// parseType parses a type annotation with the cursor on its first
// token; it leaves the cursor after the type.
func (p *Parser) parseType() *ast.Type {
	tok := p.curToken()
	pos := tok.Pos
	switch tok.Type {
	case lexer.IDENT:
		name := tok.Literal
		switch name {
		case "map":
			return p.parseMapType(pos)
		case "chan":
			p.nextToken()
			elem := p.parseType()
			if elem == nil {
				return nil
			}
			return &ast.Type{Kind: ast.TypeChannel, Pos: pos, Elem: elem}
		case "promise":
			p.nextToken()
			if !p.expectCur(lexer.LT) {
				return nil
			}
			elem := p.parseType()
			if elem == nil {
				return nil
			}
			if !p.expectCur(lexer.GT) {
				return nil
			}
			return &ast.Type{Kind: ast.TypePromise, Pos: pos, Elem: elem}
		}
		p.nextToken()
		if ast.IsPrimitiveName(name) {
			return &ast.Type{Kind: ast.TypePrimitive, Pos: pos, Name: name}
		}
		// Generic instantiation: Name<T, U>
		if p.curTokenIs(lexer.LT) {
			g := &ast.Type{Kind: ast.TypeGeneric, Pos: pos, Name: name}
			p.nextToken()
			for {
				arg := p.parseType()
				if arg == nil {
					return nil
				}
				g.Args = append(g.Args, arg)
				if p.curTokenIs(lexer.COMMA) {
					p.nextToken()
					continue
				}
				break
			}
			if !p.expectCur(lexer.GT) {
				return nil
			}
			return g
		}
		return &ast.Type{Kind: ast.TypeNamed, Pos: pos, Name: name}
	case lexer.LBRACKET:
		// [N]T fixed array, []T slice, [T] array of unspecified size.
		p.nextToken()
		if p.curTokenIs(lexer.RBRACKET) {
			p.nextToken()
			elem := p.parseType()
			if elem == nil {
				return nil
			}
			return &ast.Type{Kind: ast.TypeSlice, Pos: pos, Elem: elem}
		}
		if p.curTokenIs(lexer.INT) {
			size := int(p.curToken().Value.Int)
			p.nextToken()
			if !p.expectCur(lexer.RBRACKET) {
				return nil
			}
			elem := p.parseType()
			if elem == nil {
				return nil
			}
			return &ast.Type{Kind: ast.TypeArray, Pos: pos, Elem: elem, Size: size}
		}
		elem := p.parseType()
		if elem == nil {
			return nil
		}
		if !p.expectCur(lexer.RBRACKET) {
			return nil
		}
		return &ast.Type{Kind: ast.TypeArray, Pos: pos, Elem: elem, Size: -1}
	case lexer.LPAREN:
		// Tuple type: (T1, T2)
		p.nextToken()
		t := &ast.Type{Kind: ast.TypeTuple, Pos: pos}
		for !p.curTokenIs(lexer.RPAREN) {
			el := p.parseType()
			if el == nil {
				return nil
			}
			t.Elems = append(t.Elems, el)
			if p.curTokenIs(lexer.COMMA) {
				p.nextToken()
			}
		}
		p.nextToken()
		return t
	case lexer.FUNC:
		// func(T1, T2) R
		p.nextToken()
		if !p.expectCur(lexer.LPAREN) {
			return nil
		}
		t := &ast.Type{Kind: ast.TypeFunction, Pos: pos}
		for !p.curTokenIs(lexer.RPAREN) {
			param := p.parseType()
			if param == nil {
				return nil
			}
			t.Params = append(t.Params, param)
			if p.curTokenIs(lexer.COMMA) {
				p.nextToken()
			}
		}
		p.nextToken()
		switch p.curToken().Type {
		case lexer.IDENT, lexer.LBRACKET, lexer.LPAREN, lexer.FUNC:
			t.Return = p.parseType()
		}
		return t
	}
	p.addError(fmt.Sprintf("expected type, got %s", tok.Type))
	return nil
}

func (p *Parser) parseMapType(pos lexer.Position) *ast.Type {
	p.nextToken() // map
	if !p.expectCur(lexer.LBRACKET) {
		return nil
	}
	key := p.parseType()
	if key == nil {
		return nil
	}
	if !p.expectCur(lexer.RBRACKET) {
		return nil
	}
	value := p.parseType()
	if value == nil {
		return nil
	}
	return &ast.Type{Kind: ast.TypeMap, Pos: pos, Key: key, Value: value}
}
