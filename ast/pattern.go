package ast

import (
	"github.com/codeassociates/bulu/lexer"
)

// Pattern is the closed sum of match patterns.
type Pattern interface {
	Node
	patternNode()
}

// WildcardPattern is `_`: always matches, binds nothing.
type WildcardPattern struct {
	Token lexer.Token
}

func (p *WildcardPattern) patternNode()         {}
func (p *WildcardPattern) TokenLiteral() string { return p.Token.Literal }
func (p *WildcardPattern) Pos() lexer.Position  { return p.Token.Pos }

// LiteralPattern matches by equality with a literal value.
type LiteralPattern struct {
	Token lexer.Token
	Value Expression
}

func (p *LiteralPattern) patternNode()         {}
func (p *LiteralPattern) TokenLiteral() string { return p.Token.Literal }
func (p *LiteralPattern) Pos() lexer.Position  { return p.Token.Pos }

// IdentifierPattern always matches and binds the subject to Name.
type IdentifierPattern struct {
	Token lexer.Token
	Name  string
}

func (p *IdentifierPattern) patternNode()         {}
func (p *IdentifierPattern) TokenLiteral() string { return p.Token.Literal }
func (p *IdentifierPattern) Pos() lexer.Position  { return p.Token.Pos }

// RangePattern matches `start...end` (inclusive) or `start..<end`.
type RangePattern struct {
	Token     lexer.Token
	Start     Expression
	End       Expression
	Inclusive bool
}

func (p *RangePattern) patternNode()         {}
func (p *RangePattern) TokenLiteral() string { return p.Token.Literal }
func (p *RangePattern) Pos() lexer.Position  { return p.Token.Pos }

// StructPatternField is one `name: pattern` of a struct pattern.
type StructPatternField struct {
	Name    string
	Pattern Pattern
}

// StructPattern matches a struct by type name and field sub-patterns.
type StructPattern struct {
	Token  lexer.Token
	Name   string
	Fields []StructPatternField
}

func (p *StructPattern) patternNode()         {}
func (p *StructPattern) TokenLiteral() string { return p.Token.Literal }
func (p *StructPattern) Pos() lexer.Position  { return p.Token.Pos }

// ArrayPattern matches an array element-wise.
type ArrayPattern struct {
	Token    lexer.Token
	Elements []Pattern
}

func (p *ArrayPattern) patternNode()         {}
func (p *ArrayPattern) TokenLiteral() string { return p.Token.Literal }
func (p *ArrayPattern) Pos() lexer.Position  { return p.Token.Pos }

// OrPattern matches when any alternative matches.
type OrPattern struct {
	Token lexer.Token
	Alts  []Pattern
}

func (p *OrPattern) patternNode()         {}
func (p *OrPattern) TokenLiteral() string { return p.Token.Literal }
func (p *OrPattern) Pos() lexer.Position  { return p.Token.Pos }
