package ast

import (
	"github.com/codeassociates/bulu/lexer"
)

// ---------------------------------------------------------------------
// Expressions

// IntegerLiteral is an integer constant.
type IntegerLiteral struct {
	Token lexer.Token
	Value int64
}

func (l *IntegerLiteral) expressionNode()      {}
func (l *IntegerLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *IntegerLiteral) Pos() lexer.Position  { return l.Token.Pos }

// FloatLiteral is a floating point constant.
type FloatLiteral struct {
	Token lexer.Token
	Value float64
}

func (l *FloatLiteral) expressionNode()      {}
func (l *FloatLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *FloatLiteral) Pos() lexer.Position  { return l.Token.Pos }

// StringLiteral is a string constant (escapes already decoded).
type StringLiteral struct {
	Token lexer.Token
	Value string
}

func (l *StringLiteral) expressionNode()      {}
func (l *StringLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *StringLiteral) Pos() lexer.Position  { return l.Token.Pos }

// CharLiteral is a character constant.
type CharLiteral struct {
	Token lexer.Token
	Value rune
}

func (l *CharLiteral) expressionNode()      {}
func (l *CharLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *CharLiteral) Pos() lexer.Position  { return l.Token.Pos }

// BoolLiteral is true or false.
type BoolLiteral struct {
	Token lexer.Token
	Value bool
}

func (l *BoolLiteral) expressionNode()      {}
func (l *BoolLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *BoolLiteral) Pos() lexer.Position  { return l.Token.Pos }

// NullLiteral is the null constant.
type NullLiteral struct {
	Token lexer.Token
}

func (l *NullLiteral) expressionNode()      {}
func (l *NullLiteral) TokenLiteral() string { return l.Token.Literal }
func (l *NullLiteral) Pos() lexer.Position  { return l.Token.Pos }

// Identifier is a name use.
type Identifier struct {
	Token lexer.Token
	Name  string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) Pos() lexer.Position  { return i.Token.Pos }

// BinaryExpr is `left op right`.
type BinaryExpr struct {
	Token    lexer.Token // the operator token
	Operator lexer.TokenType
	Left     Expression
	Right    Expression
}

func (b *BinaryExpr) expressionNode()      {}
func (b *BinaryExpr) TokenLiteral() string { return b.Token.Literal }
func (b *BinaryExpr) Pos() lexer.Position  { return b.Token.Pos }

// UnaryExpr is `op operand`, including channel receive `<-ch`.
type UnaryExpr struct {
	Token    lexer.Token
	Operator lexer.TokenType
	Operand  Expression
}

func (u *UnaryExpr) expressionNode()      {}
func (u *UnaryExpr) TokenLiteral() string { return u.Token.Literal }
func (u *UnaryExpr) Pos() lexer.Position  { return u.Token.Pos }

// AssignExpr is `target = value` or a compound form (`+=` etc.),
// recorded via Operator (ASSIGN for plain assignment).
type AssignExpr struct {
	Token    lexer.Token
	Operator lexer.TokenType
	Target   Expression
	Value    Expression
}

func (a *AssignExpr) expressionNode()      {}
func (a *AssignExpr) TokenLiteral() string { return a.Token.Literal }
func (a *AssignExpr) Pos() lexer.Position  { return a.Token.Pos }

// CallExpr is `callee<T...>(args...)`.
type CallExpr struct {
	Token    lexer.Token // the ( token
	Callee   Expression
	TypeArgs []*Type
	Args     []Expression
}

func (c *CallExpr) expressionNode()      {}
func (c *CallExpr) TokenLiteral() string { return c.Token.Literal }
func (c *CallExpr) Pos() lexer.Position  { return c.Token.Pos }

// IndexExpr is `obj[index]`.
type IndexExpr struct {
	Token  lexer.Token
	Object Expression
	Index  Expression
}

func (i *IndexExpr) expressionNode()      {}
func (i *IndexExpr) TokenLiteral() string { return i.Token.Literal }
func (i *IndexExpr) Pos() lexer.Position  { return i.Token.Pos }

// MemberExpr is `obj.field`.
type MemberExpr struct {
	Token  lexer.Token
	Object Expression
	Member string
}

func (m *MemberExpr) expressionNode()      {}
func (m *MemberExpr) TokenLiteral() string { return m.Token.Literal }
func (m *MemberExpr) Pos() lexer.Position  { return m.Token.Pos }

// ArrayLiteral is `[a, b, c]`.
type ArrayLiteral struct {
	Token    lexer.Token
	Elements []Expression
}

func (a *ArrayLiteral) expressionNode()      {}
func (a *ArrayLiteral) TokenLiteral() string { return a.Token.Literal }
func (a *ArrayLiteral) Pos() lexer.Position  { return a.Token.Pos }

// MapEntry is one `key: value` pair of a map literal.
type MapEntry struct {
	Key   Expression
	Value Expression
}

// MapLiteral is `{ k: v, ... }` in expression position.
type MapLiteral struct {
	Token   lexer.Token
	Entries []MapEntry
}

func (m *MapLiteral) expressionNode()      {}
func (m *MapLiteral) TokenLiteral() string { return m.Token.Literal }
func (m *MapLiteral) Pos() lexer.Position  { return m.Token.Pos }

// TupleExpr is `(a, b, c)` and the synthetic wrapper for multiple
// returns.
type TupleExpr struct {
	Token    lexer.Token
	Elements []Expression
}

func (t *TupleExpr) expressionNode()      {}
func (t *TupleExpr) TokenLiteral() string { return t.Token.Literal }
func (t *TupleExpr) Pos() lexer.Position  { return t.Token.Pos }

// StructFieldInit is one `name: value` of a struct literal.
type StructFieldInit struct {
	Name  string
	Value Expression
}

// StructLiteral is `Name { field: value, ... }`.
type StructLiteral struct {
	Token  lexer.Token
	Name   string
	Fields []StructFieldInit
}

func (s *StructLiteral) expressionNode()      {}
func (s *StructLiteral) TokenLiteral() string { return s.Token.Literal }
func (s *StructLiteral) Pos() lexer.Position  { return s.Token.Pos }

// CaptureMode says how a lambda capture is taken.
type CaptureMode int

const (
	CaptureByValue CaptureMode = iota
	CaptureByReference
)

// Capture is a free variable of a lambda bound in an enclosing
// function. The list is filled in by semantic analysis.
type Capture struct {
	Name string
	Mode CaptureMode
}

// LambdaExpr is `(params) => body` or `x => body`.
type LambdaExpr struct {
	Token      lexer.Token
	Params     []Param
	ReturnType *Type
	Body       Statement // *BlockStmt or *ExpressionStmt
	Captures   []Capture // filled by semantic analysis
}

func (l *LambdaExpr) expressionNode()      {}
func (l *LambdaExpr) TokenLiteral() string { return l.Token.Literal }
func (l *LambdaExpr) Pos() lexer.Position  { return l.Token.Pos }

// IfExpr is an if in value position; both arms are required.
type IfExpr struct {
	Token     lexer.Token
	Condition Expression
	Then      Expression
	Else      Expression
}

func (i *IfExpr) expressionNode()      {}
func (i *IfExpr) TokenLiteral() string { return i.Token.Literal }
func (i *IfExpr) Pos() lexer.Position  { return i.Token.Pos }

// MatchExpr is a match in value position.
type MatchExpr struct {
	Token   lexer.Token
	Subject Expression
	Arms    []MatchExprArm
}

// MatchExprArm is one arm of a match expression.
type MatchExprArm struct {
	Pattern Pattern
	Guard   Expression
	Value   Expression
}

func (m *MatchExpr) expressionNode()      {}
func (m *MatchExpr) TokenLiteral() string { return m.Token.Literal }
func (m *MatchExpr) Pos() lexer.Position  { return m.Token.Pos }

// BlockExpr is a block in value position; the value is that of the
// final expression statement.
type BlockExpr struct {
	Token lexer.Token
	Block *BlockStmt
}

func (b *BlockExpr) expressionNode()      {}
func (b *BlockExpr) TokenLiteral() string { return b.Token.Literal }
func (b *BlockExpr) Pos() lexer.Position  { return b.Token.Pos }

// RangeExpr is `start...end`, `start..<end`, optionally `step s`.
type RangeExpr struct {
	Token     lexer.Token
	Start     Expression
	End       Expression
	Step      Expression // nil for step 1
	Inclusive bool
}

func (r *RangeExpr) expressionNode()      {}
func (r *RangeExpr) TokenLiteral() string { return r.Token.Literal }
func (r *RangeExpr) Pos() lexer.Position  { return r.Token.Pos }

// CastExpr is `expr as T`.
type CastExpr struct {
	Token lexer.Token
	Value Expression
	Type  *Type
}

func (c *CastExpr) expressionNode()      {}
func (c *CastExpr) TokenLiteral() string { return c.Token.Literal }
func (c *CastExpr) Pos() lexer.Position  { return c.Token.Pos }

// TypeOfExpr is `typeof(expr)`.
type TypeOfExpr struct {
	Token lexer.Token
	Value Expression
}

func (t *TypeOfExpr) expressionNode()      {}
func (t *TypeOfExpr) TokenLiteral() string { return t.Token.Literal }
func (t *TypeOfExpr) Pos() lexer.Position  { return t.Token.Pos }

// ChannelSendExpr is `ch <- value`.
type ChannelSendExpr struct {
	Token   lexer.Token
	Channel Expression
	Value   Expression
}

func (c *ChannelSendExpr) expressionNode()      {}
func (c *ChannelSendExpr) TokenLiteral() string { return c.Token.Literal }
func (c *ChannelSendExpr) Pos() lexer.Position  { return c.Token.Pos }

// ChannelReceiveExpr is `<-ch`.
type ChannelReceiveExpr struct {
	Token   lexer.Token
	Channel Expression
}

func (c *ChannelReceiveExpr) expressionNode()      {}
func (c *ChannelReceiveExpr) TokenLiteral() string { return c.Token.Literal }
func (c *ChannelReceiveExpr) Pos() lexer.Position  { return c.Token.Pos }

// AsyncExpr is `async expr`.
type AsyncExpr struct {
	Token lexer.Token
	Value Expression
}

func (a *AsyncExpr) expressionNode()      {}
func (a *AsyncExpr) TokenLiteral() string { return a.Token.Literal }
func (a *AsyncExpr) Pos() lexer.Position  { return a.Token.Pos }

// AwaitExpr is `await expr`.
type AwaitExpr struct {
	Token lexer.Token
	Value Expression
}

func (a *AwaitExpr) expressionNode()      {}
func (a *AwaitExpr) TokenLiteral() string { return a.Token.Literal }
func (a *AwaitExpr) Pos() lexer.Position  { return a.Token.Pos }

// YieldExpr is `yield expr` inside a generator.
type YieldExpr struct {
	Token lexer.Token
	Value Expression // nil for bare yield
}

func (y *YieldExpr) expressionNode()      {}
func (y *YieldExpr) TokenLiteral() string { return y.Token.Literal }
func (y *YieldExpr) Pos() lexer.Position  { return y.Token.Pos }

// RunExpr is `run expr`: spawn the expression as a goroutine. When the
// payload is a call, the parser keeps it unevaluated so the IR can
// spawn function+args.
type RunExpr struct {
	Token lexer.Token
	Value Expression
}

func (r *RunExpr) expressionNode()      {}
func (r *RunExpr) TokenLiteral() string { return r.Token.Literal }
func (r *RunExpr) Pos() lexer.Position  { return r.Token.Pos }

// ParenExpr is `(expr)`, preserved for position fidelity.
type ParenExpr struct {
	Token lexer.Token
	Inner Expression
}

func (p *ParenExpr) expressionNode()      {}
func (p *ParenExpr) TokenLiteral() string { return p.Token.Literal }
func (p *ParenExpr) Pos() lexer.Position  { return p.Token.Pos }
