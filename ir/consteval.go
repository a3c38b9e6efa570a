package ir

import (
	"math"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/lexer"
)

// evalConst evaluates an expression at IR generation time when every
// operand is itself constant. Arithmetic, comparison, logical, and
// unary operations fold; anything else reports not-constant so code is
// emitted instead. Division or modulo by zero yields the null constant
// in constant contexts; the runtime handles it later.
func (g *Generator) evalConst(expr ast.Expression) (Constant, bool) {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		return Constant{Kind: ConstInt, Int: e.Value}, true
	case *ast.FloatLiteral:
		return Constant{Kind: ConstFloat, Float: e.Value}, true
	case *ast.StringLiteral:
		return Constant{Kind: ConstString, Str: e.Value}, true
	case *ast.CharLiteral:
		return Constant{Kind: ConstChar, Char: e.Value}, true
	case *ast.BoolLiteral:
		return Constant{Kind: ConstBool, Bool: e.Value}, true
	case *ast.NullLiteral:
		return Constant{Kind: ConstNull}, true
	case *ast.ParenExpr:
		return g.evalConst(e.Inner)
	case *ast.ArrayLiteral:
		elems := make([]Constant, len(e.Elements))
		for i, el := range e.Elements {
			c, ok := g.evalConst(el)
			if !ok {
				return Constant{}, false
			}
			elems[i] = c
		}
		return Constant{Kind: ConstArray, Elems: elems}, true
	case *ast.TupleExpr:
		elems := make([]Constant, len(e.Elements))
		for i, el := range e.Elements {
			c, ok := g.evalConst(el)
			if !ok {
				return Constant{}, false
			}
			elems[i] = c
		}
		return Constant{Kind: ConstTuple, Elems: elems}, true
	case *ast.UnaryExpr:
		operand, ok := g.evalConst(e.Operand)
		if !ok {
			return Constant{}, false
		}
		return evalConstUnary(e.Operator, operand)
	case *ast.BinaryExpr:
		left, ok := g.evalConst(e.Left)
		if !ok {
			return Constant{}, false
		}
		right, ok := g.evalConst(e.Right)
		if !ok {
			return Constant{}, false
		}
		return EvalConstBinary(e.Operator, left, right)
	}
	return Constant{}, false
}

func evalConstUnary(op lexer.TokenType, c Constant) (Constant, bool) {
	switch op {
	case lexer.MINUS:
		switch c.Kind {
		case ConstInt:
			return Constant{Kind: ConstInt, Int: -c.Int}, true
		case ConstFloat:
			return Constant{Kind: ConstFloat, Float: -c.Float}, true
		}
	case lexer.NOT:
		if c.Kind == ConstBool {
			return Constant{Kind: ConstBool, Bool: !c.Bool}, true
		}
	case lexer.TILDE:
		if c.Kind == ConstInt {
			return Constant{Kind: ConstInt, Int: ^c.Int}, true
		}
	}
	return Constant{}, false
}

// EvalConstBinary folds one binary operation over constants. Mixed
// int/float operands widen to float. A zero divisor yields null in
// this generation-time context.
func EvalConstBinary(op lexer.TokenType, l, r Constant) (Constant, bool) {
	if l.Kind == ConstString && r.Kind == ConstString && op == lexer.PLUS {
		return Constant{Kind: ConstString, Str: l.Str + r.Str}, true
	}

	if l.Kind == ConstBool && r.Kind == ConstBool {
		switch op {
		case lexer.AMP_AMP:
			return Constant{Kind: ConstBool, Bool: l.Bool && r.Bool}, true
		case lexer.PIPE_PIPE:
			return Constant{Kind: ConstBool, Bool: l.Bool || r.Bool}, true
		case lexer.EQ:
			return Constant{Kind: ConstBool, Bool: l.Bool == r.Bool}, true
		case lexer.NEQ:
			return Constant{Kind: ConstBool, Bool: l.Bool != r.Bool}, true
		}
		return Constant{}, false
	}

	if l.Kind == ConstString && r.Kind == ConstString {
		switch op {
		case lexer.EQ:
			return Constant{Kind: ConstBool, Bool: l.Str == r.Str}, true
		case lexer.NEQ:
			return Constant{Kind: ConstBool, Bool: l.Str != r.Str}, true
		}
		return Constant{}, false
	}

	// Numeric: float dominates.
	if l.Kind == ConstFloat || r.Kind == ConstFloat {
		lf, lok := floatOf(l)
		rf, rok := floatOf(r)
		if !lok || !rok {
			return Constant{}, false
		}
		switch op {
		case lexer.PLUS:
			return Constant{Kind: ConstFloat, Float: lf + rf}, true
		case lexer.MINUS:
			return Constant{Kind: ConstFloat, Float: lf - rf}, true
		case lexer.STAR:
			return Constant{Kind: ConstFloat, Float: lf * rf}, true
		case lexer.SLASH:
			if rf == 0 {
				return Constant{Kind: ConstNull}, true
			}
			return Constant{Kind: ConstFloat, Float: lf / rf}, true
		case lexer.PERCENT:
			if rf == 0 {
				return Constant{Kind: ConstNull}, true
			}
			return Constant{Kind: ConstFloat, Float: math.Mod(lf, rf)}, true
		case lexer.POWER:
			return Constant{Kind: ConstFloat, Float: math.Pow(lf, rf)}, true
		case lexer.EQ:
			return Constant{Kind: ConstBool, Bool: lf == rf}, true
		case lexer.NEQ:
			return Constant{Kind: ConstBool, Bool: lf != rf}, true
		case lexer.LT:
			return Constant{Kind: ConstBool, Bool: lf < rf}, true
		case lexer.LE:
			return Constant{Kind: ConstBool, Bool: lf <= rf}, true
		case lexer.GT:
			return Constant{Kind: ConstBool, Bool: lf > rf}, true
		case lexer.GE:
			return Constant{Kind: ConstBool, Bool: lf >= rf}, true
		}
		return Constant{}, false
	}

	if l.Kind != ConstInt || r.Kind != ConstInt {
		return Constant{}, false
	}
	a, b := l.Int, r.Int
	switch op {
	case lexer.PLUS:
		return Constant{Kind: ConstInt, Int: a + b}, true
	case lexer.MINUS:
		return Constant{Kind: ConstInt, Int: a - b}, true
	case lexer.STAR:
		return Constant{Kind: ConstInt, Int: a * b}, true
	case lexer.SLASH:
		if b == 0 {
			return Constant{Kind: ConstNull}, true
		}
		return Constant{Kind: ConstInt, Int: a / b}, true
	case lexer.PERCENT:
		if b == 0 {
			return Constant{Kind: ConstNull}, true
		}
		return Constant{Kind: ConstInt, Int: a % b}, true
	case lexer.POWER:
		// Non-negative integer exponents stay integer; negative
		// exponents widen to float.
		if b >= 0 {
			return Constant{Kind: ConstInt, Int: ipow(a, b)}, true
		}
		return Constant{Kind: ConstFloat, Float: math.Pow(float64(a), float64(b))}, true
	case lexer.AMP:
		return Constant{Kind: ConstInt, Int: a & b}, true
	case lexer.PIPE:
		return Constant{Kind: ConstInt, Int: a | b}, true
	case lexer.CARET:
		return Constant{Kind: ConstInt, Int: a ^ b}, true
	case lexer.SHL:
		return Constant{Kind: ConstInt, Int: a << uint64(b)}, true
	case lexer.SHR:
		return Constant{Kind: ConstInt, Int: a >> uint64(b)}, true
	case lexer.EQ:
		return Constant{Kind: ConstBool, Bool: a == b}, true
	case lexer.NEQ:
		return Constant{Kind: ConstBool, Bool: a != b}, true
	case lexer.LT:
		return Constant{Kind: ConstBool, Bool: a < b}, true
	case lexer.LE:
		return Constant{Kind: ConstBool, Bool: a <= b}, true
	case lexer.GT:
		return Constant{Kind: ConstBool, Bool: a > b}, true
	case lexer.GE:
		return Constant{Kind: ConstBool, Bool: a >= b}, true
	}
	return Constant{}, false
}

func floatOf(c Constant) (float64, bool) {
	switch c.Kind {
	case ConstFloat:
		return c.Float, true
	case ConstInt:
		return float64(c.Int), true
	}
	return 0, false
}

func ipow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}
