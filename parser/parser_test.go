package parser

import (
	"testing"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/lexer"
)

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(lexer.New(input))
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			t.Errorf("parser error: %s", e)
		}
		t.FailNow()
	}
	return program
}

func TestLetStatements(t *testing.T) {
	program := parseProgram(t, "let x = 5\nconst y: i64 = 10\nlet s = \"hi\"\n")
	if len(program.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(program.Statements))
	}

	first := program.Statements[0].(*ast.VarDecl)
	if first.Name != "x" || first.IsConst {
		t.Errorf("first decl wrong: %+v", first)
	}
	if lit, ok := first.Value.(*ast.IntegerLiteral); !ok || lit.Value != 5 {
		t.Errorf("first value wrong: %#v", first.Value)
	}

	second := program.Statements[1].(*ast.VarDecl)
	if second.Name != "y" || !second.IsConst {
		t.Errorf("second decl wrong: %+v", second)
	}
	if second.Type == nil || second.Type.Name != "i64" {
		t.Errorf("second type wrong: %v", second.Type)
	}
}

func TestMultipleAndDestructuringDecl(t *testing.T) {
	program := parseProgram(t, "let a = 1, b = 2\nlet (x, y) = pair\n")

	multi := program.Statements[0].(*ast.MultipleDecl)
	if len(multi.Decls) != 2 || multi.Decls[0].Name != "a" || multi.Decls[1].Name != "b" {
		t.Errorf("multiple decl wrong: %+v", multi)
	}

	destr := program.Statements[1].(*ast.DestructuringDecl)
	if len(destr.Names) != 2 || destr.Names[0] != "x" || destr.Names[1] != "y" {
		t.Errorf("destructuring wrong: %+v", destr)
	}
}

func TestFunctionDecl(t *testing.T) {
	input := `func add(a: i64, b: i64 = 0) -> i64 {
	return a + b
}
`
	program := parseProgram(t, input)
	fn := program.Statements[0].(*ast.FunctionDecl)
	if fn.Name != "add" {
		t.Errorf("name wrong: %q", fn.Name)
	}
	if len(fn.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Params))
	}
	if fn.Params[1].Default == nil {
		t.Errorf("second param should have a default")
	}
	if len(fn.ReturnTypes) != 1 || fn.ReturnTypes[0].Name != "i64" {
		t.Errorf("return type wrong: %+v", fn.ReturnTypes)
	}
	if len(fn.Body.Statements) != 1 {
		t.Errorf("body statements: %d", len(fn.Body.Statements))
	}
}

func TestGenericFunctionAndVariadic(t *testing.T) {
	program := parseProgram(t, "func first<T>(...items: []T) -> T {\n\treturn items[0]\n}\n")
	fn := program.Statements[0].(*ast.FunctionDecl)
	if len(fn.TypeParams) != 1 || fn.TypeParams[0] != "T" {
		t.Errorf("type params wrong: %v", fn.TypeParams)
	}
	if !fn.Params[0].IsVariadic {
		t.Errorf("expected variadic param")
	}
}

func TestMultipleReturnsSyntheticTuple(t *testing.T) {
	program := parseProgram(t, "func pair() -> (i64, i64) {\n\treturn 1, 2\n}\n")
	fn := program.Statements[0].(*ast.FunctionDecl)
	if len(fn.ReturnTypes) != 2 {
		t.Fatalf("expected 2 return types, got %d", len(fn.ReturnTypes))
	}
	ret := fn.Body.Statements[0].(*ast.ReturnStmt)
	tuple, ok := ret.Value.(*ast.TupleExpr)
	if !ok {
		t.Fatalf("expected synthetic tuple, got %#v", ret.Value)
	}
	if len(tuple.Elements) != 2 {
		t.Errorf("tuple size: %d", len(tuple.Elements))
	}
}

func TestOperatorPrecedence(t *testing.T) {
	program := parseProgram(t, "let v = 1 + 2 * 3\n")
	decl := program.Statements[0].(*ast.VarDecl)
	add := decl.Value.(*ast.BinaryExpr)
	if add.Operator != lexer.PLUS {
		t.Fatalf("top operator: %q", add.Operator)
	}
	mul, ok := add.Right.(*ast.BinaryExpr)
	if !ok || mul.Operator != lexer.STAR {
		t.Fatalf("expected 2*3 on the right, got %#v", add.Right)
	}
}

func TestPowerRightAssociative(t *testing.T) {
	program := parseProgram(t, "let v = 2 ** 3 ** 2\n")
	decl := program.Statements[0].(*ast.VarDecl)
	top := decl.Value.(*ast.BinaryExpr)
	right, ok := top.Right.(*ast.BinaryExpr)
	if !ok || right.Operator != lexer.POWER {
		t.Fatalf("expected right-nested power, got %#v", top.Right)
	}
}

func TestAssignmentRightAssociative(t *testing.T) {
	program := parseProgram(t, "a = b = 1\n")
	stmt := program.Statements[0].(*ast.ExpressionStmt)
	outer := stmt.Expression.(*ast.AssignExpr)
	if _, ok := outer.Value.(*ast.AssignExpr); !ok {
		t.Fatalf("expected nested assignment, got %#v", outer.Value)
	}
}

func TestCompoundAssignment(t *testing.T) {
	program := parseProgram(t, "x += 2\n")
	stmt := program.Statements[0].(*ast.ExpressionStmt)
	assign := stmt.Expression.(*ast.AssignExpr)
	if assign.Operator != lexer.PLUS_ASSIGN {
		t.Errorf("operator wrong: %q", assign.Operator)
	}
}

func TestIfElseChain(t *testing.T) {
	input := `if x < 1 {
	a()
} else if x < 2 {
	b()
} else {
	c()
}
`
	program := parseProgram(t, input)
	stmt := program.Statements[0].(*ast.IfStmt)
	elseIf, ok := stmt.Else.(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected else-if, got %#v", stmt.Else)
	}
	if _, ok := elseIf.Else.(*ast.BlockStmt); !ok {
		t.Fatalf("expected final else block, got %#v", elseIf.Else)
	}
}

func TestWhileAndFor(t *testing.T) {
	program := parseProgram(t, "while i < 3 {\n\ti = i + 1\n}\nfor i, v in items {\n\tprintln(v)\n}\n")

	w := program.Statements[0].(*ast.WhileStmt)
	if w.Body == nil || len(w.Body.Statements) != 1 {
		t.Errorf("while body wrong")
	}

	f := program.Statements[1].(*ast.ForStmt)
	if f.Index != "i" || f.Value != "v" {
		t.Errorf("for bindings wrong: %q %q", f.Index, f.Value)
	}
}

func TestMatchStatement(t *testing.T) {
	input := `match x {
	0...9 -> println("small"),
	10 | 20 -> println("tens"),
	n where n > 100 -> println("big"),
	_ -> println("large")
}
`
	program := parseProgram(t, input)
	m := program.Statements[0].(*ast.MatchStmt)
	if len(m.Arms) != 4 {
		t.Fatalf("expected 4 arms, got %d", len(m.Arms))
	}
	rangePat, ok := m.Arms[0].Pattern.(*ast.RangePattern)
	if !ok || !rangePat.Inclusive {
		t.Errorf("first arm should be an inclusive range, got %#v", m.Arms[0].Pattern)
	}
	if _, ok := m.Arms[1].Pattern.(*ast.OrPattern); !ok {
		t.Errorf("second arm should be an or-pattern, got %#v", m.Arms[1].Pattern)
	}
	if m.Arms[2].Guard == nil {
		t.Errorf("third arm should carry a guard")
	}
	if _, ok := m.Arms[3].Pattern.(*ast.WildcardPattern); !ok {
		t.Errorf("last arm should be wildcard, got %#v", m.Arms[3].Pattern)
	}
}

func TestStructPatternAndArrayPattern(t *testing.T) {
	input := `match p {
	Point { x: 0, y } -> a(),
	[1, 2, z] -> b(),
	_ -> c()
}
`
	program := parseProgram(t, input)
	m := program.Statements[0].(*ast.MatchStmt)
	sp := m.Arms[0].Pattern.(*ast.StructPattern)
	if sp.Name != "Point" || len(sp.Fields) != 2 {
		t.Errorf("struct pattern wrong: %+v", sp)
	}
	ap := m.Arms[1].Pattern.(*ast.ArrayPattern)
	if len(ap.Elements) != 3 {
		t.Errorf("array pattern wrong: %+v", ap)
	}
}

func TestSelectStatement(t *testing.T) {
	input := `select {
	v = <-ch -> {
		println(v)
	}
	default -> {
		println("none")
	}
}
`
	program := parseProgram(t, input)
	s := program.Statements[0].(*ast.SelectStmt)
	if len(s.Arms) != 1 || s.Arms[0].Bind != "v" {
		t.Fatalf("select arms wrong: %+v", s.Arms)
	}
	if s.Default == nil {
		t.Errorf("expected default arm")
	}
}

func TestTryFail(t *testing.T) {
	input := `try {
	fail "boom"
} fail on e {
	println(e)
}
`
	program := parseProgram(t, input)
	tr := program.Statements[0].(*ast.TryStmt)
	if tr.ErrName != "e" {
		t.Errorf("error binding wrong: %q", tr.ErrName)
	}
	if tr.Handler == nil || len(tr.Handler.Statements) != 1 {
		t.Errorf("handler wrong")
	}
	f := tr.Body.Statements[0].(*ast.FailStmt)
	if lit, ok := f.Value.(*ast.StringLiteral); !ok || lit.Value != "boom" {
		t.Errorf("fail value wrong: %#v", f.Value)
	}
}

func TestImportForms(t *testing.T) {
	input := `import "utils"
import "math" as m
import { sqrt, pow as power } from "math"
export { sqrt } from "math"
`
	program := parseProgram(t, input)

	plain := program.Statements[0].(*ast.ImportStmt)
	if plain.Path != "utils" || plain.Alias != "" || plain.Items != nil {
		t.Errorf("wildcard import wrong: %+v", plain)
	}

	aliased := program.Statements[1].(*ast.ImportStmt)
	if aliased.Alias != "m" {
		t.Errorf("aliased import wrong: %+v", aliased)
	}

	named := program.Statements[2].(*ast.ImportStmt)
	if len(named.Items) != 2 || named.Items[1].Alias != "power" {
		t.Errorf("named import wrong: %+v", named)
	}

	reexp := program.Statements[3].(*ast.ExportStmt)
	if _, ok := reexp.Inner.(*ast.ImportStmt); !ok {
		t.Errorf("re-export wrong: %#v", reexp.Inner)
	}
}

func TestExportWrapsDecl(t *testing.T) {
	program := parseProgram(t, "export func visible() {\n\treturn\n}\n")
	exp := program.Statements[0].(*ast.ExportStmt)
	fn, ok := exp.Inner.(*ast.FunctionDecl)
	if !ok || fn.Name != "visible" {
		t.Errorf("export inner wrong: %#v", exp.Inner)
	}
}

func TestStructDecl(t *testing.T) {
	input := `struct Point {
	x: i64
	y: i64 = 0

	func dist() -> i64 {
		return x
	}
}
`
	program := parseProgram(t, input)
	st := program.Statements[0].(*ast.StructDecl)
	if st.Name != "Point" || len(st.Fields) != 2 || len(st.Methods) != 1 {
		t.Fatalf("struct decl wrong: name=%q fields=%d methods=%d",
			st.Name, len(st.Fields), len(st.Methods))
	}
	if st.Fields[1].Default == nil {
		t.Errorf("second field should have a default")
	}
}

func TestInterfaceDecl(t *testing.T) {
	input := `interface Shape {
	func area() -> f64
	func name()
}
`
	program := parseProgram(t, input)
	iface := program.Statements[0].(*ast.InterfaceDecl)
	if len(iface.Methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(iface.Methods))
	}
	if len(iface.Methods[0].ReturnTypes) != 1 {
		t.Errorf("first method should return f64")
	}
}

func TestStructLiteralVsBlock(t *testing.T) {
	program := parseProgram(t, "let p = Point { x: 1, y: 2 }\nif ready {\n\tgo()\n}\n")
	decl := program.Statements[0].(*ast.VarDecl)
	lit, ok := decl.Value.(*ast.StructLiteral)
	if !ok || lit.Name != "Point" || len(lit.Fields) != 2 {
		t.Fatalf("struct literal wrong: %#v", decl.Value)
	}
	// `if ready { go() }` must treat the brace as a block.
	ifStmt := program.Statements[1].(*ast.IfStmt)
	if _, ok := ifStmt.Condition.(*ast.Identifier); !ok {
		t.Errorf("if condition wrong: %#v", ifStmt.Condition)
	}
}

func TestEmptyStructLiteral(t *testing.T) {
	program := parseProgram(t, "let p = Point {}\n")
	decl := program.Statements[0].(*ast.VarDecl)
	if lit, ok := decl.Value.(*ast.StructLiteral); !ok || len(lit.Fields) != 0 {
		t.Fatalf("empty struct literal wrong: %#v", decl.Value)
	}
}

func TestLambdas(t *testing.T) {
	program := parseProgram(t, "let f = (a, b) => a + b\nlet g = x => x * 2\n")

	f := program.Statements[0].(*ast.VarDecl).Value.(*ast.LambdaExpr)
	if len(f.Params) != 2 {
		t.Errorf("paren lambda params: %d", len(f.Params))
	}
	if _, ok := f.Body.(*ast.ExpressionStmt); !ok {
		t.Errorf("lambda body wrong: %#v", f.Body)
	}

	g := program.Statements[1].(*ast.VarDecl).Value.(*ast.LambdaExpr)
	if len(g.Params) != 1 || g.Params[0].Name != "x" {
		t.Errorf("single-param lambda wrong: %+v", g.Params)
	}
}

func TestRunPreservesCall(t *testing.T) {
	program := parseProgram(t, "run worker(1, 2)\n")
	stmt := program.Statements[0].(*ast.ExpressionStmt)
	runExpr := stmt.Expression.(*ast.RunExpr)
	call, ok := runExpr.Value.(*ast.CallExpr)
	if !ok {
		t.Fatalf("run payload should stay a call, got %#v", runExpr.Value)
	}
	if len(call.Args) != 2 {
		t.Errorf("call args: %d", len(call.Args))
	}
}

func TestChannelOps(t *testing.T) {
	program := parseProgram(t, "ch <- 42\nlet v = <-ch\n")

	send := program.Statements[0].(*ast.ExpressionStmt).Expression.(*ast.ChannelSendExpr)
	if _, ok := send.Value.(*ast.IntegerLiteral); !ok {
		t.Errorf("send value wrong: %#v", send.Value)
	}

	recv := program.Statements[1].(*ast.VarDecl).Value.(*ast.ChannelReceiveExpr)
	if _, ok := recv.Channel.(*ast.Identifier); !ok {
		t.Errorf("receive channel wrong: %#v", recv.Channel)
	}
}

func TestRangeWithStep(t *testing.T) {
	program := parseProgram(t, "let r = 0..<10 step 2\nlet q = 1...5\n")

	r := program.Statements[0].(*ast.VarDecl).Value.(*ast.RangeExpr)
	if r.Inclusive || r.Step == nil {
		t.Errorf("exclusive stepped range wrong: %+v", r)
	}

	q := program.Statements[1].(*ast.VarDecl).Value.(*ast.RangeExpr)
	if !q.Inclusive || q.Step != nil {
		t.Errorf("inclusive range wrong: %+v", q)
	}
}

func TestCastAndTypeAlias(t *testing.T) {
	program := parseProgram(t, "type Id = i64\nlet n = x as i64\n")

	alias := program.Statements[0].(*ast.TypeAlias)
	if alias.Name != "Id" {
		t.Errorf("alias wrong: %+v", alias)
	}

	cast := program.Statements[1].(*ast.VarDecl).Value.(*ast.CastExpr)
	if cast.Type.Name != "i64" {
		t.Errorf("cast type wrong: %v", cast.Type)
	}
}

func TestStatementTerminators(t *testing.T) {
	// Newline, semicolon, and closing brace all terminate statements.
	program := parseProgram(t, "let a = 1; let b = 2\nfunc f() { let c = 3 }\n")
	if len(program.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(program.Statements))
	}
}

func TestMatchExpression(t *testing.T) {
	program := parseProgram(t, "let v = match x {\n\t0 -> \"zero\",\n\t_ -> \"other\"\n}\n")
	decl := program.Statements[0].(*ast.VarDecl)
	m, ok := decl.Value.(*ast.MatchExpr)
	if !ok || len(m.Arms) != 2 {
		t.Fatalf("match expression wrong: %#v", decl.Value)
	}
}

func TestErrorRecovery(t *testing.T) {
	p := New(lexer.New("let = 5\nlet ok = 1\n"))
	program := p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Fatal("expected a parse error")
	}
	// The parser must synchronize and still parse the next statement.
	found := false
	for _, stmt := range program.Statements {
		if decl, ok := stmt.(*ast.VarDecl); ok && decl.Name == "ok" {
			found = true
		}
	}
	if !found {
		t.Errorf("statement after error was not recovered")
	}
	if p.FirstError() == nil {
		t.Errorf("first error should be exposed")
	}
}

func TestDocCommentAttachment(t *testing.T) {
	program := parseProgram(t, "/// greets the caller\nfunc hello() {\n\treturn\n}\n")
	fn := program.Statements[0].(*ast.FunctionDecl)
	if fn.Doc != "greets the caller" {
		t.Errorf("doc wrong: %q", fn.Doc)
	}
}
