package ir

import (
	"fmt"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/diag"
	"github.com/codeassociates/bulu/lexer"
)

// Generator lowers an AST into IR. It keeps the current function and
// block, a scoped name→register map mirroring lexical scopes, and the
// break/continue label stacks for loop lowering.
type Generator struct {
	prog  *Program
	fn    *Function
	block *BasicBlock

	nextReg Reg
	scopes  []map[string]Reg

	breakLabels    []string
	continueLabels []string
	defers         []ast.Expression

	labelCount  int
	lambdaCount int
	file        string
	err         error
}

// NewGenerator creates a generator reporting errors against file.
func NewGenerator(file string) *Generator {
	return &Generator{file: file}
}

// Generate lowers a whole translation unit.
func (g *Generator) Generate(program *ast.Program) (*Program, error) {
	g.prog = &Program{}
	for _, stmt := range program.Statements {
		g.topLevel(stmt)
		if g.err != nil {
			return nil, g.err
		}
	}
	return g.prog, nil
}

func (g *Generator) errorf(pos lexer.Position, format string, args ...interface{}) {
	if g.err == nil {
		g.err = &diag.TypeError{
			Message: fmt.Sprintf(format, args...),
			Line:    pos.Line,
			Column:  pos.Column,
			File:    g.file,
		}
	}
}

func (g *Generator) topLevel(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExportStmt:
		g.topLevel(s.Inner)
	case *ast.ImportStmt:
		// wiring already done by the resolver
	case *ast.FunctionDecl:
		g.genFunction(s, "")
	case *ast.StructDecl:
		g.genStruct(s)
	case *ast.InterfaceDecl:
		g.genInterface(s)
	case *ast.TypeAlias:
		// aliases are resolved structurally; nothing to emit
	case *ast.VarDecl:
		g.genGlobal(s)
	case *ast.MultipleDecl:
		for _, d := range s.Decls {
			g.genGlobal(d)
		}
	case *ast.DestructuringDecl:
		g.errorf(s.Pos(), "destructuring declaration is not supported at global scope")
	default:
		g.errorf(stmt.Pos(), "unsupported construct at top level")
	}
}

func (g *Generator) genGlobal(decl *ast.VarDecl) {
	global := Global{
		Name:    decl.Name,
		Type:    typeFromAst(decl.Type),
		IsConst: decl.IsConst,
		Pos:     decl.Pos(),
	}
	if decl.Value != nil {
		if c, ok := g.evalConst(decl.Value); ok {
			global.Init = &c
		}
	}
	g.prog.Globals = append(g.prog.Globals, global)
}

func (g *Generator) genStruct(decl *ast.StructDecl) {
	st := &Struct{Name: decl.Name, Pos: decl.Pos()}
	for i, f := range decl.Fields {
		st.Fields = append(st.Fields, StructField{
			Name:   f.Name,
			Type:   typeFromAst(f.Type),
			Offset: i * 8,
		})
	}
	for _, m := range decl.Methods {
		name := decl.Name + "." + m.Name
		st.Methods = append(st.Methods, name)
		g.genFunction(m, decl.Name)
	}
	g.prog.Structs = append(g.prog.Structs, st)
}

func (g *Generator) genInterface(decl *ast.InterfaceDecl) {
	iface := &Interface{Name: decl.Name, Pos: decl.Pos()}
	for _, m := range decl.Methods {
		im := InterfaceMethod{Name: m.Name}
		for _, p := range m.Params {
			im.Params = append(im.Params, typeFromAst(p.Type))
		}
		if len(m.ReturnTypes) > 0 {
			im.Return = typeFromAst(m.ReturnTypes[0])
		}
		iface.Methods = append(iface.Methods, im)
	}
	g.prog.Interfaces = append(g.prog.Interfaces, iface)
}

// genFunction lowers one function. Methods get a leading `this`
// parameter and a receiver-qualified name.
func (g *Generator) genFunction(decl *ast.FunctionDecl, receiver string) {
	name := decl.Name
	if receiver != "" {
		name = receiver + "." + decl.Name
	}
	fn := &Function{
		Name:    name,
		IsAsync: decl.IsAsync,
		Locals:  map[string]Reg{},
		Pos:     decl.Pos(),
	}
	if len(decl.ReturnTypes) > 0 {
		fn.ReturnType = typeFromAst(decl.ReturnTypes[0])
	}

	prevFn, prevBlock, prevReg := g.fn, g.block, g.nextReg
	prevScopes, prevDefers := g.scopes, g.defers
	g.fn, g.nextReg = fn, 0
	g.scopes = nil
	g.defers = nil
	g.pushScope()

	if receiver != "" {
		r := g.freshReg()
		fn.Params = append(fn.Params, Param{Name: "this", Type: &Type{Kind: TStruct, Name: receiver}, Reg: r})
		g.bind("this", r)
	}
	for _, p := range decl.Params {
		r := g.freshReg()
		fn.Params = append(fn.Params, Param{Name: p.Name, Type: typeFromAst(p.Type), Reg: r})
		g.bind(p.Name, r)
	}

	g.block = g.newBlock("bb0")
	g.genBlockInto(decl.Body)

	// Implicit return if the last block did not terminate.
	if g.block != nil {
		g.emitDefers()
		g.terminate(ReturnTerm(nil))
	}

	g.popScope()
	g.prog.Functions = append(g.prog.Functions, fn)
	g.fn, g.block, g.nextReg = prevFn, prevBlock, prevReg
	g.scopes, g.defers = prevScopes, prevDefers
}

// ---------------------------------------------------------------------
// Plumbing

func (g *Generator) freshReg() Reg {
	r := g.nextReg
	g.nextReg++
	return r
}

func (g *Generator) pushScope() { g.scopes = append(g.scopes, map[string]Reg{}) }
func (g *Generator) popScope()  { g.scopes = g.scopes[:len(g.scopes)-1] }

func (g *Generator) bind(name string, r Reg) {
	g.scopes[len(g.scopes)-1][name] = r
	g.fn.Locals[name] = r
}

func (g *Generator) lookup(name string) (Reg, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if r, ok := g.scopes[i][name]; ok {
			return r, true
		}
	}
	return NoReg, false
}

func (g *Generator) newLabel(prefix string) string {
	g.labelCount++
	return fmt.Sprintf("%s_%d", prefix, g.labelCount)
}

// newBlock appends a block to the current function and returns it.
func (g *Generator) newBlock(label string) *BasicBlock {
	b := &BasicBlock{Label: label, Term: Terminator{Kind: TermUnreachable}}
	g.fn.Blocks = append(g.fn.Blocks, b)
	return b
}

// terminate seals the current block and leaves no current block.
func (g *Generator) terminate(t Terminator) {
	if g.block == nil {
		return
	}
	g.block.Term = t
	g.block = nil
}

// switchTo makes b the current block.
func (g *Generator) switchTo(b *BasicBlock) { g.block = b }

// emit appends an instruction to the current block and returns its
// result register (NoReg for result-less instructions).
func (g *Generator) emit(op Opcode, result Reg, pos lexer.Position, operands ...Value) Reg {
	if g.block == nil {
		// Unreachable code after a terminator is dropped.
		return result
	}
	g.block.Instructions = append(g.block.Instructions, Instruction{
		Op: op, Result: result, Operands: operands, Pos: pos,
	})
	return result
}

func (g *Generator) emitValue(op Opcode, pos lexer.Position, operands ...Value) Value {
	r := g.emit(op, g.freshReg(), pos, operands...)
	return RegValue(r)
}

// ---------------------------------------------------------------------
// Statements

func (g *Generator) genBlockInto(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	g.pushScope()
	for _, stmt := range b.Statements {
		if g.err != nil {
			return
		}
		g.genStatement(stmt)
	}
	g.popScope()
}

func (g *Generator) genStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VarDecl:
		g.genVarDecl(s)
	case *ast.MultipleDecl:
		for _, d := range s.Decls {
			g.genVarDecl(d)
		}
	case *ast.DestructuringDecl:
		val := g.genExpression(s.Value)
		for i, name := range s.Names {
			r := g.freshReg()
			g.emit(TupleAccess, r, s.Pos(), val, IntValue(int64(i)))
			g.bind(name, r)
		}
	case *ast.MultipleAssignment:
		// Evaluate all values first, then store left to right.
		vals := make([]Value, len(s.Values))
		for i, v := range s.Values {
			vals[i] = g.genExpression(v)
		}
		if len(s.Values) == 1 && len(s.Targets) > 1 {
			// a, b = f(): unpack the returned tuple.
			for i, t := range s.Targets {
				elem := g.emitValue(TupleAccess, s.Pos(), vals[0], IntValue(int64(i)))
				g.genStore(t, elem)
			}
			return
		}
		for i, t := range s.Targets {
			if i < len(vals) {
				g.genStore(t, vals[i])
			}
		}
	case *ast.FunctionDecl:
		g.genFunction(s, "")
	case *ast.IfStmt:
		g.genIf(s)
	case *ast.WhileStmt:
		g.genWhile(s)
	case *ast.ForStmt:
		g.genFor(s)
	case *ast.MatchStmt:
		g.genMatch(s)
	case *ast.SelectStmt:
		g.genSelect(s)
	case *ast.ReturnStmt:
		g.genReturn(s)
	case *ast.BreakStmt:
		if len(g.breakLabels) == 0 {
			g.errorf(s.Pos(), "break outside loop")
			return
		}
		g.terminate(BranchTerm(g.breakLabels[len(g.breakLabels)-1]))
	case *ast.ContinueStmt:
		if len(g.continueLabels) == 0 {
			g.errorf(s.Pos(), "continue outside loop")
			return
		}
		g.terminate(BranchTerm(g.continueLabels[len(g.continueLabels)-1]))
	case *ast.DeferStmt:
		g.defers = append(g.defers, s.Call)
	case *ast.TryStmt:
		g.genTry(s)
	case *ast.FailStmt:
		val := g.genExpression(s.Value)
		g.emit(Throw, NoReg, s.Pos(), val)
	case *ast.BlockStmt:
		g.genBlockInto(s)
	case *ast.ExpressionStmt:
		g.genExpression(s.Expression)
	case *ast.StructDecl:
		g.genStruct(s)
	case *ast.ExportStmt:
		g.genStatement(s.Inner)
	case *ast.InterfaceDecl, *ast.TypeAlias, *ast.ImportStmt:
		// no code
	}
}

func (g *Generator) genVarDecl(s *ast.VarDecl) {
	var val Value
	if s.Value != nil {
		val = g.genExpression(s.Value)
	} else {
		val = NullValue()
	}
	r := g.freshReg()
	g.emit(Copy, r, s.Pos(), val)
	g.bind(s.Name, r)
}

func (g *Generator) genIf(s *ast.IfStmt) {
	cond := g.genExpression(s.Condition)
	thenLabel := g.newLabel("if_then")
	elseLabel := g.newLabel("if_else")
	mergeLabel := g.newLabel("if_merge")

	hasElse := s.Else != nil
	if hasElse {
		g.terminate(CondBranchTerm(cond, thenLabel, elseLabel))
	} else {
		g.terminate(CondBranchTerm(cond, thenLabel, mergeLabel))
	}

	g.switchTo(g.newBlock(thenLabel))
	g.genBlockInto(s.Then)
	if g.block != nil {
		g.terminate(BranchTerm(mergeLabel))
	}

	if hasElse {
		g.switchTo(g.newBlock(elseLabel))
		g.genStatement(s.Else)
		if g.block != nil {
			g.terminate(BranchTerm(mergeLabel))
		}
	}

	g.switchTo(g.newBlock(mergeLabel))
}

func (g *Generator) genWhile(s *ast.WhileStmt) {
	header := g.newLabel("while_header")
	body := g.newLabel("while_body")
	exit := g.newLabel("while_exit")

	g.terminate(BranchTerm(header))
	g.switchTo(g.newBlock(header))
	cond := g.genExpression(s.Condition)
	g.terminate(CondBranchTerm(cond, body, exit))

	g.breakLabels = append(g.breakLabels, exit)
	g.continueLabels = append(g.continueLabels, header)
	g.switchTo(g.newBlock(body))
	g.genBlockInto(s.Body)
	if g.block != nil {
		g.terminate(BranchTerm(header))
	}
	g.breakLabels = g.breakLabels[:len(g.breakLabels)-1]
	g.continueLabels = g.continueLabels[:len(g.continueLabels)-1]

	g.switchTo(g.newBlock(exit))
}

// genFor lowers `for [i,] v in iterable` to an explicit index loop.
// The element is null-checked each iteration so channel iteration
// terminates at close (null-terminated).
func (g *Generator) genFor(s *ast.ForStmt) {
	iter := g.genExpression(s.Iterable)
	holding := g.freshReg()
	g.emit(Copy, holding, s.Pos(), iter)
	index := g.freshReg()
	g.emit(Copy, index, s.Pos(), IntValue(0))

	header := g.newLabel("for_header")
	body := g.newLabel("for_body")
	exit := g.newLabel("for_exit")

	g.terminate(BranchTerm(header))
	g.switchTo(g.newBlock(header))
	length := g.emitValue(ArrayLength, s.Pos(), RegValue(holding))
	cond := g.emitValue(Lt, s.Pos(), RegValue(index), length)
	g.terminate(CondBranchTerm(cond, body, exit))

	g.breakLabels = append(g.breakLabels, exit)
	g.continueLabels = append(g.continueLabels, header)

	g.switchTo(g.newBlock(body))
	g.pushScope()
	elem := g.emitValue(ArrayAccess, s.Pos(), RegValue(holding), RegValue(index))
	isNull := g.emitValue(IsNull, s.Pos(), elem)
	loopBody := g.newLabel("for_loop")
	g.terminate(CondBranchTerm(isNull, exit, loopBody))

	g.switchTo(g.newBlock(loopBody))
	vReg := g.freshReg()
	g.emit(Copy, vReg, s.Pos(), elem)
	g.bind(s.Value, vReg)
	if s.Index != "" {
		iReg := g.freshReg()
		g.emit(Copy, iReg, s.Pos(), RegValue(index))
		g.bind(s.Index, iReg)
	}
	g.genBlockInto(s.Body)
	if g.block != nil {
		next := g.emitValue(Add, s.Pos(), RegValue(index), IntValue(1))
		g.emit(Copy, index, s.Pos(), next)
		g.terminate(BranchTerm(header))
	}
	g.popScope()

	g.breakLabels = g.breakLabels[:len(g.breakLabels)-1]
	g.continueLabels = g.continueLabels[:len(g.continueLabels)-1]

	g.switchTo(g.newBlock(exit))
}

// genMatch lowers a match pattern by pattern: each arm gets a check
// block computing a boolean condition (plus guard) and a body block;
// a failed check falls through to the next arm's check.
func (g *Generator) genMatch(s *ast.MatchStmt) {
	subject := g.genExpression(s.Subject)
	merge := g.newLabel("match_merge")

	for i, arm := range s.Arms {
		bodyLabel := g.newLabel("match_body")
		var nextLabel string
		if i < len(s.Arms)-1 {
			nextLabel = g.newLabel("match_check")
		} else {
			nextLabel = merge
		}

		g.pushScope()
		cond := g.genPatternTest(arm.Pattern, subject)
		if arm.Guard != nil {
			guardLabel := g.newLabel("match_guard")
			g.terminate(CondBranchTerm(cond, guardLabel, nextLabel))
			g.switchTo(g.newBlock(guardLabel))
			g.bindPattern(arm.Pattern, subject)
			cond = g.genExpression(arm.Guard)
		}
		g.terminate(CondBranchTerm(cond, bodyLabel, nextLabel))

		g.switchTo(g.newBlock(bodyLabel))
		if arm.Guard == nil {
			g.bindPattern(arm.Pattern, subject)
		}
		g.genStatement(arm.Body)
		if g.block != nil {
			g.terminate(BranchTerm(merge))
		}
		g.popScope()

		if i < len(s.Arms)-1 {
			g.switchTo(g.newBlock(nextLabel))
		}
	}
	g.switchTo(g.newBlock(merge))
}

// genPatternTest emits the boolean test for one pattern against the
// subject value.
func (g *Generator) genPatternTest(pat ast.Pattern, subject Value) Value {
	switch p := pat.(type) {
	case *ast.WildcardPattern, *ast.IdentifierPattern:
		return BoolValue(true)
	case *ast.LiteralPattern:
		lit := g.genExpression(p.Value)
		return g.emitValue(Eq, p.Pos(), subject, lit)
	case *ast.RangePattern:
		start := g.genExpression(p.Start)
		end := g.genExpression(p.End)
		ge := g.emitValue(Ge, p.Pos(), subject, start)
		var hi Value
		if p.Inclusive {
			hi = g.emitValue(Le, p.Pos(), subject, end)
		} else {
			hi = g.emitValue(Lt, p.Pos(), subject, end)
		}
		return g.emitValue(LogicalAnd, p.Pos(), ge, hi)
	case *ast.StructPattern:
		result := BoolValue(true)
		for _, f := range p.Fields {
			field := g.emitValue(StructAccess, p.Pos(), subject, StringValue(f.Name))
			sub := g.genPatternTest(f.Pattern, field)
			result = g.emitValue(LogicalAnd, p.Pos(), result, sub)
		}
		return result
	case *ast.ArrayPattern:
		length := g.emitValue(ArrayLength, p.Pos(), subject)
		result := g.emitValue(Eq, p.Pos(), length, IntValue(int64(len(p.Elements))))
		for i, el := range p.Elements {
			item := g.emitValue(ArrayAccess, p.Pos(), subject, IntValue(int64(i)))
			sub := g.genPatternTest(el, item)
			result = g.emitValue(LogicalAnd, p.Pos(), result, sub)
		}
		return result
	case *ast.OrPattern:
		result := g.genPatternTest(p.Alts[0], subject)
		for _, alt := range p.Alts[1:] {
			next := g.genPatternTest(alt, subject)
			result = g.emitValue(LogicalOr, p.Pos(), result, next)
		}
		return result
	}
	return BoolValue(false)
}

// bindPattern binds identifier patterns to the (sub)values they match.
func (g *Generator) bindPattern(pat ast.Pattern, subject Value) {
	switch p := pat.(type) {
	case *ast.IdentifierPattern:
		r := g.freshReg()
		g.emit(Copy, r, p.Pos(), subject)
		g.bind(p.Name, r)
	case *ast.StructPattern:
		for _, f := range p.Fields {
			field := g.emitValue(StructAccess, p.Pos(), subject, StringValue(f.Name))
			g.bindPattern(f.Pattern, field)
		}
	case *ast.ArrayPattern:
		for i, el := range p.Elements {
			item := g.emitValue(ArrayAccess, p.Pos(), subject, IntValue(int64(i)))
			g.bindPattern(el, item)
		}
	}
}

func (g *Generator) genSelect(s *ast.SelectStmt) {
	merge := g.newLabel("select_merge")
	// The select instruction yields the index of the ready arm; a
	// switch dispatches to the arm bodies.
	var operands []Value
	for _, arm := range s.Arms {
		switch c := arm.Comm.(type) {
		case *ast.ChannelReceiveExpr:
			operands = append(operands, g.genExpression(c.Channel))
		case *ast.ChannelSendExpr:
			operands = append(operands, g.genExpression(c.Channel))
		default:
			operands = append(operands, g.genExpression(arm.Comm))
		}
	}
	choice := g.emitValue(ChannelSelect, s.Pos(), operands...)

	labels := make([]string, len(s.Arms))
	term := Terminator{Kind: TermSwitch, SwitchValue: choice}
	for i := range s.Arms {
		labels[i] = g.newLabel("select_arm")
		term.Cases = append(term.Cases, SwitchCase{Value: IntValue(int64(i)), Label: labels[i]})
	}
	defaultLabel := merge
	if s.Default != nil {
		defaultLabel = g.newLabel("select_default")
	}
	term.DefaultLabel = defaultLabel
	g.terminate(term)

	for i, arm := range s.Arms {
		g.switchTo(g.newBlock(labels[i]))
		g.pushScope()
		if arm.Bind != "" {
			if recv, ok := arm.Comm.(*ast.ChannelReceiveExpr); ok {
				ch := g.genExpression(recv.Channel)
				r := g.freshReg()
				g.emit(ChannelReceive, r, s.Pos(), ch)
				g.bind(arm.Bind, r)
			}
		}
		g.genBlockInto(arm.Body)
		g.popScope()
		if g.block != nil {
			g.terminate(BranchTerm(merge))
		}
	}
	if s.Default != nil {
		g.switchTo(g.newBlock(defaultLabel))
		g.genBlockInto(s.Default)
		if g.block != nil {
			g.terminate(BranchTerm(merge))
		}
	}
	g.switchTo(g.newBlock(merge))
}

func (g *Generator) genReturn(s *ast.ReturnStmt) {
	if s.Value == nil {
		g.emitDefers()
		g.terminate(ReturnTerm(nil))
		return
	}
	val := g.genExpression(s.Value)
	g.emitDefers()
	g.terminate(ReturnTerm(&val))
}

// emitDefers lowers the recorded defer expressions in LIFO order.
func (g *Generator) emitDefers() {
	for i := len(g.defers) - 1; i >= 0; i-- {
		g.genExpression(g.defers[i])
	}
}

// genTry lowers try/fail-on into body, catch, and merge blocks. The
// catch block opens with a Catch instruction binding the thrown value.
func (g *Generator) genTry(s *ast.TryStmt) {
	bodyLabel := g.newLabel("try_body")
	catchLabel := g.newLabel("try_catch")
	mergeLabel := g.newLabel("try_merge")

	g.terminate(BranchTerm(bodyLabel))
	g.switchTo(g.newBlock(bodyLabel))
	g.genBlockInto(s.Body)
	if g.block != nil {
		g.terminate(BranchTerm(mergeLabel))
	}

	g.switchTo(g.newBlock(catchLabel))
	g.pushScope()
	if s.ErrName != "" {
		r := g.freshReg()
		g.emit(Catch, r, s.Pos())
		g.bind(s.ErrName, r)
	} else {
		g.emit(Catch, NoReg, s.Pos())
	}
	if s.Handler != nil {
		g.genBlockInto(s.Handler)
	}
	if g.block != nil {
		g.emitDefers()
		g.terminate(BranchTerm(mergeLabel))
	}
	g.popScope()

	g.switchTo(g.newBlock(mergeLabel))
}

// ---------------------------------------------------------------------
// Expressions

func (g *Generator) genExpression(expr ast.Expression) Value {
	if g.err != nil || g.block == nil && !isPure(expr) {
		return NullValue()
	}
	switch e := expr.(type) {
	case nil:
		return NullValue()
	case *ast.IntegerLiteral:
		return IntValue(e.Value)
	case *ast.FloatLiteral:
		return FloatValue(e.Value)
	case *ast.StringLiteral:
		return StringValue(e.Value)
	case *ast.CharLiteral:
		return CharValue(e.Value)
	case *ast.BoolLiteral:
		return BoolValue(e.Value)
	case *ast.NullLiteral:
		return NullValue()
	case *ast.Identifier:
		if r, ok := g.lookup(e.Name); ok {
			return RegValue(r)
		}
		return GlobalValue(e.Name)
	case *ast.ParenExpr:
		return g.genExpression(e.Inner)
	case *ast.BinaryExpr:
		return g.genBinary(e)
	case *ast.UnaryExpr:
		return g.genUnary(e)
	case *ast.AssignExpr:
		return g.genAssign(e)
	case *ast.CallExpr:
		return g.genCall(e)
	case *ast.IndexExpr:
		obj := g.genExpression(e.Object)
		idx := g.genExpression(e.Index)
		return g.emitValue(ArrayAccess, e.Pos(), obj, idx)
	case *ast.MemberExpr:
		obj := g.genExpression(e.Object)
		return g.emitValue(StructAccess, e.Pos(), obj, StringValue(e.Member))
	case *ast.ArrayLiteral:
		if c, ok := g.evalConst(e); ok {
			return ConstValue(c)
		}
		operands := make([]Value, len(e.Elements))
		for i, el := range e.Elements {
			operands[i] = g.genExpression(el)
		}
		return g.emitValue(Alloca, e.Pos(), operands...)
	case *ast.MapLiteral:
		m := g.emitValue(Alloca, e.Pos())
		for _, entry := range e.Entries {
			k := g.genExpression(entry.Key)
			v := g.genExpression(entry.Value)
			g.emit(MapInsert, NoReg, e.Pos(), m, k, v)
		}
		return m
	case *ast.TupleExpr:
		operands := make([]Value, len(e.Elements))
		for i, el := range e.Elements {
			operands[i] = g.genExpression(el)
		}
		return g.emitValue(TupleConstruct, e.Pos(), operands...)
	case *ast.StructLiteral:
		// Operands alternate [type_name, f1_name, f1_value, ...].
		operands := []Value{StringValue(e.Name)}
		for _, f := range e.Fields {
			operands = append(operands, StringValue(f.Name), g.genExpression(f.Value))
		}
		return g.emitValue(StructConstruct, e.Pos(), operands...)
	case *ast.LambdaExpr:
		return g.genLambda(e)
	case *ast.IfExpr:
		return g.genIfExpr(e)
	case *ast.MatchExpr:
		return g.genMatchExpr(e)
	case *ast.BlockExpr:
		return g.genBlockExpr(e)
	case *ast.RangeExpr:
		return g.genRange(e)
	case *ast.CastExpr:
		val := g.genExpression(e.Value)
		return g.emitValue(Cast, e.Pos(), val, StringValue(e.Type.String()))
	case *ast.TypeOfExpr:
		val := g.genExpression(e.Value)
		return g.emitValue(TypeOf, e.Pos(), val)
	case *ast.ChannelSendExpr:
		ch := g.genExpression(e.Channel)
		val := g.genExpression(e.Value)
		g.emit(ChannelSend, NoReg, e.Pos(), ch, val)
		return NullValue()
	case *ast.ChannelReceiveExpr:
		ch := g.genExpression(e.Channel)
		return g.emitValue(ChannelReceive, e.Pos(), ch)
	case *ast.AsyncExpr:
		return g.genSpawn(e.Value, e.Pos())
	case *ast.AwaitExpr:
		val := g.genExpression(e.Value)
		return g.emitValue(Await, e.Pos(), val)
	case *ast.YieldExpr:
		if e.Value != nil {
			val := g.genExpression(e.Value)
			g.emit(Yield, NoReg, e.Pos(), val)
		} else {
			g.emit(Yield, NoReg, e.Pos())
		}
		return NullValue()
	case *ast.RunExpr:
		return g.genSpawn(e.Value, e.Pos())
	}
	g.errorf(expr.Pos(), "unsupported expression")
	return NullValue()
}

func isPure(expr ast.Expression) bool {
	switch expr.(type) {
	case *ast.IntegerLiteral, *ast.FloatLiteral, *ast.StringLiteral,
		*ast.CharLiteral, *ast.BoolLiteral, *ast.NullLiteral, *ast.Identifier, nil:
		return true
	}
	return false
}

var binaryOps = map[lexer.TokenType]Opcode{
	lexer.PLUS: Add, lexer.MINUS: Sub, lexer.STAR: Mul,
	lexer.SLASH: Div, lexer.PERCENT: Mod, lexer.POWER: Pow,
	lexer.EQ: Eq, lexer.NEQ: Ne, lexer.LT: Lt, lexer.LE: Le,
	lexer.GT: Gt, lexer.GE: Ge,
	lexer.AMP_AMP: LogicalAnd, lexer.PIPE_PIPE: LogicalOr,
	lexer.AMP: And, lexer.PIPE: Or, lexer.CARET: Xor,
	lexer.SHL: Shl, lexer.SHR: Shr,
}

func (g *Generator) genBinary(e *ast.BinaryExpr) Value {
	// Numeric and boolean operations over constants evaluate here;
	// string concatenation always goes through the runtime so the
	// allocation behavior matches non-constant operands.
	if c, ok := g.evalConst(e); ok && c.Kind != ConstString {
		return ConstValue(c)
	}
	op, ok := binaryOps[e.Operator]
	if !ok {
		g.errorf(e.Pos(), "unsupported binary operator %s", e.Operator)
		return NullValue()
	}
	left := g.genExpression(e.Left)
	right := g.genExpression(e.Right)
	// String concatenation shares the + token.
	if op == Add && (isStringConst(left) || isStringConst(right)) {
		return g.emitValue(StringConcat, e.Pos(), left, right)
	}
	return g.emitValue(op, e.Pos(), left, right)
}

func isStringConst(v Value) bool {
	return v.Kind == ValConstant && v.Const.Kind == ConstString
}

func (g *Generator) genUnary(e *ast.UnaryExpr) Value {
	if c, ok := g.evalConst(e); ok {
		return ConstValue(c)
	}
	operand := g.genExpression(e.Operand)
	switch e.Operator {
	case lexer.MINUS:
		return g.emitValue(Neg, e.Pos(), operand)
	case lexer.NOT:
		return g.emitValue(LogicalNot, e.Pos(), operand)
	case lexer.TILDE:
		return g.emitValue(Not, e.Pos(), operand)
	}
	g.errorf(e.Pos(), "unsupported unary operator %s", e.Operator)
	return NullValue()
}

var compoundOps = map[lexer.TokenType]Opcode{
	lexer.PLUS_ASSIGN:    Add,
	lexer.MINUS_ASSIGN:   Sub,
	lexer.STAR_ASSIGN:    Mul,
	lexer.SLASH_ASSIGN:   Div,
	lexer.PERCENT_ASSIGN: Mod,
}

func (g *Generator) genAssign(e *ast.AssignExpr) Value {
	val := g.genExpression(e.Value)
	if op, ok := compoundOps[e.Operator]; ok {
		// x op= e lowers to x = x op e with one evaluation of the
		// target address.
		switch t := e.Target.(type) {
		case *ast.IndexExpr:
			obj := g.genExpression(t.Object)
			idx := g.genExpression(t.Index)
			cur := g.emitValue(ArrayAccess, t.Pos(), obj, idx)
			val = g.emitValue(op, e.Pos(), cur, val)
			g.emit(Store, NoReg, t.Pos(), obj, idx, val)
			return val
		case *ast.MemberExpr:
			obj := g.genExpression(t.Object)
			cur := g.emitValue(StructAccess, t.Pos(), obj, StringValue(t.Member))
			val = g.emitValue(op, e.Pos(), cur, val)
			g.emit(StructStore, NoReg, t.Pos(), obj, StringValue(t.Member), val)
			return val
		}
		cur := g.genExpression(e.Target)
		val = g.emitValue(op, e.Pos(), cur, val)
	}
	g.genStore(e.Target, val)
	return val
}

// genStore writes val through an assignable target.
func (g *Generator) genStore(target ast.Expression, val Value) {
	switch t := target.(type) {
	case *ast.Identifier:
		if r, ok := g.lookup(t.Name); ok {
			g.emit(Copy, r, t.Pos(), val)
			return
		}
		g.emit(Store, NoReg, t.Pos(), GlobalValue(t.Name), val)
	case *ast.IndexExpr:
		obj := g.genExpression(t.Object)
		idx := g.genExpression(t.Index)
		g.emit(Store, NoReg, t.Pos(), obj, idx, val)
	case *ast.MemberExpr:
		obj := g.genExpression(t.Object)
		g.emit(StructStore, NoReg, t.Pos(), obj, StringValue(t.Member), val)
	case *ast.ParenExpr:
		g.genStore(t.Inner, val)
	default:
		g.errorf(target.Pos(), "invalid assignment target")
	}
}

// genCall lowers calls. Direct calls to named functions use Call with
// a Function operand; calls through values use CallIndirect. Builtins
// keep their names and are intercepted by the backend.
func (g *Generator) genCall(e *ast.CallExpr) Value {
	args := make([]Value, 0, len(e.Args)+1)

	switch callee := e.Callee.(type) {
	case *ast.Identifier:
		if r, ok := g.lookup(callee.Name); ok {
			// A local binding shadows functions: indirect call.
			args = append(args, RegValue(r))
			for _, a := range e.Args {
				args = append(args, g.genExpression(a))
			}
			return g.emitValue(CallIndirect, e.Pos(), args...)
		}
		if callee.Name == "make" {
			return g.genMake(e)
		}
		if callee.Name == "typeof" && len(e.Args) == 1 {
			val := g.genExpression(e.Args[0])
			return g.emitValue(TypeOf, e.Pos(), val)
		}
		args = append(args, FuncValue(callee.Name))
		for _, a := range e.Args {
			args = append(args, g.genExpression(a))
		}
		return g.emitValue(Call, e.Pos(), args...)
	case *ast.MemberExpr:
		// Method call: obj.m(args) becomes Call @Type.m(obj, args...)
		// resolved by name at link time; channel close is special.
		obj := g.genExpression(callee.Object)
		if callee.Member == "close" && len(e.Args) == 0 {
			g.emit(ChannelClose, NoReg, e.Pos(), obj)
			return NullValue()
		}
		args = append(args, FuncValue(callee.Member), obj)
		for _, a := range e.Args {
			args = append(args, g.genExpression(a))
		}
		return g.emitValue(Call, e.Pos(), args...)
	default:
		fn := g.genExpression(e.Callee)
		args = append(args, fn)
		for _, a := range e.Args {
			args = append(args, g.genExpression(a))
		}
		return g.emitValue(CallIndirect, e.Pos(), args...)
	}
}

// genMake lowers the make builtin: channels with an optional capacity,
// arrays and maps via allocation.
func (g *Generator) genMake(e *ast.CallExpr) Value {
	if len(e.Args) > 0 {
		if id, ok := e.Args[0].(*ast.Identifier); ok && id.Name == "chan" {
			capacity := IntValue(0)
			if len(e.Args) > 1 {
				capacity = g.genExpression(e.Args[1])
			}
			return g.emitValue(ChannelCreate, e.Pos(), capacity)
		}
	}
	operands := make([]Value, len(e.Args))
	for i, a := range e.Args {
		operands[i] = g.genExpression(a)
	}
	return g.emitValue(Alloca, e.Pos(), operands...)
}

// genSpawn lowers `run f(args)` / `async expr`. Call payloads stay
// unevaluated: the arguments are computed eagerly but the call itself
// is handed to the scheduler as Function plus argument values.
func (g *Generator) genSpawn(payload ast.Expression, pos lexer.Position) Value {
	if call, ok := payload.(*ast.CallExpr); ok {
		if id, isIdent := call.Callee.(*ast.Identifier); isIdent {
			operands := []Value{FuncValue(id.Name)}
			for _, a := range call.Args {
				operands = append(operands, g.genExpression(a))
			}
			return g.emitValue(Spawn, pos, operands...)
		}
	}
	val := g.genExpression(payload)
	return g.emitValue(Spawn, pos, val)
}

func (g *Generator) genIfExpr(e *ast.IfExpr) Value {
	cond := g.genExpression(e.Condition)
	thenLabel := g.newLabel("ifx_then")
	elseLabel := g.newLabel("ifx_else")
	mergeLabel := g.newLabel("ifx_merge")

	g.terminate(CondBranchTerm(cond, thenLabel, elseLabel))

	g.switchTo(g.newBlock(thenLabel))
	thenVal := g.genExpression(e.Then)
	thenBlock := thenLabel
	if g.block != nil {
		thenBlock = g.block.Label
	}
	g.terminate(BranchTerm(mergeLabel))

	g.switchTo(g.newBlock(elseLabel))
	elseVal := g.genExpression(e.Else)
	elseBlock := elseLabel
	if g.block != nil {
		elseBlock = g.block.Label
	}
	g.terminate(BranchTerm(mergeLabel))

	g.switchTo(g.newBlock(mergeLabel))
	// phi maps (value, predecessor-block) pairs.
	return g.emitValue(Phi, e.Pos(),
		thenVal, StringValue(thenBlock),
		elseVal, StringValue(elseBlock))
}

func (g *Generator) genMatchExpr(e *ast.MatchExpr) Value {
	subject := g.genExpression(e.Subject)
	merge := g.newLabel("matchx_merge")
	result := g.freshReg()
	g.emit(Copy, result, e.Pos(), NullValue())

	for i, arm := range e.Arms {
		bodyLabel := g.newLabel("matchx_body")
		var nextLabel string
		if i < len(e.Arms)-1 {
			nextLabel = g.newLabel("matchx_check")
		} else {
			nextLabel = merge
		}
		g.pushScope()
		cond := g.genPatternTest(arm.Pattern, subject)
		if arm.Guard != nil {
			guardLabel := g.newLabel("matchx_guard")
			g.terminate(CondBranchTerm(cond, guardLabel, nextLabel))
			g.switchTo(g.newBlock(guardLabel))
			g.bindPattern(arm.Pattern, subject)
			cond = g.genExpression(arm.Guard)
		}
		g.terminate(CondBranchTerm(cond, bodyLabel, nextLabel))

		g.switchTo(g.newBlock(bodyLabel))
		if arm.Guard == nil {
			g.bindPattern(arm.Pattern, subject)
		}
		val := g.genExpression(arm.Value)
		g.emit(Copy, result, e.Pos(), val)
		g.terminate(BranchTerm(merge))
		g.popScope()

		if i < len(e.Arms)-1 {
			g.switchTo(g.newBlock(nextLabel))
		}
	}
	g.switchTo(g.newBlock(merge))
	return RegValue(result)
}

// genBlockExpr yields the value of the final expression statement.
func (g *Generator) genBlockExpr(e *ast.BlockExpr) Value {
	g.pushScope()
	defer g.popScope()
	var last Value = NullValue()
	for _, stmt := range e.Block.Statements {
		if es, ok := stmt.(*ast.ExpressionStmt); ok {
			last = g.genExpression(es.Expression)
		} else {
			g.genStatement(stmt)
		}
	}
	return last
}

// genRange materializes a range as an array so for-in can walk it.
func (g *Generator) genRange(e *ast.RangeExpr) Value {
	start := g.genExpression(e.Start)
	end := g.genExpression(e.End)
	step := IntValue(1)
	if e.Step != nil {
		step = g.genExpression(e.Step)
	}
	inclusive := BoolValue(e.Inclusive)
	return g.emitValue(Alloca, e.Pos(), start, end, step, inclusive)
}

// genLambda synthesizes a function for the lambda and yields a closure
// record: a tuple of the function and the captured values, consumed by
// CallIndirect. Captured names become trailing parameters.
func (g *Generator) genLambda(e *ast.LambdaExpr) Value {
	g.lambdaCount++
	name := fmt.Sprintf("lambda$%d", g.lambdaCount)

	captureVals := make([]Value, 0, len(e.Captures))
	for _, c := range e.Captures {
		if r, ok := g.lookup(c.Name); ok {
			captureVals = append(captureVals, RegValue(r))
		} else {
			captureVals = append(captureVals, GlobalValue(c.Name))
		}
	}

	fn := &Function{Name: name, Locals: map[string]Reg{}, Pos: e.Pos()}
	if e.ReturnType != nil {
		fn.ReturnType = typeFromAst(e.ReturnType)
	}

	prevFn, prevBlock, prevReg := g.fn, g.block, g.nextReg
	prevScopes, prevDefers := g.scopes, g.defers
	g.fn, g.nextReg = fn, 0
	g.scopes = nil
	g.defers = nil
	g.pushScope()

	for _, p := range e.Params {
		r := g.freshReg()
		fn.Params = append(fn.Params, Param{Name: p.Name, Type: typeFromAst(p.Type), Reg: r})
		g.bind(p.Name, r)
	}
	for _, c := range e.Captures {
		r := g.freshReg()
		fn.Params = append(fn.Params, Param{Name: c.Name, Type: AnyType(), Reg: r})
		g.bind(c.Name, r)
	}

	g.block = g.newBlock("bb0")
	switch body := e.Body.(type) {
	case *ast.BlockStmt:
		g.genBlockInto(body)
		if g.block != nil {
			g.terminate(ReturnTerm(nil))
		}
	case *ast.ExpressionStmt:
		val := g.genExpression(body.Expression)
		g.terminate(ReturnTerm(&val))
	}

	g.popScope()
	g.prog.Functions = append(g.prog.Functions, fn)
	g.fn, g.block, g.nextReg = prevFn, prevBlock, prevReg
	g.scopes, g.defers = prevScopes, prevDefers

	operands := append([]Value{FuncValue(name)}, captureVals...)
	return g.emitValue(TupleConstruct, e.Pos(), operands...)
}

// ---------------------------------------------------------------------
// Types

func typeFromAst(t *ast.Type) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ast.TypePrimitive:
		switch t.Name {
		case "i8":
			return &Type{Kind: TI8}
		case "i16":
			return &Type{Kind: TI16}
		case "i32":
			return &Type{Kind: TI32}
		case "i64":
			return &Type{Kind: TI64}
		case "u8":
			return &Type{Kind: TU8}
		case "u16":
			return &Type{Kind: TU16}
		case "u32":
			return &Type{Kind: TU32}
		case "u64":
			return &Type{Kind: TU64}
		case "f32":
			return &Type{Kind: TF32}
		case "f64":
			return &Type{Kind: TF64}
		case "bool":
			return &Type{Kind: TBool}
		case "char":
			return &Type{Kind: TChar}
		case "string":
			return &Type{Kind: TString}
		case "void":
			return &Type{Kind: TVoid}
		default:
			return &Type{Kind: TAny}
		}
	case ast.TypeArray:
		return &Type{Kind: TArray, Elem: typeFromAst(t.Elem), Size: t.Size}
	case ast.TypeSlice:
		return &Type{Kind: TSlice, Elem: typeFromAst(t.Elem)}
	case ast.TypeMap:
		return &Type{Kind: TMap, Key: typeFromAst(t.Key), Val: typeFromAst(t.Value)}
	case ast.TypeTuple:
		elems := make([]*Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = typeFromAst(e)
		}
		return &Type{Kind: TTuple, Elems: elems}
	case ast.TypeFunction:
		params := make([]*Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = typeFromAst(p)
		}
		return &Type{Kind: TFunc, Elems: params, Ret: typeFromAst(t.Return)}
	case ast.TypeNamed, ast.TypeGeneric:
		return &Type{Kind: TStruct, Name: t.Name}
	case ast.TypeStruct:
		return &Type{Kind: TStruct, Name: t.Name}
	case ast.TypeInterface:
		return &Type{Kind: TInterface, Name: t.Name}
	case ast.TypeChannel:
		return &Type{Kind: TChannel, Elem: typeFromAst(t.Elem)}
	case ast.TypePromise:
		return &Type{Kind: TPromise, Elem: typeFromAst(t.Elem)}
	}
	return &Type{Kind: TAny}
}
