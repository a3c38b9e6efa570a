// Package semantic computes lambda capture lists. A capture is a name
// free in a lambda body that is bound in a lexically enclosing
// function; it is by-reference when the lambda assigns to it anywhere
// in its body, by-value otherwise. Name resolution proper stays in the
// resolver.
package semantic

import (
	"github.com/codeassociates/bulu/ast"
)

// Analyzer fills in LambdaExpr.Captures across a program.
type Analyzer struct {
	frames []*frame
}

// frame tracks the names bound inside one enclosing function body.
type frame struct {
	bound map[string]bool
}

// New creates an analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze walks the program and writes capture lists onto every
// lambda node.
func (a *Analyzer) Analyze(program *ast.Program) {
	for _, stmt := range program.Statements {
		a.statement(stmt)
	}
}

func (a *Analyzer) pushFrame() { a.frames = append(a.frames, &frame{bound: map[string]bool{}}) }
func (a *Analyzer) popFrame()  { a.frames = a.frames[:len(a.frames)-1] }

func (a *Analyzer) bind(name string) {
	if len(a.frames) > 0 {
		a.frames[len(a.frames)-1].bound[name] = true
	}
}

// boundInEnclosingFunction reports whether name is bound in any
// function frame currently on the stack. Module-level globals are not
// captured.
func (a *Analyzer) boundInEnclosingFunction(name string) bool {
	for i := len(a.frames) - 1; i >= 0; i-- {
		if a.frames[i].bound[name] {
			return true
		}
	}
	return false
}

func (a *Analyzer) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VarDecl:
		a.expression(s.Value)
		a.bind(s.Name)
	case *ast.DestructuringDecl:
		a.expression(s.Value)
		for _, n := range s.Names {
			a.bind(n)
		}
	case *ast.MultipleDecl:
		for _, d := range s.Decls {
			a.statement(d)
		}
	case *ast.MultipleAssignment:
		for _, t := range s.Targets {
			a.expression(t)
		}
		for _, v := range s.Values {
			a.expression(v)
		}
	case *ast.FunctionDecl:
		a.pushFrame()
		for _, p := range s.Params {
			a.bind(p.Name)
			a.expression(p.Default)
		}
		a.block(s.Body)
		a.popFrame()
	case *ast.StructDecl:
		for _, f := range s.Fields {
			a.expression(f.Default)
		}
		for _, m := range s.Methods {
			a.statement(m)
		}
	case *ast.ExportStmt:
		a.statement(s.Inner)
	case *ast.IfStmt:
		a.expression(s.Condition)
		a.block(s.Then)
		if s.Else != nil {
			a.statement(s.Else)
		}
	case *ast.WhileStmt:
		a.expression(s.Condition)
		a.block(s.Body)
	case *ast.ForStmt:
		a.expression(s.Iterable)
		if s.Index != "" {
			a.bind(s.Index)
		}
		a.bind(s.Value)
		a.block(s.Body)
	case *ast.MatchStmt:
		a.expression(s.Subject)
		for _, arm := range s.Arms {
			a.bindPattern(arm.Pattern)
			a.expression(arm.Guard)
			a.statement(arm.Body)
		}
	case *ast.SelectStmt:
		for _, arm := range s.Arms {
			if arm.Bind != "" {
				a.bind(arm.Bind)
			}
			a.expression(arm.Comm)
			a.block(arm.Body)
		}
		if s.Default != nil {
			a.block(s.Default)
		}
	case *ast.ReturnStmt:
		a.expression(s.Value)
	case *ast.DeferStmt:
		a.expression(s.Call)
	case *ast.TryStmt:
		a.block(s.Body)
		if s.Handler != nil {
			if s.ErrName != "" {
				a.bind(s.ErrName)
			}
			a.block(s.Handler)
		}
	case *ast.FailStmt:
		a.expression(s.Value)
	case *ast.BlockStmt:
		a.block(s)
	case *ast.ExpressionStmt:
		a.expression(s.Expression)
	}
}

func (a *Analyzer) block(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	for _, stmt := range b.Statements {
		a.statement(stmt)
	}
}

func (a *Analyzer) bindPattern(pat ast.Pattern) {
	switch p := pat.(type) {
	case *ast.IdentifierPattern:
		a.bind(p.Name)
	case *ast.StructPattern:
		for _, f := range p.Fields {
			a.bindPattern(f.Pattern)
		}
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			a.bindPattern(el)
		}
	case *ast.OrPattern:
		for _, alt := range p.Alts {
			a.bindPattern(alt)
		}
	}
}

func (a *Analyzer) expression(expr ast.Expression) {
	switch e := expr.(type) {
	case nil:
		return
	case *ast.LambdaExpr:
		a.analyzeLambda(e)
	case *ast.BinaryExpr:
		a.expression(e.Left)
		a.expression(e.Right)
	case *ast.UnaryExpr:
		a.expression(e.Operand)
	case *ast.AssignExpr:
		a.expression(e.Target)
		a.expression(e.Value)
	case *ast.CallExpr:
		a.expression(e.Callee)
		for _, arg := range e.Args {
			a.expression(arg)
		}
	case *ast.IndexExpr:
		a.expression(e.Object)
		a.expression(e.Index)
	case *ast.MemberExpr:
		a.expression(e.Object)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			a.expression(el)
		}
	case *ast.MapLiteral:
		for _, entry := range e.Entries {
			a.expression(entry.Key)
			a.expression(entry.Value)
		}
	case *ast.TupleExpr:
		for _, el := range e.Elements {
			a.expression(el)
		}
	case *ast.StructLiteral:
		for _, f := range e.Fields {
			a.expression(f.Value)
		}
	case *ast.IfExpr:
		a.expression(e.Condition)
		a.expression(e.Then)
		a.expression(e.Else)
	case *ast.MatchExpr:
		a.expression(e.Subject)
		for _, arm := range e.Arms {
			a.bindPattern(arm.Pattern)
			a.expression(arm.Guard)
			a.expression(arm.Value)
		}
	case *ast.BlockExpr:
		a.block(e.Block)
	case *ast.RangeExpr:
		a.expression(e.Start)
		a.expression(e.End)
		a.expression(e.Step)
	case *ast.CastExpr:
		a.expression(e.Value)
	case *ast.TypeOfExpr:
		a.expression(e.Value)
	case *ast.ChannelSendExpr:
		a.expression(e.Channel)
		a.expression(e.Value)
	case *ast.ChannelReceiveExpr:
		a.expression(e.Channel)
	case *ast.AsyncExpr:
		a.expression(e.Value)
	case *ast.AwaitExpr:
		a.expression(e.Value)
	case *ast.YieldExpr:
		a.expression(e.Value)
	case *ast.RunExpr:
		a.expression(e.Value)
	case *ast.ParenExpr:
		a.expression(e.Inner)
	}
}

// analyzeLambda computes the capture list for one lambda, then
// descends into its body so nested lambdas are analyzed with this
// lambda's bindings on the frame stack.
func (a *Analyzer) analyzeLambda(lam *ast.LambdaExpr) {
	fv := newFreeVars()
	for _, p := range lam.Params {
		fv.bind(p.Name)
	}
	fv.statement(lam.Body)

	lam.Captures = lam.Captures[:0]
	for _, name := range fv.order {
		if !a.boundInEnclosingFunction(name) {
			continue
		}
		mode := ast.CaptureByValue
		if fv.assigned[name] {
			mode = ast.CaptureByReference
		}
		lam.Captures = append(lam.Captures, ast.Capture{Name: name, Mode: mode})
	}

	// Descend with the lambda acting as an enclosing function for any
	// lambdas nested inside it.
	a.pushFrame()
	for _, p := range lam.Params {
		a.bind(p.Name)
	}
	a.statement(lam.Body)
	a.popFrame()
}

// freeVars walks a lambda body collecting names used or assigned that
// are not bound inside the lambda itself.
type freeVars struct {
	local    map[string]bool
	used     map[string]bool
	assigned map[string]bool
	order    []string // first-use order of free names
}

func newFreeVars() *freeVars {
	return &freeVars{
		local:    map[string]bool{},
		used:     map[string]bool{},
		assigned: map[string]bool{},
	}
}

func (f *freeVars) bind(name string) { f.local[name] = true }

func (f *freeVars) use(name string) {
	if f.local[name] || name == "" {
		return
	}
	if !f.used[name] {
		f.used[name] = true
		f.order = append(f.order, name)
	}
}

func (f *freeVars) assign(name string) {
	if f.local[name] || name == "" {
		return
	}
	f.use(name)
	f.assigned[name] = true
}

func (f *freeVars) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case nil:
		return
	case *ast.VarDecl:
		f.expression(s.Value)
		f.bind(s.Name)
	case *ast.DestructuringDecl:
		f.expression(s.Value)
		for _, n := range s.Names {
			f.bind(n)
		}
	case *ast.MultipleDecl:
		for _, d := range s.Decls {
			f.statement(d)
		}
	case *ast.MultipleAssignment:
		for _, t := range s.Targets {
			f.assignTarget(t)
		}
		for _, v := range s.Values {
			f.expression(v)
		}
	case *ast.FunctionDecl:
		f.bind(s.Name)
		// A nested named function gets its own capture analysis; its
		// body does not contribute to this lambda's free names.
	case *ast.IfStmt:
		f.expression(s.Condition)
		f.block(s.Then)
		f.statement(s.Else)
	case *ast.WhileStmt:
		f.expression(s.Condition)
		f.block(s.Body)
	case *ast.ForStmt:
		f.expression(s.Iterable)
		if s.Index != "" {
			f.bind(s.Index)
		}
		f.bind(s.Value)
		f.block(s.Body)
	case *ast.MatchStmt:
		f.expression(s.Subject)
		for _, arm := range s.Arms {
			f.bindPattern(arm.Pattern)
			f.expression(arm.Guard)
			f.statement(arm.Body)
		}
	case *ast.SelectStmt:
		for _, arm := range s.Arms {
			if arm.Bind != "" {
				f.bind(arm.Bind)
			}
			f.expression(arm.Comm)
			f.block(arm.Body)
		}
		f.block(s.Default)
	case *ast.ReturnStmt:
		f.expression(s.Value)
	case *ast.DeferStmt:
		f.expression(s.Call)
	case *ast.TryStmt:
		f.block(s.Body)
		if s.Handler != nil {
			if s.ErrName != "" {
				f.bind(s.ErrName)
			}
			f.block(s.Handler)
		}
	case *ast.FailStmt:
		f.expression(s.Value)
	case *ast.BlockStmt:
		f.block(s)
	case *ast.ExpressionStmt:
		f.expression(s.Expression)
	}
}

func (f *freeVars) block(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	for _, stmt := range b.Statements {
		f.statement(stmt)
	}
}

func (f *freeVars) bindPattern(pat ast.Pattern) {
	switch p := pat.(type) {
	case *ast.IdentifierPattern:
		f.bind(p.Name)
	case *ast.StructPattern:
		for _, fld := range p.Fields {
			f.bindPattern(fld.Pattern)
		}
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			f.bindPattern(el)
		}
	case *ast.OrPattern:
		for _, alt := range p.Alts {
			f.bindPattern(alt)
		}
	}
}

// assignTarget records an assignment through the target expression:
// a bare identifier marks the name assigned; index and member targets
// count as assignments to their base object.
func (f *freeVars) assignTarget(target ast.Expression) {
	switch t := target.(type) {
	case *ast.Identifier:
		f.assign(t.Name)
	case *ast.IndexExpr:
		f.assignTarget(t.Object)
		f.expression(t.Index)
	case *ast.MemberExpr:
		f.assignTarget(t.Object)
	case *ast.ParenExpr:
		f.assignTarget(t.Inner)
	default:
		f.expression(target)
	}
}

func (f *freeVars) expression(expr ast.Expression) {
	switch e := expr.(type) {
	case nil:
		return
	case *ast.Identifier:
		f.use(e.Name)
	case *ast.AssignExpr:
		f.assignTarget(e.Target)
		f.expression(e.Value)
	case *ast.BinaryExpr:
		f.expression(e.Left)
		f.expression(e.Right)
	case *ast.UnaryExpr:
		f.expression(e.Operand)
	case *ast.CallExpr:
		f.expression(e.Callee)
		for _, arg := range e.Args {
			f.expression(arg)
		}
	case *ast.IndexExpr:
		f.expression(e.Object)
		f.expression(e.Index)
	case *ast.MemberExpr:
		f.expression(e.Object)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			f.expression(el)
		}
	case *ast.MapLiteral:
		for _, entry := range e.Entries {
			f.expression(entry.Key)
			f.expression(entry.Value)
		}
	case *ast.TupleExpr:
		for _, el := range e.Elements {
			f.expression(el)
		}
	case *ast.StructLiteral:
		for _, fld := range e.Fields {
			f.expression(fld.Value)
		}
	case *ast.LambdaExpr:
		// Names free in a nested lambda are also free here unless
		// bound by the inner lambda's parameters.
		inner := newFreeVars()
		for _, p := range e.Params {
			inner.bind(p.Name)
		}
		inner.statement(e.Body)
		for _, name := range inner.order {
			if inner.assigned[name] {
				f.assign(name)
			} else {
				f.use(name)
			}
		}
	case *ast.IfExpr:
		f.expression(e.Condition)
		f.expression(e.Then)
		f.expression(e.Else)
	case *ast.MatchExpr:
		f.expression(e.Subject)
		for _, arm := range e.Arms {
			f.bindPattern(arm.Pattern)
			f.expression(arm.Guard)
			f.expression(arm.Value)
		}
	case *ast.BlockExpr:
		f.block(e.Block)
	case *ast.RangeExpr:
		f.expression(e.Start)
		f.expression(e.End)
		f.expression(e.Step)
	case *ast.CastExpr:
		f.expression(e.Value)
	case *ast.TypeOfExpr:
		f.expression(e.Value)
	case *ast.ChannelSendExpr:
		f.expression(e.Channel)
		f.expression(e.Value)
	case *ast.ChannelReceiveExpr:
		f.expression(e.Channel)
	case *ast.AsyncExpr:
		f.expression(e.Value)
	case *ast.AwaitExpr:
		f.expression(e.Value)
	case *ast.YieldExpr:
		f.expression(e.Value)
	case *ast.RunExpr:
		f.expression(e.Value)
	case *ast.ParenExpr:
		f.expression(e.Inner)
	}
}
