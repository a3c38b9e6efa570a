// Package resolver wires modules together: it collects each module's
// local symbols, loads and checks imports, and validates every
// identifier use against local scopes, module symbols, imports, and
// the builtin set.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/diag"
	"github.com/codeassociates/bulu/lexer"
	"github.com/codeassociates/bulu/parser"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithSearchPaths adds directories searched when loading imports.
func WithSearchPaths(paths []string) Option {
	return func(r *Resolver) {
		r.searchPaths = append(r.searchPaths, paths...)
	}
}

// WithSourceExt sets the source file extension (default ".blu").
func WithSourceExt(ext string) Option {
	return func(r *Resolver) {
		r.sourceExt = ext
	}
}

// Resolver loads and resolves modules. Loaded modules are cached by
// absolute path so diamond imports resolve once.
type Resolver struct {
	searchPaths []string
	sourceExt   string

	modules map[string]*Module
	loading map[string]bool // cycle detection
}

// New creates a resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		sourceExt: ".blu",
		modules:   make(map[string]*Module),
		loading:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveProgram resolves an already-parsed program as a module rooted
// at path. It runs the three passes: collect locals, resolve imports,
// validate uses.
func (r *Resolver) ResolveProgram(program *ast.Program, path, source string) (*Module, error) {
	name := strings.TrimSuffix(filepath.Base(path), r.sourceExt)
	if name == "" {
		name = "main"
	}
	mod := NewModule(path, name)
	mod.Program = program
	mod.Source = source
	r.modules[path] = mod

	if err := r.collectLocals(mod); err != nil {
		return nil, err
	}
	if err := r.resolveImports(mod); err != nil {
		return nil, err
	}
	if err := r.validateUses(mod); err != nil {
		return nil, err
	}
	return mod, nil
}

// LoadModule locates, reads, parses, and resolves the module at the
// import path, relative to the importing file's directory.
func (r *Resolver) LoadModule(importPath, fromDir string) (*Module, error) {
	file, err := r.findModuleFile(importPath, fromDir)
	if err != nil {
		return nil, err
	}
	if mod, ok := r.modules[file]; ok {
		return mod, nil
	}
	if r.loading[file] {
		return nil, &diag.TypeError{Message: fmt.Sprintf("import cycle through %q", importPath)}
	}
	r.loading[file] = true
	defer delete(r.loading, file)

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &diag.IoError{Message: err.Error()}
	}
	source := string(data)

	l := lexer.NewFile(source, file)
	p := parser.New(l)
	p.SetFile(file)
	program := p.ParseProgram()
	if err := p.FirstError(); err != nil {
		return nil, err
	}
	return r.ResolveProgram(program, file, source)
}

// findModuleFile implements the lookup order: exact path, path plus
// the source extension, then path/index with the extension. Each is
// tried relative to the importing directory and then each search path.
func (r *Resolver) findModuleFile(importPath, fromDir string) (string, error) {
	candidates := []string{
		importPath,
		importPath + r.sourceExt,
		filepath.Join(importPath, "index"+r.sourceExt),
	}
	dirs := append([]string{fromDir}, r.searchPaths...)
	for _, dir := range dirs {
		for _, cand := range candidates {
			full := cand
			if !filepath.IsAbs(full) {
				full = filepath.Join(dir, cand)
			}
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				abs, err := filepath.Abs(full)
				if err != nil {
					return "", &diag.IoError{Message: err.Error()}
				}
				return abs, nil
			}
		}
	}
	return "", &diag.TypeError{Message: fmt.Sprintf("module %q not found", importPath)}
}

// ---------------------------------------------------------------------
// Pass 1: collect locals

func (r *Resolver) collectLocals(mod *Module) error {
	for _, stmt := range mod.Program.Statements {
		exported := false
		inner := stmt
		if exp, ok := stmt.(*ast.ExportStmt); ok {
			exported = true
			inner = exp.Inner
			if _, isImport := inner.(*ast.ImportStmt); isImport {
				continue // re-export, handled with imports
			}
		}
		sym := symbolFor(inner, exported)
		if sym == nil {
			continue
		}
		if prev, ok := mod.LocalSymbols[sym.Name]; ok {
			return &diag.TypeError{
				Message: fmt.Sprintf("duplicate symbol %q (previously declared at %s)", sym.Name, prev.Pos),
				Line:    sym.Pos.Line,
				Column:  sym.Pos.Column,
				File:    mod.Path,
			}
		}
		mod.LocalSymbols[sym.Name] = sym
		if exported {
			mod.Exports[sym.Name] = sym
		}
	}
	return nil
}

func symbolFor(stmt ast.Statement, exported bool) *Symbol {
	vis := Private
	if exported {
		vis = Public
	}
	switch s := stmt.(type) {
	case *ast.VarDecl:
		kind := SymbolVariable
		if s.IsConst {
			kind = SymbolConstant
		}
		return &Symbol{Name: s.Name, Kind: kind, Visibility: vis, Pos: s.Pos()}
	case *ast.FunctionDecl:
		return &Symbol{
			Name: s.Name, Kind: SymbolFunction, Visibility: vis, Pos: s.Pos(),
			Signature: signatureOf(s),
		}
	case *ast.StructDecl:
		return &Symbol{Name: s.Name, Kind: SymbolStruct, Visibility: vis, Pos: s.Pos()}
	case *ast.InterfaceDecl:
		return &Symbol{Name: s.Name, Kind: SymbolInterface, Visibility: vis, Pos: s.Pos()}
	case *ast.TypeAlias:
		return &Symbol{Name: s.Name, Kind: SymbolTypeAlias, Visibility: vis, Pos: s.Pos()}
	}
	return nil
}

func signatureOf(fn *ast.FunctionDecl) *FunctionSignature {
	sig := &FunctionSignature{IsAsync: fn.IsAsync, Returns: fn.ReturnTypes}
	for _, p := range fn.Params {
		sig.Params = append(sig.Params, ParamInfo{
			Name: p.Name, Type: p.Type, Default: p.Default != nil, Variadic: p.IsVariadic,
		})
		if p.IsVariadic {
			sig.IsVariadic = true
		}
	}
	return sig
}

// ---------------------------------------------------------------------
// Pass 2: resolve imports

func (r *Resolver) resolveImports(mod *Module) error {
	fromDir := filepath.Dir(mod.Path)
	for _, stmt := range mod.Program.Statements {
		reexport := false
		imp, ok := stmt.(*ast.ImportStmt)
		if !ok {
			if exp, isExp := stmt.(*ast.ExportStmt); isExp {
				if inner, isImp := exp.Inner.(*ast.ImportStmt); isImp {
					imp, reexport = inner, true
				}
			}
		}
		if imp == nil {
			continue
		}

		target, err := r.LoadModule(imp.Path, fromDir)
		if err != nil {
			return err
		}
		mod.Dependencies = append(mod.Dependencies, target.Path)

		switch {
		case len(imp.Items) > 0:
			// import { a, b as c } from "path"
			for _, item := range imp.Items {
				sym, ok := target.Exports[item.Name]
				if !ok {
					return &diag.TypeError{
						Message: fmt.Sprintf("module %q does not export %q", imp.Path, item.Name),
						Line:    imp.Pos().Line,
						Column:  imp.Pos().Column,
						File:    mod.Path,
					}
				}
				local := item.Name
				if item.Alias != "" {
					local = item.Alias
				}
				mod.Imports[local] = sym
				if reexport {
					mod.Exports[local] = sym
				}
			}
		case imp.Alias != "":
			// import "path" as alias: the alias names the module.
			mod.Imports[imp.Alias] = &Symbol{
				Name: imp.Alias, Kind: SymbolModule, Visibility: Public, Pos: imp.Pos(),
			}
			r.modules[mod.Path+"#"+imp.Alias] = target
		default:
			// Wildcard import: every export lands under its own name.
			for name, sym := range target.Exports {
				mod.Imports[name] = sym
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Pass 3: validate uses

// scope is one lexical frame of local bindings.
type scope map[string]bool

type useValidator struct {
	mod    *Module
	scopes []scope
	err    error
}

func (r *Resolver) validateUses(mod *Module) error {
	v := &useValidator{mod: mod}
	for _, stmt := range mod.Program.Statements {
		v.statement(stmt)
		if v.err != nil {
			return v.err
		}
	}
	return nil
}

func (v *useValidator) push() { v.scopes = append(v.scopes, scope{}) }
func (v *useValidator) pop()  { v.scopes = v.scopes[:len(v.scopes)-1] }

func (v *useValidator) bind(name string) {
	if len(v.scopes) > 0 {
		v.scopes[len(v.scopes)-1][name] = true
	}
}

// resolved checks local scopes innermost-out, then module locals, then
// imports, then builtins.
func (v *useValidator) resolved(name string) bool {
	for i := len(v.scopes) - 1; i >= 0; i-- {
		if v.scopes[i][name] {
			return true
		}
	}
	if _, ok := v.mod.LocalSymbols[name]; ok {
		return true
	}
	if _, ok := v.mod.Imports[name]; ok {
		return true
	}
	return IsBuiltin(name)
}

func (v *useValidator) fail(name string, pos lexer.Position) {
	if v.err == nil {
		v.err = &diag.TypeError{
			Message: fmt.Sprintf("undefined symbol %q", name),
			Line:    pos.Line,
			Column:  pos.Column,
			File:    v.mod.Path,
		}
	}
}

func (v *useValidator) statement(stmt ast.Statement) {
	if v.err != nil || stmt == nil {
		return
	}
	switch s := stmt.(type) {
	case *ast.VarDecl:
		v.expression(s.Value)
		v.bind(s.Name)
	case *ast.DestructuringDecl:
		v.expression(s.Value)
		for _, n := range s.Names {
			v.bind(n)
		}
	case *ast.MultipleDecl:
		for _, d := range s.Decls {
			v.statement(d)
		}
	case *ast.MultipleAssignment:
		for _, t := range s.Targets {
			v.expression(t)
		}
		for _, val := range s.Values {
			v.expression(val)
		}
	case *ast.FunctionDecl:
		v.bind(s.Name)
		v.push()
		for _, p := range s.Params {
			v.bind(p.Name)
			v.expression(p.Default)
		}
		v.block(s.Body)
		v.pop()
	case *ast.StructDecl:
		for _, f := range s.Fields {
			v.expression(f.Default)
		}
		for _, m := range s.Methods {
			v.push()
			v.bind("this")
			v.statement(m)
			v.pop()
		}
	case *ast.InterfaceDecl, *ast.TypeAlias, *ast.ImportStmt:
		// no uses inside
	case *ast.ExportStmt:
		v.statement(s.Inner)
	case *ast.IfStmt:
		v.expression(s.Condition)
		v.push()
		v.block(s.Then)
		v.pop()
		if s.Else != nil {
			v.push()
			v.statement(s.Else)
			v.pop()
		}
	case *ast.WhileStmt:
		v.expression(s.Condition)
		v.push()
		v.block(s.Body)
		v.pop()
	case *ast.ForStmt:
		v.expression(s.Iterable)
		v.push()
		if s.Index != "" {
			v.bind(s.Index)
		}
		v.bind(s.Value)
		v.block(s.Body)
		v.pop()
	case *ast.MatchStmt:
		v.expression(s.Subject)
		for _, arm := range s.Arms {
			v.push()
			v.bindPattern(arm.Pattern)
			v.expression(arm.Guard)
			v.statement(arm.Body)
			v.pop()
		}
	case *ast.SelectStmt:
		for _, arm := range s.Arms {
			v.push()
			if arm.Bind != "" {
				v.bind(arm.Bind)
			}
			v.expression(arm.Comm)
			v.block(arm.Body)
			v.pop()
		}
		if s.Default != nil {
			v.push()
			v.block(s.Default)
			v.pop()
		}
	case *ast.ReturnStmt:
		v.expression(s.Value)
	case *ast.DeferStmt:
		v.expression(s.Call)
	case *ast.TryStmt:
		v.push()
		v.block(s.Body)
		v.pop()
		if s.Handler != nil {
			v.push()
			if s.ErrName != "" {
				v.bind(s.ErrName)
			}
			v.block(s.Handler)
			v.pop()
		}
	case *ast.FailStmt:
		v.expression(s.Value)
	case *ast.BlockStmt:
		v.push()
		v.block(s)
		v.pop()
	case *ast.ExpressionStmt:
		v.expression(s.Expression)
	}
}

func (v *useValidator) block(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	for _, stmt := range b.Statements {
		v.statement(stmt)
	}
}

func (v *useValidator) bindPattern(pat ast.Pattern) {
	switch p := pat.(type) {
	case *ast.IdentifierPattern:
		v.bind(p.Name)
	case *ast.StructPattern:
		for _, f := range p.Fields {
			v.bindPattern(f.Pattern)
		}
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			v.bindPattern(el)
		}
	case *ast.OrPattern:
		for _, alt := range p.Alts {
			v.bindPattern(alt)
		}
	}
}

func (v *useValidator) expression(expr ast.Expression) {
	if v.err != nil || expr == nil {
		return
	}
	switch e := expr.(type) {
	case *ast.Identifier:
		if !v.resolved(e.Name) {
			v.fail(e.Name, e.Pos())
		}
	case *ast.BinaryExpr:
		v.expression(e.Left)
		v.expression(e.Right)
	case *ast.UnaryExpr:
		v.expression(e.Operand)
	case *ast.AssignExpr:
		v.expression(e.Target)
		v.expression(e.Value)
	case *ast.CallExpr:
		v.expression(e.Callee)
		for _, a := range e.Args {
			v.expression(a)
		}
	case *ast.IndexExpr:
		v.expression(e.Object)
		v.expression(e.Index)
	case *ast.MemberExpr:
		// Member names resolve later; only the object is checked here.
		v.expression(e.Object)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			v.expression(el)
		}
	case *ast.MapLiteral:
		for _, entry := range e.Entries {
			v.expression(entry.Key)
			v.expression(entry.Value)
		}
	case *ast.TupleExpr:
		for _, el := range e.Elements {
			v.expression(el)
		}
	case *ast.StructLiteral:
		if !v.resolved(e.Name) {
			v.fail(e.Name, e.Pos())
		}
		for _, f := range e.Fields {
			v.expression(f.Value)
		}
	case *ast.LambdaExpr:
		v.push()
		for _, p := range e.Params {
			v.bind(p.Name)
			v.expression(p.Default)
		}
		v.statement(e.Body)
		v.pop()
	case *ast.IfExpr:
		v.expression(e.Condition)
		v.expression(e.Then)
		v.expression(e.Else)
	case *ast.MatchExpr:
		v.expression(e.Subject)
		for _, arm := range e.Arms {
			v.push()
			v.bindPattern(arm.Pattern)
			v.expression(arm.Guard)
			v.expression(arm.Value)
			v.pop()
		}
	case *ast.BlockExpr:
		v.push()
		v.block(e.Block)
		v.pop()
	case *ast.RangeExpr:
		v.expression(e.Start)
		v.expression(e.End)
		v.expression(e.Step)
	case *ast.CastExpr:
		v.expression(e.Value)
	case *ast.TypeOfExpr:
		v.expression(e.Value)
	case *ast.ChannelSendExpr:
		v.expression(e.Channel)
		v.expression(e.Value)
	case *ast.ChannelReceiveExpr:
		v.expression(e.Channel)
	case *ast.AsyncExpr:
		v.expression(e.Value)
	case *ast.AwaitExpr:
		v.expression(e.Value)
	case *ast.YieldExpr:
		v.expression(e.Value)
	case *ast.RunExpr:
		v.expression(e.Value)
	case *ast.ParenExpr:
		v.expression(e.Inner)
	}
}
