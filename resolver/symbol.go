package resolver

import (
	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/lexer"
)

// SymbolKind classifies a declared name.
type SymbolKind int

const (
	SymbolFunction SymbolKind = iota
	SymbolVariable
	SymbolConstant
	SymbolStruct
	SymbolInterface
	SymbolTypeAlias
	SymbolModule
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolFunction:
		return "function"
	case SymbolVariable:
		return "variable"
	case SymbolConstant:
		return "constant"
	case SymbolStruct:
		return "struct"
	case SymbolInterface:
		return "interface"
	case SymbolTypeAlias:
		return "type alias"
	case SymbolModule:
		return "module"
	}
	return "symbol"
}

// Visibility of a declared name.
type Visibility int

const (
	Public Visibility = iota
	Private
	Internal
)

// ParamInfo describes one parameter of a function signature.
type ParamInfo struct {
	Name     string
	Type     *ast.Type
	Default  bool
	Variadic bool
}

// FunctionSignature is recorded for function symbols so imports can be
// checked and calls arity-reported without the AST at hand.
type FunctionSignature struct {
	Params     []ParamInfo
	Returns    []*ast.Type
	IsAsync    bool
	IsVariadic bool
}

// Symbol is one named declaration in a module.
type Symbol struct {
	Name       string
	Kind       SymbolKind
	Visibility Visibility
	Pos        lexer.Position
	Signature  *FunctionSignature // non-nil for functions
}

// Module is a resolved translation unit.
type Module struct {
	Path         string
	Name         string
	LocalSymbols map[string]*Symbol
	Imports      map[string]*Symbol // by local (possibly aliased) name
	Exports      map[string]*Symbol
	Dependencies []string
	Program      *ast.Program
	Source       string
}

// NewModule creates an empty module for path.
func NewModule(path, name string) *Module {
	return &Module{
		Path:         path,
		Name:         name,
		LocalSymbols: make(map[string]*Symbol),
		Imports:      make(map[string]*Symbol),
		Exports:      make(map[string]*Symbol),
	}
}

// builtins every module can reference without declaration.
var builtins = map[string]bool{
	"print": true, "println": true, "printf": true, "input": true,
	"len": true, "cap": true, "append": true, "make": true, "copy": true,
	"clone": true, "panic": true, "recover": true, "assert": true,
	"typeof": true, "instanceof": true,
	"ord": true, "chr": true, "range": true,
	"Lock": true, "chan": true, "map": true,
}

// IsBuiltin reports whether name is in the fixed builtin set, which
// also includes the primitive type names.
func IsBuiltin(name string) bool {
	return builtins[name] || ast.IsPrimitiveName(name)
}
