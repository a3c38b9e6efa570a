package ast

import (
	"strings"

	"github.com/codeassociates/bulu/lexer"
)

// TypeKind discriminates the Type sum.
type TypeKind int

const (
	TypePrimitive TypeKind = iota
	TypeArray
	TypeSlice
	TypeMap
	TypeTuple
	TypeFunction
	TypeNamed
	TypeStruct
	TypeInterface
	TypeChannel
	TypePromise
	TypeGeneric
)

// Type is a source type annotation. Types are by-value: sharing a
// *Type between nodes is fine because they are never mutated after
// parsing.
type Type struct {
	Kind TypeKind
	Pos  lexer.Position

	// Primitive / named / struct / interface / generic
	Name string

	// Array: Elem + optional Size (-1 when absent); Slice/Channel/
	// Promise: Elem only.
	Elem *Type
	Size int

	// Map
	Key   *Type
	Value *Type

	// Tuple / Function params
	Elems []*Type

	// Function
	Params []*Type
	Return *Type // nil for void

	// Generic instantiation arguments: Name<Args...>
	Args []*Type
}

// Primitive type names recognized by the parser.
var primitiveTypes = map[string]bool{
	"i8": true, "i16": true, "i32": true, "i64": true,
	"u8": true, "u16": true, "u32": true, "u64": true,
	"f32": true, "f64": true,
	"bool": true, "char": true, "string": true, "any": true, "void": true,
}

// IsPrimitiveName reports whether name is a builtin primitive type.
func IsPrimitiveName(name string) bool {
	return primitiveTypes[name]
}

// String renders the type in source syntax.
func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case TypePrimitive, TypeNamed, TypeStruct, TypeInterface:
		return t.Name
	case TypeGeneric:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return t.Name + "<" + strings.Join(parts, ", ") + ">"
	case TypeArray:
		return "[" + t.Elem.String() + "]"
	case TypeSlice:
		return "[]" + t.Elem.String()
	case TypeMap:
		return "map[" + t.Key.String() + "]" + t.Value.String()
	case TypeTuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TypeFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		s := "func(" + strings.Join(parts, ", ") + ")"
		if t.Return != nil {
			s += " " + t.Return.String()
		}
		return s
	case TypeChannel:
		return "chan " + t.Elem.String()
	case TypePromise:
		return "promise<" + t.Elem.String() + ">"
	}
	return "?"
}
