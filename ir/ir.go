// Package ir defines the register-based SSA-style intermediate
// representation and the lowering from AST to IR. Virtual register ids
// are unique within a function, densely numbered in definition order.
package ir

import (
	"github.com/codeassociates/bulu/lexer"
)

// Opcode identifies an IR instruction.
type Opcode int

const (
	// Arithmetic
	Add Opcode = iota
	Sub
	Mul
	Div
	Mod
	Pow
	Neg

	// Bitwise
	And
	Or
	Xor
	Not
	Shl
	Shr

	// Comparison
	Eq
	Ne
	Lt
	Le
	Gt
	Ge

	// Logical
	LogicalAnd
	LogicalOr
	LogicalNot

	// Memory
	Load
	Store
	Alloca

	// Type operations
	Cast
	TypeOf
	IsNull

	// Function operations
	Call
	CallIndirect

	// Array/slice
	ArrayAccess
	ArrayLength
	ArrayAppend
	SliceAccess
	SliceLength

	// Map
	MapAccess
	MapInsert
	MapDelete
	MapLength

	// Channel
	ChannelCreate
	ChannelSend
	ChannelReceive
	ChannelClose
	ChannelSelect

	// Concurrency
	Spawn
	Await
	LockAcquire
	LockRelease

	// Control flow
	Phi

	// Struct
	StructAccess
	StructStore
	StructConstruct
	RegisterStruct

	// Tuple
	TupleAccess
	TupleConstruct

	// String
	StringConcat
	StringLength

	// Utility
	Copy
	Move
	Clone

	// Generator
	Yield
	GeneratorNext

	// Error handling
	Throw
	Catch
)

var opcodeNames = map[Opcode]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	Pow: "pow", Neg: "neg",
	And: "and", Or: "or", Xor: "xor", Not: "not", Shl: "shl", Shr: "shr",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
	LogicalAnd: "land", LogicalOr: "lor", LogicalNot: "lnot",
	Load: "load", Store: "store", Alloca: "alloca",
	Cast: "cast", TypeOf: "typeof", IsNull: "isnull",
	Call: "call", CallIndirect: "calli",
	ArrayAccess: "array.get", ArrayLength: "array.len", ArrayAppend: "array.append",
	SliceAccess: "slice.get", SliceLength: "slice.len",
	MapAccess: "map.get", MapInsert: "map.insert", MapDelete: "map.delete", MapLength: "map.len",
	ChannelCreate: "chan.new", ChannelSend: "chan.send", ChannelReceive: "chan.recv",
	ChannelClose: "chan.close", ChannelSelect: "chan.select",
	Spawn: "spawn", Await: "await",
	LockAcquire: "lock.acquire", LockRelease: "lock.release",
	Phi:          "phi",
	StructAccess: "struct.get", StructStore: "struct.set",
	StructConstruct: "struct.new", RegisterStruct: "struct.register",
	TupleAccess: "tuple.get", TupleConstruct: "tuple.new",
	StringConcat: "str.concat", StringLength: "str.len",
	Copy: "copy", Move: "move", Clone: "clone",
	Yield: "yield", GeneratorNext: "gen.next",
	Throw: "throw", Catch: "catch",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "op?"
}

// Reg is a virtual register id. NoReg marks an absent result.
type Reg int

const NoReg Reg = -1

// ConstKind discriminates Constant.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstChar
	ConstBool
	ConstNull
	ConstArray
	ConstStruct
	ConstTuple
)

// Constant is a compile-time value.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Char  rune
	Bool  bool
	Elems []Constant // array/struct/tuple composites
}

// ValueKind discriminates Value.
type ValueKind int

const (
	ValRegister ValueKind = iota
	ValConstant
	ValGlobal
	ValFunction
)

// Value is an instruction operand.
type Value struct {
	Kind  ValueKind
	Reg   Reg
	Const Constant
	Name  string // global or function name
}

// RegValue wraps a register as an operand.
func RegValue(r Reg) Value { return Value{Kind: ValRegister, Reg: r} }

// IntValue wraps an integer constant.
func IntValue(n int64) Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstInt, Int: n}}
}

// FloatValue wraps a float constant.
func FloatValue(f float64) Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstFloat, Float: f}}
}

// StringValue wraps a string constant.
func StringValue(s string) Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstString, Str: s}}
}

// BoolValue wraps a boolean constant.
func BoolValue(b bool) Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstBool, Bool: b}}
}

// CharValue wraps a char constant.
func CharValue(c rune) Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstChar, Char: c}}
}

// NullValue is the null constant operand.
func NullValue() Value {
	return Value{Kind: ValConstant, Const: Constant{Kind: ConstNull}}
}

// ConstValue wraps an arbitrary constant.
func ConstValue(c Constant) Value { return Value{Kind: ValConstant, Const: c} }

// GlobalValue references a global by name.
func GlobalValue(name string) Value { return Value{Kind: ValGlobal, Name: name} }

// FuncValue references a function by name.
func FuncValue(name string) Value { return Value{Kind: ValFunction, Name: name} }

// IsConst reports whether the value is a constant operand.
func (v Value) IsConst() bool { return v.Kind == ValConstant }

// Instruction is one non-terminator IR operation.
type Instruction struct {
	Op       Opcode
	Result   Reg // NoReg when the instruction produces no value
	Operands []Value
	Pos      lexer.Position
}

// TermKind discriminates Terminator.
type TermKind int

const (
	TermReturn TermKind = iota
	TermBranch
	TermCondBranch
	TermSwitch
	TermUnreachable
)

// SwitchCase is one (constant, label) pair of a switch terminator.
type SwitchCase struct {
	Value Value
	Label string
}

// Terminator ends a basic block. Exactly one terminator per block; it
// is always the last element.
type Terminator struct {
	Kind TermKind

	// Return
	HasValue bool
	Value    Value

	// Branch / CondBranch
	Target     string
	Cond       Value
	TrueLabel  string
	FalseLabel string

	// Switch
	SwitchValue  Value
	Cases        []SwitchCase
	DefaultLabel string // "" when absent
}

// ReturnTerm builds a return terminator, optionally with a value.
func ReturnTerm(v *Value) Terminator {
	t := Terminator{Kind: TermReturn}
	if v != nil {
		t.HasValue = true
		t.Value = *v
	}
	return t
}

// BranchTerm builds an unconditional branch.
func BranchTerm(label string) Terminator {
	return Terminator{Kind: TermBranch, Target: label}
}

// CondBranchTerm builds a conditional branch.
func CondBranchTerm(cond Value, trueLabel, falseLabel string) Terminator {
	return Terminator{Kind: TermCondBranch, Cond: cond, TrueLabel: trueLabel, FalseLabel: falseLabel}
}

// BasicBlock is a straight-line instruction sequence plus its
// terminator.
type BasicBlock struct {
	Label        string
	Instructions []Instruction
	Term         Terminator
}

// Param is a function parameter bound to a register.
type Param struct {
	Name string
	Type *Type
	Reg  Reg
}

// Function is one IR function. Parameters own registers 0..n-1; bb0
// is the entry block.
type Function struct {
	Name       string
	Params     []Param
	ReturnType *Type // nil for void
	Locals     map[string]Reg
	Blocks     []*BasicBlock
	IsAsync    bool
	Pos        lexer.Position
}

// Block returns the block with the given label, or nil.
func (f *Function) Block(label string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Global is a module-level variable.
type Global struct {
	Name    string
	Type    *Type
	IsConst bool
	Init    *Constant // nil when not a compile-time constant
	Pos     lexer.Position
}

// StructField is one field of a struct layout.
type StructField struct {
	Name   string
	Type   *Type
	Offset int
}

// Struct is a struct layout registered with the program.
type Struct struct {
	Name    string
	Fields  []StructField
	Methods []string
	Pos     lexer.Position
}

// InterfaceMethod is one method of an interface.
type InterfaceMethod struct {
	Name   string
	Params []*Type
	Return *Type
}

// Interface is an interface registered with the program.
type Interface struct {
	Name    string
	Methods []InterfaceMethod
	Pos     lexer.Position
}

// Program is a lowered translation unit.
type Program struct {
	Functions  []*Function
	Globals    []Global
	Structs    []*Struct
	Interfaces []*Interface
}

// Function returns the function with the given name, or nil.
func (p *Program) Function(name string) *Function {
	for _, f := range p.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// TypeKind discriminates Type.
type TypeKind int

const (
	TI8 TypeKind = iota
	TI16
	TI32
	TI64
	TU8
	TU16
	TU32
	TU64
	TF32
	TF64
	TBool
	TChar
	TString
	TAny
	TVoid
	TArray
	TSlice
	TMap
	TTuple
	TFunc
	TStruct
	TInterface
	TChannel
	TPromise
)

// Type is the IR type system, by-value like its AST counterpart.
type Type struct {
	Kind  TypeKind
	Name  string  // struct/interface name
	Elem  *Type   // array/slice/channel/promise element
	Key   *Type   // map key
	Val   *Type   // map value
	Elems []*Type // tuple elements, function params
	Ret   *Type   // function return
	Size  int     // array size, -1 when unsized
}

// I64Type is the default integer type.
func I64Type() *Type { return &Type{Kind: TI64} }

// AnyType is the dynamic type.
func AnyType() *Type { return &Type{Kind: TAny} }
