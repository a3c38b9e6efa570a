// Package optimizer rewrites IR machine-independently. Passes only
// rewrite, never reject: a fold that cannot apply is skipped and the
// instruction left untouched. All passes preserve the IR invariants
// (unique result registers, exactly one terminator per block).
package optimizer

import (
	"github.com/codeassociates/bulu/cfg"
	"github.com/codeassociates/bulu/ir"
)

// Level selects the pass pipeline.
type Level int

const (
	O0 Level = iota
	O1
	O2
	O3
	Os
)

// ParseLevel maps a CLI flag value to a Level; unknown strings get O1.
func ParseLevel(s string) Level {
	switch s {
	case "O0":
		return O0
	case "O2":
		return O2
	case "O3":
		return O3
	case "Os":
		return Os
	default:
		return O1
	}
}

// Optimizer drives the pass pipeline over a program.
type Optimizer struct {
	level Level
}

// New creates an optimizer at the given level.
func New(level Level) *Optimizer {
	return &Optimizer{level: level}
}

// Optimize runs the level's passes over every function. O0 does
// nothing; O1/O2/Os run folding, propagation and DCE; O3 adds
// inlining and the loop passes.
func (o *Optimizer) Optimize(prog *ir.Program) {
	if o.level == O0 {
		return
	}
	for _, fn := range prog.Functions {
		// Folding exposes new constants for propagation and vice
		// versa; a few rounds reach the fixed point on real inputs.
		for i := 0; i < 4; i++ {
			FoldConstants(fn)
			PropagateConstants(fn)
			PropagateCopies(fn)
		}
		EliminateDeadCode(fn)
		EliminateDeadStores(fn)
	}
	if o.level == O3 {
		InlineFunctions(prog)
		for _, fn := range prog.Functions {
			graph := cfg.Build(fn)
			idom := cfg.Dominators(graph)
			loops := cfg.NaturalLoops(graph, idom)
			HoistLoopInvariants(fn, graph, loops)
			UnrollSmallLoops(fn, loops)
			ReduceStrength(fn, loops)
			FoldConstants(fn)
			EliminateDeadCode(fn)
		}
	}
}

// ---------------------------------------------------------------------
// Constant folding

var foldableBinary = map[ir.Opcode]bool{
	ir.Add: true, ir.Sub: true, ir.Mul: true, ir.Div: true, ir.Mod: true,
	ir.Pow: true, ir.And: true, ir.Or: true, ir.Xor: true,
	ir.Shl: true, ir.Shr: true,
	ir.Eq: true, ir.Ne: true, ir.Lt: true, ir.Le: true, ir.Gt: true, ir.Ge: true,
	ir.LogicalAnd: true, ir.LogicalOr: true,
}

// FoldConstants rewrites pure operations over constant operands into
// Copy of the result. Division by zero aborts the fold and leaves the
// instruction untouched.
func FoldConstants(fn *ir.Function) {
	for _, b := range fn.Blocks {
		for i := range b.Instructions {
			inst := &b.Instructions[i]
			switch {
			case foldableBinary[inst.Op] && len(inst.Operands) == 2 &&
				inst.Operands[0].IsConst() && inst.Operands[1].IsConst():
				if c, ok := foldBinary(inst.Op, inst.Operands[0].Const, inst.Operands[1].Const); ok {
					inst.Op = ir.Copy
					inst.Operands = []ir.Value{ir.ConstValue(c)}
				}
			case (inst.Op == ir.Neg || inst.Op == ir.Not || inst.Op == ir.LogicalNot) &&
				len(inst.Operands) == 1 && inst.Operands[0].IsConst():
				if c, ok := foldUnary(inst.Op, inst.Operands[0].Const); ok {
					inst.Op = ir.Copy
					inst.Operands = []ir.Value{ir.ConstValue(c)}
				}
			}
		}
	}
}

func foldBinary(op ir.Opcode, l, r ir.Constant) (ir.Constant, bool) {
	// Mixed int/float widens to float.
	if l.Kind == ir.ConstFloat || r.Kind == ir.ConstFloat {
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return ir.Constant{}, false
		}
		return foldFloat(op, lf, rf)
	}
	if l.Kind == ir.ConstBool && r.Kind == ir.ConstBool {
		switch op {
		case ir.LogicalAnd:
			return boolConst(l.Bool && r.Bool), true
		case ir.LogicalOr:
			return boolConst(l.Bool || r.Bool), true
		case ir.Eq:
			return boolConst(l.Bool == r.Bool), true
		case ir.Ne:
			return boolConst(l.Bool != r.Bool), true
		}
		return ir.Constant{}, false
	}
	if l.Kind != ir.ConstInt || r.Kind != ir.ConstInt {
		return ir.Constant{}, false
	}
	a, b := l.Int, r.Int
	switch op {
	case ir.Add:
		return intConst(a + b), true
	case ir.Sub:
		return intConst(a - b), true
	case ir.Mul:
		return intConst(a * b), true
	case ir.Div:
		if b == 0 {
			return ir.Constant{}, false // abort the fold
		}
		return intConst(a / b), true
	case ir.Mod:
		if b == 0 {
			return ir.Constant{}, false
		}
		return intConst(a % b), true
	case ir.Pow:
		if b >= 0 {
			result := int64(1)
			for i := int64(0); i < b; i++ {
				result *= a
			}
			return intConst(result), true
		}
		// Negative exponent widens to float.
		f := 1.0
		for i := int64(0); i < -b; i++ {
			f *= float64(a)
		}
		return ir.Constant{Kind: ir.ConstFloat, Float: 1 / f}, true
	case ir.And:
		return intConst(a & b), true
	case ir.Or:
		return intConst(a | b), true
	case ir.Xor:
		return intConst(a ^ b), true
	case ir.Shl:
		return intConst(a << uint64(b)), true
	case ir.Shr:
		return intConst(a >> uint64(b)), true
	case ir.Eq:
		return boolConst(a == b), true
	case ir.Ne:
		return boolConst(a != b), true
	case ir.Lt:
		return boolConst(a < b), true
	case ir.Le:
		return boolConst(a <= b), true
	case ir.Gt:
		return boolConst(a > b), true
	case ir.Ge:
		return boolConst(a >= b), true
	}
	return ir.Constant{}, false
}

func foldFloat(op ir.Opcode, a, b float64) (ir.Constant, bool) {
	switch op {
	case ir.Add:
		return floatConst(a + b), true
	case ir.Sub:
		return floatConst(a - b), true
	case ir.Mul:
		return floatConst(a * b), true
	case ir.Div:
		if b == 0 {
			return ir.Constant{}, false
		}
		return floatConst(a / b), true
	case ir.Eq:
		return boolConst(a == b), true
	case ir.Ne:
		return boolConst(a != b), true
	case ir.Lt:
		return boolConst(a < b), true
	case ir.Le:
		return boolConst(a <= b), true
	case ir.Gt:
		return boolConst(a > b), true
	case ir.Ge:
		return boolConst(a >= b), true
	}
	return ir.Constant{}, false
}

func foldUnary(op ir.Opcode, c ir.Constant) (ir.Constant, bool) {
	switch op {
	case ir.Neg:
		switch c.Kind {
		case ir.ConstInt:
			return intConst(-c.Int), true
		case ir.ConstFloat:
			return floatConst(-c.Float), true
		}
	case ir.Not:
		if c.Kind == ir.ConstInt {
			return intConst(^c.Int), true
		}
	case ir.LogicalNot:
		if c.Kind == ir.ConstBool {
			return boolConst(!c.Bool), true
		}
	}
	return ir.Constant{}, false
}

func intConst(n int64) ir.Constant   { return ir.Constant{Kind: ir.ConstInt, Int: n} }
func floatConst(f float64) ir.Constant {
	return ir.Constant{Kind: ir.ConstFloat, Float: f}
}
func boolConst(b bool) ir.Constant { return ir.Constant{Kind: ir.ConstBool, Bool: b} }

func asFloat(c ir.Constant) (float64, bool) {
	switch c.Kind {
	case ir.ConstFloat:
		return c.Float, true
	case ir.ConstInt:
		return float64(c.Int), true
	}
	return 0, false
}

// ---------------------------------------------------------------------
// Constant and copy propagation

// PropagateConstants discovers `r ← Copy const` definitions and
// substitutes the constant at every use. A redefinition with anything
// but a constant Copy kills the entry.
func PropagateConstants(fn *ir.Function) {
	consts := map[ir.Reg]ir.Constant{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if inst.Result == ir.NoReg {
				continue
			}
			if inst.Op == ir.Copy && len(inst.Operands) == 1 && inst.Operands[0].IsConst() {
				if _, seen := consts[inst.Result]; seen {
					// Second constant def: conflicting values, drop.
					delete(consts, inst.Result)
					continue
				}
				consts[inst.Result] = inst.Operands[0].Const
			} else {
				delete(consts, inst.Result)
			}
		}
	}
	// A non-const def after the const def was already deleted by the
	// scan above, but a non-const def earlier in layout order was not;
	// any register defined more than once is dropped here.
	defCount := map[ir.Reg]int{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if inst.Result != ir.NoReg {
				defCount[inst.Result]++
			}
		}
	}
	for r := range consts {
		if defCount[r] > 1 {
			delete(consts, r)
		}
	}

	substitute(fn, func(v ir.Value) ir.Value {
		if v.Kind == ir.ValRegister {
			if c, ok := consts[v.Reg]; ok {
				return ir.ConstValue(c)
			}
		}
		return v
	})
}

// PropagateCopies does the same with `r ← Copy other-register`,
// skipping registers that are redefined.
func PropagateCopies(fn *ir.Function) {
	defCount := map[ir.Reg]int{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if inst.Result != ir.NoReg {
				defCount[inst.Result]++
			}
		}
	}

	copies := map[ir.Reg]ir.Reg{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if inst.Op == ir.Copy && inst.Result != ir.NoReg &&
				len(inst.Operands) == 1 && inst.Operands[0].Kind == ir.ValRegister {
				src := inst.Operands[0].Reg
				if defCount[inst.Result] == 1 && defCount[src] <= 1 {
					copies[inst.Result] = src
				}
			}
		}
	}

	resolve := func(r ir.Reg) ir.Reg {
		seen := map[ir.Reg]bool{}
		for {
			src, ok := copies[r]
			if !ok || seen[r] {
				return r
			}
			seen[r] = true
			r = src
		}
	}

	substitute(fn, func(v ir.Value) ir.Value {
		if v.Kind == ir.ValRegister {
			return ir.RegValue(resolve(v.Reg))
		}
		return v
	})
}

// substitute rewrites every operand and terminator value in fn.
func substitute(fn *ir.Function, f func(ir.Value) ir.Value) {
	for _, b := range fn.Blocks {
		for i := range b.Instructions {
			for j := range b.Instructions[i].Operands {
				b.Instructions[i].Operands[j] = f(b.Instructions[i].Operands[j])
			}
		}
		switch b.Term.Kind {
		case ir.TermReturn:
			if b.Term.HasValue {
				b.Term.Value = f(b.Term.Value)
			}
		case ir.TermCondBranch:
			b.Term.Cond = f(b.Term.Cond)
		case ir.TermSwitch:
			b.Term.SwitchValue = f(b.Term.SwitchValue)
			for k := range b.Term.Cases {
				b.Term.Cases[k].Value = f(b.Term.Cases[k].Value)
			}
		}
	}
}

// ---------------------------------------------------------------------
// Dead code elimination

var sideEffecting = map[ir.Opcode]bool{
	ir.Store: true, ir.StructStore: true, ir.Alloca: true,
	ir.Call: true, ir.CallIndirect: true,
	ir.ChannelCreate: true, ir.ChannelSend: true, ir.ChannelReceive: true,
	ir.ChannelClose: true, ir.ChannelSelect: true,
	ir.Spawn: true, ir.Await: true,
	ir.LockAcquire: true, ir.LockRelease: true,
	ir.MapInsert: true, ir.MapDelete: true,
	ir.Throw: true, ir.Catch: true, ir.Yield: true,
	ir.StructConstruct: true, ir.RegisterStruct: true,
}

// EliminateDeadCode removes instructions whose results are never used
// and that have no side effects. Liveness seeds from terminator uses
// and side-effecting instructions, then propagates backwards through
// def-use chains.
func EliminateDeadCode(fn *ir.Function) {
	live := map[ir.Reg]bool{}
	mark := func(v ir.Value) {
		if v.Kind == ir.ValRegister {
			live[v.Reg] = true
		}
	}
	for _, b := range fn.Blocks {
		switch b.Term.Kind {
		case ir.TermReturn:
			if b.Term.HasValue {
				mark(b.Term.Value)
			}
		case ir.TermCondBranch:
			mark(b.Term.Cond)
		case ir.TermSwitch:
			mark(b.Term.SwitchValue)
			for _, c := range b.Term.Cases {
				mark(c.Value)
			}
		}
		for _, inst := range b.Instructions {
			if sideEffecting[inst.Op] {
				for _, op := range inst.Operands {
					mark(op)
				}
				if inst.Result != ir.NoReg {
					live[inst.Result] = true
				}
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				if inst.Result != ir.NoReg && live[inst.Result] {
					for _, op := range inst.Operands {
						if op.Kind == ir.ValRegister && !live[op.Reg] {
							live[op.Reg] = true
							changed = true
						}
					}
				}
			}
		}
	}

	for _, b := range fn.Blocks {
		kept := b.Instructions[:0]
		for _, inst := range b.Instructions {
			if sideEffecting[inst.Op] || inst.Result == ir.NoReg || live[inst.Result] {
				kept = append(kept, inst)
			}
		}
		b.Instructions = kept
	}
}

// EliminateDeadStores removes Copy definitions whose register is never
// read afterwards anywhere in the function.
func EliminateDeadStores(fn *ir.Function) {
	read := map[ir.Reg]bool{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			for _, op := range inst.Operands {
				if op.Kind == ir.ValRegister {
					read[op.Reg] = true
				}
			}
		}
		switch b.Term.Kind {
		case ir.TermReturn:
			if b.Term.HasValue && b.Term.Value.Kind == ir.ValRegister {
				read[b.Term.Value.Reg] = true
			}
		case ir.TermCondBranch:
			if b.Term.Cond.Kind == ir.ValRegister {
				read[b.Term.Cond.Reg] = true
			}
		case ir.TermSwitch:
			if b.Term.SwitchValue.Kind == ir.ValRegister {
				read[b.Term.SwitchValue.Reg] = true
			}
		}
	}
	for _, b := range fn.Blocks {
		kept := b.Instructions[:0]
		for _, inst := range b.Instructions {
			if inst.Op == ir.Copy && inst.Result != ir.NoReg && !read[inst.Result] {
				continue
			}
			kept = append(kept, inst)
		}
		b.Instructions = kept
	}
}

// ---------------------------------------------------------------------
// Inlining

const (
	inlineMaxInstructions = 10
	inlineMaxBlocks       = 3
	inlineIterations      = 4
)

// Inlinable reports whether fn passes the four gates: non-recursive,
// non-async, at most 10 instructions and 3 blocks, and no nested
// calls.
func Inlinable(fn *ir.Function) bool {
	if fn.IsAsync {
		return false
	}
	if len(fn.Blocks) > inlineMaxBlocks {
		return false
	}
	total := 0
	for _, b := range fn.Blocks {
		total += len(b.Instructions)
		for _, inst := range b.Instructions {
			switch inst.Op {
			case ir.Call, ir.CallIndirect:
				return false
			}
		}
	}
	return total <= inlineMaxInstructions
}

// InlineFunctions substitutes gated call sites until a fixed point
// (bounded). Only single-block callees are spliced; multi-block
// callees pass the gates but stay out-of-line.
func InlineFunctions(prog *ir.Program) {
	candidates := map[string]*ir.Function{}
	for _, fn := range prog.Functions {
		if Inlinable(fn) && len(fn.Blocks) == 1 {
			candidates[fn.Name] = fn
		}
	}
	for i := 0; i < inlineIterations; i++ {
		changed := false
		for _, fn := range prog.Functions {
			if inlineInto(fn, candidates) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func inlineInto(fn *ir.Function, candidates map[string]*ir.Function) bool {
	maxReg := maxRegister(fn)
	changed := false
	for _, b := range fn.Blocks {
		var out []ir.Instruction
		for _, inst := range b.Instructions {
			callee := calleeOf(inst, candidates)
			if callee == nil || callee.Name == fn.Name {
				out = append(out, inst)
				continue
			}

			// Map callee registers into a fresh range above the
			// caller's; parameters map directly to argument values.
			regBase := maxReg + 1
			args := inst.Operands[1:]
			valueMap := map[ir.Reg]ir.Value{}
			for pi, p := range callee.Params {
				if pi < len(args) {
					valueMap[p.Reg] = args[pi]
				} else {
					valueMap[p.Reg] = ir.NullValue()
				}
			}
			remap := func(v ir.Value) ir.Value {
				if v.Kind != ir.ValRegister {
					return v
				}
				if mapped, ok := valueMap[v.Reg]; ok {
					return mapped
				}
				return ir.RegValue(regBase + v.Reg)
			}

			body := callee.Blocks[0]
			for _, ci := range body.Instructions {
				ni := ir.Instruction{Op: ci.Op, Result: ir.NoReg, Pos: ci.Pos}
				if ci.Result != ir.NoReg {
					ni.Result = regBase + ci.Result
				}
				for _, op := range ci.Operands {
					ni.Operands = append(ni.Operands, remap(op))
				}
				out = append(out, ni)
			}
			// Materialize the return value into the call's result.
			if inst.Result != ir.NoReg {
				ret := ir.NullValue()
				if body.Term.Kind == ir.TermReturn && body.Term.HasValue {
					ret = remap(body.Term.Value)
				}
				out = append(out, ir.Instruction{
					Op: ir.Copy, Result: inst.Result, Operands: []ir.Value{ret}, Pos: inst.Pos,
				})
			}
			maxReg = regBase + maxRegister(callee)
			changed = true
		}
		b.Instructions = out
	}
	return changed
}

func calleeOf(inst ir.Instruction, candidates map[string]*ir.Function) *ir.Function {
	if inst.Op != ir.Call || len(inst.Operands) == 0 {
		return nil
	}
	if inst.Operands[0].Kind != ir.ValFunction {
		return nil
	}
	return candidates[inst.Operands[0].Name]
}

func maxRegister(fn *ir.Function) ir.Reg {
	top := ir.Reg(0)
	for _, p := range fn.Params {
		if p.Reg > top {
			top = p.Reg
		}
	}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			if inst.Result > top {
				top = inst.Result
			}
			for _, op := range inst.Operands {
				if op.Kind == ir.ValRegister && op.Reg > top {
					top = op.Reg
				}
			}
		}
	}
	return top
}

// ---------------------------------------------------------------------
// Loop passes

var pureOps = map[ir.Opcode]bool{
	ir.Add: true, ir.Sub: true, ir.Mul: true, ir.Div: true, ir.Mod: true,
	ir.Pow: true, ir.Neg: true,
	ir.And: true, ir.Or: true, ir.Xor: true, ir.Not: true,
	ir.Shl: true, ir.Shr: true,
	ir.Eq: true, ir.Ne: true, ir.Lt: true, ir.Le: true, ir.Gt: true, ir.Ge: true,
	ir.LogicalAnd: true, ir.LogicalOr: true, ir.LogicalNot: true,
}

// HoistLoopInvariants moves pure instructions whose register operands
// are all defined outside the loop to the loop header. The header
// stands in for a preheader here; this is safe only because hoisted
// ops are pure.
func HoistLoopInvariants(fn *ir.Function, graph *cfg.Graph, loops []cfg.Loop) {
	for _, loop := range loops {
		definedIn := map[ir.Reg]bool{}
		for node := range loop.Nodes {
			for _, inst := range fn.Blocks[node].Instructions {
				if inst.Result != ir.NoReg {
					definedIn[inst.Result] = true
				}
			}
		}

		header := fn.Blocks[loop.Header]
		for node := range loop.Nodes {
			if node == loop.Header {
				continue
			}
			b := fn.Blocks[node]
			kept := b.Instructions[:0]
			for _, inst := range b.Instructions {
				if pureOps[inst.Op] && inst.Result != ir.NoReg && invariant(inst, definedIn, inst.Result) {
					header.Instructions = append([]ir.Instruction{inst}, header.Instructions...)
					delete(definedIn, inst.Result)
					continue
				}
				kept = append(kept, inst)
			}
			b.Instructions = kept
		}
	}
}

func invariant(inst ir.Instruction, definedIn map[ir.Reg]bool, self ir.Reg) bool {
	for _, op := range inst.Operands {
		if op.Kind == ir.ValRegister && definedIn[op.Reg] && op.Reg != self {
			return false
		}
	}
	return true
}

const (
	unrollMaxBlocks       = 3
	unrollMaxInstructions = 5
)

// UnrollSmallLoops duplicates the straight-line body of very small
// loops. Experimental, matching the source behavior at O3.
func UnrollSmallLoops(fn *ir.Function, loops []cfg.Loop) {
	for _, loop := range loops {
		if len(loop.Nodes) > unrollMaxBlocks {
			continue
		}
		total := 0
		for node := range loop.Nodes {
			total += len(fn.Blocks[node].Instructions)
		}
		if total > unrollMaxInstructions {
			continue
		}
		body := fn.Blocks[loop.BackEdgeSource]
		if loop.BackEdgeSource == loop.Header {
			continue
		}
		dup := make([]ir.Instruction, len(body.Instructions))
		copy(dup, body.Instructions)
		body.Instructions = append(body.Instructions, dup...)
	}
}

// ReduceStrength replaces multiplications by powers of two inside
// loop blocks with shifts.
func ReduceStrength(fn *ir.Function, loops []cfg.Loop) {
	inLoop := map[int]bool{}
	for _, loop := range loops {
		for node := range loop.Nodes {
			inLoop[node] = true
		}
	}
	for idx, b := range fn.Blocks {
		if !inLoop[idx] {
			continue
		}
		for i := range b.Instructions {
			inst := &b.Instructions[i]
			if inst.Op != ir.Mul || len(inst.Operands) != 2 {
				continue
			}
			for j := 0; j < 2; j++ {
				c := inst.Operands[j]
				if !c.IsConst() || c.Const.Kind != ir.ConstInt {
					continue
				}
				if k, ok := log2(c.Const.Int); ok {
					other := inst.Operands[1-j]
					inst.Op = ir.Shl
					inst.Operands = []ir.Value{other, ir.IntValue(k)}
					break
				}
			}
		}
	}
}

func log2(n int64) (int64, bool) {
	if n <= 0 || n&(n-1) != 0 {
		return 0, false
	}
	k := int64(0)
	for n > 1 {
		n >>= 1
		k++
	}
	return k, true
}
