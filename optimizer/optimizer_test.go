package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeassociates/bulu/cfg"
	"github.com/codeassociates/bulu/ir"
)

func buildGraph(fn *ir.Function) *cfg.Graph {
	return cfg.Build(fn)
}

func buildLoops(fn *ir.Function) []cfg.Loop {
	g := cfg.Build(fn)
	return cfg.NaturalLoops(g, cfg.Dominators(g))
}

func singleBlock(name string, insts []ir.Instruction, term ir.Terminator) *ir.Function {
	return &ir.Function{
		Name:   name,
		Locals: map[string]ir.Reg{},
		Blocks: []*ir.BasicBlock{{Label: "bb0", Instructions: insts, Term: term}},
	}
}

func retReg(r ir.Reg) ir.Terminator {
	v := ir.RegValue(r)
	return ir.ReturnTerm(&v)
}

func TestFoldArithmetic(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Mul, Result: 0, Operands: []ir.Value{ir.IntValue(2), ir.IntValue(3)}},
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.IntValue(1), ir.IntValue(6)}},
	}, retReg(1))

	FoldConstants(fn)

	first := fn.Blocks[0].Instructions[0]
	assert.Equal(t, ir.Copy, first.Op)
	assert.Equal(t, int64(6), first.Operands[0].Const.Int)

	second := fn.Blocks[0].Instructions[1]
	assert.Equal(t, ir.Copy, second.Op)
	assert.Equal(t, int64(7), second.Operands[0].Const.Int)
}

func TestFoldS2Pipeline(t *testing.T) {
	// println(1 + 2 * 3) at O1: after folding and propagation the IR
	// contains a Copy of 7 and neither Mul nor Add.
	fn := singleBlock("main", []ir.Instruction{
		{Op: ir.Mul, Result: 0, Operands: []ir.Value{ir.IntValue(2), ir.IntValue(3)}},
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.IntValue(1), ir.RegValue(0)}},
		{Op: ir.Call, Result: 2, Operands: []ir.Value{ir.FuncValue("println"), ir.RegValue(1)}},
	}, ir.ReturnTerm(nil))
	prog := &ir.Program{Functions: []*ir.Function{fn}}

	New(O1).Optimize(prog)

	var sawMul, sawAdd bool
	var printlnArg ir.Value
	for _, inst := range fn.Blocks[0].Instructions {
		switch inst.Op {
		case ir.Mul:
			sawMul = true
		case ir.Add:
			sawAdd = true
		case ir.Call:
			printlnArg = inst.Operands[1]
		}
	}
	assert.False(t, sawMul)
	assert.False(t, sawAdd)
	require.True(t, printlnArg.IsConst())
	assert.Equal(t, int64(7), printlnArg.Const.Int)
}

func TestFoldDivisionByZeroAborts(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Div, Result: 0, Operands: []ir.Value{ir.IntValue(1), ir.IntValue(0)}},
	}, retReg(0))

	FoldConstants(fn)
	assert.Equal(t, ir.Div, fn.Blocks[0].Instructions[0].Op, "zero divisor leaves the op untouched")
}

func TestFoldMixedIntFloatWidens(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Add, Result: 0, Operands: []ir.Value{ir.IntValue(1), ir.FloatValue(0.5)}},
	}, retReg(0))

	FoldConstants(fn)
	inst := fn.Blocks[0].Instructions[0]
	require.Equal(t, ir.Copy, inst.Op)
	assert.Equal(t, ir.ConstFloat, inst.Operands[0].Const.Kind)
	assert.Equal(t, 1.5, inst.Operands[0].Const.Float)
}

func TestFoldPower(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Pow, Result: 0, Operands: []ir.Value{ir.IntValue(2), ir.IntValue(10)}},
		{Op: ir.Pow, Result: 1, Operands: []ir.Value{ir.IntValue(2), ir.IntValue(-1)}},
	}, retReg(0))

	FoldConstants(fn)
	first := fn.Blocks[0].Instructions[0]
	require.Equal(t, ir.Copy, first.Op)
	assert.Equal(t, ir.ConstInt, first.Operands[0].Const.Kind, "non-negative exponent stays integer")
	assert.Equal(t, int64(1024), first.Operands[0].Const.Int)

	second := fn.Blocks[0].Instructions[1]
	require.Equal(t, ir.Copy, second.Op)
	assert.Equal(t, ir.ConstFloat, second.Operands[0].Const.Kind, "negative exponent widens to float")
	assert.Equal(t, 0.5, second.Operands[0].Const.Float)
}

func TestConstantPropagation(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(5)}},
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(1)}},
	}, retReg(1))

	PropagateConstants(fn)
	add := fn.Blocks[0].Instructions[1]
	assert.True(t, add.Operands[0].IsConst(), "constant propagated into the use")
	assert.Equal(t, int64(5), add.Operands[0].Const.Int)
}

func TestConstantPropagationKilledByRedef(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(5)}},
		{Op: ir.Add, Result: 0, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(1)}},
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(1)}},
	}, retReg(1))

	PropagateConstants(fn)
	use := fn.Blocks[0].Instructions[2]
	assert.Equal(t, ir.ValRegister, use.Operands[0].Kind, "redefined register must not propagate")
}

func TestCopyPropagation(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Call, Result: 0, Operands: []ir.Value{ir.FuncValue("input")}},
		{Op: ir.Copy, Result: 1, Operands: []ir.Value{ir.RegValue(0)}},
		{Op: ir.Add, Result: 2, Operands: []ir.Value{ir.RegValue(1), ir.IntValue(1)}},
	}, retReg(2))

	PropagateCopies(fn)
	add := fn.Blocks[0].Instructions[2]
	assert.Equal(t, ir.Reg(0), add.Operands[0].Reg, "use rewritten to the copy source")
}

func TestPropagationIntoTerminator(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(9)}},
	}, retReg(0))

	PropagateConstants(fn)
	term := fn.Blocks[0].Term
	assert.True(t, term.Value.IsConst(), "terminator operands are substituted too")
	assert.Equal(t, int64(9), term.Value.Const.Int)
}

func TestDCERemovesDeadPureOps(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Add, Result: 0, Operands: []ir.Value{ir.IntValue(1), ir.IntValue(2)}},
		{Op: ir.Copy, Result: 1, Operands: []ir.Value{ir.IntValue(7)}},
	}, retReg(1))

	EliminateDeadCode(fn)
	require.Len(t, fn.Blocks[0].Instructions, 1, "dead add removed")
	assert.Equal(t, ir.Copy, fn.Blocks[0].Instructions[0].Op)
}

func TestDCEKeepsSideEffects(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Call, Result: 0, Operands: []ir.Value{ir.FuncValue("println"), ir.IntValue(1)}},
		{Op: ir.ChannelSend, Result: ir.NoReg, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(2)}},
	}, ir.ReturnTerm(nil))

	EliminateDeadCode(fn)
	assert.Len(t, fn.Blocks[0].Instructions, 2, "side-effecting ops survive even when dead")
}

func TestDCEBackwardPropagation(t *testing.T) {
	// %2 feeds the return; %1 feeds %2; %0 feeds nothing.
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Add, Result: 0, Operands: []ir.Value{ir.IntValue(1), ir.IntValue(1)}},
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.IntValue(2), ir.IntValue(2)}},
		{Op: ir.Add, Result: 2, Operands: []ir.Value{ir.RegValue(1), ir.IntValue(3)}},
	}, retReg(2))

	EliminateDeadCode(fn)
	require.Len(t, fn.Blocks[0].Instructions, 2)
	assert.Equal(t, ir.Reg(1), fn.Blocks[0].Instructions[0].Result)
}

func TestDeadStoreElimination(t *testing.T) {
	fn := singleBlock("f", []ir.Instruction{
		{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(1)}},
		{Op: ir.Copy, Result: 1, Operands: []ir.Value{ir.IntValue(2)}},
	}, retReg(1))

	EliminateDeadStores(fn)
	require.Len(t, fn.Blocks[0].Instructions, 1, "store never read is removed")
	assert.Equal(t, ir.Reg(1), fn.Blocks[0].Instructions[0].Result)
}

func callee(name string, insts []ir.Instruction, term ir.Terminator, params ...ir.Reg) *ir.Function {
	fn := singleBlock(name, insts, term)
	for i, r := range params {
		fn.Params = append(fn.Params, ir.Param{Name: string(rune('a' + i)), Reg: r})
	}
	return fn
}

func TestInlineSmallFunction(t *testing.T) {
	double := callee("double", []ir.Instruction{
		{Op: ir.Mul, Result: 1, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(2)}},
	}, retReg(1), 0)

	caller := singleBlock("main", []ir.Instruction{
		{Op: ir.Call, Result: 0, Operands: []ir.Value{ir.FuncValue("double"), ir.IntValue(21)}},
	}, retReg(0))

	prog := &ir.Program{Functions: []*ir.Function{double, caller}}
	InlineFunctions(prog)

	for _, inst := range caller.Blocks[0].Instructions {
		assert.NotEqual(t, ir.Call, inst.Op, "inlined site must not contain a Call")
	}
	// The body was spliced and the return materialized via Copy into
	// the call's result register.
	last := caller.Blocks[0].Instructions[len(caller.Blocks[0].Instructions)-1]
	assert.Equal(t, ir.Copy, last.Op)
	assert.Equal(t, ir.Reg(0), last.Result)
}

func TestInlineGateRecursive(t *testing.T) {
	rec := callee("rec", []ir.Instruction{
		{Op: ir.Call, Result: 1, Operands: []ir.Value{ir.FuncValue("rec"), ir.RegValue(0)}},
	}, retReg(1), 0)
	assert.False(t, Inlinable(rec), "recursive functions are not inlinable")
}

func TestInlineGateAsync(t *testing.T) {
	fn := callee("af", nil, ir.ReturnTerm(nil))
	fn.IsAsync = true
	assert.False(t, Inlinable(fn))
}

func TestInlineGateSize(t *testing.T) {
	var insts []ir.Instruction
	for i := 0; i < 11; i++ {
		insts = append(insts, ir.Instruction{
			Op: ir.Add, Result: ir.Reg(i + 1),
			Operands: []ir.Value{ir.IntValue(1), ir.IntValue(2)},
		})
	}
	big := callee("big", insts, ir.ReturnTerm(nil))
	assert.False(t, Inlinable(big), "more than 10 instructions is not inlinable")

	small := callee("small", insts[:10], ir.ReturnTerm(nil))
	assert.True(t, Inlinable(small))
}

func TestInlineGateNestedCalls(t *testing.T) {
	fn := callee("wrapper", []ir.Instruction{
		{Op: ir.Call, Result: 0, Operands: []ir.Value{ir.FuncValue("other")}},
	}, ir.ReturnTerm(nil))
	assert.False(t, Inlinable(fn), "nested calls block inlining")
}

func TestInlineGateBlockCount(t *testing.T) {
	fn := &ir.Function{
		Name: "fourblocks",
		Blocks: []*ir.BasicBlock{
			{Label: "bb0", Term: ir.BranchTerm("b1")},
			{Label: "b1", Term: ir.BranchTerm("b2")},
			{Label: "b2", Term: ir.BranchTerm("b3")},
			{Label: "b3", Term: ir.ReturnTerm(nil)},
		},
	}
	assert.False(t, Inlinable(fn), "more than 3 blocks is not inlinable")
}

func TestInlineRenumbersRegisters(t *testing.T) {
	inner := callee("inc", []ir.Instruction{
		{Op: ir.Add, Result: 1, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(1)}},
	}, retReg(1), 0)

	caller := singleBlock("main", []ir.Instruction{
		{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(41)}},
		{Op: ir.Call, Result: 1, Operands: []ir.Value{ir.FuncValue("inc"), ir.RegValue(0)}},
	}, retReg(1))

	prog := &ir.Program{Functions: []*ir.Function{inner, caller}}
	InlineFunctions(prog)

	// Register ids must stay unique: the callee's %1 is renumbered
	// above the caller's max.
	seen := map[ir.Reg]int{}
	for _, inst := range caller.Blocks[0].Instructions {
		if inst.Result != ir.NoReg {
			seen[inst.Result]++
		}
	}
	for r, n := range seen {
		assert.LessOrEqual(t, n, 1, "register %%%d defined %d times", r, n)
	}
}

func loopProgram() *ir.Function {
	return &ir.Function{
		Name:   "loop",
		Locals: map[string]ir.Reg{},
		Blocks: []*ir.BasicBlock{
			{Label: "bb0", Instructions: []ir.Instruction{
				{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.IntValue(0)}},
				{Op: ir.Copy, Result: 5, Operands: []ir.Value{ir.IntValue(100)}},
			}, Term: ir.BranchTerm("header")},
			{Label: "header", Instructions: []ir.Instruction{
				{Op: ir.Lt, Result: 1, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(10)}},
			}, Term: ir.CondBranchTerm(ir.RegValue(1), "body", "exit")},
			{Label: "body", Instructions: []ir.Instruction{
				// Invariant: operands defined outside the loop.
				{Op: ir.Add, Result: 2, Operands: []ir.Value{ir.RegValue(5), ir.IntValue(1)}},
				// Variant: multiplication by a power of two.
				{Op: ir.Mul, Result: 3, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(8)}},
				{Op: ir.Add, Result: 4, Operands: []ir.Value{ir.RegValue(0), ir.IntValue(1)}},
				{Op: ir.Copy, Result: 0, Operands: []ir.Value{ir.RegValue(4)}},
			}, Term: ir.BranchTerm("header")},
			{Label: "exit", Term: ir.ReturnTerm(nil)},
		},
	}
}

func TestStrengthReduction(t *testing.T) {
	fn := loopProgram()
	ReduceStrength(fn, buildLoops(fn))

	var sawShl bool
	for _, inst := range fn.Blocks[2].Instructions {
		if inst.Op == ir.Shl {
			sawShl = true
			assert.Equal(t, int64(3), inst.Operands[1].Const.Int, "imul by 8 becomes shl by 3")
		}
		assert.NotEqual(t, ir.Mul, inst.Op)
	}
	assert.True(t, sawShl)
}

func TestLICMHoistsInvariant(t *testing.T) {
	fn := loopProgram()
	loops := buildLoops(fn)
	HoistLoopInvariants(fn, buildGraph(fn), loops)

	header := fn.Blocks[1]
	var hoisted bool
	for _, inst := range header.Instructions {
		if inst.Op == ir.Add && inst.Result == 2 {
			hoisted = true
		}
	}
	assert.True(t, hoisted, "invariant add moved to the header")
	for _, inst := range fn.Blocks[2].Instructions {
		assert.NotEqual(t, ir.Reg(2), inst.Result, "invariant removed from the body")
	}
}

func TestOptimizerLevels(t *testing.T) {
	build := func() (*ir.Program, *ir.Function) {
		fn := singleBlock("main", []ir.Instruction{
			{Op: ir.Add, Result: 0, Operands: []ir.Value{ir.IntValue(1), ir.IntValue(2)}},
		}, retReg(0))
		return &ir.Program{Functions: []*ir.Function{fn}}, fn
	}

	prog, fn := build()
	New(O0).Optimize(prog)
	assert.Equal(t, ir.Add, fn.Blocks[0].Instructions[0].Op, "O0 leaves the IR alone")

	prog, fn = build()
	New(O1).Optimize(prog)
	assert.Equal(t, int64(3), fn.Blocks[0].Term.Value.Const.Int, "O1 folds")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, O0, ParseLevel("O0"))
	assert.Equal(t, O1, ParseLevel("O1"))
	assert.Equal(t, O2, ParseLevel("O2"))
	assert.Equal(t, O3, ParseLevel("O3"))
	assert.Equal(t, Os, ParseLevel("Os"))
	assert.Equal(t, O1, ParseLevel("bogus"))
}
