// Package backend lowers IR to x86-64 SysV assembly text, drives the
// external assembler and linker, and holds the experimental bytecode
// writer. One stack slot is reserved per virtual register; %rax and
// %rbx serve as scratch.
package backend

import (
	"fmt"
	"strings"

	"github.com/codeassociates/bulu/ir"
)

const heapSize = 1 << 20 // 1 MiB bump-allocator heap

// Generator emits assembly for one IR program. Assembly generation is
// deterministic: identical IR yields byte-identical text.
type Generator struct {
	text strings.Builder

	strConsts []string
	strIDs    map[string]int

	fn    *ir.Function
	slots map[ir.Reg]int

	program    *ir.Program
	fnName     string
	labelCount int

	err error
}

// New creates a native code generator.
func New() *Generator {
	return &Generator{strIDs: map[string]int{}}
}

// Generate produces the complete assembly text for the program.
func (g *Generator) Generate(program *ir.Program) (string, error) {
	g.program = program
	g.text.Reset()

	for _, fn := range program.Functions {
		g.genFunction(fn)
		if g.err != nil {
			return "", g.err
		}
	}

	var out strings.Builder
	g.writeData(&out)
	out.WriteString(".text\n")
	writeStubs(&out)
	out.WriteString(g.text.String())
	g.writeStart(&out)
	return out.String(), nil
}

// stringID interns a string constant and returns its label id.
func (g *Generator) stringID(s string) int {
	if id, ok := g.strIDs[s]; ok {
		return id
	}
	id := len(g.strConsts)
	g.strIDs[s] = id
	g.strConsts = append(g.strConsts, s)
	return id
}

// writeData emits the .data section: interned strings with computed
// lengths, the newline byte, the heap bookkeeping globals, and the
// concat-length scratch word.
func (g *Generator) writeData(out *strings.Builder) {
	out.WriteString(".data\n")
	for i, s := range g.strConsts {
		fmt.Fprintf(out, "str_%d: .ascii %s\n", i, asmQuote(s))
		fmt.Fprintf(out, "str_%d_len = %d\n", i, len(s))
	}
	for _, gl := range g.program.Globals {
		init := int64(0)
		if gl.Init != nil {
			switch gl.Init.Kind {
			case ir.ConstInt:
				init = gl.Init.Int
			case ir.ConstBool:
				if gl.Init.Bool {
					init = 1
				}
			case ir.ConstChar:
				init = int64(gl.Init.Char)
			}
		}
		fmt.Fprintf(out, "%s: .quad %d\n", mangle(gl.Name), init)
	}
	out.WriteString("__newline: .byte 10\n")
	out.WriteString("__space: .byte 32\n")
	out.WriteString("__heap_start: .quad 0\n")
	out.WriteString("__heap_current: .quad 0\n")
	fmt.Fprintf(out, "__heap_size: .quad %d\n", heapSize)
	out.WriteString("__concat_len: .quad 0\n")
	out.WriteString("__current_exc: .quad 0\n")
	out.WriteString("\n")
}

func (g *Generator) writeStart(out *strings.Builder) {
	out.WriteString(".globl _start\n")
	out.WriteString("_start:\n")
	out.WriteString("\tcall __init_heap\n")
	out.WriteString("\tcall main\n")
	out.WriteString("\tmovq $60, %rax\n")
	out.WriteString("\txorq %rdi, %rdi\n")
	out.WriteString("\tsyscall\n")
}

// asmQuote renders a string as a GAS .ascii literal.
func asmQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		case '\r':
			b.WriteString("\\r")
		default:
			if c < 32 || c > 126 {
				fmt.Fprintf(&b, "\\%03o", c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (g *Generator) emit(format string, args ...interface{}) {
	fmt.Fprintf(&g.text, "\t"+format+"\n", args...)
}

func (g *Generator) label(name string) {
	fmt.Fprintf(&g.text, "%s:\n", name)
}

// blockLabel scopes a block label by function to avoid collisions.
func (g *Generator) blockLabel(block string) string {
	return fmt.Sprintf(".%s_%s", g.fnName, block)
}

func (g *Generator) freshLabel(tag string) string {
	g.labelCount++
	return fmt.Sprintf(".%s_%s_%d", g.fnName, tag, g.labelCount)
}

func (g *Generator) fail(format string, args ...interface{}) {
	if g.err == nil {
		g.err = fmt.Errorf(format, args...)
	}
}

// slot returns the stack offset expression for a register.
func (g *Generator) slot(r ir.Reg) string {
	return fmt.Sprintf("-%d(%%rbp)", (g.slots[r]+1)*8)
}

var argRegs = []string{"%rdi", "%rsi", "%rdx", "%rcx", "%r8", "%r9"}

// genFunction emits prologue, per-block code, and epilogues.
func (g *Generator) genFunction(fn *ir.Function) {
	g.fn = fn
	g.fnName = fn.Name
	g.slots = map[ir.Reg]int{}

	// Reserve one 8-byte slot for every register used anywhere in the
	// function, result or operand, in first-appearance order.
	reserve := func(r ir.Reg) {
		if r == ir.NoReg {
			return
		}
		if _, ok := g.slots[r]; !ok {
			g.slots[r] = len(g.slots)
		}
	}
	for _, p := range fn.Params {
		reserve(p.Reg)
	}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			reserve(inst.Result)
			for _, op := range inst.Operands {
				if op.Kind == ir.ValRegister {
					reserve(op.Reg)
				}
			}
		}
		for _, r := range termRegs(b.Term) {
			reserve(r)
		}
	}

	frame := len(g.slots) * 8
	if frame%16 != 0 {
		frame += 16 - frame%16
	}

	mangled := mangle(fn.Name)
	fmt.Fprintf(&g.text, ".globl %s\n", mangled)
	g.label(mangled)
	g.emit("pushq %%rbp")
	g.emit("movq %%rsp, %%rbp")
	if frame > 0 {
		g.emit("subq $%d, %%rsp", frame)
	}

	// Spill incoming parameters.
	for i, p := range fn.Params {
		if i < len(argRegs) {
			g.emit("movq %s, %s", argRegs[i], g.slot(p.Reg))
		}
	}

	for _, b := range fn.Blocks {
		g.label(g.blockLabel(b.Label))
		for _, inst := range b.Instructions {
			g.genInstruction(b, inst)
			if g.err != nil {
				return
			}
		}
		g.genTerminator(b.Term)
	}
	g.text.WriteByte('\n')
}

// mangle maps IR function names (which may contain dots for methods)
// to assembler symbols.
func mangle(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, ".", "_"), "$", "_")
}

func termRegs(t ir.Terminator) []ir.Reg {
	var out []ir.Reg
	add := func(v ir.Value) {
		if v.Kind == ir.ValRegister {
			out = append(out, v.Reg)
		}
	}
	switch t.Kind {
	case ir.TermReturn:
		if t.HasValue {
			add(t.Value)
		}
	case ir.TermCondBranch:
		add(t.Cond)
	case ir.TermSwitch:
		add(t.SwitchValue)
		for _, c := range t.Cases {
			add(c.Value)
		}
	}
	return out
}

// loadValue materializes an operand into the given machine register.
// String constants allocate through __string_create, so the caller
// must not have live values in the SysV argument registers.
func (g *Generator) loadValue(v ir.Value, dst string) {
	switch v.Kind {
	case ir.ValRegister:
		g.emit("movq %s, %s", g.slot(v.Reg), dst)
	case ir.ValConstant:
		switch v.Const.Kind {
		case ir.ConstInt:
			g.emit("movq $%d, %s", v.Const.Int, dst)
		case ir.ConstBool:
			n := 0
			if v.Const.Bool {
				n = 1
			}
			g.emit("movq $%d, %s", n, dst)
		case ir.ConstChar:
			g.emit("movq $%d, %s", v.Const.Char, dst)
		case ir.ConstNull:
			g.emit("movq $0, %s", dst)
		case ir.ConstString:
			id := g.stringID(v.Const.Str)
			g.emit("movq $str_%d, %%rdi", id)
			g.emit("movq $str_%d_len, %%rsi", id)
			g.emit("call __string_create")
			if dst != "%rax" {
				g.emit("movq %%rax, %s", dst)
			}
		case ir.ConstFloat:
			// Floats ride in integer slots as their truncated value;
			// a real FP path is future work.
			g.emit("movq $%d, %s", int64(v.Const.Float), dst)
		default:
			g.fail("backend: unsupported constant kind %d", v.Const.Kind)
		}
	case ir.ValGlobal:
		g.emit("movq %s(%%rip), %s", mangle(v.Name), dst)
	case ir.ValFunction:
		g.emit("movq $%s, %s", mangle(v.Name), dst)
	}
}

func (g *Generator) store(r ir.Reg, src string) {
	if r == ir.NoReg {
		return
	}
	g.emit("movq %s, %s", src, g.slot(r))
}

var arithmetic = map[ir.Opcode]string{
	ir.Add: "addq", ir.Sub: "subq",
	ir.And: "andq", ir.Or: "orq", ir.Xor: "xorq",
	ir.LogicalAnd: "andq", ir.LogicalOr: "orq",
}

var comparisons = map[ir.Opcode]string{
	ir.Eq: "sete", ir.Ne: "setne",
	ir.Lt: "setl", ir.Le: "setle",
	ir.Gt: "setg", ir.Ge: "setge",
}

func (g *Generator) genInstruction(b *ir.BasicBlock, inst ir.Instruction) {
	switch inst.Op {
	case ir.Copy, ir.Move, ir.Clone, ir.Cast:
		g.loadValue(inst.Operands[0], "%rax")
		g.store(inst.Result, "%rax")

	case ir.Add, ir.Sub, ir.And, ir.Or, ir.Xor, ir.LogicalAnd, ir.LogicalOr:
		g.binaryOperands(inst)
		g.emit("%s %%rbx, %%rax", arithmetic[inst.Op])
		g.store(inst.Result, "%rax")

	case ir.Mul:
		g.binaryOperands(inst)
		g.emit("imulq %%rbx, %%rax")
		g.store(inst.Result, "%rax")

	case ir.Div:
		g.binaryOperands(inst)
		g.emit("cqo")
		g.emit("idivq %%rbx")
		g.store(inst.Result, "%rax")

	case ir.Mod:
		g.binaryOperands(inst)
		g.emit("cqo")
		g.emit("idivq %%rbx")
		g.store(inst.Result, "%rdx")

	case ir.Pow:
		g.binaryOperands(inst)
		loop := g.freshLabel("pow")
		done := g.freshLabel("pow_done")
		g.emit("movq %%rax, %%r10")
		g.emit("movq $1, %%rax")
		g.label(loop)
		g.emit("testq %%rbx, %%rbx")
		g.emit("jz %s", done)
		g.emit("imulq %%r10, %%rax")
		g.emit("decq %%rbx")
		g.emit("jmp %s", loop)
		g.label(done)
		g.store(inst.Result, "%rax")

	case ir.Shl, ir.Shr:
		g.binaryOperands(inst)
		g.emit("movq %%rbx, %%rcx")
		if inst.Op == ir.Shl {
			g.emit("shlq %%cl, %%rax")
		} else {
			g.emit("sarq %%cl, %%rax")
		}
		g.store(inst.Result, "%rax")

	case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		g.binaryOperands(inst)
		g.emit("cmpq %%rbx, %%rax")
		g.emit("%s %%al", comparisons[inst.Op])
		g.emit("movzbq %%al, %%rax")
		g.store(inst.Result, "%rax")

	case ir.Neg:
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("negq %%rax")
		g.store(inst.Result, "%rax")

	case ir.Not:
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("notq %%rax")
		g.store(inst.Result, "%rax")

	case ir.LogicalNot, ir.IsNull:
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("testq %%rax, %%rax")
		g.emit("setz %%al")
		g.emit("movzbq %%al, %%rax")
		g.store(inst.Result, "%rax")

	case ir.StringConcat:
		// Operands are always treated as strings; constants are
		// materialized first.
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("pushq %%rax")
		g.loadValue(inst.Operands[1], "%rax")
		g.emit("movq %%rax, %%rsi")
		g.emit("popq %%rdi")
		g.emit("call __string_concat")
		g.store(inst.Result, "%rax")

	case ir.StringLength, ir.ArrayLength:
		g.genLen(inst.Operands[0], inst.Result)

	case ir.ArrayAccess, ir.SliceAccess:
		// String indexing yields a new single-character string; out of
		// bounds yields null.
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("pushq %%rax")
		g.loadValue(inst.Operands[1], "%rax")
		g.emit("movq %%rax, %%rsi")
		g.emit("popq %%rdi")
		g.emit("call __string_index")
		g.store(inst.Result, "%rax")

	case ir.Alloca:
		// Allocate a length-headed block and store the operands as
		// qwords.
		n := len(inst.Operands)
		g.emit("movq $%d, %%rdi", (n+1)*8)
		g.emit("call __malloc")
		g.emit("movq $%d, (%%rax)", n)
		for i, op := range inst.Operands {
			g.emit("pushq %%rax")
			g.loadValue(op, "%rbx")
			g.emit("popq %%rax")
			g.emit("movq %%rbx, %d(%%rax)", (i+1)*8)
		}
		g.store(inst.Result, "%rax")

	case ir.TupleConstruct:
		n := len(inst.Operands)
		g.emit("movq $%d, %%rdi", n*8)
		g.emit("call __malloc")
		for i, op := range inst.Operands {
			g.emit("pushq %%rax")
			g.loadValue(op, "%rbx")
			g.emit("popq %%rax")
			g.emit("movq %%rbx, %d(%%rax)", i*8)
		}
		g.store(inst.Result, "%rax")

	case ir.TupleAccess:
		g.loadValue(inst.Operands[0], "%rax")
		idx := inst.Operands[1]
		if idx.IsConst() && idx.Const.Kind == ir.ConstInt {
			g.emit("movq %d(%%rax), %%rax", idx.Const.Int*8)
		} else {
			g.loadValue(idx, "%rbx")
			g.emit("movq (%%rax,%%rbx,8), %%rax")
		}
		g.store(inst.Result, "%rax")

	case ir.StructConstruct:
		// Operands alternate [type, name1, value1, ...]: allocate
		// 8 bytes per field and store each value at index*8.
		fields := (len(inst.Operands) - 1) / 2
		g.emit("movq $%d, %%rdi", fields*8)
		g.emit("call __malloc")
		for i := 0; i < fields; i++ {
			val := inst.Operands[2+i*2]
			g.emit("pushq %%rax")
			g.loadValue(val, "%rbx")
			g.emit("popq %%rax")
			g.emit("movq %%rbx, %d(%%rax)", i*8)
		}
		g.store(inst.Result, "%rax")

	case ir.StructAccess:
		g.loadValue(inst.Operands[0], "%rax")
		idx := g.fieldIndex(inst.Operands[1])
		g.emit("movq %d(%%rax), %%rax", idx*8)
		g.store(inst.Result, "%rax")

	case ir.StructStore:
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("pushq %%rax")
		g.loadValue(inst.Operands[2], "%rbx")
		g.emit("popq %%rax")
		idx := g.fieldIndex(inst.Operands[1])
		g.emit("movq %%rbx, %d(%%rax)", idx*8)

	case ir.Store:
		if len(inst.Operands) == 2 && inst.Operands[0].Kind == ir.ValGlobal {
			g.loadValue(inst.Operands[1], "%rax")
			g.emit("movq %%rax, %s(%%rip)", mangle(inst.Operands[0].Name))
			return
		}
		// Indexed store into a length-headed block.
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("pushq %%rax")
		g.loadValue(inst.Operands[1], "%rbx")
		g.emit("pushq %%rbx")
		g.loadValue(inst.Operands[2], "%rcx")
		g.emit("popq %%rbx")
		g.emit("popq %%rax")
		g.emit("movq %%rcx, 8(%%rax,%%rbx,8)")

	case ir.Load:
		g.loadValue(inst.Operands[0], "%rax")
		g.store(inst.Result, "%rax")

	case ir.Call:
		g.genCall(inst)

	case ir.Throw:
		g.loadValue(inst.Operands[0], "%rax")
		g.emit("movq %%rax, __current_exc(%%rip)")
		if catch := g.nextCatchLabel(b); catch != "" {
			g.emit("jmp %s", catch)
		} else {
			// Uncaught: exit(1).
			g.emit("movq $60, %%rax")
			g.emit("movq $1, %%rdi")
			g.emit("syscall")
		}

	case ir.Catch:
		g.emit("movq __current_exc(%%rip), %%rax")
		g.store(inst.Result, "%rax")

	case ir.TypeOf:
		g.loadValue(ir.StringValue("any"), "%rax")
		g.store(inst.Result, "%rax")

	case ir.Spawn, ir.Await, ir.ChannelCreate, ir.ChannelSend,
		ir.ChannelReceive, ir.ChannelClose, ir.ChannelSelect,
		ir.LockAcquire, ir.LockRelease, ir.Yield, ir.GeneratorNext:
		// Concurrency opcodes become calls into the runtime library
		// the executable links against.
		g.genRuntimeCall(inst)

	case ir.Phi:
		// With one slot per vreg both predecessors already wrote
		// their value; a phi collapses to reading either incoming
		// value's slot. The first operand pair is used.
		g.loadValue(inst.Operands[0], "%rax")
		g.store(inst.Result, "%rax")

	case ir.MapInsert, ir.MapAccess, ir.MapDelete, ir.MapLength,
		ir.CallIndirect, ir.RegisterStruct:
		g.fail("backend: unknown opcode %s", inst.Op)

	default:
		g.fail("backend: unknown opcode %s", inst.Op)
	}
}

// binaryOperands loads operand 0 into %rax and operand 1 into %rbx,
// preserving %rax across a possible string materialization.
func (g *Generator) binaryOperands(inst ir.Instruction) {
	g.loadValue(inst.Operands[0], "%rax")
	g.emit("pushq %%rax")
	g.loadValue(inst.Operands[1], "%rbx")
	g.emit("popq %%rax")
}

// fieldIndex resolves a struct field operand to its slot index. An
// integer operand is used directly; a name is looked up in the
// program's struct layouts.
func (g *Generator) fieldIndex(v ir.Value) int64 {
	if v.IsConst() && v.Const.Kind == ir.ConstInt {
		return v.Const.Int
	}
	if v.IsConst() && v.Const.Kind == ir.ConstString {
		for _, st := range g.program.Structs {
			for i, f := range st.Fields {
				if f.Name == v.Const.Str {
					return int64(i)
				}
			}
		}
	}
	return 0
}

// nextCatchLabel finds the label of the nearest catch-opening block
// after the current block in layout order.
func (g *Generator) nextCatchLabel(from *ir.BasicBlock) string {
	seen := false
	for _, b := range g.fn.Blocks {
		if b == from {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if len(b.Instructions) > 0 && b.Instructions[0].Op == ir.Catch {
			return g.blockLabel(b.Label)
		}
	}
	return ""
}

func (g *Generator) genRuntimeCall(inst ir.Instruction) {
	sym := map[ir.Opcode]string{
		ir.Spawn: "__bulu_spawn", ir.Await: "__bulu_await",
		ir.ChannelCreate: "__bulu_chan_new", ir.ChannelSend: "__bulu_chan_send",
		ir.ChannelReceive: "__bulu_chan_recv", ir.ChannelClose: "__bulu_chan_close",
		ir.ChannelSelect: "__bulu_chan_select",
		ir.LockAcquire:   "__bulu_lock_acquire", ir.LockRelease: "__bulu_lock_release",
		ir.Yield: "__bulu_yield", ir.GeneratorNext: "__bulu_gen_next",
	}[inst.Op]
	for i, op := range inst.Operands {
		if i >= len(argRegs) {
			break
		}
		g.loadValue(op, "%rax")
		g.emit("pushq %%rax")
	}
	n := len(inst.Operands)
	if n > len(argRegs) {
		n = len(argRegs)
	}
	for i := n - 1; i >= 0; i-- {
		g.emit("popq %s", argRegs[i])
	}
	g.emit("call %s", sym)
	g.store(inst.Result, "%rax")
}

func (g *Generator) genTerminator(t ir.Terminator) {
	switch t.Kind {
	case ir.TermReturn:
		if t.HasValue {
			g.loadValue(t.Value, "%rax")
		} else {
			g.emit("xorq %%rax, %%rax")
		}
		g.emit("movq %%rbp, %%rsp")
		g.emit("popq %%rbp")
		g.emit("ret")
	case ir.TermBranch:
		g.emit("jmp %s", g.blockLabel(t.Target))
	case ir.TermCondBranch:
		g.loadValue(t.Cond, "%rax")
		g.emit("testq %%rax, %%rax")
		g.emit("jnz %s", g.blockLabel(t.TrueLabel))
		g.emit("jmp %s", g.blockLabel(t.FalseLabel))
	case ir.TermSwitch:
		g.loadValue(t.SwitchValue, "%rax")
		for _, c := range t.Cases {
			g.loadValue(c.Value, "%rbx")
			g.emit("cmpq %%rbx, %%rax")
			g.emit("je %s", g.blockLabel(c.Label))
		}
		if t.DefaultLabel != "" {
			g.emit("jmp %s", g.blockLabel(t.DefaultLabel))
		} else {
			g.emit("ud2")
		}
	case ir.TermUnreachable:
		g.emit("ud2")
	}
}
