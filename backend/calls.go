package backend

import (
	"github.com/codeassociates/bulu/ir"
)

// genCall lowers a direct call. A handful of builtin names are
// intercepted and lowered to runtime-stub sequences; everything else
// becomes a SysV call with arguments in rdi..r9.
func (g *Generator) genCall(inst ir.Instruction) {
	if inst.Operands[0].Kind != ir.ValFunction {
		g.fail("backend: unknown opcode %s (indirect call)", inst.Op)
		return
	}
	name := inst.Operands[0].Name
	args := inst.Operands[1:]

	switch name {
	case "println", "print":
		g.genPrintln(args)
		g.store(inst.Result, "%rax")
		return
	case "len":
		if len(args) == 1 {
			g.genLen(args[0], inst.Result)
			return
		}
	case "ord":
		if len(args) == 1 {
			g.loadValue(args[0], "%rax")
			g.emit("movzbq 8(%%rax), %%rax")
			g.store(inst.Result, "%rax")
			return
		}
	case "chr":
		if len(args) == 1 {
			g.loadValue(args[0], "%rax")
			g.emit("pushq %%rax")
			g.emit("movq $9, %%rdi")
			g.emit("call __malloc")
			g.emit("movq $1, (%%rax)")
			g.emit("popq %%rbx")
			g.emit("movb %%bl, 8(%%rax)")
			g.store(inst.Result, "%rax")
			return
		}
	case "toString":
		if len(args) == 1 {
			g.genToString(args[0], inst.Result)
			return
		}
	case "uppercase":
		if len(args) == 1 {
			g.loadValue(args[0], "%rdi")
			g.emit("call __string_uppercase")
			g.store(inst.Result, "%rax")
			return
		}
	case "repeat":
		if len(args) == 2 {
			g.loadValue(args[0], "%rax")
			g.emit("pushq %%rax")
			g.loadValue(args[1], "%rax")
			g.emit("movq %%rax, %%rsi")
			g.emit("popq %%rdi")
			g.emit("call __string_repeat")
			g.store(inst.Result, "%rax")
			return
		}
	}

	// Generic call: evaluate arguments left to right onto the stack
	// (string constants are materialized with the other argument
	// registers still free), then pop into the SysV registers.
	n := len(args)
	if n > len(argRegs) {
		n = len(argRegs)
	}
	for i := 0; i < n; i++ {
		g.loadValue(args[i], "%rax")
		g.emit("pushq %%rax")
	}
	for i := n - 1; i >= 0; i-- {
		g.emit("popq %s", argRegs[i])
	}
	g.emit("call %s", mangle(name))
	g.store(inst.Result, "%rax")
}

// genPrintln prints one value per the runtime heuristic (a pointer
// above 0x1000 whose header reads below 1 MiB is a string), or joins
// several with spaces via repeated __string_concat before one print.
func (g *Generator) genPrintln(args []ir.Value) {
	switch len(args) {
	case 0:
		g.emit("movq $1, %%rax")
		g.emit("movq $1, %%rdi")
		g.emit("movq $__newline, %%rsi")
		g.emit("movq $1, %%rdx")
		g.emit("syscall")
		return
	case 1:
		v := args[0]
		if v.IsConst() {
			switch v.Const.Kind {
			case ir.ConstString:
				g.loadValue(v, "%rdi")
				g.emit("call __string_print")
				return
			case ir.ConstInt, ir.ConstBool, ir.ConstChar:
				g.loadValue(v, "%rdi")
				g.emit("call __bulu_print_int")
				return
			}
		}
		g.loadValue(v, "%rax")
		intPath := g.freshLabel("print_int")
		done := g.freshLabel("print_done")
		g.emitStringCheck(intPath)
		g.emit("movq %%rax, %%rdi")
		g.emit("call __string_print")
		g.emit("jmp %s", done)
		g.label(intPath)
		g.emit("movq %%rax, %%rdi")
		g.emit("call __bulu_print_int")
		g.label(done)
		return
	}

	// Join with single spaces, print once.
	spaceID := g.stringID(" ")
	g.loadValue(args[0], "%rax")
	g.emit("pushq %%rax")
	for _, a := range args[1:] {
		g.emit("movq $str_%d, %%rdi", spaceID)
		g.emit("movq $str_%d_len, %%rsi", spaceID)
		g.emit("call __string_create")
		g.emit("movq %%rax, %%rsi")
		g.emit("popq %%rdi")
		g.emit("call __string_concat")
		g.emit("pushq %%rax")
		g.loadValue(a, "%rax")
		g.emit("movq %%rax, %%rsi")
		g.emit("popq %%rdi")
		g.emit("call __string_concat")
		g.emit("pushq %%rax")
	}
	g.emit("popq %%rdi")
	g.emit("call __string_print")
}

// emitStringCheck branches to intLabel when %rax does not look like a
// string pointer: the value is above 0x1000 and its header reads as a
// length below 1 MiB.
func (g *Generator) emitStringCheck(intLabel string) {
	g.emit("cmpq $4096, %%rax")
	g.emit("jbe %s", intLabel)
	g.emit("movq (%%rax), %%rbx")
	g.emit("cmpq $%d, %%rbx", heapSize)
	g.emit("jae %s", intLabel)
}

// genLen loads a string's length header, or 0 for anything that does
// not look like a string (arrays are future work).
func (g *Generator) genLen(v ir.Value, result ir.Reg) {
	if v.IsConst() && v.Const.Kind == ir.ConstString {
		g.emit("movq $%d, %%rax", len(v.Const.Str))
		g.store(result, "%rax")
		return
	}
	g.loadValue(v, "%rax")
	zero := g.freshLabel("len_zero")
	done := g.freshLabel("len_done")
	g.emitStringCheck(zero)
	g.emit("movq (%%rax), %%rax")
	g.emit("jmp %s", done)
	g.label(zero)
	g.emit("xorq %%rax, %%rax")
	g.label(done)
	g.store(result, "%rax")
}

// genToString converts a value to an allocated string: strings pass
// through, runtime integers render via __bulu_int_to_string.
func (g *Generator) genToString(v ir.Value, result ir.Reg) {
	if v.IsConst() && v.Const.Kind == ir.ConstString {
		g.loadValue(v, "%rax")
		g.store(result, "%rax")
		return
	}
	g.loadValue(v, "%rax")
	intPath := g.freshLabel("tostr_int")
	done := g.freshLabel("tostr_done")
	g.emitStringCheck(intPath)
	g.emit("jmp %s", done)
	g.label(intPath)
	g.emit("subq $32, %%rsp")
	g.emit("movq %%rax, %%rdi")
	g.emit("movq %%rsp, %%rsi")
	g.emit("call __bulu_int_to_string")
	g.emit("movq %%rsp, %%rdi")
	g.emit("movq %%rax, %%rsi")
	g.emit("call __string_create")
	g.emit("addq $32, %%rsp")
	g.label(done)
	g.store(result, "%rax")
}
