package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Print renders the program in the textual IR form used by --emit-ir:
// one function per section, blocks introduced by `label:`, and each
// instruction as `opcode [%id = ] operand, operand, ...`.
func Print(p *Program) string {
	var b strings.Builder
	for _, g := range p.Globals {
		b.WriteString("global @")
		b.WriteString(g.Name)
		if g.IsConst {
			b.WriteString(" const")
		}
		if g.Init != nil {
			b.WriteString(" = ")
			b.WriteString(formatConstant(*g.Init))
		}
		b.WriteByte('\n')
	}
	if len(p.Globals) > 0 {
		b.WriteByte('\n')
	}
	for _, s := range p.Structs {
		fmt.Fprintf(&b, "struct %s {", s.Name)
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
		}
		b.WriteString("}\n")
	}
	if len(p.Structs) > 0 {
		b.WriteByte('\n')
	}
	for _, f := range p.Functions {
		printFunction(&b, f)
		b.WriteByte('\n')
	}
	return b.String()
}

func printFunction(b *strings.Builder, f *Function) {
	b.WriteString("func @")
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%%%d", p.Reg)
	}
	b.WriteString(")")
	if f.IsAsync {
		b.WriteString(" async")
	}
	b.WriteString(" {\n")
	for _, block := range f.Blocks {
		b.WriteString(block.Label)
		b.WriteString(":\n")
		for _, inst := range block.Instructions {
			b.WriteString("  ")
			b.WriteString(FormatInstruction(inst))
			b.WriteByte('\n')
		}
		b.WriteString("  ")
		b.WriteString(FormatTerminator(block.Term))
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
}

// FormatInstruction renders one instruction.
func FormatInstruction(inst Instruction) string {
	var b strings.Builder
	b.WriteString(inst.Op.String())
	b.WriteByte(' ')
	if inst.Result != NoReg {
		fmt.Fprintf(&b, "%%%d = ", inst.Result)
	}
	for i, op := range inst.Operands {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatValue(op))
	}
	return strings.TrimRight(b.String(), " ")
}

// FormatTerminator renders a block terminator.
func FormatTerminator(t Terminator) string {
	switch t.Kind {
	case TermReturn:
		if t.HasValue {
			return "ret " + FormatValue(t.Value)
		}
		return "ret"
	case TermBranch:
		return "br " + t.Target
	case TermCondBranch:
		return fmt.Sprintf("condbr %s, %s, %s", FormatValue(t.Cond), t.TrueLabel, t.FalseLabel)
	case TermSwitch:
		var b strings.Builder
		fmt.Fprintf(&b, "switch %s", FormatValue(t.SwitchValue))
		for _, c := range t.Cases {
			fmt.Fprintf(&b, ", [%s -> %s]", FormatValue(c.Value), c.Label)
		}
		if t.DefaultLabel != "" {
			fmt.Fprintf(&b, ", default %s", t.DefaultLabel)
		}
		return b.String()
	case TermUnreachable:
		return "unreachable"
	}
	return "term?"
}

// FormatValue renders an operand: %id for registers, decimal for ints,
// quoted text for strings, @name for globals and functions.
func FormatValue(v Value) string {
	switch v.Kind {
	case ValRegister:
		return fmt.Sprintf("%%%d", v.Reg)
	case ValConstant:
		return formatConstant(v.Const)
	case ValGlobal, ValFunction:
		return "@" + v.Name
	}
	return "?"
}

func formatConstant(c Constant) string {
	switch c.Kind {
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstChar:
		return strconv.QuoteRune(c.Char)
	case ConstBool:
		return strconv.FormatBool(c.Bool)
	case ConstNull:
		return "null"
	case ConstArray, ConstStruct, ConstTuple:
		parts := make([]string, len(c.Elems))
		for i, e := range c.Elems {
			parts[i] = formatConstant(e)
		}
		open, shut := "[", "]"
		if c.Kind == ConstTuple {
			open, shut = "(", ")"
		} else if c.Kind == ConstStruct {
			open, shut = "{", "}"
		}
		return open + strings.Join(parts, ", ") + shut
	}
	return "?"
}
