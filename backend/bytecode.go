package backend

import (
	"bytes"
	"encoding/binary"

	"github.com/codeassociates/bulu/ir"
)

// Bytecode opcodes. The bytecode backend is an experimental
// alternative to the native backend and covers only a small opcode
// subset.
const (
	BcLoadString byte = 0x06
	BcReturn     byte = 0x30
	BcPrintln    byte = 0x40
)

const bytecodeVersion = 1

// WriteBytecode serializes a program into the bytecode container:
// big-endian magic "BULU", a version byte, three reserved zero bytes,
// a little-endian u32 function count, the function table
// {u8 name_len, name, u32 code_offset}, then the instruction stream.
func WriteBytecode(prog *ir.Program) []byte {
	var code bytes.Buffer
	type entry struct {
		name   string
		offset uint32
	}
	var table []entry

	for _, fn := range prog.Functions {
		table = append(table, entry{name: fn.Name, offset: uint32(code.Len())})
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				switch inst.Op {
				case ir.Copy:
					if len(inst.Operands) == 1 && inst.Operands[0].IsConst() &&
						inst.Operands[0].Const.Kind == ir.ConstString {
						writeLoadString(&code, inst.Operands[0].Const.Str)
					}
				case ir.Call:
					if len(inst.Operands) >= 2 && inst.Operands[0].Kind == ir.ValFunction &&
						inst.Operands[0].Name == "println" {
						if arg := inst.Operands[1]; arg.IsConst() && arg.Const.Kind == ir.ConstString {
							writeLoadString(&code, arg.Const.Str)
						}
						code.WriteByte(BcPrintln)
					}
				}
			}
		}
		// RETURN is emitted at function end even when the body already
		// returned.
		code.WriteByte(BcReturn)
	}

	var out bytes.Buffer
	out.WriteString("BULU")
	out.WriteByte(bytecodeVersion)
	out.Write([]byte{0, 0, 0})
	binary.Write(&out, binary.LittleEndian, uint32(len(table)))
	for _, e := range table {
		out.WriteByte(byte(len(e.name)))
		out.WriteString(e.name)
		binary.Write(&out, binary.LittleEndian, e.offset)
	}
	out.Write(code.Bytes())
	return out.Bytes()
}

func writeLoadString(code *bytes.Buffer, s string) {
	code.WriteByte(BcLoadString)
	binary.Write(code, binary.LittleEndian, uint32(len(s)))
	code.WriteString(s)
}
