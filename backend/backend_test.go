package backend

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeassociates/bulu/ir"
	"github.com/codeassociates/bulu/lexer"
	"github.com/codeassociates/bulu/parser"
	"github.com/codeassociates/bulu/semantic"
)

func lowerSource(t *testing.T, src string) *ir.Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	program := p.ParseProgram()
	require.Empty(t, p.Errors())
	semantic.New().Analyze(program)
	prog, err := ir.NewGenerator("test.blu").Generate(program)
	require.NoError(t, err)
	return prog
}

func TestHelloAssemblyShape(t *testing.T) {
	prog := lowerSource(t, "func main() {\n\tprintln(\"hello\")\n}\n")
	asm, err := New().Generate(prog)
	require.NoError(t, err)

	// Section layout.
	assert.Less(t, strings.Index(asm, ".data"), strings.Index(asm, ".text"))

	// String constant with computed length.
	assert.Contains(t, asm, `str_0: .ascii "hello"`)
	assert.Contains(t, asm, "str_0_len = 5")

	// Heap globals and runtime stubs.
	assert.Contains(t, asm, "__heap_start:")
	assert.Contains(t, asm, "__heap_size: .quad 1048576")
	assert.Contains(t, asm, "__init_heap:")
	assert.Contains(t, asm, "__malloc:")
	assert.Contains(t, asm, "call __string_print")

	// Entry point calls heap init, main, then exits 0.
	start := asm[strings.Index(asm, "_start:"):]
	assert.Contains(t, start, "call __init_heap")
	assert.Contains(t, start, "call main")
	assert.Contains(t, start, "movq $60, %rax")
}

func TestFunctionPrologueEpilogue(t *testing.T) {
	prog := lowerSource(t, "func add(a: i64, b: i64) -> i64 {\n\treturn a + b\n}\n")
	asm, err := New().Generate(prog)
	require.NoError(t, err)

	fn := asm[strings.Index(asm, "add:"):]
	assert.Contains(t, fn, "pushq %rbp")
	assert.Contains(t, fn, "movq %rsp, %rbp")
	// Parameters spill from rdi/rsi.
	assert.Contains(t, fn, "movq %rdi, -8(%rbp)")
	assert.Contains(t, fn, "movq %rsi, -16(%rbp)")
	assert.Contains(t, fn, "popq %rbp")
	assert.Contains(t, fn, "ret")
}

func TestLabelsAreFunctionScoped(t *testing.T) {
	src := `func a() {
	let i = 0
	while i < 1 {
		i = i + 1
	}
}
func b() {
	let i = 0
	while i < 1 {
		i = i + 1
	}
}
`
	prog := lowerSource(t, src)
	asm, err := New().Generate(prog)
	require.NoError(t, err)
	assert.Contains(t, asm, ".a_bb0:")
	assert.Contains(t, asm, ".b_bb0:")
}

func TestStringConcatLowering(t *testing.T) {
	prog := lowerSource(t, "func main() {\n\tlet a = name()\n\tlet s = a + \"bar\"\n\tprintln(s)\n}\nfunc name() -> string {\n\treturn \"foo\"\n}\n")
	asm, err := New().Generate(prog)
	require.NoError(t, err)
	assert.Contains(t, asm, "call __string_concat")
	assert.Contains(t, asm, "call __string_create")
}

func TestConditionalBranchLowering(t *testing.T) {
	prog := lowerSource(t, "func main(x: i64) {\n\tif x > 0 {\n\t\tprintln(1)\n\t}\n}\n")
	asm, err := New().Generate(prog)
	require.NoError(t, err)
	assert.Contains(t, asm, "testq %rax, %rax")
	assert.Contains(t, asm, "jnz .main_if_then_1")
	assert.Contains(t, asm, "setg %al")
}

func TestDivisionUsesCqoIdiv(t *testing.T) {
	prog := lowerSource(t, "func main(a: i64, b: i64) -> i64 {\n\treturn a / b\n}\nfunc rem(a: i64, b: i64) -> i64 {\n\treturn a % b\n}\n")
	asm, err := New().Generate(prog)
	require.NoError(t, err)
	assert.Contains(t, asm, "cqo")
	assert.Contains(t, asm, "idivq %rbx")
	// Remainder comes back in %rdx.
	rem := asm[strings.Index(asm, "rem:"):]
	assert.Contains(t, rem, "movq %rdx,")
}

func TestDeterminism(t *testing.T) {
	src := `func main() {
	let s = "foo" + "bar"
	println(s)
	println(1 + 2)
}
`
	prog1 := lowerSource(t, src)
	asm1, err := New().Generate(prog1)
	require.NoError(t, err)

	prog2 := lowerSource(t, src)
	asm2, err := New().Generate(prog2)
	require.NoError(t, err)

	assert.Equal(t, asm1, asm2, "identical IR must produce byte-identical assembly")
}

func TestUnknownOpcodeReported(t *testing.T) {
	fn := &ir.Function{
		Name: "main",
		Blocks: []*ir.BasicBlock{{
			Label: "bb0",
			Instructions: []ir.Instruction{
				{Op: ir.MapInsert, Result: ir.NoReg, Operands: []ir.Value{
					ir.IntValue(0), ir.IntValue(1), ir.IntValue(2)}},
			},
			Term: ir.ReturnTerm(nil),
		}},
	}
	_, err := New().Generate(&ir.Program{Functions: []*ir.Function{fn}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown opcode")
}

func TestBytecodeLayout(t *testing.T) {
	prog := lowerSource(t, "func main() {\n\tprintln(\"hi\")\n}\n")
	bc := WriteBytecode(prog)

	// Big-endian magic, version, three reserved zero bytes.
	require.GreaterOrEqual(t, len(bc), 12)
	assert.Equal(t, "BULU", string(bc[:4]))
	assert.Equal(t, byte(bytecodeVersion), bc[4])
	assert.Equal(t, []byte{0, 0, 0}, bc[5:8])

	// Little-endian function count, then the table entry for main.
	count := binary.LittleEndian.Uint32(bc[8:12])
	assert.Equal(t, uint32(1), count)
	nameLen := int(bc[12])
	assert.Equal(t, "main", string(bc[13:13+nameLen]))

	// The stream holds LOAD_STRING "hi", PRINTLN, RETURN.
	stream := bc[13+nameLen+4:]
	assert.Equal(t, BcLoadString, stream[0])
	strLen := binary.LittleEndian.Uint32(stream[1:5])
	assert.Equal(t, uint32(2), strLen)
	assert.Equal(t, "hi", string(stream[5:7]))
	assert.Equal(t, BcPrintln, stream[7])
	assert.Equal(t, BcReturn, stream[len(stream)-1])
}
