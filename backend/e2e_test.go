package backend

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/codeassociates/bulu/ir"
	"github.com/codeassociates/bulu/lexer"
	"github.com/codeassociates/bulu/optimizer"
	"github.com/codeassociates/bulu/parser"
	"github.com/codeassociates/bulu/semantic"
)

// compileAndRun takes Bulu source, compiles it through the full
// pipeline to a native executable, runs it, and returns stdout.
func compileAndRun(t *testing.T, source string, level optimizer.Level) string {
	t.Helper()
	if !ToolsAvailable() {
		t.Skip("as/ld not available")
	}

	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		for _, err := range p.Errors() {
			t.Errorf("parser error: %s", err)
		}
		t.FailNow()
	}
	semantic.New().Analyze(program)

	gen := ir.NewGenerator("test.blu")
	prog, err := gen.Generate(program)
	if err != nil {
		t.Fatalf("ir generation failed: %v", err)
	}
	optimizer.New(level).Optimize(prog)

	asm, err := New().Generate(prog)
	if err != nil {
		t.Fatalf("assembly generation failed: %v", err)
	}

	tmpDir, err := os.MkdirTemp("", "bulu-e2e-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	result, err := AssembleAndLink(asm, tmpDir, "prog")
	if err != nil {
		t.Fatalf("assemble/link failed: %v\nAssembly:\n%s", err, asm)
	}

	binFile := filepath.Join(tmpDir, "prog-bin")
	if err := os.WriteFile(binFile, result.Executable, 0o755); err != nil {
		t.Fatalf("failed to write executable: %v", err)
	}

	runCmd := exec.Command(binFile)
	output, err := runCmd.CombinedOutput()
	if err != nil {
		t.Fatalf("execution failed: %v\nOutput: %s\nAssembly:\n%s", err, output, asm)
	}
	return string(output)
}

// S1: hello world.
func TestE2EHello(t *testing.T) {
	out := compileAndRun(t, `func main() {
	println("hello")
}
`, optimizer.O1)
	if out != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", out)
	}
}

// S2: arithmetic is folded and printed.
func TestE2EArithmetic(t *testing.T) {
	out := compileAndRun(t, `func main() {
	println(1 + 2 * 3)
}
`, optimizer.O1)
	if out != "7\n" {
		t.Errorf("expected %q, got %q", "7\n", out)
	}
}

// S3: string concatenation through __string_concat.
func TestE2EStringConcat(t *testing.T) {
	out := compileAndRun(t, `func main() {
	let s = "foo" + "bar"
	println(s)
}
`, optimizer.O0)
	if out != "foobar\n" {
		t.Errorf("expected %q, got %q", "foobar\n", out)
	}
}

// S4: while loop control flow.
func TestE2EWhileLoop(t *testing.T) {
	out := compileAndRun(t, `func main() {
	let i = 0
	while i < 3 {
		println(i)
		i = i + 1
	}
}
`, optimizer.O0)
	if out != "0\n1\n2\n" {
		t.Errorf("expected %q, got %q", "0\n1\n2\n", out)
	}
}

// S5: match with a range pattern.
func TestE2EMatchRange(t *testing.T) {
	src := `func classify(x: i64) {
	match x {
		0...9 -> println("small"),
		_ -> println("large")
	}
}
func main() {
	classify(5)
	classify(20)
}
`
	out := compileAndRun(t, src, optimizer.O0)
	if out != "small\nlarge\n" {
		t.Errorf("expected %q, got %q", "small\nlarge\n", out)
	}
}

// S6: try/fail catches the thrown value.
func TestE2ETryFail(t *testing.T) {
	out := compileAndRun(t, `func main() {
	try {
		fail "boom"
	} fail on e {
		println(e)
	}
}
`, optimizer.O0)
	if out != "boom\n" {
		t.Errorf("expected %q, got %q", "boom\n", out)
	}
}

// Functions calls with arguments and returns.
func TestE2EFunctionCall(t *testing.T) {
	out := compileAndRun(t, `func add(a: i64, b: i64) -> i64 {
	return a + b
}
func main() {
	println(add(40, 2))
}
`, optimizer.O0)
	if out != "42\n" {
		t.Errorf("expected %q, got %q", "42\n", out)
	}
}

func TestE2ENegativeNumbers(t *testing.T) {
	out := compileAndRun(t, `func main() {
	println(0 - 42)
}
`, optimizer.O0)
	if out != "-42\n" {
		t.Errorf("expected %q, got %q", "-42\n", out)
	}
}
