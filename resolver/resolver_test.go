package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/diag"
	"github.com/codeassociates/bulu/lexer"
	"github.com/codeassociates/bulu/parser"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	program := p.ParseProgram()
	require.Empty(t, p.Errors(), "parse errors in test source")
	return program
}

func TestCollectLocalsAndExports(t *testing.T) {
	src := `export func visible() {
	return
}
func hidden() {
	return
}
export const limit = 10
struct Point {
	x: i64
}
`
	mod, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	require.NoError(t, err)

	require.Contains(t, mod.LocalSymbols, "visible")
	assert.Equal(t, Public, mod.LocalSymbols["visible"].Visibility)
	assert.Equal(t, SymbolFunction, mod.LocalSymbols["visible"].Kind)

	require.Contains(t, mod.LocalSymbols, "hidden")
	assert.Equal(t, Private, mod.LocalSymbols["hidden"].Visibility)

	// Exports appear both in local symbols and in the export table.
	assert.Contains(t, mod.Exports, "visible")
	assert.Contains(t, mod.Exports, "limit")
	assert.NotContains(t, mod.Exports, "hidden")
	assert.Equal(t, SymbolConstant, mod.LocalSymbols["limit"].Kind)
	assert.Equal(t, SymbolStruct, mod.LocalSymbols["Point"].Kind)
}

func TestFunctionSignatureRecorded(t *testing.T) {
	src := `func add(a: i64, b: i64 = 1, ...rest: []i64) -> i64 {
	return a
}
`
	mod, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	require.NoError(t, err)

	sig := mod.LocalSymbols["add"].Signature
	require.NotNil(t, sig)
	require.Len(t, sig.Params, 3)
	assert.False(t, sig.Params[0].Default)
	assert.True(t, sig.Params[1].Default)
	assert.True(t, sig.Params[2].Variadic)
	assert.True(t, sig.IsVariadic)
}

func TestDuplicateSymbol(t *testing.T) {
	src := `func f() {
	return
}
func f() {
	return
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	require.Error(t, err)
	var typeErr *diag.TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Contains(t, typeErr.Message, "duplicate symbol")
}

func TestUndefinedSymbol(t *testing.T) {
	src := `func main() {
	let y = missing + 1
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined symbol "missing"`)
}

func TestScopeLookupOrder(t *testing.T) {
	src := `let global = 1
func main(param: i64) {
	let local = 2
	if param > 0 {
		let inner = local + global + param
		println(inner)
	}
	while param < 10 {
		let loopLocal = param
		println(loopLocal)
	}
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	assert.NoError(t, err)
}

func TestBlockScopeDoesNotLeak(t *testing.T) {
	src := `func main() {
	if true {
		let inner = 1
		println(inner)
	}
	println(inner)
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined symbol "inner"`)
}

func TestBuiltinsResolve(t *testing.T) {
	src := `func main() {
	println(len("abc"))
	print(typeof(1))
	panic("x")
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	assert.NoError(t, err)
}

func TestMatchBindingsScoped(t *testing.T) {
	src := `func main(x: i64) {
	match x {
		n where n > 2 -> println(n),
		_ -> println(x)
	}
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	assert.NoError(t, err)
}

func TestTryBindsErrorName(t *testing.T) {
	src := `func main() {
	try {
		fail "boom"
	} fail on e {
		println(e)
	}
}
`
	_, err := New().ResolveProgram(parse(t, src), "main.blu", src)
	assert.NoError(t, err)
}

func writeModule(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestNamedImport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "math.blu", `export func square(x: i64) -> i64 {
	return x * x
}
func helper() {
	return
}
`)
	mainSrc := `import { square } from "math"
func main() {
	println(square(3))
}
`
	mainPath := writeModule(t, dir, "main.blu", mainSrc)

	mod, err := New().ResolveProgram(parse(t, mainSrc), mainPath, mainSrc)
	require.NoError(t, err)
	assert.Contains(t, mod.Imports, "square")
	assert.Len(t, mod.Dependencies, 1)
}

func TestImportAliasing(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "math.blu", `export func square(x: i64) -> i64 {
	return x * x
}
`)
	mainSrc := `import { square as sq } from "math"
func main() {
	println(sq(3))
}
`
	mainPath := writeModule(t, dir, "main.blu", mainSrc)

	mod, err := New().ResolveProgram(parse(t, mainSrc), mainPath, mainSrc)
	require.NoError(t, err)
	assert.Contains(t, mod.Imports, "sq")
	assert.NotContains(t, mod.Imports, "square")
}

func TestImportNonExported(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "math.blu", `func secret() {
	return
}
`)
	mainSrc := `import { secret } from "math"
`
	mainPath := writeModule(t, dir, "main.blu", mainSrc)

	_, err := New().ResolveProgram(parse(t, mainSrc), mainPath, mainSrc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not export")
}

func TestWildcardImport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "utils.blu", `export func a() {
	return
}
export func b() {
	return
}
`)
	mainSrc := `import "utils"
func main() {
	a()
	b()
}
`
	mainPath := writeModule(t, dir, "main.blu", mainSrc)

	mod, err := New().ResolveProgram(parse(t, mainSrc), mainPath, mainSrc)
	require.NoError(t, err)
	assert.Contains(t, mod.Imports, "a")
	assert.Contains(t, mod.Imports, "b")
}

func TestModuleLookupOrder(t *testing.T) {
	dir := t.TempDir()
	// path/index form.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	writeModule(t, filepath.Join(dir, "pkg"), "index.blu", `export func entry() {
	return
}
`)
	mainSrc := `import { entry } from "pkg"
func main() {
	entry()
}
`
	mainPath := writeModule(t, dir, "main.blu", mainSrc)

	_, err := New().ResolveProgram(parse(t, mainSrc), mainPath, mainSrc)
	assert.NoError(t, err)
}

func TestReExport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "inner.blu", `export func f() {
	return
}
`)
	midSrc := `export { f } from "inner"
`
	midPath := writeModule(t, dir, "mid.blu", midSrc)

	mod, err := New().ResolveProgram(parse(t, midSrc), midPath, midSrc)
	require.NoError(t, err)
	// Re-exports are both imported and exported.
	assert.Contains(t, mod.Imports, "f")
	assert.Contains(t, mod.Exports, "f")
}

func TestMissingModule(t *testing.T) {
	src := `import { x } from "nowhere"
`
	_, err := New().ResolveProgram(parse(t, src), filepath.Join(t.TempDir(), "main.blu"), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
