// Package diag defines the compiler's error taxonomy and diagnostic
// rendering. All pipeline stages report failures through these types;
// a recoverable error never panics.
package diag

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// LexError is a failure while tokenizing a source file.
type LexError struct {
	Message string
	Line    int
	Column  int
	File    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: lex error at %d:%d: %s", fileOrInput(e.File), e.Line, e.Column, e.Message)
}

// ParseError is a failure while building the AST. Token holds the
// offending lexeme when one is available; Stack records the parser's
// production trail for internal debugging.
type ParseError struct {
	Message string
	Line    int
	Column  int
	File    string
	Token   string
	Stack   []string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: parse error at %d:%d: %s", fileOrInput(e.File), e.Line, e.Column, e.Message)
	if e.Token != "" {
		msg += fmt.Sprintf(" (near %q)", e.Token)
	}
	return msg
}

// TypeError covers resolution and semantic failures: undefined symbols,
// non-exported imports, duplicate declarations.
type TypeError struct {
	Message string
	Line    int
	Column  int
	File    string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: error at %d:%d: %s", fileOrInput(e.File), e.Line, e.Column, e.Message)
}

// RuntimeError is raised by the constant evaluator and by generated
// programs' tree-walking paths.
type RuntimeError struct {
	Message string
	File    string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: runtime error: %s", fileOrInput(e.File), e.Message)
}

// IoError wraps filesystem and external-tool failures.
type IoError struct {
	Message string
}

func (e *IoError) Error() string {
	return "io error: " + e.Message
}

// Control-flow unwinding values. break/continue/return inside the
// constant evaluator are encoded as errors so evaluation can unwind
// without extra plumbing. They are never shown to users.
type BreakError struct{}

func (e *BreakError) Error() string { return "break outside loop" }

type ContinueError struct{}

func (e *ContinueError) Error() string { return "continue outside loop" }

// ReturnError carries the returned value out of a nested evaluation.
type ReturnError struct {
	Value interface{}
}

func (e *ReturnError) Error() string { return "return outside function" }

var (
	headerColor = color.New(color.FgRed, color.Bold)
	caretColor  = color.New(color.FgGreen, color.Bold)
	gutterColor = color.New(color.FgCyan)
)

func init() {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
}

func fileOrInput(file string) string {
	if file == "" {
		return "<input>"
	}
	return file
}

// FormatContext renders an error with three lines of source context
// around the fault and a column caret:
//
//	error: undefined symbol "x"
//	  --> main.blu:4:13
//	3 | func main() {
//	4 |     let y = x + 1
//	  |             ^
//	5 | }
func FormatContext(err error, source string) string {
	line, col, file, msg := locate(err)
	if line <= 0 {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(headerColor.Sprint("error: "))
	b.WriteString(msg)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  --> %s:%d:%d\n", fileOrInput(file), line, col)

	lines := strings.Split(source, "\n")
	first := line - 1
	if first < 1 {
		first = 1
	}
	last := line + 1
	if last > len(lines) {
		last = len(lines)
	}
	width := len(fmt.Sprint(last))
	for n := first; n <= last; n++ {
		gutterColor.Fprintf(&b, "%*d | ", width, n)
		b.WriteString(lines[n-1])
		b.WriteByte('\n')
		if n == line {
			gutterColor.Fprintf(&b, "%*s | ", width, "")
			b.WriteString(strings.Repeat(" ", max(col-1, 0)))
			caretColor.Fprintln(&b, "^")
		}
	}
	return b.String()
}

func locate(err error) (line, col int, file, msg string) {
	switch e := err.(type) {
	case *LexError:
		return e.Line, e.Column, e.File, e.Message
	case *ParseError:
		return e.Line, e.Column, e.File, e.Message
	case *TypeError:
		return e.Line, e.Column, e.File, e.Message
	case *RuntimeError:
		return 0, 0, e.File, e.Message
	default:
		return 0, 0, "", err.Error()
	}
}
