package backend

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BuildResult describes one completed native build.
type BuildResult struct {
	AsmPath    string
	ObjectPath string
	Executable []byte
}

// AssembleAndLink writes the assembly under buildDir as <name>.s,
// assembles it with `as --64`, links with `ld`, reads back the
// executable bytes and removes the temporary binary. The .s and .o
// files are retained for debugging.
func AssembleAndLink(asm, buildDir, name string) (*BuildResult, error) {
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating build directory")
	}
	asmPath := filepath.Join(buildDir, name+".s")
	objPath := filepath.Join(buildDir, name+".o")
	exePath := filepath.Join(buildDir, name+"-"+uuid.NewString())

	if err := os.WriteFile(asmPath, []byte(asm), 0o644); err != nil {
		return nil, errors.Wrap(err, "writing assembly")
	}

	if out, err := runTool("as", "--64", "-o", objPath, asmPath); err != nil {
		return nil, errors.Wrapf(err, "assembler failed: %s", out)
	}
	if out, err := runTool("ld", "-o", exePath, objPath); err != nil {
		return nil, errors.Wrapf(err, "linker failed: %s", out)
	}

	exe, err := os.ReadFile(exePath)
	if err != nil {
		return nil, errors.Wrap(err, "reading executable")
	}
	if err := os.Remove(exePath); err != nil {
		return nil, errors.Wrap(err, "removing temporary executable")
	}

	return &BuildResult{AsmPath: asmPath, ObjectPath: objPath, Executable: exe}, nil
}

func runTool(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// ToolsAvailable reports whether the external assembler and linker are
// on PATH; tests skip end-to-end builds without them.
func ToolsAvailable() bool {
	if _, err := exec.LookPath("as"); err != nil {
		return false
	}
	_, err := exec.LookPath("ld")
	return err == nil
}
