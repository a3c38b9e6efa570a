package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeassociates/bulu/ast"
	"github.com/codeassociates/bulu/backend"
	"github.com/codeassociates/bulu/diag"
	"github.com/codeassociates/bulu/ir"
	"github.com/codeassociates/bulu/lexer"
	"github.com/codeassociates/bulu/optimizer"
	"github.com/codeassociates/bulu/parser"
	"github.com/codeassociates/bulu/project"
	"github.com/codeassociates/bulu/resolver"
	"github.com/codeassociates/bulu/semantic"
)

var (
	flagOpt    string
	flagTarget string
	flagOutput string
	flagDebug  bool
	flagStatic bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bulu",
		Short:         "The Bulu compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagOpt, "opt", "", "Optimization level (O0, O1, O2, O3, Os)")
	root.PersistentFlags().StringVar(&flagTarget, "target", "", "Build target (native, bytecode)")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Keep intermediate build artifacts")
	root.PersistentFlags().BoolVar(&flagStatic, "static", false, "Produce a statically linked executable (the default)")

	root.AddCommand(buildCmd(), runCmd(), checkCmd(), emitIRCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the compiler version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bulu %s\n", version)
		},
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <entry>",
		Short: "Compile a program to an executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			_, err = buildNative(cfg)
			return err
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <entry>",
		Short: "Compile and run a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			exePath, err := buildNative(cfg)
			if err != nil {
				return err
			}
			run := exec.Command(exePath)
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			run.Stdin = os.Stdin
			return run.Run()
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <entry>",
		Short: "Parse and resolve without generating code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			_, _, err = frontend(cfg)
			return err
		},
	}
}

func emitIRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emit-ir <entry>",
		Short: "Print the optimized IR in textual form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			prog, err := middleEnd(cfg)
			if err != nil {
				return err
			}
			fmt.Print(ir.Print(prog))
			return nil
		},
	}
}

func loadConfig(entry string) (*project.Config, error) {
	manifest, err := project.Load(filepath.Dir(entry))
	if err != nil {
		return nil, err
	}
	return project.Resolve(manifest, entry, flagOpt, flagTarget), nil
}

// frontend runs lex, parse, resolve, and capture analysis. The
// returned source text feeds diagnostic context rendering.
func frontend(cfg *project.Config) (*ast.Program, string, error) {
	data, err := os.ReadFile(cfg.Entry)
	if err != nil {
		return nil, "", &diag.IoError{Message: err.Error()}
	}
	source := string(data)

	l := lexer.NewFile(source, cfg.Entry)
	p := parser.New(l)
	p.SetFile(cfg.Entry)
	program := p.ParseProgram()
	if err := p.FirstError(); err != nil {
		fmt.Fprint(os.Stderr, diag.FormatContext(err, source))
		return nil, source, err
	}

	res := resolver.New(resolver.WithSourceExt(cfg.SourceExt))
	if _, err := res.ResolveProgram(program, cfg.Entry, source); err != nil {
		fmt.Fprint(os.Stderr, diag.FormatContext(err, source))
		return nil, source, err
	}

	semantic.New().Analyze(program)
	return program, source, nil
}

// middleEnd lowers to IR and optimizes at the configured level.
func middleEnd(cfg *project.Config) (*ir.Program, error) {
	program, source, err := frontend(cfg)
	if err != nil {
		return nil, err
	}
	gen := ir.NewGenerator(cfg.Entry)
	prog, err := gen.Generate(program)
	if err != nil {
		fmt.Fprint(os.Stderr, diag.FormatContext(err, source))
		return nil, err
	}
	optimizer.New(optimizer.ParseLevel(cfg.OptLevel)).Optimize(prog)
	return prog, nil
}

// buildNative compiles to the configured target and returns the path
// of the produced artifact.
func buildNative(cfg *project.Config) (string, error) {
	prog, err := middleEnd(cfg)
	if err != nil {
		return "", err
	}

	if cfg.Target == "bytecode" {
		out := flagOutput
		if out == "" {
			if err := os.MkdirAll(cfg.BuildDir, 0o755); err != nil {
				return "", err
			}
			out = filepath.Join(cfg.BuildDir, cfg.Name+".bbc")
		}
		return out, os.WriteFile(out, backend.WriteBytecode(prog), 0o644)
	}

	asm, err := backend.New().Generate(prog)
	if err != nil {
		return "", err
	}
	result, err := backend.AssembleAndLink(asm, cfg.BuildDir, cfg.Name)
	if err != nil {
		return "", err
	}
	out := flagOutput
	if out == "" {
		out = filepath.Join(cfg.BuildDir, cfg.Name)
	}
	if err := os.WriteFile(out, result.Executable, 0o755); err != nil {
		return "", err
	}
	return out, nil
}
