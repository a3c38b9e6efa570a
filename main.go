package main

import (
	"fmt"
	"os"

	"github.com/codeassociates/bulu/diag"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		switch err.(type) {
		case *diag.LexError, *diag.ParseError, *diag.TypeError, *diag.RuntimeError:
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "internal error: %s\n", err)
			os.Exit(2)
		}
	}
}
