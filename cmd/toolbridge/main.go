// Command toolbridge orchestrates MCP tool servers for LLM chat.
//
// Usage:
//
//	toolbridge [-c config.yaml] serve
//	toolbridge [-c config.yaml] tools [--json]
//	toolbridge [-c config.yaml] call [--args '{"k":"v"}'] <server> <tool>
//	toolbridge [-c config.yaml] chat [--document path] <prompt>
//
// Configuration is read from the YAML file and TOOLBRIDGE_* environment
// variables; see pkg/config.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(&globalOptions, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		switch {
		case errors.As(err, &ferr) && ferr.Type == flags.ErrHelp:
			fmt.Fprintln(os.Stdout, ferr.Message)
			return
		case errors.As(err, &ferr):
			fmt.Fprintln(os.Stderr, ferr.Message)
		default:
			slog.Error("toolbridge failed", "error", err)
		}
		os.Exit(1)
	}
}
