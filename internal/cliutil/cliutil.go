// Package cliutil holds the small cobra-ergonomics helpers this module's
// command tools share: consistent positional-arg validation, flag error
// formatting, and a help template, adapted from the subset of
// github.com/datawire/ocibuild/pkg/cliutil that cmd/*/main.go needs.
package cliutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// OnlySubcommands is a cobra.PositionalArgs that rejects any positional
// argument, for a parent command whose only job is to dispatch to a
// subcommand.
func OnlySubcommands(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}

// WrapPositionalArgs wraps a cobra.PositionalArgs so that validation errors
// get cobra's usual "run '<path> --help' for usage" suffix, matching the
// message cobra itself attaches to built-in validators.
func WrapPositionalArgs(inner cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
		}
		return nil
	}
}

// RunSubcommands is a cobra.Command.RunE for a parent command with no
// behavior of its own: invoked only when no subcommand matched, it prints
// help and returns.
func RunSubcommands(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// FlagErrorFunc is a cobra.Command.SetFlagErrorFunc implementation that
// mirrors WrapPositionalArgs' usage suffix for flag-parsing errors.
func FlagErrorFunc(cmd *cobra.Command, err error) error {
	return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
}

// HelpTemplate is the cobra help template used by every tool's root command,
// trimming cobra's default template down to the sections worth keeping for
// a single-binary-per-tool CLI.
const HelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}`

// RuntimeError marks an error that happened after argument parsing
// succeeded (device I/O, a filesystem-consistency check, ...), as opposed to
// a malformed invocation. ExitCode uses this to choose between the two
// distinct nonzero exit statuses every tool reports.
type RuntimeError struct{ Err error }

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

// Runtime wraps err, when non-nil, as a RuntimeError.
func Runtime(err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Err: err}
}

// Exit codes shared by every cmd/reiserfs-* tool: 0 on success, usage error
// on a malformed invocation, runtime error once the operation itself began.
const (
	ExitSuccess      = 0
	ExitUsageError   = 0xfe
	ExitRuntimeError = 0xff
)

// ExitCode picks the process exit status for the error ExecuteC returned:
// nil means success, a RuntimeError means the operation started and then
// failed, anything else is treated as a usage error (bad flags, bad
// arguments, unknown subcommand).
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return ExitRuntimeError
	}
	return ExitUsageError
}

// ParseUUID decodes a 32-hex-digit (optionally dash-separated) UUID string
// into its 16-byte form, the shape every tool's `-i uuid` flag takes.
func ParseUUID(s string) ([16]byte, error) {
	var out [16]byte
	hex := strings.ReplaceAll(s, "-", "")
	if len(hex) != 32 {
		return out, fmt.Errorf("invalid uuid %q: want 32 hex digits", s)
	}
	for i := range out {
		b, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// ParseSize parses a size argument with an optional K/M/G suffix (case
// insensitive, binary multiples) into a byte count, the shape every tool's
// `size[K|M|G]` / `[+|-]size[K|M|G]` positional argument takes.
func ParseSize(s string) (int64, error) {
	sign := int64(1)
	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch last := s[len(s)-1]; last {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return sign * n * mult, nil
}
