package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// IO bundles the output streams of a command.
type IO struct {
	out    io.Writer
	errOut io.Writer
}

// Println writes to stdout.
func (o *IO) Println(a ...any) { fmt.Fprintln(o.out, a...) }

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) { fmt.Fprintf(o.out, format, a...) }

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) { fmt.Fprintln(o.errOut, a...) }

// Command defines a subcommand with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is the usage string shown after "kcache" in help.
	// It starts with the command name.
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, env *Env, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-30s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "kcache <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: kcache [global flags]", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}
	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns the exit code.
func (c *Command) Run(ctx context.Context, o *IO, env *Env, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return 0
		}
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)
		return 1
	}

	if err := c.Exec(ctx, o, env, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}
	return 0
}
