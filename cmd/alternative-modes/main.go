// Command alternative-modes drives the alternative weighting sweep over
// light colour, ATPase constraint and starch knockout, handing each
// combination to runalternativemodes.py.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Toepfer-Lab/mmon-gcm/internal/invoke"
	"github.com/Toepfer-Lab/mmon-gcm/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := (&app{stdout: os.Stdout, stderr: os.Stderr}).execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// app holds the process-wide wiring so tests can swap the output streams
// and the command builder.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// builder replaces real process execution when set.
	builder invoke.CommandBuilder
}

// exitCodeError carries a process exit status out of a command. err may be
// nil when the status alone is the outcome (a failed final invocation).
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ec *exitCodeError
	if errors.As(err, &ec) {
		if ec.err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", ec.err)
		}
		return ec.code
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}

func (a *app) newRootCmd() *cobra.Command {
	var f runFlags
	root := &cobra.Command{
		Use:   "alternative-modes <cores>",
		Short: "Run the alternative weighting sweep",
		Long: `alternative-modes enumerates every combination of light colour
(blue, white, nops), ATPase constraint (True, False) and starch knockout
(True, False), prints the output path of each, and hands them to
runalternativemodes.py. A final reference run with (blue, True, False)
always follows the sweep.

The single positional argument is the core count, passed to the solver
unchanged.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSweep(cmd, &f, args[0])
		},
	}
	f.register(root)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		a.newRunCmd(),
		a.newPlanCmd(),
		a.newHistoryCmd(),
		a.newMigrateCmd(),
		a.newDebugServerCmd(),
		a.newVersionCmd(),
	)
	return root
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, version.String())
		},
	}
}
