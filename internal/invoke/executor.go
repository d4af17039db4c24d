// Package invoke runs the external solver, locally or on a remote host over
// ssh, and reports its exit status and captured output.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// nopLogger is a no-op logger implementation.
type nopLogger struct{}

func (n nopLogger) Debugf(format string, args ...interface{}) {}

// ExitCodeUnknown is reported when the process never produced an exit status
// (failed to start, killed by a signal or cancelled).
const ExitCodeUnknown = -1

// Result describes one finished command.
type Result struct {
	CommandLine string
	ExitCode    int
	Output      []byte
	StartedAt   time.Time
	Duration    time.Duration
	DryRun      bool
}

// Executor handles command execution on local or remote targets.
type Executor struct {
	Target  string
	SSHUser string
	SSHKey  string
	DryRun  bool

	// Timeout bounds each command; zero means no limit.
	Timeout time.Duration

	Logger  Logger
	Builder CommandBuilder

	now func() time.Time
}

// NewExecutor creates a new command executor.
func NewExecutor(target, sshUser, sshKey string, dryRun bool) *Executor {
	return &Executor{
		Target:  target,
		SSHUser: sshUser,
		SSHKey:  sshKey,
		DryRun:  dryRun,
		Logger:  nopLogger{},
		Builder: NewRealCommandBuilder(),
		now:     time.Now,
	}
}

// SetLogger sets the debug logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// SetBuilder replaces the command builder, typically with a mock in tests.
func (e *Executor) SetBuilder(b CommandBuilder) {
	if b != nil {
		e.Builder = b
	}
}

// IsLocal returns true if target is localhost.
func (e *Executor) IsLocal() bool {
	return e.Target == "localhost" || e.Target == "127.0.0.1" || e.Target == ""
}

// CommandLine renders name and args as a shell-safe string.
func (e *Executor) CommandLine(name string, args ...string) string {
	return shellJoin(append([]string{name}, args...))
}

// Run executes name with args and waits for it to exit. A non-zero exit is
// reported both in Result.ExitCode and as a non-nil error.
func (e *Executor) Run(ctx context.Context, name string, args ...string) (Result, error) {
	line := e.CommandLine(name, args...)
	start := e.clock()
	res := Result{CommandLine: line, StartedAt: start}

	if e.DryRun {
		res.DryRun = true
		res.Output = []byte(fmt.Sprintf("[DRY-RUN] Would execute: %s", line))
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		res.ExitCode = ExitCodeUnknown
		return res, err
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	e.Logger.Debugf("Executing: %s (target=%s, local=%v)", line, e.Target, e.IsLocal())

	var cmd CommandExecutor
	if e.IsLocal() {
		cmd = e.Builder.BuildCommand(ctx, name, args...)
	} else {
		cmd = e.Builder.BuildCommand(ctx, "ssh", e.sshArgs(line)...)
	}

	output, err := cmd.Run()
	res.Output = output
	res.Duration = e.clock().Sub(start)
	if err == nil {
		return res, nil
	}

	res.ExitCode = exitCode(err)
	e.Logger.Debugf("Command failed: %v, output: %s", err, output)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", name, ctxErr)
	}
	return res, fmt.Errorf("%s: %w", name, err)
}

func (e *Executor) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Executor) sshArgs(remote string) []string {
	args := []string{}

	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}

	// BatchMode stops ssh from prompting and hanging an unattended sweep.
	args = append(args, "-o", "BatchMode=yes")
	args = append(args, "-o", "LogLevel=ERROR")

	target := e.Target
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}

	return append(args, target, remote)
}

// exitCode extracts the process exit status from err. *exec.ExitError and
// *ExitError both satisfy the interface.
func exitCode(err error) int {
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitCodeUnknown
}

// shellJoin quotes each word for a POSIX shell. Words made only of safe
// characters are left bare so logs stay readable.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellQuote(w)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./=:,+@%", r):
		default:
			safe = false
		}
		if !safe {
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
