package invoke

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// CommandExecutor runs one prepared command.
// This abstraction enables unit testing without spawning processes.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)
}

// CommandBuilder prepares commands bound to a context.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext, so
// cancelling the context kills the process.
type RealCommandBuilder struct{}

// NewRealCommandBuilder creates a new RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// ExitError is a test double for a process that exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode mirrors (*exec.ExitError).ExitCode.
func (e *ExitError) ExitCode() int { return e.Code }

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run.
	Output []byte
	// Err is the error to return from Run.
	Err error
	// RunCalled indicates whether Run was called.
	RunCalled bool
	// Hook, when set, runs inside Run before returning.
	Hook func()
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	if m.Hook != nil {
		m.Hook()
	}
	return m.Output, m.Err
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder implements CommandBuilder for testing. It is safe for
// concurrent use.
type MockCommandBuilder struct {
	mu sync.Mutex
	// Commands records all commands that were built, in build order.
	Commands []MockBuiltCommand
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand records the command and returns a mock executor.
func (b *MockCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	cp := make([]string, len(args))
	copy(cp, args)

	b.mu.Lock()
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: cp})
	factory := b.ExecutorFactory
	b.mu.Unlock()

	if factory != nil {
		return factory(name, cp)
	}
	return &MockCommandExecutor{}
}

// Built returns a copy of the recorded commands.
func (b *MockCommandBuilder) Built() []MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MockBuiltCommand, len(b.Commands))
	copy(out, b.Commands)
	return out
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Commands) == 0 {
		return nil
	}
	c := b.Commands[len(b.Commands)-1]
	return &c
}

// Reset clears all recorded commands.
func (b *MockCommandBuilder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Commands = nil
}
