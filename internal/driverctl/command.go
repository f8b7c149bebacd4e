// Package driverctl restarts the robot driver container, on this machine or
// on the driver host over SSH.
package driverctl

import (
	"context"
	"os/exec"
)

// CommandExecutor runs one built command.
type CommandExecutor interface {
	// Run executes the command and returns stdout and stderr combined.
	Run() ([]byte, error)
}

// CommandBuilder builds commands so tests can observe them without running
// anything.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// RealCommandBuilder builds commands with exec.CommandContext.
type RealCommandBuilder struct{}

func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// MockCommandExecutor returns canned output.
type MockCommandExecutor struct {
	Output    []byte
	Err       error
	RunCalled bool
}

func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	return m.Output, m.Err
}

// MockBuiltCommand records a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder records every command it builds.
type MockCommandBuilder struct {
	Commands []MockBuiltCommand
	// ExecutorFactory, when set, decides the executor per command.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

func (b *MockCommandBuilder) BuildCommand(_ context.Context, name string, args ...string) CommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}
