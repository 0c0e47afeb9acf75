// Package deploy provides command execution and SSH config resolution for
// installing and managing the step counter service on local or remote hosts.
package deploy

import (
	"bytes"
	"os/exec"
)

// CommandExecutor is one runnable shell command. The indirection exists so
// executor tests can verify ssh/scp argument construction without spawning
// processes.
type CommandExecutor interface {
	// Run executes the command and returns combined stdout+stderr.
	Run() ([]byte, error)

	// SetStdin sets the stdin for the command.
	SetStdin(stdin []byte)
}

// CommandBuilder constructs CommandExecutors.
type CommandBuilder interface {
	BuildCommand(name string, args ...string) CommandExecutor
	BuildShellCommand(command string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

func (r *RealCommandExecutor) SetStdin(stdin []byte) {
	r.cmd.Stdin = bytes.NewReader(stdin)
}

// RealCommandBuilder builds commands with exec.Command.
type RealCommandBuilder struct{}

func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

func (b *RealCommandBuilder) BuildCommand(name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.Command(name, args...)}
}

func (b *RealCommandBuilder) BuildShellCommand(command string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.Command("sh", "-c", command)}
}

// MockCommandExecutor returns scripted output instead of running anything.
type MockCommandExecutor struct {
	Output    []byte
	Err       error
	Stdin     []byte
	RunCalled bool
}

func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	return m.Output, m.Err
}

func (m *MockCommandExecutor) SetStdin(stdin []byte) {
	m.Stdin = stdin
}

// MockBuiltCommand records one command a MockCommandBuilder was asked for.
type MockBuiltCommand struct {
	Name    string
	Args    []string
	IsShell bool
}

// MockCommandBuilder records every built command and hands back scripted
// executors. ExecutorFactory, when set, picks the response per command;
// otherwise NextExecutor is consumed once, and after that every command
// succeeds with empty output.
type MockCommandBuilder struct {
	Commands        []MockBuiltCommand
	NextExecutor    *MockCommandExecutor
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

func (b *MockCommandBuilder) BuildCommand(name string, args ...string) CommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	return b.executorFor(name, args)
}

func (b *MockCommandBuilder) BuildShellCommand(command string) CommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{Name: "sh", Args: []string{"-c", command}, IsShell: true})
	return b.executorFor("sh", []string{"-c", command})
}

func (b *MockCommandBuilder) executorFor(name string, args []string) *MockCommandExecutor {
	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	if b.NextExecutor != nil {
		e := b.NextExecutor
		b.NextExecutor = nil
		return e
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}
