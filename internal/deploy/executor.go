package deploy

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// Executor runs commands on a deployment target, locally or over SSH.
// Commands go through a CommandBuilder so tests can intercept them.
type Executor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool

	builder CommandBuilder
}

// NewExecutor creates an executor for the target. An empty target,
// "localhost" or "127.0.0.1" runs commands directly; anything else goes
// through ssh/scp.
func NewExecutor(target, sshUser, sshKey, identityAgent string, dryRun bool) *Executor {
	return &Executor{
		Target:        target,
		SSHUser:       sshUser,
		SSHKey:        sshKey,
		IdentityAgent: identityAgent,
		DryRun:        dryRun,
		builder:       NewRealCommandBuilder(),
	}
}

// SetBuilder swaps the command builder. Nil restores the real one.
func (e *Executor) SetBuilder(b CommandBuilder) {
	if b == nil {
		b = NewRealCommandBuilder()
	}
	e.builder = b
}

// IsLocal returns true if the target is this machine.
func (e *Executor) IsLocal() bool {
	return e.Target == "localhost" || e.Target == "127.0.0.1" || e.Target == ""
}

// Run executes a shell command on the target.
func (e *Executor) Run(command string) (string, error) {
	if e.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute: %s", command), nil
	}

	monitoring.Debugf("deploy exec: %s (target=%s, local=%v)", command, e.Target, e.IsLocal())

	var output []byte
	var err error
	if e.IsLocal() {
		output, err = e.builder.BuildShellCommand(command).Run()
	} else {
		output, err = e.runSSH(command)
	}
	if err != nil {
		monitoring.Debugf("deploy exec failed: %v, output: %s", err, output)
	}
	return string(output), err
}

// RunSudo executes a command with sudo on the target.
func (e *Executor) RunSudo(command string) (string, error) {
	if e.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute (sudo): %s", command), nil
	}
	return e.Run("sudo " + command)
}

// CopyFile copies a local file to the target path, via scp for remote
// targets. Destinations under system directories are moved into place with
// sudo.
func (e *Executor) CopyFile(src, dst string) error {
	if e.DryRun {
		return nil
	}

	monitoring.Debugf("deploy copy: %s -> %s (target=%s, local=%v)", src, dst, e.Target, e.IsLocal())

	if e.IsLocal() {
		return e.copyLocal(src, dst)
	}
	return e.copySSH(src, dst)
}

// CopyFileFrom copies a file from the target to a local path, via scp for
// remote targets. The source must be readable by the SSH user; root-owned
// files need a staged world-readable copy first.
func (e *Executor) CopyFileFrom(src, dst string) error {
	if e.DryRun {
		return nil
	}

	monitoring.Debugf("deploy pull: %s <- %s (target=%s, local=%v)", dst, src, e.Target, e.IsLocal())

	if e.IsLocal() {
		return copyFileContents(src, dst)
	}

	args := e.transportArgs()
	args = append(args, fmt.Sprintf("%s:%s", e.sshTarget(), src), dst)

	if output, err := e.builder.BuildCommand("scp", args...).Run(); err != nil {
		return fmt.Errorf("scp failed: %w, output: %s", err, output)
	}
	return nil
}

// WriteFile writes content to a file on the target.
func (e *Executor) WriteFile(path, content string) error {
	if e.DryRun {
		return nil
	}

	if e.IsLocal() {
		return os.WriteFile(path, []byte(content), 0644)
	}

	cmd := e.builder.BuildCommand("ssh", e.sshArgs(fmt.Sprintf("cat > %s", path))...)
	cmd.SetStdin([]byte(content))
	if output, err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh write failed: %w, output: %s", err, output)
	}
	return nil
}

func (e *Executor) runSSH(command string) ([]byte, error) {
	return e.builder.BuildCommand("ssh", e.sshArgs(command)...).Run()
}

// sshArgs builds the argument list for an ssh invocation against the target.
// Host key checking is disabled: these connections are driven by automation
// against hosts the operator just named, and first-contact prompts would
// wedge every run.
func (e *Executor) sshArgs(command string) []string {
	args := e.transportArgs()
	args = append(args, "-o", "LogLevel=ERROR")
	args = append(args, e.sshTarget(), command)
	return args
}

func (e *Executor) transportArgs() []string {
	var args []string
	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}
	if e.IdentityAgent != "" {
		args = append(args, "-o", fmt.Sprintf("IdentityAgent=%s", e.IdentityAgent))
	}
	args = append(args, "-o", "StrictHostKeyChecking=no")
	args = append(args, "-o", "UserKnownHostsFile=/dev/null")
	return args
}

func (e *Executor) sshTarget() string {
	target := e.Target
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}
	return target
}

// needsSudo reports whether dst is a system path a regular user cannot
// write. /var/folders is the macOS per-user temp tree, not a system dir.
func needsSudo(dst string) bool {
	return strings.HasPrefix(dst, "/usr") ||
		strings.HasPrefix(dst, "/etc") ||
		(strings.HasPrefix(dst, "/var") && !strings.HasPrefix(dst, "/var/folders"))
}

func (e *Executor) copyLocal(src, dst string) error {
	if needsSudo(dst) {
		if output, err := e.builder.BuildCommand("sudo", "cp", src, dst).Run(); err != nil {
			return fmt.Errorf("sudo cp failed: %w, output: %s", err, output)
		}
		return nil
	}
	return copyFileContents(src, dst)
}

func copyFileContents(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func (e *Executor) copySSH(src, dst string) error {
	// Stage in /tmp first so scp never needs remote sudo.
	tempPath := fmt.Sprintf("/tmp/count-steps-copy-%d", time.Now().Unix())

	args := e.transportArgs()
	args = append(args, src, fmt.Sprintf("%s:%s", e.sshTarget(), tempPath))

	if output, err := e.builder.BuildCommand("scp", args...).Run(); err != nil {
		return fmt.Errorf("scp failed: %w, output: %s", err, output)
	}

	if needsSudo(dst) {
		_, err := e.RunSudo(fmt.Sprintf("mv %s %s", tempPath, dst))
		return err
	}
	_, err := e.Run(fmt.Sprintf("mv %s %s", tempPath, dst))
	return err
}
