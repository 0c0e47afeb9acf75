package deploy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewExecutor(t *testing.T) {
	e := NewExecutor("host.example.com", "user", "/path/to/key", "/path/to/agent", false)

	if e.Target != "host.example.com" {
		t.Errorf("Expected target host.example.com, got %s", e.Target)
	}
	if e.SSHUser != "user" {
		t.Errorf("Expected user, got %s", e.SSHUser)
	}
	if e.SSHKey != "/path/to/key" {
		t.Errorf("Expected /path/to/key, got %s", e.SSHKey)
	}
	if e.IdentityAgent != "/path/to/agent" {
		t.Errorf("Expected /path/to/agent, got %s", e.IdentityAgent)
	}
	if e.DryRun {
		t.Error("Expected DryRun false")
	}
}

func TestExecutor_IsLocal(t *testing.T) {
	tests := []struct {
		target string
		local  bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"", true},
		{"pi.local", false},
		{"steps@pi.local", false},
		{"192.168.1.40", false},
	}

	for _, tt := range tests {
		e := NewExecutor(tt.target, "", "", "", false)
		if e.IsLocal() != tt.local {
			t.Errorf("IsLocal(%q) = %v, want %v", tt.target, e.IsLocal(), tt.local)
		}
	}
}

func TestExecutor_DryRun(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("pi.local", "steps", "", "", true)
	e.SetBuilder(builder)

	output, err := e.Run("systemctl restart count-steps")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(output, "[DRY-RUN]") {
		t.Errorf("Expected dry-run marker, got: %s", output)
	}
	if !strings.Contains(output, "systemctl restart count-steps") {
		t.Errorf("Expected command in output, got: %s", output)
	}

	sudoOutput, err := e.RunSudo("mv /tmp/x /usr/local/bin/x")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(sudoOutput, "(sudo)") {
		t.Errorf("Expected sudo marker, got: %s", sudoOutput)
	}

	if err := e.CopyFile("/tmp/src", "/usr/local/bin/dst"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "never-written")
	if err := e.WriteFile(path, "content"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected dry-run WriteFile to leave no file")
	}

	// Dry-run never reaches the builder.
	if len(builder.Commands) != 0 {
		t.Errorf("Expected no commands in dry-run, got %d", len(builder.Commands))
	}
}

func TestExecutor_Run_Local(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.NextExecutor = &MockCommandExecutor{Output: []byte("active\n")}

	e := NewExecutor("localhost", "", "", "", false)
	e.SetBuilder(builder)

	output, err := e.Run("systemctl is-active count-steps")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if output != "active\n" {
		t.Errorf("Expected 'active', got: %s", output)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a recorded command")
	}
	if !last.IsShell {
		t.Error("Expected local run to go through the shell")
	}
	if len(last.Args) != 2 || last.Args[1] != "systemctl is-active count-steps" {
		t.Errorf("Expected command as sh -c argument, got: %v", last.Args)
	}
}

func TestExecutor_Run_Error(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.NextExecutor = &MockCommandExecutor{
		Output: []byte("unit not found"),
		Err:    errors.New("exit status 4"),
	}

	e := NewExecutor("localhost", "", "", "", false)
	e.SetBuilder(builder)

	output, err := e.Run("systemctl status nope")
	if err == nil {
		t.Error("Expected error from failing command")
	}
	if output != "unit not found" {
		t.Errorf("Expected command output preserved on error, got: %s", output)
	}
}

func TestExecutor_Run_Remote_SSHArgs(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("pi.local", "steps", "/home/me/.ssh/id_ed25519", "", false)
	e.SetBuilder(builder)

	if _, err := e.Run("uptime"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a recorded command")
	}
	if last.Name != "ssh" {
		t.Errorf("Expected ssh, got: %s", last.Name)
	}

	joined := strings.Join(last.Args, " ")
	if !strings.Contains(joined, "-i /home/me/.ssh/id_ed25519") {
		t.Errorf("Expected key flag in args: %s", joined)
	}
	if !strings.Contains(joined, "StrictHostKeyChecking=no") {
		t.Errorf("Expected host key checking disabled: %s", joined)
	}
	if !strings.Contains(joined, "UserKnownHostsFile=/dev/null") {
		t.Errorf("Expected known hosts ignored: %s", joined)
	}
	if !strings.Contains(joined, "LogLevel=ERROR") {
		t.Errorf("Expected quiet logging: %s", joined)
	}

	// Target and command are the final two arguments.
	n := len(last.Args)
	if n < 2 || last.Args[n-2] != "steps@pi.local" || last.Args[n-1] != "uptime" {
		t.Errorf("Expected 'steps@pi.local uptime' suffix, got: %v", last.Args)
	}
}

func TestExecutor_Run_Remote_IdentityAgent(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("pi.local", "steps", "", "/run/user/1000/ssh-agent.sock", false)
	e.SetBuilder(builder)

	if _, err := e.Run("true"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	joined := strings.Join(builder.LastCommand().Args, " ")
	if !strings.Contains(joined, "IdentityAgent=/run/user/1000/ssh-agent.sock") {
		t.Errorf("Expected IdentityAgent option: %s", joined)
	}
}

func TestExecutor_Run_Remote_UserInTarget(t *testing.T) {
	builder := NewMockCommandBuilder()
	// A user embedded in the target wins over SSHUser.
	e := NewExecutor("admin@pi.local", "steps", "", "", false)
	e.SetBuilder(builder)

	if _, err := e.Run("true"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	joined := strings.Join(builder.LastCommand().Args, " ")
	if !strings.Contains(joined, "admin@pi.local") {
		t.Errorf("Expected admin@pi.local in args: %s", joined)
	}
	if strings.Contains(joined, "steps@admin@pi.local") {
		t.Errorf("SSHUser must not be prepended twice: %s", joined)
	}
}

func TestExecutor_RunSudo(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("localhost", "", "", "", false)
	e.SetBuilder(builder)

	if _, err := e.RunSudo("systemctl daemon-reload"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a recorded command")
	}
	if len(last.Args) != 2 || last.Args[1] != "sudo systemctl daemon-reload" {
		t.Errorf("Expected sudo prefix, got: %v", last.Args)
	}
}

func TestExecutor_WriteFile_Local(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", false)
	path := filepath.Join(t.TempDir(), "count-steps.service")

	if err := e.WriteFile(path, "[Unit]\nDescription=test\n"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "[Unit]\nDescription=test\n" {
		t.Errorf("Unexpected content: %s", data)
	}
}

func TestExecutor_WriteFile_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	mock := &MockCommandExecutor{}
	builder.NextExecutor = mock

	e := NewExecutor("pi.local", "steps", "", "", false)
	e.SetBuilder(builder)

	if err := e.WriteFile("/tmp/count-steps.service", "unit content"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	last := builder.LastCommand()
	if last.Name != "ssh" {
		t.Errorf("Expected ssh, got: %s", last.Name)
	}
	if last.Args[len(last.Args)-1] != "cat > /tmp/count-steps.service" {
		t.Errorf("Expected remote cat redirect, got: %v", last.Args)
	}
	if string(mock.Stdin) != "unit content" {
		t.Errorf("Expected content on stdin, got: %s", mock.Stdin)
	}
}

func TestExecutor_CopyFile_Local(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, []byte("binary payload"), 0755); err != nil {
		t.Fatal(err)
	}

	e := NewExecutor("localhost", "", "", "", false)
	if err := e.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "binary payload" {
		t.Errorf("Unexpected content: %s", data)
	}
}

func TestExecutor_CopyFile_LocalSystemPath(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("localhost", "", "", "", false)
	e.SetBuilder(builder)

	if err := e.CopyFile("/tmp/count-steps", "/usr/local/bin/count-steps"); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a recorded command")
	}
	if last.Name != "sudo" {
		t.Errorf("Expected sudo cp for system path, got: %s", last.Name)
	}
	want := []string{"cp", "/tmp/count-steps", "/usr/local/bin/count-steps"}
	if len(last.Args) != 3 || last.Args[0] != want[0] || last.Args[1] != want[1] || last.Args[2] != want[2] {
		t.Errorf("Expected %v, got: %v", want, last.Args)
	}
}

func TestExecutor_CopyFile_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.ExecutorFactory = func(name string, args []string) *MockCommandExecutor {
		return &MockCommandExecutor{}
	}

	e := NewExecutor("pi.local", "steps", "/home/me/.ssh/id_ed25519", "", false)
	e.SetBuilder(builder)

	if err := e.CopyFile("./count-steps", "/usr/local/bin/count-steps"); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	if len(builder.Commands) != 2 {
		t.Fatalf("Expected scp then ssh, got %d commands: %v", len(builder.Commands), builder.Commands)
	}

	scp := builder.Commands[0]
	if scp.Name != "scp" {
		t.Errorf("Expected scp first, got: %s", scp.Name)
	}
	lastArg := scp.Args[len(scp.Args)-1]
	if !strings.HasPrefix(lastArg, "steps@pi.local:/tmp/count-steps-copy-") {
		t.Errorf("Expected staged upload path, got: %s", lastArg)
	}

	move := builder.Commands[1]
	if move.Name != "ssh" {
		t.Errorf("Expected ssh move, got: %s", move.Name)
	}
	moveCmd := move.Args[len(move.Args)-1]
	if !strings.HasPrefix(moveCmd, "sudo mv /tmp/count-steps-copy-") {
		t.Errorf("Expected sudo mv into system path, got: %s", moveCmd)
	}
	if !strings.HasSuffix(moveCmd, "/usr/local/bin/count-steps") {
		t.Errorf("Expected destination in move, got: %s", moveCmd)
	}
}

func TestExecutor_CopyFileFrom_Local(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "steps_data.db")
	dst := filepath.Join(dir, "pulled.db")
	if err := os.WriteFile(src, []byte("sqlite bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewExecutor("localhost", "", "", "", false)
	if err := e.CopyFileFrom(src, dst); err != nil {
		t.Fatalf("CopyFileFrom failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "sqlite bytes" {
		t.Errorf("Unexpected content: %s", data)
	}
}

func TestExecutor_CopyFileFrom_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("pi.local", "steps", "", "", false)
	e.SetBuilder(builder)

	if err := e.CopyFileFrom("/tmp/staged.db", "/backups/pulled.db"); err != nil {
		t.Fatalf("CopyFileFrom failed: %v", err)
	}

	last := builder.LastCommand()
	if last.Name != "scp" {
		t.Errorf("Expected scp, got: %s", last.Name)
	}
	n := len(last.Args)
	if n < 2 || last.Args[n-2] != "steps@pi.local:/tmp/staged.db" || last.Args[n-1] != "/backups/pulled.db" {
		t.Errorf("Expected remote source then local dest, got: %v", last.Args)
	}
}

func TestNeedsSudo(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/usr/local/bin/count-steps", true},
		{"/etc/systemd/system/count-steps.service", true},
		{"/var/lib/count-steps/steps_data.db", true},
		{"/var/folders/ab/tmp123", false},
		{"/home/steps/backup", false},
		{"/tmp/staging", false},
	}

	for _, tt := range tests {
		if got := needsSudo(tt.path); got != tt.want {
			t.Errorf("needsSudo(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExecutor_SetBuilder_NilRestoresReal(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", false)
	e.SetBuilder(NewMockCommandBuilder())
	e.SetBuilder(nil)

	output, err := e.Run("echo restored")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "restored" {
		t.Errorf("Expected real execution after reset, got: %s", output)
	}
}
