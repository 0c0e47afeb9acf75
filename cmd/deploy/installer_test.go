package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

// scriptedExecutor returns an executor whose commands are intercepted by the
// builder and answered from the responses table, matched by substring.
func scriptedExecutor(target string, builder *deploy.MockCommandBuilder, responses map[string]string) *deploy.Executor {
	builder.ExecutorFactory = func(name string, args []string) *deploy.MockCommandExecutor {
		probe := name + " " + strings.Join(args, " ")
		for substr, out := range responses {
			if strings.Contains(probe, substr) {
				return &deploy.MockCommandExecutor{Output: []byte(out)}
			}
		}
		return &deploy.MockCommandExecutor{}
	}
	e := deploy.NewExecutor(target, "steps", "", "", false)
	e.SetBuilder(builder)
	return e
}

// commandIndex returns the position of the first recorded command containing
// substr, or -1.
func commandIndex(builder *deploy.MockCommandBuilder, substr string) int {
	for i, c := range builder.Commands {
		if strings.Contains(c.Name+" "+strings.Join(c.Args, " "), substr) {
			return i
		}
	}
	return -1
}

func ranCommand(builder *deploy.MockCommandBuilder, substr string) bool {
	return commandIndex(builder, substr) >= 0
}

// writeTestBinary creates an executable file for validateBinary to accept.
func writeTestBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "count-steps-linux-arm64")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho test\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInstaller_validateBinary(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name       string
		binaryPath string
		createFile bool
		executable bool
		wantErr    bool
	}{
		{
			name:       "valid executable binary",
			binaryPath: filepath.Join(tmpDir, "valid-binary"),
			createFile: true,
			executable: true,
			wantErr:    false,
		},
		{
			name:       "non-executable file",
			binaryPath: filepath.Join(tmpDir, "non-exec"),
			createFile: true,
			executable: false,
			wantErr:    true,
		},
		{
			name:       "missing file",
			binaryPath: filepath.Join(tmpDir, "missing"),
			createFile: false,
			executable: false,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.createFile {
				mode := os.FileMode(0644)
				if tt.executable {
					mode = 0755
				}
				if err := os.WriteFile(tt.binaryPath, []byte("#!/bin/sh\necho test\n"), mode); err != nil {
					t.Fatalf("Failed to create test file: %v", err)
				}
			}

			installer := &Installer{BinaryPath: tt.binaryPath}

			err := installer.validateBinary()
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBinary() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServiceContent(t *testing.T) {
	requiredFields := []string{
		"[Unit]",
		"[Service]",
		"[Install]",
		"User=steps",
		"Group=steps",
		"ExecStart=/usr/local/bin/count-steps -db /var/lib/count-steps/steps_data.db",
		"WorkingDirectory=/var/lib/count-steps",
		"SyslogIdentifier=count-steps",
		"WantedBy=multi-user.target",
	}

	for _, field := range requiredFields {
		if !strings.Contains(serviceContent, field) {
			t.Errorf("Service file missing required field: %s", field)
		}
	}
}

func TestInstaller_Install_RemoteFlow(t *testing.T) {
	builder := deploy.NewMockCommandBuilder()
	exec := scriptedExecutor("pi.local", builder, map[string]string{
		"test -f /etc/systemd/system/count-steps.service": "not found",
		"id steps":  "not found",
		"is-active": "active",
	})

	installer := &Installer{
		Target:     "pi.local",
		SSHUser:    "steps",
		BinaryPath: writeTestBinary(t),
		exec:       exec,
	}

	if err := installer.Install(); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	for _, want := range []string{
		"useradd --system",
		"usermod -aG dialout steps",
		"mkdir -p /var/lib/count-steps",
		"chown steps:steps /var/lib/count-steps",
		"cat > /tmp/count-steps.service",
		"mv /tmp/count-steps.service /etc/systemd/system/count-steps.service",
		"systemctl daemon-reload",
		"systemctl enable count-steps",
		"systemctl start count-steps",
	} {
		if !ranCommand(builder, want) {
			t.Errorf("Expected command containing %q", want)
		}
	}

	// The binary travels by scp before being moved into the install path.
	if !ranCommand(builder, "scp") {
		t.Error("Expected an scp upload for the binary")
	}
	if !ranCommand(builder, "mv /tmp/count-steps-copy-") {
		t.Error("Expected staged binary moved into place")
	}

	// The systemd unit goes over stdin to the remote cat.
	unitIdx := commandIndex(builder, "cat > /tmp/count-steps.service")
	if unitIdx < 0 {
		t.Fatal("Expected unit file write")
	}
}

func TestInstaller_Install_AlreadyInstalled(t *testing.T) {
	builder := deploy.NewMockCommandBuilder()
	exec := scriptedExecutor("pi.local", builder, map[string]string{
		"test -f /etc/systemd/system/count-steps.service": "exists",
	})

	installer := &Installer{
		Target:     "pi.local",
		BinaryPath: writeTestBinary(t),
		exec:       exec,
	}

	if err := installer.Install(); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if ranCommand(builder, "useradd") {
		t.Error("Expected install to stop before creating the user")
	}
	if ranCommand(builder, "systemctl start") {
		t.Error("Expected install to stop before starting the service")
	}
}

func TestInstaller_Install_DryRun(t *testing.T) {
	builder := deploy.NewMockCommandBuilder()
	exec := deploy.NewExecutor("pi.local", "steps", "", "", true)
	exec.SetBuilder(builder)

	installer := &Installer{
		Target:     "pi.local",
		BinaryPath: writeTestBinary(t),
		DryRun:     true,
		exec:       exec,
	}

	if err := installer.Install(); err != nil {
		t.Fatalf("Dry-run install failed: %v", err)
	}

	if len(builder.Commands) != 0 {
		t.Errorf("Expected no commands executed in dry-run, got %d", len(builder.Commands))
	}
}

func TestInstaller_Install_MissingBinary(t *testing.T) {
	installer := &Installer{
		Target:     "pi.local",
		BinaryPath: filepath.Join(t.TempDir(), "does-not-exist"),
	}

	err := installer.Install()
	if err == nil {
		t.Fatal("Expected error for missing binary")
	}
	if !strings.Contains(err.Error(), "binary validation failed") {
		t.Errorf("Unexpected error: %v", err)
	}
}
