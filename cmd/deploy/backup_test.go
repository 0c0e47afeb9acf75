package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

func TestBackup_Execute_Remote(t *testing.T) {
	builder := deploy.NewMockCommandBuilder()
	exec := scriptedExecutor("pi.local", builder, map[string]string{
		"test -f /var/lib/count-steps/steps_data.db": "exists",
		"is-active": "active",
	})

	outputDir := t.TempDir()
	b := &Backup{
		Target:    "pi.local",
		SSHUser:   "steps",
		OutputDir: outputDir,
		exec:      exec,
	}

	if err := b.Execute(); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	// The backup directory lands on this machine, not the target.
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected one backup directory, got %d", len(entries))
	}
	backupDir := filepath.Join(outputDir, entries[0].Name())
	if !strings.HasPrefix(entries[0].Name(), "count-steps-backup-") {
		t.Errorf("Unexpected backup directory name: %s", entries[0].Name())
	}

	readme, err := os.ReadFile(filepath.Join(backupDir, "README.txt"))
	if err != nil {
		t.Fatalf("Expected README.txt: %v", err)
	}
	for _, want := range []string{"count-steps Backup", "Target: pi.local", "Service Status: active"} {
		if !strings.Contains(string(readme), want) {
			t.Errorf("README missing %q:\n%s", want, readme)
		}
	}

	// Each file is staged world-readable on the target, pulled by scp and
	// cleaned up.
	for _, staged := range []string{
		"cp /usr/local/bin/count-steps /tmp/count-steps.pull",
		"cp /var/lib/count-steps/steps_data.db /tmp/steps_data.db.pull",
		"cp /etc/systemd/system/count-steps.service /tmp/count-steps.service.pull",
		"chmod 644 /tmp/count-steps.pull",
		"rm -f /tmp/count-steps.pull",
	} {
		if !ranCommand(builder, staged) {
			t.Errorf("Expected command containing %q", staged)
		}
	}

	scpPulls := 0
	for _, c := range builder.Commands {
		if c.Name != "scp" {
			continue
		}
		scpPulls++
		n := len(c.Args)
		if n < 2 || !strings.HasPrefix(c.Args[n-2], "steps@pi.local:/tmp/") {
			t.Errorf("Expected pull from staged remote path, got: %v", c.Args)
		}
		if !strings.HasPrefix(c.Args[n-1], backupDir) {
			t.Errorf("Expected pull into %s, got: %v", backupDir, c.Args)
		}
	}
	if scpPulls != 3 {
		t.Errorf("Expected 3 scp pulls (binary, database, unit), got %d", scpPulls)
	}
}

func TestBackup_Execute_NoDatabase(t *testing.T) {
	builder := deploy.NewMockCommandBuilder()
	exec := scriptedExecutor("pi.local", builder, map[string]string{
		"test -f /var/lib/count-steps/steps_data.db": "missing",
	})

	b := &Backup{
		Target:    "pi.local",
		OutputDir: t.TempDir(),
		exec:      exec,
	}

	if err := b.Execute(); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	if ranCommand(builder, "cp /var/lib/count-steps/steps_data.db") {
		t.Error("Expected no database staging when the file is missing")
	}
}
