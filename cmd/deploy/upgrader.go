package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/murtazakamran18/count-steps/internal/deploy"
	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// Service management timing constants
const (
	// serviceStopGracePeriod is the time to wait after stopping the service
	// to allow systemd to fully terminate the process
	serviceStopGracePeriod = 2 * time.Second
	// serviceStartGracePeriod is the time to wait after starting the service
	// to allow it to initialize and be ready for health checks
	serviceStartGracePeriod = 3 * time.Second
)

// Upgrader handles upgrading count-steps to a new version
type Upgrader struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	DryRun        bool
	NoBackup      bool

	exec *deploy.Executor
}

func (u *Upgrader) executor() *deploy.Executor {
	if u.exec == nil {
		u.exec = deploy.NewExecutor(u.Target, u.SSHUser, u.SSHKey, u.IdentityAgent, u.DryRun)
	}
	return u.exec
}

// Upgrade performs the upgrade
func (u *Upgrader) Upgrade() error {
	exec := u.executor()

	fmt.Println("Starting upgrade of count-steps...")

	if installed, err := u.checkInstalled(exec); err != nil {
		return fmt.Errorf("failed to check installation: %w", err)
	} else if !installed {
		return fmt.Errorf("count-steps is not installed. Use 'install' command first")
	}

	currentVersion, err := u.getCurrentVersion(exec)
	if err != nil {
		fmt.Printf("Warning: could not determine current version: %v\n", err)
		currentVersion = "unknown"
	}
	fmt.Printf("Current version: %s\n", currentVersion)

	if !u.NoBackup {
		if err := u.backupCurrent(exec); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
	} else {
		fmt.Println("Skipping backup (--no-backup flag set)")
	}

	if err := u.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	if err := u.installNewBinary(exec); err != nil {
		return fmt.Errorf("failed to install new binary: %w", err)
	}

	if err := u.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := u.verifyHealth(exec); err != nil {
		fmt.Println("\n⚠ Warning: Service health check failed!")
		fmt.Println("You may want to rollback using: steps-deploy rollback")
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("\n✓ Upgrade completed successfully!")
	return nil
}

func (u *Upgrader) checkInstalled(exec *deploy.Executor) (bool, error) {
	output, err := exec.Run(fmt.Sprintf("test -f /etc/systemd/system/%s && echo 'exists' || echo 'not found'", serviceFile))
	if err != nil {
		return false, err
	}
	if u.DryRun {
		return true, nil
	}

	return strings.TrimSpace(output) == "exists", nil
}

func (u *Upgrader) getCurrentVersion(exec *deploy.Executor) (string, error) {
	// The service binary logs its version on startup but has no --version
	// flag, so fall back to the install timestamp.
	timeOutput, err := exec.Run(fmt.Sprintf("stat -c %%Y %s 2>/dev/null || echo '0'", installPath))
	if err != nil {
		return "unknown", err
	}
	if ts := strings.TrimSpace(timeOutput); ts != "0" && ts != "" {
		return fmt.Sprintf("installed-%s", ts), nil
	}
	return "unknown", nil
}

func (u *Upgrader) backupCurrent(exec *deploy.Executor) error {
	fmt.Println("Backing up current installation...")

	timestamp := time.Now().Format("20060102-150405")
	backupDir := fmt.Sprintf("%s/backups/%s", dataDir, timestamp)

	_, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s", backupDir))
	if err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	monitoring.Debugf("backing up binary from %s to %s/count-steps", installPath, backupDir)
	output, err := exec.RunSudo(fmt.Sprintf("cp %s %s/count-steps", installPath, backupDir))
	if err != nil {
		return fmt.Errorf("failed to backup binary to %s: %w (output: %s)", backupDir, err, output)
	}

	monitoring.Debugf("checking for database at %s", dbPath)
	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbPath))
	if err == nil && strings.TrimSpace(checkOutput) == "exists" {
		output, err = exec.RunSudo(fmt.Sprintf("cp %s %s/steps_data.db", dbPath, backupDir))
		if err != nil {
			fmt.Printf("Warning: could not backup database: %v (output: %s)\n", err, output)
		}
	}

	// The backup dir is root-owned, so stage the note in /tmp and move it.
	versionInfo := fmt.Sprintf("Backup created: %s\nBinary: %s\n", timestamp, installPath)
	if err := exec.WriteFile("/tmp/count-steps-backup-note.txt", versionInfo); err != nil {
		fmt.Printf("Warning: could not write version info: %v\n", err)
	} else if _, err := exec.RunSudo(fmt.Sprintf("mv /tmp/count-steps-backup-note.txt %s", filepath.Join(backupDir, "version.txt"))); err != nil {
		fmt.Printf("Warning: could not write version info: %v\n", err)
	}

	fmt.Printf("  ✓ Backup saved to: %s\n", backupDir)
	return nil
}

func (u *Upgrader) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s", serviceFile))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStopGracePeriod.Seconds())))

	fmt.Println("  ✓ Service stopped")
	return nil
}

func (u *Upgrader) installNewBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing new binary from: %s\n", u.BinaryPath)

	tempPath := "/tmp/count-steps-new"
	if err := exec.CopyFile(u.BinaryPath, tempPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("mv %s %s", tempPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to move binary: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown root:root %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chmod 0755 %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ New binary installed")
	return nil
}

func (u *Upgrader) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceFile))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStartGracePeriod.Seconds())))

	fmt.Println("  ✓ Service started")
	return nil
}

func (u *Upgrader) verifyHealth(exec *deploy.Executor) error {
	fmt.Println("Verifying service health...")
	if u.DryRun {
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceFile))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service is not active")
	}

	fmt.Println("  ✓ Service is running")
	return nil
}
