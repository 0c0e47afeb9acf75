package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

// Backup pulls the binary, database and service file from the target into a
// timestamped directory on this machine.
type Backup struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	OutputDir     string

	exec *deploy.Executor
}

func (b *Backup) executor() *deploy.Executor {
	if b.exec == nil {
		b.exec = deploy.NewExecutor(b.Target, b.SSHUser, b.SSHKey, b.IdentityAgent, false)
	}
	return b.exec
}

// Execute performs the backup
func (b *Backup) Execute() error {
	exec := b.executor()

	fmt.Println("Starting backup of count-steps...")

	timestamp := time.Now().Format("20060102-150405")
	backupName := fmt.Sprintf("count-steps-backup-%s", timestamp)

	localBackupDir := filepath.Join(b.OutputDir, backupName)
	if err := os.MkdirAll(localBackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	fmt.Printf("Backup directory: %s\n", localBackupDir)

	if err := b.backupBinary(exec, localBackupDir); err != nil {
		return fmt.Errorf("failed to backup binary: %w", err)
	}

	if err := b.backupDatabase(exec, localBackupDir); err != nil {
		fmt.Printf("Warning: could not backup database: %v\n", err)
	}

	if err := b.backupServiceFile(exec, localBackupDir); err != nil {
		fmt.Printf("Warning: could not backup service file: %v\n", err)
	}

	if err := b.createMetadata(exec, localBackupDir, timestamp); err != nil {
		fmt.Printf("Warning: could not create metadata: %v\n", err)
	}

	fmt.Printf("\n✓ Backup completed successfully!\n")
	fmt.Printf("Backup saved to: %s\n", localBackupDir)

	return nil
}

// pullFile stages a root-owned file on the target as world-readable, copies
// it here, then removes the staging copy.
func (b *Backup) pullFile(exec *deploy.Executor, src, dest string) error {
	staging := "/tmp/" + filepath.Base(dest) + ".pull"

	if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s", src, staging)); err != nil {
		return err
	}
	defer exec.RunSudo(fmt.Sprintf("rm -f %s", staging))

	if _, err := exec.RunSudo(fmt.Sprintf("chmod 644 %s", staging)); err != nil {
		return err
	}

	return exec.CopyFileFrom(staging, dest)
}

func (b *Backup) backupBinary(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up binary...")

	if err := b.pullFile(exec, installPath, filepath.Join(backupDir, "count-steps")); err != nil {
		return err
	}

	fmt.Println("  ✓ Binary backed up")
	return nil
}

func (b *Backup) backupDatabase(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up database...")

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbPath))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		fmt.Println("  ⊘ No database found")
		return nil
	}

	dbDest := filepath.Join(backupDir, "steps_data.db")
	if err := b.pullFile(exec, dbPath, dbDest); err != nil {
		return err
	}

	if info, err := os.Stat(dbDest); err == nil {
		fmt.Printf("  ✓ Database backed up (%.1f MB)\n", float64(info.Size())/(1024*1024))
	} else {
		fmt.Println("  ✓ Database backed up")
	}

	return nil
}

func (b *Backup) backupServiceFile(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up service file...")

	src := "/etc/systemd/system/" + serviceFile
	if err := b.pullFile(exec, src, filepath.Join(backupDir, serviceFile)); err != nil {
		return err
	}

	fmt.Println("  ✓ Service file backed up")
	return nil
}

func (b *Backup) createMetadata(exec *deploy.Executor, backupDir, timestamp string) error {
	fmt.Println("Creating backup metadata...")

	statusOutput, _ := exec.RunSudo(fmt.Sprintf("systemctl is-active %s 2>&1 || echo 'unknown'", serviceFile))

	metadata := fmt.Sprintf(`count-steps Backup
==================
Timestamp: %s
Target: %s
Service Status: %s

Files included:
- count-steps (binary)
- steps_data.db (database)
- count-steps.service (systemd service file)

To restore this backup:
1. Stop the service: sudo systemctl stop count-steps.service
2. Restore binary: sudo cp count-steps /usr/local/bin/count-steps
3. Restore database: sudo cp steps_data.db /var/lib/count-steps/steps_data.db
4. Restore service: sudo cp count-steps.service /etc/systemd/system/
5. Reload systemd: sudo systemctl daemon-reload
6. Start service: sudo systemctl start count-steps.service
`, timestamp, b.Target, strings.TrimSpace(statusOutput))

	metadataFile := filepath.Join(backupDir, "README.txt")
	if err := os.WriteFile(metadataFile, []byte(metadata), 0644); err != nil {
		return err
	}

	fmt.Println("  ✓ Metadata created")
	return nil
}
