package main

import (
	"fmt"
	"strings"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

// Rollback handles rolling back to a previous version
type Rollback struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool

	exec *deploy.Executor
}

func (r *Rollback) executor() *deploy.Executor {
	if r.exec == nil {
		r.exec = deploy.NewExecutor(r.Target, r.SSHUser, r.SSHKey, r.IdentityAgent, r.DryRun)
	}
	return r.exec
}

// Execute performs the rollback
func (r *Rollback) Execute() error {
	exec := r.executor()

	fmt.Println("Starting rollback to previous version...")

	backupDir, err := r.findLatestBackup(exec)
	if err != nil {
		return fmt.Errorf("failed to find backup: %w", err)
	}

	fmt.Printf("Found backup: %s\n", backupDir)

	if !r.DryRun {
		fmt.Print("Are you sure you want to rollback? This will stop the service and restore the backup. [y/N]: ")
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	if err := r.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	if err := r.restoreBinary(exec, backupDir); err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	if err := r.restoreDatabase(exec, backupDir); err != nil {
		fmt.Printf("Warning: could not restore database: %v\n", err)
	}

	if err := r.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := r.verifyHealth(exec); err != nil {
		return fmt.Errorf("health check failed after rollback: %w", err)
	}

	fmt.Println("\n✓ Rollback completed successfully!")
	return nil
}

func (r *Rollback) findLatestBackup(exec *deploy.Executor) (string, error) {
	fmt.Println("Looking for backups...")

	output, err := exec.RunSudo(fmt.Sprintf("ls -1t %s/backups/ 2>/dev/null | head -1", dataDir))
	if err != nil {
		return "", fmt.Errorf("no backups found")
	}
	if r.DryRun {
		return fmt.Sprintf("%s/backups/<latest>", dataDir), nil
	}

	backupName := strings.TrimSpace(output)
	if backupName == "" {
		return "", fmt.Errorf("no backups found in %s/backups/", dataDir)
	}

	backupDir := fmt.Sprintf("%s/backups/%s", dataDir, backupName)

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s/count-steps && echo 'exists' || echo 'missing'", backupDir))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		return "", fmt.Errorf("backup directory exists but binary not found: %s", backupDir)
	}

	return backupDir, nil
}

func (r *Rollback) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s", serviceFile))
	if err != nil {
		return err
	}

	exec.Run("sleep 2")
	fmt.Println("  ✓ Service stopped")
	return nil
}

func (r *Rollback) restoreBinary(exec *deploy.Executor, backupDir string) error {
	fmt.Printf("Restoring binary from: %s\n", backupDir)

	_, err := exec.RunSudo(fmt.Sprintf("cp %s/count-steps %s", backupDir, installPath))
	if err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown root:root %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}
	_, err = exec.RunSudo(fmt.Sprintf("chmod 0755 %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary restored")
	return nil
}

func (r *Rollback) restoreDatabase(exec *deploy.Executor, backupDir string) error {
	dbBackup := fmt.Sprintf("%s/steps_data.db", backupDir)

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbBackup))
	if err != nil || (!r.DryRun && strings.TrimSpace(checkOutput) != "exists") {
		fmt.Println("  ⊘ No database backup found, keeping current database")
		return nil
	}

	fmt.Print("Database backup found. Restore it? This will replace current data. [y/N]: ")
	var confirm string
	if !r.DryRun {
		fmt.Scanln(&confirm)
	} else {
		confirm = "n"
	}

	if strings.ToLower(confirm) != "y" {
		fmt.Println("  ⊘ Keeping current database")
		return nil
	}

	fmt.Println("  Restoring database...")

	_, err = exec.RunSudo(fmt.Sprintf("cp %s %s", dbBackup, dbPath))
	if err != nil {
		return err
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, dbPath))
	if err != nil {
		return err
	}

	fmt.Println("  ✓ Database restored")
	return nil
}

func (r *Rollback) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceFile))
	if err != nil {
		return err
	}

	exec.Run("sleep 3")
	fmt.Println("  ✓ Service started")
	return nil
}

func (r *Rollback) verifyHealth(exec *deploy.Executor) error {
	fmt.Println("Verifying service health...")
	if r.DryRun {
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceFile))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service is not active")
	}

	fmt.Println("  ✓ Service is running")
	return nil
}
