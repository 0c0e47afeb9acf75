package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

// Installer handles installation of the count-steps service
type Installer struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	DBPath        string
	DryRun        bool

	exec *deploy.Executor
}

const (
	serviceName = "count-steps"
	installPath = "/usr/local/bin/count-steps"
	dataDir     = "/var/lib/count-steps"
	dbPath      = "/var/lib/count-steps/steps_data.db"
	serviceFile = "count-steps.service"
	serviceUser = "steps"

	serviceContent = `[Unit]
Description=count-steps step detection service
After=network.target

[Service]
User=steps
Group=steps
Type=simple
ExecStart=/usr/local/bin/count-steps -db /var/lib/count-steps/steps_data.db
WorkingDirectory=/var/lib/count-steps
Restart=on-failure
RestartSec=5
StandardOutput=journal
StandardError=journal
SyslogIdentifier=count-steps

[Install]
WantedBy=multi-user.target
`
)

func (i *Installer) executor() *deploy.Executor {
	if i.exec == nil {
		i.exec = deploy.NewExecutor(i.Target, i.SSHUser, i.SSHKey, i.IdentityAgent, i.DryRun)
	}
	return i.exec
}

// Install performs the installation
func (i *Installer) Install() error {
	exec := i.executor()

	fmt.Println("Starting installation of count-steps...")

	if err := i.validateBinary(); err != nil {
		return fmt.Errorf("binary validation failed: %w", err)
	}

	if installed, err := i.checkExisting(exec); err != nil {
		return fmt.Errorf("failed to check existing installation: %w", err)
	} else if installed {
		fmt.Println("count-steps is already installed. Use 'upgrade' command to update.")
		return nil
	}

	if err := i.createServiceUser(exec); err != nil {
		return fmt.Errorf("failed to create service user: %w", err)
	}

	if err := i.createDataDirectory(exec); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := i.installBinary(exec); err != nil {
		return fmt.Errorf("failed to install binary: %w", err)
	}

	if err := i.installService(exec); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	if i.DBPath != "" {
		if err := i.migrateDatabase(exec); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	if err := i.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Println("\n✓ Installation completed successfully!")
	fmt.Println("\nUseful commands:")
	fmt.Println("  Check status:  steps-deploy status")
	fmt.Println("  Health check:  steps-deploy health")
	fmt.Println("  View logs:     sudo journalctl -u count-steps.service -f")

	return nil
}

func (i *Installer) validateBinary() error {
	fmt.Printf("Validating binary: %s\n", i.BinaryPath)

	info, err := os.Stat(i.BinaryPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("binary not found: %s", i.BinaryPath)
	}
	if err != nil {
		return err
	}

	if info.Mode()&0111 == 0 {
		return fmt.Errorf("binary is not executable: %s", i.BinaryPath)
	}

	fmt.Println("  ✓ Binary validated")
	return nil
}

func (i *Installer) checkExisting(exec *deploy.Executor) (bool, error) {
	fmt.Println("Checking for existing installation...")

	output, err := exec.Run(fmt.Sprintf("test -f /etc/systemd/system/%s && echo 'exists' || echo 'not found'", serviceFile))
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(output) == "exists" {
		return true, nil
	}

	fmt.Println("  ✓ No existing installation found")
	return false, nil
}

func (i *Installer) createServiceUser(exec *deploy.Executor) error {
	fmt.Printf("Creating service user '%s'...\n", serviceUser)

	output, err := exec.Run(fmt.Sprintf("id %s 2>/dev/null && echo 'exists' || echo 'not found'", serviceUser))
	if err != nil {
		return err
	}

	if strings.TrimSpace(output) == "exists" {
		fmt.Printf("  ✓ User '%s' already exists\n", serviceUser)
	} else {
		_, err = exec.RunSudo(fmt.Sprintf("useradd --system --no-create-home --shell /usr/sbin/nologin %s", serviceUser))
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		fmt.Printf("  ✓ User '%s' created\n", serviceUser)
	}

	// The bridge arrives on a serial device, so the service user needs the
	// dialout group to open /dev/ttyUSB*.
	_, err = exec.RunSudo(fmt.Sprintf("usermod -aG dialout %s", serviceUser))
	if err != nil {
		return fmt.Errorf("failed to grant serial port access: %w", err)
	}
	fmt.Println("  ✓ Serial port access granted (dialout)")

	return nil
}

func (i *Installer) createDataDirectory(exec *deploy.Executor) error {
	fmt.Printf("Creating data directory: %s\n", dataDir)

	_, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s", dataDir))
	if err != nil {
		return err
	}
	_, err = exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, dataDir))
	if err != nil {
		return err
	}

	fmt.Printf("  ✓ Data directory created\n")
	return nil
}

func (i *Installer) installBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing binary to %s...\n", installPath)

	if err := exec.CopyFile(i.BinaryPath, installPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown root:root %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}
	_, err = exec.RunSudo(fmt.Sprintf("chmod 0755 %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary installed")
	return nil
}

func (i *Installer) installService(exec *deploy.Executor) error {
	fmt.Println("Installing systemd service...")

	tempFile := "/tmp/" + serviceFile
	if err := exec.WriteFile(tempFile, serviceContent); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("mv %s /etc/systemd/system/%s", tempFile, serviceFile))
	if err != nil {
		return fmt.Errorf("failed to install service file: %w", err)
	}

	_, err = exec.RunSudo("systemctl daemon-reload")
	if err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("systemctl enable %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to enable service: %w", err)
	}

	fmt.Println("  ✓ Service installed and enabled")
	return nil
}

func (i *Installer) migrateDatabase(exec *deploy.Executor) error {
	fmt.Printf("Migrating database from: %s\n", i.DBPath)

	dbDest := filepath.Join(dataDir, "steps_data.db")

	if err := exec.CopyFile(i.DBPath, dbDest); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, dbDest))
	if err != nil {
		return fmt.Errorf("failed to set database ownership: %w", err)
	}

	fmt.Println("  ✓ Database migrated")
	return nil
}

func (i *Installer) startService(exec *deploy.Executor) error {
	fmt.Printf("Starting %s service...\n", serviceName)

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	if i.DryRun {
		return nil
	}

	exec.Run("sleep 2")

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service failed to start properly")
	}

	fmt.Println("  ✓ Service started successfully")
	return nil
}
