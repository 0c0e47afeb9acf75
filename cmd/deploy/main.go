// steps-deploy installs and manages the count-steps service on local or
// remote hosts over SSH.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/murtazakamran18/count-steps/internal/deploy"
	"github.com/murtazakamran18/count-steps/internal/monitoring"
	"github.com/murtazakamran18/count-steps/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "install":
		handleInstall(args)
	case "upgrade":
		handleUpgrade(args)
	case "status":
		handleStatus(args)
	case "health":
		handleHealth(args)
	case "rollback":
		handleRollback(args)
	case "backup":
		handleBackup(args)
	case "version":
		fmt.Printf("steps-deploy %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`steps-deploy - Deployment manager for count-steps

Usage: steps-deploy <command> [options]

Commands:
  install    Install the count-steps service on a host
  upgrade    Upgrade count-steps to a newer version
  status     Check service status
  health     Perform health check on running service
  rollback   Rollback to previous version
  backup     Pull a backup of the binary, database and service file
  version    Show steps-deploy version
  help       Show this help message

Common Flags:
  --target <host>      Target host (default: localhost)
                       Can be a hostname, IP, or SSH config host alias
  --ssh-user <user>    SSH user for remote deployment
                       Defaults to ~/.ssh/config or current user
  --ssh-key <path>     SSH private key path
                       Defaults to ~/.ssh/config
  --dry-run            Show what would be done without executing
  --debug              Enable debug logging

SSH Config Support:
  steps-deploy automatically reads ~/.ssh/config for host configuration.
  If a host is defined in your SSH config, the tool will use:
    - HostName (IP or domain)
    - User
    - IdentityFile (SSH key)

  Command-line flags override SSH config values.

Examples:
  # Install locally
  steps-deploy install --binary ./count-steps-linux-arm64

  # Install using SSH config host alias
  steps-deploy install --target mypi --binary ./count-steps-linux-arm64

  # Install on remote Pi with explicit credentials
  steps-deploy install --target pi@192.168.1.100 --ssh-key ~/.ssh/id_rsa --binary ./count-steps-linux-arm64

  # Check status using SSH config
  steps-deploy status --target mypi

  # Upgrade local installation
  steps-deploy upgrade --binary ./count-steps-linux-arm64

  # Health check on remote host
  steps-deploy health --target mypi`)
}

// resolveTarget merges ~/.ssh/config with the common flags and falls back to
// the current user. Exits on a config parse failure, matching the other
// handlers' error style.
func resolveTarget(target, sshUser, sshKey string) (string, string, string, string) {
	host, user, key, identityAgent, err := deploy.ResolveSSHTarget(target, sshUser, sshKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve SSH config: %v\n", err)
		os.Exit(1)
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	return host, user, key, identityAgent
}

func handleInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host for installation")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to count-steps binary (required)")
	dbPath := fs.String("db-path", "", "Path to existing database to migrate")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the count-steps binary (e.g., --binary ./count-steps-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	installer := &Installer{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
		BinaryPath:    *binaryPath,
		DBPath:        *dbPath,
		DryRun:        *dryRun,
	}

	if err := installer.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "Installation failed: %v\n", err)
		os.Exit(1)
	}
}

func handleUpgrade(args []string) {
	fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to new count-steps binary (required)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	noBackup := fs.Bool("no-backup", false, "Skip backup before upgrade")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the count-steps binary (e.g., --binary ./count-steps-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	upgrader := &Upgrader{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
		BinaryPath:    *binaryPath,
		DryRun:        *dryRun,
		NoBackup:      *noBackup,
	}

	if err := upgrader.Upgrade(); err != nil {
		fmt.Fprintf(os.Stderr, "Upgrade failed: %v\n", err)
		os.Exit(1)
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
	}

	status, err := monitor.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(status)
}

func handleHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	apiPort := fs.Int("api-port", 8080, "API server port")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
		APIPort:       *apiPort,
	}

	health, err := monitor.CheckHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}

	if !health.Healthy {
		fmt.Printf("Service is UNHEALTHY: %s\n%s\n", health.Message, health.Details)
		os.Exit(1)
	}

	fmt.Printf("Service is HEALTHY\n%s\n", health.Details)
}

func handleRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	rollback := &Rollback{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
		DryRun:        *dryRun,
	}

	if err := rollback.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		os.Exit(1)
	}
}

func handleBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	outputDir := fs.String("output", ".", "Output directory for backup")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	monitoring.SetDebug(*debug)

	host, user, key, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	backup := &Backup{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: identityAgent,
		OutputDir:     *outputDir,
	}

	if err := backup.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Backup failed: %v\n", err)
		os.Exit(1)
	}
}
