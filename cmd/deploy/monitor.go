package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/murtazakamran18/count-steps/internal/deploy"
)

// Monitor handles status checking and health monitoring
type Monitor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	APIPort       int

	exec *deploy.Executor
}

// HealthStatus represents the health check result
type HealthStatus struct {
	Healthy bool
	Message string
	Details string
}

// pipelineStatus mirrors the fields of /api/pipeline/status this tool
// reports on.
type pipelineStatus struct {
	SamplesTotal int64  `json:"samples_total"`
	StepsTotal   int64  `json:"steps_total"`
	LastSampleMS int64  `json:"last_sample_ms"`
	Source       string `json:"source"`
}

func (m *Monitor) executor() *deploy.Executor {
	if m.exec == nil {
		m.exec = deploy.NewExecutor(m.Target, m.SSHUser, m.SSHKey, m.IdentityAgent, false)
	}
	return m.exec
}

// GetStatus returns the current service status
func (m *Monitor) GetStatus() (string, error) {
	exec := m.executor()

	output, err := exec.RunSudo(fmt.Sprintf("systemctl status %s --no-pager", serviceFile))
	if err != nil {
		return "", fmt.Errorf("failed to get service status: %w", err)
	}

	return output, nil
}

// CheckHealth performs a comprehensive health check: systemd state, recent
// log errors, the HTTP API, pipeline liveness and the database file.
func (m *Monitor) CheckHealth() (*HealthStatus, error) {
	exec := m.executor()

	health := &HealthStatus{Healthy: true}
	var checks []string

	// Check 1: Service is running
	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceFile))
	if err != nil || strings.TrimSpace(output) != "active" {
		health.Healthy = false
		health.Message = "Service is not running"
		checks = append(checks, "✗ Service: NOT RUNNING")
	} else {
		checks = append(checks, "✓ Service: RUNNING")
	}

	// Check 2: Service has been up for some time (not crash-looping)
	uptimeOutput, err := exec.RunSudo(fmt.Sprintf("systemctl show %s --property=ActiveEnterTimestamp --value", serviceFile))
	if err == nil {
		checks = append(checks, fmt.Sprintf("✓ Started: %s", strings.TrimSpace(uptimeOutput)))
	}

	// Check 3: Check for recent errors in logs
	logsOutput, err := exec.RunSudo(fmt.Sprintf("journalctl -u %s -n 20 --no-pager", serviceFile))
	if err == nil {
		errorCount := strings.Count(strings.ToLower(logsOutput), "error")
		if errorCount > 5 {
			health.Healthy = false
			health.Message = fmt.Sprintf("Too many errors in logs (%d)", errorCount)
			checks = append(checks, fmt.Sprintf("✗ Logs: %d errors found", errorCount))
		} else {
			checks = append(checks, fmt.Sprintf("✓ Logs: %d errors (acceptable)", errorCount))
		}
	}

	// Check 4: HTTP API and pipeline liveness
	m.checkAPI(health, &checks)

	// Check 5: Database file exists
	dbCheck, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbPath))
	if err == nil && strings.TrimSpace(dbCheck) == "exists" {
		sizeOutput, err := exec.RunSudo(fmt.Sprintf("du -h %s | cut -f1", dbPath))
		if err == nil {
			checks = append(checks, fmt.Sprintf("✓ Database: %s", strings.TrimSpace(sizeOutput)))
		} else {
			checks = append(checks, "✓ Database: EXISTS")
		}
	} else {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "Database file not found"
		}
		checks = append(checks, "✗ Database: MISSING")
	}

	health.Details = strings.Join(checks, "\n")

	if health.Healthy {
		health.Message = "All checks passed"
	}

	return health, nil
}

func (m *Monitor) checkAPI(health *HealthStatus, checks *[]string) {
	apiHost := m.apiHost()
	apiPort := m.APIPort
	if apiPort == 0 {
		apiPort = 8080
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s:%d/health", apiHost, apiPort))
	if err != nil {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "API endpoint not responding"
		}
		*checks = append(*checks, "✗ API: NOT RESPONDING")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		health.Healthy = false
		if health.Message == "" {
			health.Message = fmt.Sprintf("API returned status %d", resp.StatusCode)
		}
		*checks = append(*checks, fmt.Sprintf("✗ API: Status %d", resp.StatusCode))
		return
	}
	*checks = append(*checks, "✓ API: RESPONDING")

	// Pipeline counters tell us whether samples are still flowing.
	statusResp, err := client.Get(fmt.Sprintf("http://%s:%d/api/pipeline/status", apiHost, apiPort))
	if err != nil {
		return
	}
	defer statusResp.Body.Close()

	var status pipelineStatus
	if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
		return
	}

	*checks = append(*checks, fmt.Sprintf("  Source: %s", status.Source))
	*checks = append(*checks, fmt.Sprintf("  Samples: %d, Steps: %d", status.SamplesTotal, status.StepsTotal))

	if status.LastSampleMS > 0 {
		age := time.Since(time.UnixMilli(status.LastSampleMS))
		if age > 5*time.Minute {
			*checks = append(*checks, fmt.Sprintf("  ⚠ Last sample: %s ago (stale)", age.Round(time.Second)))
		} else {
			*checks = append(*checks, fmt.Sprintf("  Last sample: %s ago", age.Round(time.Second)))
		}
	} else if status.Source != "disabled" {
		*checks = append(*checks, "  ⚠ No samples received yet")
	}
}

// apiHost strips any user@ prefix off the target for HTTP requests.
func (m *Monitor) apiHost() string {
	host := m.Target
	if host == "" {
		return "localhost"
	}
	if parts := strings.Split(host, "@"); len(parts) > 1 {
		return parts[1]
	}
	return host
}
