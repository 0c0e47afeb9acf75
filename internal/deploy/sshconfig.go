package deploy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SSHConfig is the subset of ~/.ssh/config this tool honors for a host.
type SSHConfig struct {
	Host          string
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          string
}

// ParseSSHConfig reads ~/.ssh/config for the given host. A missing config
// file or an absent host block returns (nil, nil): the caller falls back to
// its flags.
func ParseSSHConfig(host string) (*SSHConfig, error) {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
	}
	return ParseSSHConfigFrom(host, filepath.Join(homeDir, ".ssh", "config"), homeDir)
}

// ParseSSHConfigFrom parses the named SSH config file for the given host.
// homeDir expands ~ in IdentityFile/IdentityAgent values.
func ParseSSHConfigFrom(host, configPath, homeDir string) (*SSHConfig, error) {
	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer file.Close()

	return parseSSHConfigReader(host, file, homeDir)
}

func parseSSHConfigReader(host string, r io.Reader, homeDir string) (*SSHConfig, error) {
	config := &SSHConfig{Host: host}
	inMatchingHost := false
	foundMatch := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		keyword := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		if keyword == "host" {
			// A new Host block ends the matching one.
			if inMatchingHost {
				return config, nil
			}
			inMatchingHost = MatchHost(host, parts[1])
			if inMatchingHost {
				foundMatch = true
			}
			continue
		}
		if !inMatchingHost {
			continue
		}

		switch keyword {
		case "hostname":
			config.HostName = value
		case "user":
			config.User = value
		case "identityfile":
			config.IdentityFile = expandHome(value, homeDir)
		case "identityagent":
			config.IdentityAgent = expandHome(strings.Trim(value, `"`), homeDir)
		case "port":
			config.Port = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}

	if !foundMatch {
		return nil, nil
	}
	return config, nil
}

func expandHome(value, homeDir string) string {
	if strings.HasPrefix(value, "~/") && homeDir != "" {
		return filepath.Join(homeDir, value[2:])
	}
	return value
}

// MatchHost checks if the target host matches the SSH config host pattern.
// TODO: support * and ? patterns the way ssh_config(5) does.
func MatchHost(target, pattern string) bool {
	return target == pattern
}

// ResolveSSHTarget resolves connection details for a target, merging
// ~/.ssh/config with explicit flags. Flags win over config values; a
// user embedded in the target (user@host) wins over both.
// Returns hostname, user, key path and identity agent.
func ResolveSSHTarget(target, user, keyPath string) (string, string, string, string, error) {
	targetHost := target
	targetUser := user
	if strings.Contains(target, "@") {
		parts := strings.SplitN(target, "@", 2)
		targetUser = parts[0]
		targetHost = parts[1]
	}

	config, err := ParseSSHConfig(targetHost)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to parse SSH config: %w", err)
	}
	if config == nil {
		return targetHost, targetUser, keyPath, "", nil
	}

	finalHost := targetHost
	if config.HostName != "" {
		finalHost = config.HostName
	}
	finalUser := targetUser
	if finalUser == "" {
		finalUser = config.User
	}
	finalKey := keyPath
	if finalKey == "" {
		finalKey = config.IdentityFile
	}

	return finalHost, finalUser, finalKey, config.IdentityAgent, nil
}
