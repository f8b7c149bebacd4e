package driverctl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SSHHost is the part of an ssh_config Host block needed to reach the
// driver host.
type SSHHost struct {
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          string
}

// ParseSSHConfig returns the settings for host from an ssh_config file, or
// nil when the file or a matching Host block does not exist.
func ParseSSHConfig(host, configPath string) (*SSHHost, error) {
	home, _ := os.UserHomeDir()
	if configPath == "" {
		if home == "" {
			return nil, nil
		}
		configPath = filepath.Join(home, ".ssh", "config")
	}
	f, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer f.Close()
	return parseSSHConfig(host, f, home)
}

func expandHome(value, home string) string {
	if strings.HasPrefix(value, "~/") && home != "" {
		return filepath.Join(home, value[2:])
	}
	return value
}

func parseSSHConfig(host string, r io.Reader, home string) (*SSHHost, error) {
	var cfg SSHHost
	matching, found := false, false

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
		value := strings.Trim(strings.Join(parts[1:], " "), `"`)

		if keyword == "host" {
			if matching {
				break
			}
			for _, pattern := range parts[1:] {
				if matchHost(host, pattern) {
					matching, found = true, true
				}
			}
			continue
		}
		if !matching {
			continue
		}
		switch keyword {
		case "hostname":
			cfg.HostName = value
		case "user":
			cfg.User = value
		case "identityfile":
			cfg.IdentityFile = expandHome(value, home)
		case "identityagent":
			cfg.IdentityAgent = expandHome(value, home)
		case "port":
			cfg.Port = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}

// matchHost supports the * and ? wildcards of ssh_config Host patterns.
func matchHost(host, pattern string) bool {
	ok, err := path.Match(pattern, host)
	return err == nil && ok
}
