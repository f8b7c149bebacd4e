package driverctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/clayfab/internal/monitoring"
)

// DefaultContainer is the name of the robot driver container.
const DefaultContainer = "abb-driver"

// Config names the container and where it runs. An empty Host or localhost
// means this machine.
type Config struct {
	Container     string
	Host          string
	SSHUser       string
	SSHKey        string
	SSHConfigPath string
	DryRun        bool
}

// Restarter runs docker commands against the driver container.
type Restarter struct {
	Container     string
	Host          string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	Port          string
	DryRun        bool

	builder CommandBuilder
}

// NewRestarter resolves remote hosts through the SSH config. A nil builder
// runs real commands.
func NewRestarter(cfg Config, builder CommandBuilder) (*Restarter, error) {
	if builder == nil {
		builder = NewRealCommandBuilder()
	}
	r := &Restarter{
		Container: cfg.Container,
		Host:      cfg.Host,
		SSHUser:   cfg.SSHUser,
		SSHKey:    cfg.SSHKey,
		DryRun:    cfg.DryRun,
		builder:   builder,
	}
	if r.Container == "" {
		r.Container = DefaultContainer
	}
	if r.IsLocal() {
		return r, nil
	}

	if user, host, ok := strings.Cut(r.Host, "@"); ok {
		r.SSHUser, r.Host = user, host
	}
	sshCfg, err := ParseSSHConfig(r.Host, cfg.SSHConfigPath)
	if err != nil {
		return nil, err
	}
	if sshCfg != nil {
		if sshCfg.HostName != "" {
			r.Host = sshCfg.HostName
		}
		if r.SSHUser == "" {
			r.SSHUser = sshCfg.User
		}
		if r.SSHKey == "" {
			r.SSHKey = sshCfg.IdentityFile
		}
		r.IdentityAgent = sshCfg.IdentityAgent
		r.Port = sshCfg.Port
	}
	return r, nil
}

// IsLocal reports whether docker runs on this machine.
func (r *Restarter) IsLocal() bool {
	return r.Host == "" || r.Host == "localhost" || r.Host == "127.0.0.1"
}

// command wraps a docker invocation in ssh for remote hosts.
func (r *Restarter) command(dockerArgs ...string) (string, []string) {
	if r.IsLocal() {
		return "docker", dockerArgs
	}
	var args []string
	if r.SSHKey != "" {
		args = append(args, "-i", r.SSHKey)
	}
	if r.IdentityAgent != "" {
		args = append(args, "-o", "IdentityAgent="+r.IdentityAgent)
	}
	if r.Port != "" {
		args = append(args, "-p", r.Port)
	}
	args = append(args, "-o", "BatchMode=yes", "-o", "LogLevel=ERROR")
	target := r.Host
	if r.SSHUser != "" {
		target = r.SSHUser + "@" + r.Host
	}
	args = append(args, target, "docker "+strings.Join(dockerArgs, " "))
	return "ssh", args
}

func (r *Restarter) run(ctx context.Context, dockerArgs ...string) (string, error) {
	name, args := r.command(dockerArgs...)
	if r.DryRun {
		monitoring.Logf("[DRY-RUN] Would execute: %s %s", name, strings.Join(args, " "))
		return "", nil
	}
	monitoring.Debugf("driverctl: executing %s %v (local=%v)", name, args, r.IsLocal())
	out, err := r.builder.BuildCommand(ctx, name, args...).Run()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(dockerArgs, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// RestartContainer restarts the driver container.
func (r *Restarter) RestartContainer(ctx context.Context) error {
	monitoring.Logf("Restarting container %s", r.Container)
	if _, err := r.run(ctx, "restart", r.Container); err != nil {
		return fmt.Errorf("restart container %s: %w", r.Container, err)
	}
	return nil
}
