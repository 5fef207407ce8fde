// Package sysinstall writes and enables the systemd user units that run
// the orchestrators on a timer, and renders the polkit rule that lets the
// configured account manage routes through pkexec without a prompt.
package sysinstall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/coreos/go-systemd/v22/util"
	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/sysexec"
)

// Unit describes one timer-driven service to install.
type Unit struct {
	Name        string // unit base name, e.g. "backstop"
	Description string
	Command     string // full ExecStart line
	Interval    string // systemd time span between runs
}

// Installer writes unit files and talks to systemctl --user.
type Installer struct {
	logger  zerolog.Logger
	runner  sysexec.Runner
	unitDir string

	// systemdRunning is a seam for tests.
	systemdRunning func() bool
}

// NewInstaller creates an Installer targeting the user unit directory.
func NewInstaller(logger zerolog.Logger, runner sysexec.Runner) *Installer {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Installer{
		logger:         logger.With().Str("component", "sysinstall").Logger(),
		runner:         runner,
		unitDir:        filepath.Join(home, ".config", "systemd", "user"),
		systemdRunning: util.IsRunningSystemd,
	}
}

var serviceTemplate = template.Must(template.New("service").Parse(`[Unit]
Description={{ .Description }}
After=network-online.target

[Service]
Type=oneshot
ExecStart={{ .Command }}
Nice=10
IOSchedulingClass=idle
`))

var timerTemplate = template.Must(template.New("timer").Parse(`[Unit]
Description=Timer for {{ .Description }}

[Timer]
OnBootSec=2min
OnUnitActiveSec={{ .Interval }}
RandomizedDelaySec=90

[Install]
WantedBy=timers.target
`))

var polkitTemplate = template.Must(template.New("polkit").Parse(`// Allow {{ .Account }} to manage routes via pkexec without a prompt.
polkit.addRule(function(action, subject) {
    if (action.id == "org.freedesktop.policykit.exec" &&
        action.lookup("program") == "{{ .Program }}" &&
        subject.user == "{{ .Account }}" &&
        subject.local && subject.active) {
        return polkit.Result.YES;
    }
});
`))

// Install writes the service and timer units and enables the timer.
func (i *Installer) Install(ctx context.Context, unit Unit) error {
	if !i.systemdRunning() {
		return errors.New("systemd is not running, cannot install timer units")
	}

	if err := os.MkdirAll(i.unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	service, err := render(serviceTemplate, unit)
	if err != nil {
		return fmt.Errorf("render service unit: %w", err)
	}
	servicePath := filepath.Join(i.unitDir, unit.Name+".service")
	if err := os.WriteFile(servicePath, []byte(service), 0o644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}

	timer, err := render(timerTemplate, unit)
	if err != nil {
		return fmt.Errorf("render timer unit: %w", err)
	}
	timerPath := filepath.Join(i.unitDir, unit.Name+".timer")
	if err := os.WriteFile(timerPath, []byte(timer), 0o644); err != nil {
		return fmt.Errorf("write timer unit: %w", err)
	}

	if err := i.systemctl(ctx, "daemon-reload"); err != nil {
		return err
	}
	if err := i.systemctl(ctx, "enable", "--now", unit.Name+".timer"); err != nil {
		return err
	}

	i.logger.Info().Str("unit", unit.Name).Str("interval", unit.Interval).Msg("timer installed")
	return nil
}

func (i *Installer) systemctl(ctx context.Context, args ...string) error {
	var out strings.Builder
	cmd := sysexec.Cmd{
		Name:   "systemctl",
		Args:   append([]string{"--user"}, args...),
		Stdout: &out,
		Stderr: &out,
	}
	if err := i.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("systemctl --user %s: %s: %w", args[0], strings.TrimSpace(out.String()), err)
	}
	return nil
}

// PolkitRule holds the values rendered into the authorization rule.
type PolkitRule struct {
	Account string
	Program string
}

// WritePolkitRule renders the rule scoping pkexec-without-prompt to the
// route command for one account. The rules directory is root-owned, so
// the file lands next to the config with printed install instructions.
func (i *Installer) WritePolkitRule(dir string, rule PolkitRule) (string, error) {
	if rule.Program == "" {
		rule.Program = "/usr/sbin/ip"
	}
	content, err := render(polkitTemplate, rule)
	if err != nil {
		return "", fmt.Errorf("render polkit rule: %w", err)
	}
	path := filepath.Join(dir, "49-backstop-route.rules")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create rule dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write polkit rule: %w", err)
	}
	return path, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
