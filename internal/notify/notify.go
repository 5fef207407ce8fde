// Package notify delivers best-effort run reports: a desktop notification
// when a display session exists and a journald entry when the journal
// socket is up. Nothing here ever affects the run outcome.
package notify

import (
	"context"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/sysexec"
)

// Notifier sends run reports.
type Notifier struct {
	logger zerolog.Logger
	runner sysexec.Runner

	// displayPresent is a seam for tests; defaults to checking the
	// session environment.
	displayPresent func() bool
}

// NewNotifier creates a Notifier.
func NewNotifier(logger zerolog.Logger, runner sysexec.Runner) *Notifier {
	return &Notifier{
		logger:         logger.With().Str("component", "notify").Logger(),
		runner:         runner,
		displayPresent: displayPresent,
	}
}

func displayPresent() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// Success reports a completed run.
func (n *Notifier) Success(ctx context.Context, title, body string) {
	n.send(ctx, journal.PriInfo, "normal", title, body)
}

// Failure reports a failed run.
func (n *Notifier) Failure(ctx context.Context, title, body string) {
	n.send(ctx, journal.PriErr, "critical", title, body)
}

func (n *Notifier) send(ctx context.Context, prio journal.Priority, urgency, title, body string) {
	if journal.Enabled() {
		err := journal.Send(title+": "+body, prio, map[string]string{
			"BACKSTOP_EVENT": urgency,
		})
		if err != nil {
			n.logger.Debug().Err(err).Msg("journal entry failed")
		}
	}

	if !n.displayPresent() {
		n.logger.Debug().Msg("no display session, skipping desktop notification")
		return
	}
	if _, err := n.runner.Look("notify-send"); err != nil {
		n.logger.Debug().Msg("notify-send not installed")
		return
	}
	err := n.runner.Run(ctx, sysexec.Cmd{
		Name: "notify-send",
		Args: []string{"--urgency", urgency, "--app-name", "backstop", title, body},
	})
	if err != nil {
		n.logger.Debug().Err(err).Msg("desktop notification failed")
	}
}
