// Package run carries the per-invocation record and the small interaction
// helpers shared by both orchestrators.
package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/sysexec"
)

// ErrAborted means the user declined a confirmation. It terminates the run
// cleanly with a zero exit, distinguishable from failure.
var ErrAborted = errors.New("aborted by user")

// Run is one invocation of one operation. It lives exactly as long as the
// process and is recorded only in the append-only log.
type Run struct {
	ID      uuid.UUID
	Command string
	Started time.Time

	logger zerolog.Logger
}

// New creates the run record and logs its start.
func New(logger zerolog.Logger, command string) *Run {
	r := &Run{
		ID:      uuid.New(),
		Command: command,
		Started: time.Now(),
	}
	r.logger = logger.With().Str("run_id", r.ID.String()).Str("command", command).Logger()
	r.logger.Info().Msg("run started")
	return r
}

// Logger returns the run-scoped logger.
func (r *Run) Logger() zerolog.Logger {
	return r.logger
}

// Finish logs the run outcome. A decline is recorded as such, not as a
// failure.
func (r *Run) Finish(err error) {
	elapsed := time.Since(r.Started).Round(time.Millisecond)
	switch {
	case errors.Is(err, ErrAborted):
		r.logger.Info().Dur("elapsed", elapsed).Msg("run aborted by user")
	case err != nil:
		r.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("run failed")
	default:
		r.logger.Info().Dur("elapsed", elapsed).Msg("run finished")
	}
}

// Confirm asks a y/N question on in. Anything but an explicit yes is
// ErrAborted.
func Confirm(in io.Reader, out io.Writer, prompt string) error {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return ErrAborted
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return ErrAborted
}

// Journal prints recent run history for unit, preferring the user journal
// and falling back to the tail of the orchestrator log file.
func Journal(ctx context.Context, runner sysexec.Runner, out io.Writer, unit, logFile string, lines int) error {
	if _, err := runner.Look("journalctl"); err == nil {
		return runner.Run(ctx, sysexec.Cmd{
			Name:   "journalctl",
			Args:   []string{"--user", "--unit", unit, "--no-pager", "-n", strconv.Itoa(lines)},
			Stdout: out,
			Stderr: out,
		})
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		return fmt.Errorf("no journal and no log file: %w", err)
	}
	for _, line := range tail(data, lines) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func tail(data []byte, n int) []string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
