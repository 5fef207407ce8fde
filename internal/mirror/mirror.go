// Package mirror drives the rsync copy of the source tree to one or more
// local volumes, any subset of which may be absent at run time.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/sysexec"
)

// ErrNoDestinationAvailable means a mirror run found nothing to write to.
// Silently succeeding here would look like a backup that never happened.
var ErrNoDestinationAvailable = errors.New("no mirror destination available")

// Destination is a probed mirror target.
type Destination struct {
	Name      string
	Path      string
	Label     string
	Available bool
	Free      uint64
	Total     uint64
}

// Manager probes destinations and runs the copies.
type Manager struct {
	logger  zerolog.Logger
	runner  sysexec.Runner
	out     io.Writer
	source  string
	exclude string
	dests   []config.Destination

	// Seams for tests; default to the real filesystem.
	mounted    func(path string) bool
	statfs     func(path string, st *unix.Statfs_t) error
	byLabelDir string
}

// NewManager creates a Manager from the mirror section of the config,
// streaming rsync output to out.
func NewManager(logger zerolog.Logger, runner sysexec.Runner, cfg *config.Config, out io.Writer) *Manager {
	return &Manager{
		logger:     logger.With().Str("component", "mirror").Logger(),
		runner:     runner,
		out:        out,
		source:     cfg.MirrorSource,
		exclude:    cfg.MirrorExcludeFile,
		dests:      cfg.Destinations,
		mounted:    mountpoint,
		statfs:     unix.Statfs,
		byLabelDir: "/dev/disk/by-label",
	}
}

// mountpoint reports whether path is the root of a mounted filesystem, by
// comparing its device id with its parent's.
func mountpoint(path string) bool {
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return false
	}
	return st.Dev != parent.Dev
}

// Destinations probes every configured destination. A labelled volume
// that is attached but not mounted is mounted via udisksctl; failures
// there skip the destination with a warning rather than failing the run.
func (m *Manager) Destinations(ctx context.Context) []Destination {
	out := make([]Destination, 0, len(m.dests))
	for _, d := range m.dests {
		dest := Destination{Name: d.Name, Path: d.Path, Label: d.Label}
		if !m.mounted(dest.Path) && dest.Label != "" {
			m.tryMount(ctx, dest)
		}
		if m.mounted(dest.Path) {
			dest.Available = true
			var st unix.Statfs_t
			if err := m.statfs(dest.Path, &st); err == nil {
				dest.Free = st.Bavail * uint64(st.Bsize)
				dest.Total = st.Blocks * uint64(st.Bsize)
			}
		}
		out = append(out, dest)
	}
	return out
}

func (m *Manager) tryMount(ctx context.Context, dest Destination) {
	device := filepath.Join(m.byLabelDir, dest.Label)
	if _, err := os.Stat(device); err != nil {
		m.logger.Debug().Str("dest", dest.Name).Str("device", device).Msg("volume not attached")
		return
	}
	m.logger.Info().Str("dest", dest.Name).Str("device", device).Msg("mounting volume")
	err := m.runner.Run(ctx, sysexec.Cmd{
		Name:   "udisksctl",
		Args:   []string{"mount", "-b", device},
		Stdout: m.out,
		Stderr: m.out,
	})
	if err != nil {
		m.logger.Warn().Str("dest", dest.Name).Err(err).Msg("mount failed, skipping destination")
	}
}

// Mirror copies the source tree to dest, deleting files that no longer
// exist at the source. The exclude file uses rsync filter syntax, so a
// leading "+ " re-includes a path excluded by a later pattern.
func (m *Manager) Mirror(ctx context.Context, dest Destination, dryRun bool) error {
	args := []string{"--archive", "--delete", "--human-readable", "--info=stats1"}
	if dryRun {
		args = append(args, "--dry-run", "--verbose")
	}
	if m.exclude != "" {
		if _, err := os.Stat(m.exclude); err == nil {
			args = append(args, "--exclude-from="+m.exclude)
		}
	}
	args = append(args, trailingSlash(m.source), dest.Path)

	m.logger.Info().Str("dest", dest.Name).Bool("dry_run", dryRun).Msg("mirroring")
	err := m.runner.Run(ctx, sysexec.Cmd{Name: "rsync", Args: args, Stdout: m.out, Stderr: m.out})
	if err != nil {
		return fmt.Errorf("mirror to %s: %w", dest.Name, err)
	}
	return nil
}

// RunAll mirrors to every available destination. Destinations are
// attempted independently; one failing does not stop its siblings, and
// all failures come back joined.
func (m *Manager) RunAll(ctx context.Context, dryRun bool) error {
	available := m.available(ctx)
	if len(available) == 0 {
		return fmt.Errorf("%w: %d configured", ErrNoDestinationAvailable, len(m.dests))
	}

	var errs []error
	for _, dest := range available {
		if err := m.Mirror(ctx, dest, dryRun); err != nil {
			m.logger.Error().Str("dest", dest.Name).Err(err).Msg("mirror failed")
			errs = append(errs, err)
			continue
		}
		m.logger.Info().Str("dest", dest.Name).Msg("mirror complete")
	}
	return errors.Join(errs...)
}

// Restore copies a destination back over the source tree. With several
// destinations available the caller must name one; deleteExtraneous also
// removes local files absent on the mirror.
func (m *Manager) Restore(ctx context.Context, name string, deleteExtraneous bool) error {
	available := m.available(ctx)
	if len(available) == 0 {
		return fmt.Errorf("%w: %d configured", ErrNoDestinationAvailable, len(m.dests))
	}

	var chosen Destination
	switch {
	case name != "":
		found := false
		for _, d := range available {
			if d.Name == name {
				chosen, found = d, true
				break
			}
		}
		if !found {
			return fmt.Errorf("destination %q is not available", name)
		}
	case len(available) == 1:
		chosen = available[0]
	default:
		names := make([]string, len(available))
		for i, d := range available {
			names[i] = d.Name
		}
		return fmt.Errorf("%d destinations available (%s), pick one with --restore-from",
			len(available), strings.Join(names, ", "))
	}

	args := []string{"--archive", "--human-readable", "--info=stats1"}
	if deleteExtraneous {
		args = append(args, "--delete")
	}
	args = append(args, trailingSlash(chosen.Path), m.source)

	m.logger.Info().Str("dest", chosen.Name).Bool("delete", deleteExtraneous).Msg("restoring from mirror")
	err := m.runner.Run(ctx, sysexec.Cmd{Name: "rsync", Args: args, Stdout: m.out, Stderr: m.out})
	if err != nil {
		return fmt.Errorf("restore from %s: %w", chosen.Name, err)
	}
	return nil
}

// Status writes the destination table.
func (m *Manager) Status(ctx context.Context, w io.Writer) {
	fmt.Fprintf(w, "%-16s %-12s %-28s %s\n", "DESTINATION", "STATE", "CAPACITY", "PATH")
	for _, d := range m.Destinations(ctx) {
		state, capacity := "unavailable", "-"
		if d.Available {
			state = "available"
			capacity = fmt.Sprintf("%s free of %s", humanize.IBytes(d.Free), humanize.IBytes(d.Total))
		}
		fmt.Fprintf(w, "%-16s %-12s %-28s %s\n", d.Name, state, capacity, d.Path)
	}
}

func (m *Manager) available(ctx context.Context) []Destination {
	var out []Destination
	for _, d := range m.Destinations(ctx) {
		if !d.Available {
			m.logger.Warn().Str("dest", d.Name).Msg("destination unavailable, skipping")
			continue
		}
		out = append(out, d)
	}
	return out
}

func trailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}
