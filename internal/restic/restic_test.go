package restic

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/sysexec"
)

func setRemoteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RESTIC_REPOSITORY", "s3:https://s3.example.org/backups")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
}

func TestCheckEnv(t *testing.T) {
	setRemoteEnv(t)
	assert.NoError(t, CheckEnv())

	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	err := CheckEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "AWS_SECRET_ACCESS_KEY")
	assert.NotContains(t, err.Error(), "AWS_ACCESS_KEY_ID")
}

func TestSetupInstructions_NameEveryRequiredValue(t *testing.T) {
	instructions := SetupInstructions()
	assert.Contains(t, instructions, "RESTIC_REPOSITORY")
	assert.Contains(t, instructions, "AWS_ACCESS_KEY_ID")
	assert.Contains(t, instructions, "AWS_SECRET_ACCESS_KEY")
}

func TestBackup_ArgsAndPasswordPlacement(t *testing.T) {
	fake := sysexec.NewFake()
	excludeFile := filepath.Join(t.TempDir(), "exclude")
	require.NoError(t, os.WriteFile(excludeFile, []byte(".cache\n"), 0o600))

	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})
	err := e.Backup(context.Background(), "hunter2", BackupOptions{
		Sources:     []string{"/home/ivar", "/srv/data"},
		ExcludeFile: excludeFile,
		Tag:         "workstation",
	})
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, []string{
		"backup", "--one-file-system", "--tag", "workstation",
		"--exclude-file", excludeFile,
		"/home/ivar", "/srv/data",
	}, c.Args)
	assert.Contains(t, c.Env, "RESTIC_PASSWORD=hunter2")
	assert.NotContains(t, c.Line(), "hunter2")
}

func TestBackup_SkipsAbsentExcludeFile(t *testing.T) {
	fake := sysexec.NewFake()
	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})

	err := e.Backup(context.Background(), "pw", BackupOptions{
		Sources:     []string{"/home/ivar"},
		ExcludeFile: filepath.Join(t.TempDir(), "missing"),
		Tag:         "backstop",
	})
	require.NoError(t, err)
	assert.NotContains(t, fake.Calls()[0].Line(), "--exclude-file")
}

func TestForget_CarriesKeepCounts(t *testing.T) {
	fake := sysexec.NewFake()
	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})

	err := e.Forget(context.Background(), "pw", config.Retention{Daily: 7, Weekly: 4, Monthly: 12, Yearly: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count("restic forget --prune --keep-daily 7 --keep-weekly 4 --keep-monthly 12 --keep-yearly 2"))
}

func TestRun_WrapsEngineFailure(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("restic check", sysexec.Result{Err: errors.New("exit status 1")})
	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})

	err := e.Check(context.Background(), "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restic check")
}

func TestSnapshots_ParsesJSON(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("restic snapshots --json", sysexec.Result{Output: []byte(`[
		{"id":"deadbeef01","short_id":"deadbeef","time":"2026-08-20T03:30:00Z","hostname":"den","paths":["/home/ivar"],"tags":["workstation"]},
		{"id":"cafebabe02","short_id":"cafebabe","time":"2026-08-21T03:30:00Z","hostname":"den","paths":["/home/ivar"],"tags":["workstation"]}
	]`)})
	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})

	snaps, err := e.Snapshots(context.Background(), "pw")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "deadbeef", snaps[0].ShortID)
	assert.Equal(t, []string{"workstation"}, snaps[1].Tags)
	assert.Equal(t, 2026, snaps[1].Time.Year())
}

func TestRestore_CreatesTarget(t *testing.T) {
	fake := sysexec.NewFake()
	e := NewEngine(zerolog.Nop(), fake, &bytes.Buffer{})
	target := filepath.Join(t.TempDir(), "staging")

	require.NoError(t, e.Restore(context.Background(), "pw", "latest", target))
	assert.DirExists(t, target)
	assert.Equal(t, 1, fake.Count("restic restore latest --target "+target))
}

func TestParseRepo(t *testing.T) {
	repo, err := ParseRepo("s3:https://s3.example.org/backups")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.org", repo.Endpoint)
	assert.Equal(t, "backups", repo.Bucket)
	assert.Equal(t, "s3.example.org", repo.Host)

	repo, err = ParseRepo("s3:s3.amazonaws.com/bucket/prefix")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.amazonaws.com", repo.Endpoint)
	assert.Equal(t, "bucket", repo.Bucket)

	repo, err = ParseRepo("s3:http://minio.lan:9000/backups")
	require.NoError(t, err)
	assert.Equal(t, "http://minio.lan:9000", repo.Endpoint)
	assert.Equal(t, "minio.lan", repo.Host)

	_, err = ParseRepo("/srv/restic-repo")
	assert.Error(t, err)

	_, err = ParseRepo("s3:https://host-only")
	assert.Error(t, err)
}

func TestRepoFromEnv(t *testing.T) {
	t.Setenv("RESTIC_REPOSITORY", "s3:https://s3.example.org/backups")
	repo, ok := RepoFromEnv()
	require.True(t, ok)
	assert.Equal(t, "s3.example.org", repo.Host)

	t.Setenv("RESTIC_REPOSITORY", "/srv/restic-repo")
	_, ok = RepoFromEnv()
	assert.False(t, ok)
}

func TestProbeRemote_SkipsNonS3(t *testing.T) {
	t.Setenv("RESTIC_REPOSITORY", "/srv/restic-repo")
	e := NewEngine(zerolog.Nop(), sysexec.NewFake(), &bytes.Buffer{})
	assert.NoError(t, e.ProbeRemote(context.Background()))
}
