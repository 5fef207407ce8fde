package sysexec

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdLine_QuotesArguments(t *testing.T) {
	c := Cmd{Name: "rsync", Args: []string{"--archive", "/home/ivar/My Documents/", "/mnt/backup"}}
	assert.Equal(t, `rsync --archive '/home/ivar/My Documents/' /mnt/backup`, c.Line())
}

func TestFake_Look(t *testing.T) {
	f := NewFake()

	path, err := f.Look("restic")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/restic", path)

	f.SetMissing("restic")
	_, err = f.Look("restic")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Contains(t, err.Error(), "restic")
}

func TestFake_StubsMatchByPrefix(t *testing.T) {
	f := NewFake()
	f.Stub("restic snapshots", Result{Output: []byte(`[]`)})
	f.Stub("restic", Result{Err: errors.New("boom")})

	out, err := f.Output(context.Background(), Cmd{Name: "restic", Args: []string{"snapshots", "--json"}})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	err = f.Run(context.Background(), Cmd{Name: "restic", Args: []string{"check"}})
	assert.EqualError(t, err, "boom")
}

func TestFake_ScriptConsumesInOrderThenSticks(t *testing.T) {
	f := NewFake()
	f.Stub("gpg", Result{Err: errors.New("first")}, Result{Output: []byte("ok")})

	_, err := f.Output(context.Background(), Cmd{Name: "gpg"})
	assert.EqualError(t, err, "first")

	for range 3 {
		out, err := f.Output(context.Background(), Cmd{Name: "gpg"})
		require.NoError(t, err)
		assert.Equal(t, "ok", string(out))
	}
}

func TestFake_RunWritesOutputAndRecordsCalls(t *testing.T) {
	f := NewFake()
	f.Stub("rsync", Result{Output: []byte("sent 1 byte\n")})

	var buf bytes.Buffer
	err := f.Run(context.Background(), Cmd{Name: "rsync", Args: []string{"--archive"}, Stdout: &buf})
	require.NoError(t, err)
	assert.Equal(t, "sent 1 byte\n", buf.String())

	assert.Equal(t, 1, f.Count("rsync --archive"))
	assert.Equal(t, 0, f.Count("restic"))
	require.Len(t, f.Calls(), 1)
	assert.Equal(t, "rsync", f.Calls()[0].Name)
}

func TestFake_CancelledContext(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Run(ctx, Cmd{Name: "restic", Args: []string{"backup"}})
	assert.ErrorIs(t, err, context.Canceled)
	// The attempt is still recorded, matching a real spawn that is killed.
	assert.Equal(t, 1, f.Count("restic backup"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("not a process error")))
	assert.Equal(t, 1, ExitCode(ErrMissingDependency))
}
