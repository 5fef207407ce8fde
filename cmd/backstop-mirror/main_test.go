package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_Flags(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{
		"config", "restore", "restore-from", "delete",
		"dry-run", "status", "journal", "install", "lines",
	} {
		assert.NotNil(t, root.Flags().Lookup(name), "flag %s", name)
	}
}

func TestRootCmd_RejectsConflictingModes(t *testing.T) {
	for _, args := range [][]string{
		{"--status", "--journal"},
		{"--restore", "--install"},
		{"--restore", "--dry-run"},
		{"--restore-from", "vault", "--dry-run"},
	} {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)

		err := root.Execute()
		require.Error(t, err, "args %v", args)
	}
}

func TestRootCmd_HelpListsModes(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "--restore")
	assert.Contains(t, out.String(), "--status")
	assert.Contains(t, out.String(), "removable")
}
