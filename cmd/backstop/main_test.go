package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{
		"init", "install",
		"backup", "prune", "unlock",
		"snapshots", "stats", "check", "journal",
		"restore", "mount",
	}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRootCmd_HelpDoesNotTouchConfig(t *testing.T) {
	// Help short-circuits before PersistentPreRunE, so no config file is
	// created or read.
	t.Setenv("BACKSTOP_CONFIG", "/nonexistent/backstop/config.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "backup")
	assert.Contains(t, out.String(), "restore")
	assert.NoFileExists(t, "/nonexistent/backstop/config.yaml")
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"teleport"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRestoreCmd_Flags(t *testing.T) {
	assert.NotNil(t, restoreCmd.Flags().Lookup("target"))
	assert.NotNil(t, restoreCmd.Flags().Lookup("yes"))
	assert.NotNil(t, initCmd.Flags().Lookup("force"))
	assert.NotNil(t, journalCmd.Flags().Lookup("lines"))
}
