package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"analyse", "serve", "learn", "runs", "stats", "prune"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "atlas", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAnalyseCommand_Flags(t *testing.T) {
	for _, name := range []string{"company", "industry", "website", "challenge", "linkedin-company", "linkedin-founder", "all-stages", "json", "out"} {
		flag := analyseCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "analyse should have --%s flag", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	cmds := runsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestLearnCommand_HasSubcommands(t *testing.T) {
	cmds := learnCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"refresh", "sources"} {
		assert.True(t, names[name], "learn should have subcommand %q", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	limitFlag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "50", limitFlag.DefValue)

	stateFlag := runsListCmd.Flags().Lookup("state")
	require.NotNil(t, stateFlag)
}
