package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveConfigPath_FlagTakesPriorityOverEnv(t *testing.T) {
	t.Setenv("AGENTGATE_CONFIG", "/from/env.yaml")
	cfgFile = "/from/flag.yaml"
	defer func() { cfgFile = "" }()

	assert.Equal(t, "/from/flag.yaml", resolveConfigPath())
}

func TestResolveConfigPath_FallsBackToEnv(t *testing.T) {
	cfgFile = ""
	t.Setenv("AGENTGATE_CONFIG", "/from/env.yaml")

	assert.Equal(t, "/from/env.yaml", resolveConfigPath())
}

func TestResolveConfigPath_EmptyWhenNeitherSet(t *testing.T) {
	cfgFile = ""
	t.Setenv("AGENTGATE_CONFIG", "")

	assert.Equal(t, "", resolveConfigPath())
}

func TestRootCmd_RegistersExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "serve", "loop", "permission"} {
		assert.True(t, names[want], "expected %q subcommand to be registered", want)
	}
}
