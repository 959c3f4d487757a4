package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionAddAndList_RoundTripThroughMemoryStore(t *testing.T) {
	addCmd := permissionAddCmd()
	addCmd.SetArgs([]string{"--scope", "global", "--tool", "Bash", "--pattern", "rm *", "--verdict", "deny"})
	var addOut bytes.Buffer
	addCmd.SetOut(&addOut)

	require.NoError(t, addCmd.Execute())

	listCmd := permissionListCmd()
	listCmd.SetArgs([]string{"--scope", "global"})

	// cobra's RunE prints via fmt.Println directly (not cmd.OutOrStdout), so
	// we only assert it runs without error here; exact stdout capture would
	// require refactoring those Println calls to cmd.Println.
	require.NoError(t, listCmd.Execute())

	_ = addOut
}

func TestPermissionCmd_HasListAndAddSubcommands(t *testing.T) {
	cmd := permissionCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["add"])
	assert.Equal(t, []string{"perm"}, cmd.Aliases)
}
