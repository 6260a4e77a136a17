package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "nxdoc", cmd.Use)
	assert.Contains(t, cmd.Long, "NXQL")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"query", "scroll", "import", "schema"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	userFlag := cmd.PersistentFlags().Lookup("user")
	require.NotNil(t, userFlag)
	assert.Equal(t, "u", userFlag.Shorthand)
	assert.Equal(t, "Administrator", userFlag.DefValue)

	adminFlag := cmd.PersistentFlags().Lookup("admin")
	require.NotNil(t, adminFlag)
	assert.Equal(t, "true", adminFlag.DefValue)

	for _, name := range []string{"config", "data", "backend", "group"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
}

func TestQueryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	queryCmd, _, err := cmd.Find([]string{"query"})
	require.NoError(t, err)

	countFlag := queryCmd.Flags().Lookup("count-up-to")
	require.NotNil(t, countFlag)
	assert.Equal(t, "0", countFlag.DefValue)

	for _, name := range []string{"limit", "offset", "properties"} {
		assert.NotNil(t, queryCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestScrollCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scrollCmd, _, err := cmd.Find([]string{"scroll"})
	require.NoError(t, err)

	batchFlag := scrollCmd.Flags().Lookup("batch-size")
	require.NotNil(t, batchFlag)
	assert.Equal(t, "100", batchFlag.DefValue)

	assert.NotNil(t, scrollCmd.Flags().Lookup("keep-alive"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "schema"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPrincipal(t *testing.T) {
	admin := (&RootOptions{User: "Administrator", Admin: true}).Principal()
	assert.True(t, admin.Administrator)
	assert.Contains(t, admin.Groups, "administrators")

	bob := (&RootOptions{User: "bob", Groups: []string{"finance"}}).Principal()
	assert.False(t, bob.Administrator)
	assert.Equal(t, "bob", bob.Name)
	assert.ElementsMatch(t, []string{"members", "finance"}, bob.Groups)
}
