package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-divergence/internal/version"
)

func TestVersionSkipsConfigLoading(t *testing.T) {
	t.Setenv("DIVERGENCEWATCH_STORAGE_DRIVER", "bogus")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version.String(), out.String())
	assert.Nil(t, appHandle)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"run", "migrate", "simulate", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	sub := map[string]bool{}
	for _, cmd := range migrateCmd.Commands() {
		sub[cmd.Name()] = true
	}
	assert.True(t, sub["up"] && sub["down"] && sub["version"])
}
