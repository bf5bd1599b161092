package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cr0mbly/esbinder/internal/config"
)

func TestApplyServeOverrides(t *testing.T) {
	cfg := config.NewAppConfig()

	unchanged := applyServeOverrides(cfg, "", 0)
	assert.Equal(t, cfg.Addr(), unchanged.Addr())

	overridden := applyServeOverrides(cfg, "127.0.0.1", 9200)
	assert.Equal(t, "127.0.0.1", overridden.Host())
	assert.Equal(t, 9200, overridden.Port())
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()

	for _, name := range []string{"serve", "init", "rebuild", "status", "search", "stdio", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	rebuild, _, err := cmd.Find([]string{"rebuild"})
	require.NoError(t, err)
	assert.NotNil(t, rebuild.Flags().Lookup("keep-old"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}

func TestSearchCmd_RequiresEntity(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"search"})
	cmd.SilenceErrors = true

	assert.Error(t, cmd.Execute())
}

func TestVersionCmd(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "esbinder dev (unknown, built unknown)\n", out.String())
}
