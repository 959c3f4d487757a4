package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Events.Driver)
	assert.Equal(t, "safe", cfg.Permission.Mode)
	assert.Equal(t, "auto", cfg.Permission.TerminalPolicy)
	assert.True(t, cfg.Context.AutoCompact)
	assert.Equal(t, 200_000, cfg.Context.DefaultModelWindow)
	assert.Equal(t, 50, cfg.Loop.MaxIterations)
	assert.Equal(t, 10*time.Minute, cfg.Loop.IterationBudget)
	assert.True(t, cfg.Commentary.Enabled)
	assert.Equal(t, "strategic", cfg.Commentary.DefaultVerbosity)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENTGATE_SERVER_PORT", "9999")
	t.Setenv("AGENTGATE_PERMISSION_MODE", "plan")
	t.Setenv("AGENTGATE_DATABASE_DRIVER", "postgres")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "plan", cfg.Permission.Mode)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_InvalidConfigFilePathReturnsError(t *testing.T) {
	_, err := Load("/does/not/exist/agentgate.yaml")
	assert.Error(t, err)
}

func TestLoad_ConfigFileOverridesDefaultsButEnvWinsOverFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "agentgate-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("server:\n  port: 7000\npermission:\n  mode: fast\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("AGENTGATE_PERMISSION_MODE", "unrestricted")

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port, "file value used where env didn't override")
	assert.Equal(t, "unrestricted", cfg.Permission.Mode, "env must take priority over the file")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", DBName: "agentgate", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=agentgate sslmode=disable", d.DSN())
}
