package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caid-tools/depi/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesFullDocument(t *testing.T) {
	path := writeConfig(t, `{
		"tools": {"git": {"pathSeparator": "/"}, "fs": {"pathSeparator": "."}},
		"db": {"type": "dolt", "dataSource": "postgres://localhost/depi"},
		"server": {"grpcPort": 9090, "metricsPort": 9091, "authorizationEnabled": true, "sessionTimeout": 120},
		"authorization": {"authDefFile": "/etc/depi/auth.json"},
		"audit": {"directory": "/var/log/depi/audit"},
		"users": [{"name": "alice", "password": "secret"}]
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/", cfg.Tools["git"].PathSeparator)
	assert.Equal(t, config.DBTypeDolt, cfg.DB.Type)
	assert.Equal(t, "postgres://localhost/depi", cfg.DB.DataSource)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.True(t, cfg.Server.AuthorizationEnabled)
	assert.Equal(t, 120*time.Second, cfg.Server.SessionTimeout())
	assert.Equal(t, "/etc/depi/auth.json", cfg.Authorization.AuthDefFile)
	assert.Equal(t, "/var/log/depi/audit", cfg.Audit.Directory)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Name)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestLoad_InvalidJSONReturnsError(t *testing.T) {
	path := writeConfig(t, `{not valid json`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestServerConfig_SessionTimeoutDefaultsTo3600Seconds(t *testing.T) {
	var s config.ServerConfig
	assert.Equal(t, 3600*time.Second, s.SessionTimeout())

	s.SessionTimeoutSec = -5
	assert.Equal(t, 3600*time.Second, s.SessionTimeout(), "a nonpositive timeout must fall back to the default")
}

func TestConfig_PathSeparatorsFlattensTools(t *testing.T) {
	cfg := &config.Config{
		Tools: map[string]config.ToolConfig{
			"git": {PathSeparator: "/"},
			"fs":  {PathSeparator: "."},
		},
	}
	assert.Equal(t, map[string]string{"git": "/", "fs": "."}, cfg.PathSeparators())
}
