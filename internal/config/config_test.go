package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgxfer.yaml")
	content := `
client:
  job_name: nightly
  monitor_interval_ms: 250
driver:
  kind: memory
  request_timeout: 3s
logging:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("BGXFER_CLIENT_SAVE_PATH_PREFIX", "/srv/downloads")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Client.JobName)
	assert.Equal(t, uint32(250), cfg.Client.MonitorIntervalMS)
	assert.Equal(t, "/srv/downloads", cfg.Client.SavePathPrefix)
	assert.Equal(t, DriverMemory, cfg.Driver.Kind)
	assert.Equal(t, 3*time.Second, cfg.Driver.RequestTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, uint32(5000), cfg.Client.StatusTimeoutMS)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgxfer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty job name", mutate: func(c *Config) { c.Client.JobName = " " }},
		{name: "zero interval", mutate: func(c *Config) { c.Client.MonitorIntervalMS = 0 }},
		{name: "unknown driver", mutate: func(c *Config) { c.Driver.Kind = "bits" }},
		{name: "aria2 without rpc", mutate: func(c *Config) { c.Driver.Aria2RPC = "" }},
		{name: "unknown log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
