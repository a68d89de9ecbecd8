package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
server:
  url: https://aggregator.example.org/api
  username: ingest
  password: s3cret
tap:
  wait_seconds: 10
catalog_file: config/catalog.yaml
tasks:
  - name: cadc-jwst
    source: obscore
    tap_url: https://ws.cadc-ccda.hia-iha.nrc-cnrc.gc.ca/argus
    collection: JWST
    catalog: jwst
    telescope_id: 12
    cron: "@every 1h"
    run_at_start: true
  - name: heasarc
    source: obscore
    tap_url: https://heasarc.gsfc.nasa.gov/xamin/vo/tap
    telescope_id: 3
    instrument_id: 7
    rrule: "FREQ=HOURLY;INTERVAL=6;DTSTART=20240101T000000Z"
    look_ahead_hours: 72
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/auth/token", cfg.Server.TokenPath)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 10*time.Second, cfg.TAPWait())
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.False(t, cfg.Redis.Enabled)

	require.Len(t, cfg.Tasks, 2)
	jwst := cfg.Tasks[0]
	assert.Equal(t, "cadc-jwst", jwst.Name)
	assert.True(t, jwst.RunAtStart)
	assert.Equal(t, "@every 1h", jwst.TriggerSpec().Cron)
	assert.Equal(t, 72, cfg.Tasks[1].LookAheadHours)
}

func TestLoadConfig_EnvAndFlagsOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SERVER_URL", "https://env.example.org")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig), []string{"-log-level", "error", "-api-addr", ":9090"})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "https://env.example.org", cfg.Server.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, ":9090", cfg.API.Addr)
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("SERVER_URL", "http://localhost:8000")
	t.Setenv("SERVER_TOKEN", "static")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Server.Token)
	assert.Empty(t, cfg.Tasks)
}

func TestLoadConfig_Validation(t *testing.T) {
	base := `
server: {url: http://x, token: t}
`
	cases := map[string]string{
		"no server":         `server: {token: t}`,
		"no credentials":    `server: {url: http://x}`,
		"timeout below wait": base + `http: {timeout_seconds: 5}`,
		"two triggers": base + `tasks:
  - {name: a, source: obscore, tap_url: http://tap, telescope_id: 1, cron: "@daily", interval_seconds: 60}`,
		"no trigger": base + `tasks:
  - {name: a, source: obscore, tap_url: http://tap, telescope_id: 1}`,
		"duplicate": base + `tasks:
  - {name: a, source: obscore, tap_url: http://tap, telescope_id: 1, cron: "@daily"}
  - {name: a, source: obscore, tap_url: http://tap, telescope_id: 1, cron: "@daily"}`,
		"unknown source": base + `tasks:
  - {name: a, source: ftp, tap_url: http://tap, cron: "@daily"}`,
		"catalog without file": base + `tasks:
  - {name: a, source: obscore, tap_url: http://tap, catalog: x, cron: "@daily"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, doc), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_BadFlag(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, sampleConfig), []string{"-no-such-flag"})
	assert.Error(t, err)
}
