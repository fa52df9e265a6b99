package config

import (
	"io"
	"os"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	m.Run()
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	file, err := os.CreateTemp("", "tracker_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(file.Name()) })

	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	return file.Name()
}

func TestConfigLoad(t *testing.T) {
	cfg := `socket_url: "wss://tracking.example.com/socket"
api_base_url: "https://tracking.example.com/api"
api_port: 9090
inactive_after_minutes: 45
marker_inactive_after_minutes: 600
log_level: "DEBUG"

sinks:
  rabbitmq:
    host: "localhost"
    port: "5672"
    user: "guest"
    password: "guest"
    queue: "fleet.events"
  postgresql:
    host: "localhost"
    port: "5432"
    user: "postgres"
    password: "postgres"
    database: "fleetwatch"
    table: "event_log"
    sslmode: "disable"
`

	conf, err := New(writeTempConfig(t, cfg))
	require.NoError(t, err)

	assert.Equal(t, "wss://tracking.example.com/socket", conf.SocketURL)
	assert.Equal(t, "https://tracking.example.com/api", conf.APIBaseURL)
	assert.Equal(t, 9090, conf.APIPort)
	assert.Equal(t, 45*time.Minute, conf.GetInactiveAfter())
	assert.Equal(t, 600*time.Minute, conf.GetMarkerInactiveAfter())
	assert.Equal(t, log.DebugLevel, conf.GetLogLevel())

	assert.Equal(t, map[string]map[string]string{
		"rabbitmq": {
			"host":     "localhost",
			"port":     "5672",
			"user":     "guest",
			"password": "guest",
			"queue":    "fleet.events",
		},
		"postgresql": {
			"host":     "localhost",
			"port":     "5432",
			"user":     "postgres",
			"password": "postgres",
			"database": "fleetwatch",
			"table":    "event_log",
			"sslmode":  "disable",
		},
	}, conf.Sinks)
}

func TestConfigDefaults(t *testing.T) {
	conf, err := New(writeTempConfig(t, "# empty config\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, conf.APIPort)
	assert.Equal(t, 30*time.Minute, conf.GetInactiveAfter())
	assert.Equal(t, 720*time.Minute, conf.GetMarkerInactiveAfter())
	assert.Equal(t, 5*time.Second, conf.GetReconnectDelay())
	assert.Equal(t, 10, conf.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, conf.GetPollInterval())
	assert.Equal(t, 24*time.Hour, conf.GetGeocodeCacheTTL())
	assert.Equal(t, 1, conf.ArchiveMonthStart)
	assert.Equal(t, 12, conf.ArchiveMonthEnd)
	assert.Equal(t, "@every 1m", conf.SweepSchedule)
	assert.Equal(t, log.InfoLevel, conf.GetLogLevel())
}

func TestArchiveSeasonValidation(t *testing.T) {
	tests := []struct {
		name          string
		yamlContent   string
		expectedStart int
		expectedEnd   int
	}{
		{
			name:          "explicit simple range",
			yamlContent:   "archive_month_start: 3\narchive_month_end: 10\n",
			expectedStart: 3,
			expectedEnd:   10,
		},
		{
			// School-year season wrapping year-end is legal.
			name:          "wrap-around season",
			yamlContent:   "archive_month_start: 9\narchive_month_end: 6\n",
			expectedStart: 9,
			expectedEnd:   6,
		},
		{
			name:          "out-of-range months fall back to year-round",
			yamlContent:   "archive_month_start: 0\narchive_month_end: 13\n",
			expectedStart: 1,
			expectedEnd:   12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := New(writeTempConfig(t, tt.yamlContent))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStart, conf.ArchiveMonthStart)
			assert.Equal(t, tt.expectedEnd, conf.ArchiveMonthEnd)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := New("/tmp/does_not_exist_fleetwatch.yaml")
	assert.Error(t, err)
}
