package config

/*
Configuration file reference: configs/config.yaml
*/

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"gopkg.in/yaml.v2"
)

type Settings struct {
	// Live socket and REST backend.
	SocketURL  string `yaml:"socket_url"`
	APIBaseURL string `yaml:"api_base_url"`

	// Local read-only API.
	APIPort int `yaml:"api_port"`

	// Classification thresholds, minutes. The fleet list uses the short
	// one, map markers the lenient one.
	InactiveAfterMinutes       int `yaml:"inactive_after_minutes"`
	MarkerInactiveAfterMinutes int `yaml:"marker_inactive_after_minutes"`

	// Socket retry and polling fallback tuning, seconds.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`

	// Geocode cache.
	GeocodeURL         string `yaml:"geocode_url"`
	ElevationURL       string `yaml:"elevation_url"`
	GeocodeCacheTTLHrs int    `yaml:"geocode_cache_ttl_hours"`
	GeocodeCacheHost   string `yaml:"geocode_cache_host"`
	GeocodeCachePort   string `yaml:"geocode_cache_port"`

	LogLevel      string `yaml:"log_level"`
	LogFilePath   string `yaml:"log_file_path"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// Archive sinks, keyed by sink type.
	Sinks             map[string]map[string]string `yaml:"sinks"`
	ArchiveMonthStart int                          `yaml:"archive_month_start"`
	ArchiveMonthEnd   int                          `yaml:"archive_month_end"`

	// Cron spec of the periodic fleet snapshot log line.
	SweepSchedule string `yaml:"sweep_schedule"`

	MigrationsPath string `yaml:"migrations_path"`
}

func (s *Settings) GetInactiveAfter() time.Duration {
	return time.Duration(s.InactiveAfterMinutes) * time.Minute
}

func (s *Settings) GetMarkerInactiveAfter() time.Duration {
	return time.Duration(s.MarkerInactiveAfterMinutes) * time.Minute
}

func (s *Settings) GetReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelaySeconds) * time.Second
}

func (s *Settings) GetPollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s *Settings) GetGeocodeCacheTTL() time.Duration {
	return time.Duration(s.GeocodeCacheTTLHrs) * time.Hour
}

func (s *Settings) GetLogLevel() log.Level {
	var lvl log.Level

	switch s.LogLevel {
	case "DEBUG":
		lvl = log.DebugLevel
	case "INFO":
		lvl = log.InfoLevel
	case "WARN":
		lvl = log.WarnLevel
	case "ERROR":
		lvl = log.ErrorLevel
	default:
		lvl = log.InfoLevel
	}
	return lvl
}

func New(confPath string) (Settings, error) {
	c := Settings{}
	data, err := os.ReadFile(confPath)
	if err != nil {
		return c, err
	}
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return c, err
	}

	if c.APIPort == 0 {
		c.APIPort = 8080
	}

	if c.InactiveAfterMinutes == 0 {
		c.InactiveAfterMinutes = 30
	}
	if c.MarkerInactiveAfterMinutes == 0 {
		c.MarkerInactiveAfterMinutes = 720
	}

	if c.ReconnectDelaySeconds == 0 {
		c.ReconnectDelaySeconds = 5
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 10
	}

	if c.GeocodeCacheTTLHrs == 0 {
		c.GeocodeCacheTTLHrs = 24
	}

	if c.ArchiveMonthStart == 0 {
		c.ArchiveMonthStart = 1
	}
	if c.ArchiveMonthEnd == 0 {
		c.ArchiveMonthEnd = 12
	}
	if c.ArchiveMonthStart < 1 || c.ArchiveMonthStart > 12 || c.ArchiveMonthEnd < 1 || c.ArchiveMonthEnd > 12 {
		log.Errorf("Invalid ArchiveMonthStart (%d) or ArchiveMonthEnd (%d). Values must be between 1 and 12. Defaulting to year-round.", c.ArchiveMonthStart, c.ArchiveMonthEnd)
		c.ArchiveMonthStart = 1
		c.ArchiveMonthEnd = 12
	}

	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1m"
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = "file://migrations"
	}

	return c, err
}
