// Package common provides shared configuration and run statistics for the
// AQS ozone tools.
package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KI7MT/aqs-ozone/internal/aqs"
	"github.com/KI7MT/aqs-ozone/internal/output"
)

// Earliest year the AQS sample data service accepts.
const MinYear = 1980

// Config holds configuration for a fetch run.
type Config struct {
	// AQS API
	BaseURL string
	Email   string
	Key     string
	Timeout time.Duration
	Pause   time.Duration

	// Run scope
	SitesFile string
	Site      string // "all" or a single registry name
	StartYear int
	EndYear   int

	// Output
	DataDir string
	Format  output.Format

	// Optional ClickHouse sink (disabled when ClickHouseHost is empty)
	ClickHouseHost     string
	ClickHouseDatabase string
	ClickHouseTable    string

	LogPath  string
	LogLevel string
	Schedule string

	envErrs []error // malformed environment values, reported by Validate
}

// DefaultConfig returns configuration with sensible defaults, reading
// credentials and paths from the environment.
func DefaultConfig() *Config {
	c := &Config{
		BaseURL:            getEnv("AQS_BASE_URL", aqs.DefaultBaseURL),
		Email:              strings.TrimSpace(os.Getenv("AQS_EMAIL")),
		Key:                strings.TrimSpace(os.Getenv("AQS_KEY")),
		SitesFile:          getEnv("AQS_SITES_FILE", ""),
		Site:               "all",
		DataDir:            getEnv("AQS_DATA_DIR", "/var/lib/aqs-ozone"),
		Format:             output.FormatCSV,
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "aqs"),
		ClickHouseTable:    getEnv("CLICKHOUSE_TABLE", "ozone_hourly"),
		LogPath:            getEnv("AQS_LOG_FILE", "ozone_data_fetch.log"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	c.Timeout = c.envDuration("AQS_TIMEOUT", 0)
	c.Pause = c.envDuration("AQS_PAUSE", aqs.DefaultPause)
	c.StartYear = c.envInt("AQS_START_YEAR", 2000)
	c.EndYear = c.envInt("AQS_END_YEAR", 2021)
	return c
}

// Validate checks the configuration before any request is made.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.envErrs...)
	if c.Email == "" {
		errs = append(errs, errors.New("AQS_EMAIL is required"))
	}
	if c.Key == "" {
		errs = append(errs, errors.New("AQS_KEY is required"))
	}
	if c.StartYear < MinYear {
		errs = append(errs, fmt.Errorf("start year %d before %d", c.StartYear, MinYear))
	}
	if c.EndYear < c.StartYear {
		errs = append(errs, fmt.Errorf("end year %d before start year %d", c.EndYear, c.StartYear))
	}
	if c.Pause < 0 {
		errs = append(errs, fmt.Errorf("negative pause %v", c.Pause))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", c.Timeout))
	}
	if _, err := output.ParseFormat(string(c.Format)); err != nil {
		errs = append(errs, err)
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.ClickHouseHost != "" && (c.ClickHouseDatabase == "" || c.ClickHouseTable == "") {
		errs = append(errs, errors.New("ClickHouse database and table are required when a host is set"))
	}
	return errors.Join(errs...)
}

// Registry loads the site registry from SitesFile, or the built-in table when
// none is configured, and narrows it to Site unless Site is "all".
func (c *Config) Registry() ([]aqs.Site, error) {
	reg := aqs.DefaultRegistry()
	if c.SitesFile != "" {
		r, err := aqs.LoadRegistry(c.SitesFile)
		if err != nil {
			return nil, err
		}
		reg = r
	}

	if c.Site == "" || c.Site == "all" {
		return reg.Sites(), nil
	}
	s, err := reg.Lookup(c.Site)
	if err != nil {
		return nil, err
	}
	return []aqs.Site{s}, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// envInt reads an integer variable. A malformed value keeps the default and
// is recorded for Validate.
func (c *Config) envInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.envErrs = append(c.envErrs, fmt.Errorf("%s=%q: not an integer", key, v))
		return defaultValue
	}
	return n
}

func (c *Config) envDuration(key string, defaultValue time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.envErrs = append(c.envErrs, fmt.Errorf("%s=%q: not a duration", key, v))
		return defaultValue
	}
	return d
}
