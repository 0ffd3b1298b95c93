package app

import (
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/repository/db"
	"sadhana-metering/pkg/metering"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Usage counters; the Postgres database itself or a DynamoDB table
	Usage db.UsageStore
	// Centralized application configuration
	AppConfig *config.AppConfig
	// Day bucketing in the reference timezone
	Calendar *metering.Calendar
}

// NewConfig creates a new application configuration
func NewConfig(database db.Database, usage db.UsageStore, appConfig *config.AppConfig) *Config {
	if usage == nil {
		usage = database
	}
	return &Config{
		DB:        database,
		Usage:     usage,
		AppConfig: appConfig,
		Calendar:  metering.NewCalendar(appConfig.Usage.ReferenceTimezone),
	}
}

// Plans returns the configured plan table.
func (c *Config) Plans() metering.PlanTable {
	return c.AppConfig.Plans
}
