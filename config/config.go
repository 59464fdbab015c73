package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server struct {
		Port        string   `env:"PORT" envDefault:"5250"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Database struct {
		// Driver selects the gorm dialector: "sqlite" or "postgres"
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		Path   string `env:"DB_PATH" envDefault:"database/immostats.db"`
		DSN    string `env:"DB_DSN"`
	}

	Source struct {
		// Kind is "http" for the real feed or "demo" for generated records
		Kind       string        `env:"SOURCE_KIND" envDefault:"http"`
		Name       string        `env:"SOURCE_NAME" envDefault:"dvf"`
		BaseURL    string        `env:"SOURCE_BASE_URL" envDefault:"https://api.cquest.org/dvf"`
		Timeout    time.Duration `env:"SOURCE_TIMEOUT" envDefault:"30s"`
		RetryCount int           `env:"SOURCE_RETRY_COUNT" envDefault:"2"`
		RetryWait  time.Duration `env:"SOURCE_RETRY_WAIT" envDefault:"2s"`
		PageSize   int           `env:"SOURCE_PAGE_SIZE" envDefault:"500"`

		DemoRecordsPerPartition int `env:"DEMO_RECORDS_PER_PARTITION" envDefault:"40"`
	}

	Ingestion struct {
		Periods        []int         `env:"INGEST_PERIODS" envSeparator:"," envDefault:"2023,2022"`
		Partitions     []string      `env:"INGEST_PARTITIONS" envSeparator:"," envDefault:"11,84,93,76,75,32,44,52,53,28"`
		PartitionDelay time.Duration `env:"INGEST_PARTITION_DELAY" envDefault:"1s"`
		RunOnStartup   bool          `env:"INGEST_RUN_ON_STARTUP" envDefault:"false"`
		IntervalHours  int           `env:"SCHEDULE_INTERVAL_HOURS" envDefault:"6"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Number of entities upserted per logged batch
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"100"`
	}

	Auth struct {
		APIKeys []string `env:"API_KEYS" envSeparator:","`
	}

	Retention struct {
		MaxAge time.Duration `env:"RETENTION_MAX_AGE" envDefault:"8760h"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the ingestion core cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.Source.Kind != "http" && c.Source.Kind != "demo" {
		return fmt.Errorf("unsupported SOURCE_KIND %q", c.Source.Kind)
	}
	if len(c.Ingestion.Periods) == 0 {
		return fmt.Errorf("INGEST_PERIODS must list at least one period")
	}
	if len(c.Ingestion.Partitions) == 0 {
		return fmt.Errorf("INGEST_PARTITIONS must list at least one partition")
	}
	for _, p := range c.Ingestion.Partitions {
		if GetRegionByCode(p) == nil {
			return fmt.Errorf("unknown partition %q", p)
		}
	}
	if c.Ingestion.IntervalHours <= 0 || 24%c.Ingestion.IntervalHours != 0 {
		return fmt.Errorf("SCHEDULE_INTERVAL_HOURS must divide 24, got %d", c.Ingestion.IntervalHours)
	}
	if c.Ingestion.PartitionDelay < 0 {
		return fmt.Errorf("INGEST_PARTITION_DELAY must not be negative")
	}
	if c.BatchProcessing.MaxBatchSize <= 0 {
		c.BatchProcessing.MaxBatchSize = 100
	}
	return nil
}
