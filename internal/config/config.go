package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port     string
	LogLevel string

	// ClimateSERV client.
	ClimateServBaseURL      string
	HTTPTimeout             time.Duration
	HTTPMaxRetries          int
	BreakerFailureThreshold int
	PollInterval            time.Duration
	PollMaxWait             time.Duration

	// Dataset expansion and batching.
	BaseDatasetID       int
	DatasetsPerAccuracy int
	BatchSize           int
	HorizonMonths       int
	ProgressMargin      float64

	// Run registry.
	RunTimeout       time.Duration
	RunRetention     time.Duration
	RunMaxRecords    int
	RunSweepInterval time.Duration

	// CropsFile overrides the bundled crop table when set.
	CropsFile string

	// MaxAreaKm2 is the polygon size above which the API warns.
	MaxAreaKm2 float64
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.ClimateServBaseURL = getenvDefault("CLIMATESERV_BASE_URL", "https://climateserv.servirglobal.net/chirps/")
	cfg.CropsFile = os.Getenv("CROPS_FILE")

	cfg.HTTPMaxRetries = getenvInt("HTTP_MAX_RETRIES", 0)
	cfg.BreakerFailureThreshold = getenvInt("BREAKER_FAILURE_THRESHOLD", 20)
	cfg.BaseDatasetID = getenvInt("BASE_DATASET_ID", 42)
	cfg.DatasetsPerAccuracy = getenvInt("DATASETS_PER_ACCURACY", 4)
	cfg.BatchSize = getenvInt("BATCH_SIZE", 4)
	cfg.HorizonMonths = getenvInt("HORIZON_MONTHS", 9)
	cfg.RunMaxRecords = getenvInt("RUN_MAX_RECORDS", 256)

	var err error
	if cfg.ProgressMargin, err = getenvFloat("PROGRESS_MARGIN", 5); err != nil {
		return nil, err
	}
	if cfg.MaxAreaKm2, err = getenvFloat("MAX_AREA_KM2", 10000); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "30s", &cfg.HTTPTimeout},
		{"POLL_INTERVAL", "1s", &cfg.PollInterval},
		{"POLL_MAX_WAIT", "5m", &cfg.PollMaxWait},
		{"RUN_TIMEOUT", "20m", &cfg.RunTimeout},
		{"RUN_RETENTION", "30m", &cfg.RunRetention},
		{"RUN_SWEEP_INTERVAL", "5m", &cfg.RunSweepInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	var errs *multierror.Error
	if c.BatchSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if c.DatasetsPerAccuracy <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("DATASETS_PER_ACCURACY must be positive, got %d", c.DatasetsPerAccuracy))
	}
	if c.HorizonMonths <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("HORIZON_MONTHS must be positive, got %d", c.HorizonMonths))
	}
	if c.BaseDatasetID <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("BASE_DATASET_ID must be positive, got %d", c.BaseDatasetID))
	}
	if c.ProgressMargin <= 0 || c.ProgressMargin >= 100 {
		errs = multierror.Append(errs, fmt.Errorf("PROGRESS_MARGIN must be in (0, 100), got %g", c.ProgressMargin))
	}
	if c.BreakerFailureThreshold <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.BreakerFailureThreshold))
	}
	if c.PollInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.PollMaxWait < c.PollInterval {
		errs = multierror.Append(errs, fmt.Errorf("POLL_MAX_WAIT (%s) must not be shorter than POLL_INTERVAL (%s)", c.PollMaxWait, c.PollInterval))
	}
	if c.HTTPMaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("HTTP_MAX_RETRIES must not be negative, got %d", c.HTTPMaxRetries))
	}
	if c.ClimateServBaseURL == "" {
		errs = multierror.Append(errs, errors.New("CLIMATESERV_BASE_URL must not be empty"))
	}
	return errs.ErrorOrNil()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
