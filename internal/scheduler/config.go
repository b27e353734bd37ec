package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	WorkerPoolSize int
	JobTimeout     time.Duration
	LeaseTTL       time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    24 * time.Hour,
		BatchSize:      100,
		WorkerPoolSize: 8,
		JobTimeout:     5 * time.Minute,
		LeaseTTL:       30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = defaults.WorkerPoolSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	return c
}
