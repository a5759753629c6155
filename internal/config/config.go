package config

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls how a single result set is streamed.
type Config struct {
	// Size of the download worker pool. Also bounds the number of
	// chunks resident in memory at once.
	MaxDownloadThreads int

	// Attempts made for one chunk before it is marked failed.
	MaxDownloadAttempts int

	// Bounds of the exponential backoff between download attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Links that expire within this window are treated as expired.
	MinTimeToExpiry time.Duration

	// Timeout of a single HTTP download. Zero means no timeout.
	DownloadTimeout time.Duration

	// Page size requested from the backend by the inline columnar cursor.
	MaxRows int

	// Hard cap on rows returned by the inline columnar cursor. Zero means no cap.
	RowLimit int64

	// Ceiling on the total size of an inline textual result.
	InlineResultMaxBytes int64

	// Inline columnar batches are lz4 frame compressed.
	UseLz4Compression bool

	// Location used when converting timestamps.
	Location *time.Location

	// Registry for download metrics. Nil disables registration.
	MetricsRegisterer prometheus.Registerer
}

func WithDefaults() *Config {
	return &Config{
		MaxDownloadThreads:   10,
		MaxDownloadAttempts:  5,
		RetryWaitMin:         250 * time.Millisecond,
		RetryWaitMax:         10 * time.Second,
		MinTimeToExpiry:      5 * time.Second,
		MaxRows:              100000,
		InlineResultMaxBytes: 25 * 1024 * 1024,
		Location:             time.UTC,
	}
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	return &Config{
		MaxDownloadThreads:   c.MaxDownloadThreads,
		MaxDownloadAttempts:  c.MaxDownloadAttempts,
		RetryWaitMin:         c.RetryWaitMin,
		RetryWaitMax:         c.RetryWaitMax,
		MinTimeToExpiry:      c.MinTimeToExpiry,
		DownloadTimeout:      c.DownloadTimeout,
		MaxRows:              c.MaxRows,
		RowLimit:             c.RowLimit,
		InlineResultMaxBytes: c.InlineResultMaxBytes,
		UseLz4Compression:    c.UseLz4Compression,
		Location:             c.Location,
		MetricsRegisterer:    c.MetricsRegisterer,
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.MaxDownloadThreads < 1:
		return fmt.Errorf("maxDownloadThreads must be at least 1, got %d", c.MaxDownloadThreads)
	case c.MaxDownloadAttempts < 1:
		return fmt.Errorf("maxDownloadAttempts must be at least 1, got %d", c.MaxDownloadAttempts)
	case c.RetryWaitMin < 0 || c.RetryWaitMax < c.RetryWaitMin:
		return fmt.Errorf("invalid retry wait bounds [%v, %v]", c.RetryWaitMin, c.RetryWaitMax)
	case c.MinTimeToExpiry < 0:
		return fmt.Errorf("minTimeToExpiry must not be negative")
	case c.MaxRows < 1:
		return fmt.Errorf("maxRows must be at least 1, got %d", c.MaxRows)
	case c.RowLimit < 0:
		return fmt.Errorf("rowLimit must not be negative")
	case c.InlineResultMaxBytes < 1:
		return fmt.Errorf("inlineResultMaxBytes must be positive")
	}
	return nil
}

// Overrides is one layer of settings read from a file or the environment.
type Overrides struct {
	MaxDownloadThreads   ConfigValue[int]           `yaml:"maxDownloadThreads"`
	MaxDownloadAttempts  ConfigValue[int]           `yaml:"maxDownloadAttempts"`
	RetryWaitMin         ConfigValue[time.Duration] `yaml:"retryWaitMin"`
	RetryWaitMax         ConfigValue[time.Duration] `yaml:"retryWaitMax"`
	MinTimeToExpiry      ConfigValue[time.Duration] `yaml:"minTimeToExpiry"`
	DownloadTimeout      ConfigValue[time.Duration] `yaml:"downloadTimeout"`
	MaxRows              ConfigValue[int]           `yaml:"maxRows"`
	RowLimit             ConfigValue[int64]         `yaml:"rowLimit"`
	InlineResultMaxBytes ConfigValue[int64]         `yaml:"inlineResultMaxBytes"`
	UseLz4Compression    ConfigValue[bool]          `yaml:"useLz4Compression"`
	Location             ConfigValue[string]        `yaml:"location"`
}

// Merge layers other on top of o.
func (o Overrides) Merge(other Overrides) Overrides {
	return Overrides{
		MaxDownloadThreads:   o.MaxDownloadThreads.Merge(other.MaxDownloadThreads),
		MaxDownloadAttempts:  o.MaxDownloadAttempts.Merge(other.MaxDownloadAttempts),
		RetryWaitMin:         o.RetryWaitMin.Merge(other.RetryWaitMin),
		RetryWaitMax:         o.RetryWaitMax.Merge(other.RetryWaitMax),
		MinTimeToExpiry:      o.MinTimeToExpiry.Merge(other.MinTimeToExpiry),
		DownloadTimeout:      o.DownloadTimeout.Merge(other.DownloadTimeout),
		MaxRows:              o.MaxRows.Merge(other.MaxRows),
		RowLimit:             o.RowLimit.Merge(other.RowLimit),
		InlineResultMaxBytes: o.InlineResultMaxBytes.Merge(other.InlineResultMaxBytes),
		UseLz4Compression:    o.UseLz4Compression.Merge(other.UseLz4Compression),
		Location:             o.Location.Merge(other.Location),
	}
}

// ApplyTo writes every set value into c.
func (o Overrides) ApplyTo(c *Config) error {
	o.MaxDownloadThreads.Apply(&c.MaxDownloadThreads)
	o.MaxDownloadAttempts.Apply(&c.MaxDownloadAttempts)
	o.RetryWaitMin.Apply(&c.RetryWaitMin)
	o.RetryWaitMax.Apply(&c.RetryWaitMax)
	o.MinTimeToExpiry.Apply(&c.MinTimeToExpiry)
	o.DownloadTimeout.Apply(&c.DownloadTimeout)
	o.MaxRows.Apply(&c.MaxRows)
	o.RowLimit.Apply(&c.RowLimit)
	o.InlineResultMaxBytes.Apply(&c.InlineResultMaxBytes)
	o.UseLz4Compression.Apply(&c.UseLz4Compression)

	if name, ok := o.Location.Get(); ok {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return fmt.Errorf("location: %w", err)
		}
		c.Location = loc
	}
	return nil
}
