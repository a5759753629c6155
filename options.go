package dbsql

import (
	"time"

	"github.com/databricks/databricks-sql-stream/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

type resultConfig struct {
	*config.Config
	err error
}

// ResultOption configures how a result is streamed.
type ResultOption func(*resultConfig)

// WithMaxDownloadThreads sets the number of concurrent chunk downloads.
// It also bounds the number of chunks held in memory. Default is 10.
func WithMaxDownloadThreads(n int) ResultOption {
	return func(c *resultConfig) {
		c.MaxDownloadThreads = n
	}
}

// WithMaxDownloadAttempts sets how many times a chunk download is attempted
// before the chunk fails. Default is 5.
func WithMaxDownloadAttempts(n int) ResultOption {
	return func(c *resultConfig) {
		c.MaxDownloadAttempts = n
	}
}

// WithRetryWait sets the bounds of the exponential backoff between download attempts.
func WithRetryWait(min, max time.Duration) ResultOption {
	return func(c *resultConfig) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

// WithMinTimeToExpiry treats links expiring within d as already expired.
func WithMinTimeToExpiry(d time.Duration) ResultOption {
	return func(c *resultConfig) {
		c.MinTimeToExpiry = d
	}
}

// WithDownloadTimeout bounds a single HTTP chunk download.
func WithDownloadTimeout(d time.Duration) ResultOption {
	return func(c *resultConfig) {
		c.DownloadTimeout = d
	}
}

// WithRowLimit caps the rows returned from an inline Arrow result. Zero means no cap.
func WithRowLimit(n int64) ResultOption {
	return func(c *resultConfig) {
		c.RowLimit = n
	}
}

// WithMaxRows sets the page size requested for inline Arrow results.
func WithMaxRows(n int) ResultOption {
	return func(c *resultConfig) {
		c.MaxRows = n
	}
}

// WithInlineResultMaxBytes sets the largest inline textual result that is accepted.
func WithInlineResultMaxBytes(n int64) ResultOption {
	return func(c *resultConfig) {
		c.InlineResultMaxBytes = n
	}
}

// WithLz4Compression treats inline Arrow batches without a codec as lz4 frames.
func WithLz4Compression(b bool) ResultOption {
	return func(c *resultConfig) {
		c.UseLz4Compression = b
	}
}

// WithLocation sets the location DATE and TIMESTAMP values are returned in.
func WithLocation(loc *time.Location) ResultOption {
	return func(c *resultConfig) {
		c.Location = loc
	}
}

// WithMetricsRegisterer registers download metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) ResultOption {
	return func(c *resultConfig) {
		c.MetricsRegisterer = reg
	}
}

// WithConfigFile applies the settings of a YAML file. Options after it override it.
func WithConfigFile(path string) ResultOption {
	return withOverrides(func() (config.Overrides, error) {
		return config.LoadFile(path)
	})
}

// WithEnvFile applies DATABRICKS_* settings read from .env files without
// modifying the process environment.
func WithEnvFile(filenames ...string) ResultOption {
	return withOverrides(func() (config.Overrides, error) {
		return config.LoadEnvFile(filenames...)
	})
}

// WithEnvironment applies DATABRICKS_* settings from the process environment.
func WithEnvironment() ResultOption {
	return withOverrides(func() (config.Overrides, error) {
		return config.FromEnv(config.Environ())
	})
}

func withOverrides(load func() (config.Overrides, error)) ResultOption {
	return func(c *resultConfig) {
		if c.err != nil {
			return
		}
		o, err := load()
		if err == nil {
			err = o.ApplyTo(c.Config)
		}
		c.err = err
	}
}

func newResultConfig(opts []ResultOption) (*config.Config, error) {
	c := &resultConfig{Config: config.WithDefaults()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c.Config, c.Validate()
}
