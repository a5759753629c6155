package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvMaxDownloadThreads   = "DATABRICKS_MAX_DOWNLOAD_THREADS"
	EnvMaxDownloadAttempts  = "DATABRICKS_MAX_DOWNLOAD_ATTEMPTS"
	EnvRetryWaitMin         = "DATABRICKS_RETRY_WAIT_MIN"
	EnvRetryWaitMax         = "DATABRICKS_RETRY_WAIT_MAX"
	EnvMinTimeToExpiry      = "DATABRICKS_MIN_TIME_TO_EXPIRY"
	EnvDownloadTimeout      = "DATABRICKS_DOWNLOAD_TIMEOUT"
	EnvMaxRows              = "DATABRICKS_MAX_ROWS"
	EnvRowLimit             = "DATABRICKS_ROW_LIMIT"
	EnvInlineResultMaxBytes = "DATABRICKS_INLINE_RESULT_MAX_BYTES"
	EnvUseLz4Compression    = "DATABRICKS_USE_LZ4_COMPRESSION"
	EnvLocation             = "DATABRICKS_LOCATION"
)

// FromEnv builds overrides from a set of environment variables.
func FromEnv(env map[string]string) (Overrides, error) {
	var o Overrides
	var err error

	if o.MaxDownloadThreads, err = ParseIntConfigValue(env, EnvMaxDownloadThreads); err != nil {
		return o, err
	}
	if o.MaxDownloadAttempts, err = ParseIntConfigValue(env, EnvMaxDownloadAttempts); err != nil {
		return o, err
	}
	if o.RetryWaitMin, err = ParseDurationConfigValue(env, EnvRetryWaitMin); err != nil {
		return o, err
	}
	if o.RetryWaitMax, err = ParseDurationConfigValue(env, EnvRetryWaitMax); err != nil {
		return o, err
	}
	if o.MinTimeToExpiry, err = ParseDurationConfigValue(env, EnvMinTimeToExpiry); err != nil {
		return o, err
	}
	if o.DownloadTimeout, err = ParseDurationConfigValue(env, EnvDownloadTimeout); err != nil {
		return o, err
	}
	if o.MaxRows, err = ParseIntConfigValue(env, EnvMaxRows); err != nil {
		return o, err
	}
	if o.RowLimit, err = ParseInt64ConfigValue(env, EnvRowLimit); err != nil {
		return o, err
	}
	if o.InlineResultMaxBytes, err = ParseInt64ConfigValue(env, EnvInlineResultMaxBytes); err != nil {
		return o, err
	}
	if o.UseLz4Compression, err = ParseBoolConfigValue(env, EnvUseLz4Compression); err != nil {
		return o, err
	}
	o.Location = ParseStringConfigValue(env, EnvLocation)

	return o, nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// LoadEnvFile reads overrides from .env style files without touching the process environment.
func LoadEnvFile(filenames ...string) (Overrides, error) {
	env, err := godotenv.Read(filenames...)
	if err != nil {
		return Overrides{}, errors.Wrap(err, "reading env file")
	}
	return FromEnv(env)
}

// LoadFile reads overrides from a YAML file. Keys that are absent stay unset.
func LoadFile(path string) (Overrides, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, errors.Wrapf(err, "reading config file %s", path)
	}
	return ParseYAML(b)
}

// ParseYAML decodes overrides from YAML.
func ParseYAML(b []byte) (Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Overrides{}, errors.Wrap(err, "parsing config")
	}
	return o, nil
}
