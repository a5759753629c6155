package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigValue is a setting that may or may not have been provided by a
// configuration source. Sources are layered: a set value overrides the one
// below it, an unset value leaves it alone.
//
//	type Overrides struct {
//	    MaxDownloadThreads ConfigValue[int] `yaml:"maxDownloadThreads"`
//	}
//
//	o.MaxDownloadThreads.Apply(&cfg.MaxDownloadThreads)
type ConfigValue[T any] struct {
	// nil = not provided by this source
	value *T
}

// NewConfigValue creates a ConfigValue holding value.
func NewConfigValue[T any](value T) ConfigValue[T] {
	return ConfigValue[T]{value: &value}
}

// IsSet returns true if the source provided this value.
func (cv ConfigValue[T]) IsSet() bool {
	return cv.value != nil
}

// Get returns the value and whether it was set.
// If not set, returns zero value and false.
func (cv ConfigValue[T]) Get() (T, bool) {
	if cv.value != nil {
		return *cv.value, true
	}
	var zero T
	return zero, false
}

// Or returns the value if set, otherwise defaultValue.
func (cv ConfigValue[T]) Or(defaultValue T) T {
	if cv.value != nil {
		return *cv.value
	}
	return defaultValue
}

// Apply overwrites *dst when the value is set.
func (cv ConfigValue[T]) Apply(dst *T) {
	if cv.value != nil {
		*dst = *cv.value
	}
}

// Merge returns other when it is set, otherwise cv.
func (cv ConfigValue[T]) Merge(other ConfigValue[T]) ConfigValue[T] {
	if other.value != nil {
		return other
	}
	return cv
}

// UnmarshalYAML marks the value as set whenever the key is present.
func (cv *ConfigValue[T]) UnmarshalYAML(node *yaml.Node) error {
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	cv.value = &v
	return nil
}

// ParseBoolConfigValue parses params[key] into a ConfigValue[bool].
// Returns unset ConfigValue if the parameter is not present.
func ParseBoolConfigValue(params map[string]string, key string) (ConfigValue[bool], error) {
	v, ok := params[key]
	if !ok {
		return ConfigValue[bool]{}, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return ConfigValue[bool]{}, fmt.Errorf("%s: %w", key, err)
	}
	return NewConfigValue(b), nil
}

// ParseStringConfigValue returns params[key] as a ConfigValue[string].
func ParseStringConfigValue(params map[string]string, key string) ConfigValue[string] {
	if v, ok := params[key]; ok {
		return NewConfigValue(v)
	}
	return ConfigValue[string]{}
}

// ParseIntConfigValue parses params[key] into a ConfigValue[int].
func ParseIntConfigValue(params map[string]string, key string) (ConfigValue[int], error) {
	v, ok := params[key]
	if !ok {
		return ConfigValue[int]{}, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return ConfigValue[int]{}, fmt.Errorf("%s: %w", key, err)
	}
	return NewConfigValue(i), nil
}

// ParseInt64ConfigValue parses params[key] into a ConfigValue[int64].
func ParseInt64ConfigValue(params map[string]string, key string) (ConfigValue[int64], error) {
	v, ok := params[key]
	if !ok {
		return ConfigValue[int64]{}, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return ConfigValue[int64]{}, fmt.Errorf("%s: %w", key, err)
	}
	return NewConfigValue(i), nil
}

// ParseDurationConfigValue parses params[key] with time.ParseDuration.
func ParseDurationConfigValue(params map[string]string, key string) (ConfigValue[time.Duration], error) {
	v, ok := params[key]
	if !ok {
		return ConfigValue[time.Duration]{}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ConfigValue[time.Duration]{}, fmt.Errorf("%s: %w", key, err)
	}
	return NewConfigValue(d), nil
}
