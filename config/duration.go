package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Duration wraps time.Duration so config fields like the backoff jitter
// window and the Full-Hash Request cache's cleanup interval can be
// written as strings ("30m", "2h") in either JSON or YAML config files
// instead of raw nanosecond counts.
type Duration struct {
	time.Duration `validate:"required"`
}

// ErrDurationMustBeString is returned when a Duration field's JSON value
// isn't a string.
var ErrDurationMustBeString = errors.New("config: cannot unmarshal a non-string JSON value into a Duration")

// UnmarshalJSON parses b as a JSON string and then as a time.Duration via
// time.ParseDuration.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ErrDurationMustBeString
		}
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON returns d's duration as a quoted JSON string, e.g. "30m0s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalYAML parses the same string format as UnmarshalJSON, for the
// YAML parser.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
