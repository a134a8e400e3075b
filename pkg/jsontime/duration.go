// Package jsontime provides time values with a human readable text form in
// JSON and YAML configuration files.
package jsontime

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-yaml"
)

// Duration is a time.Duration written as a duration string ("1h30m",
// "250ms"). When reading, it also accepts an integer number of nanoseconds.
type Duration time.Duration

// Std returns the time.Duration value.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration formatted as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalYAML implements yaml.BytesMarshaler.
func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch v := v.(type) {
	case string:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("jsontime: %w", err)
		}
		*d = Duration(dur)
	case float64:
		if v != math.Trunc(v) {
			return fmt.Errorf("jsontime: duration %v is not a whole number of nanoseconds", v)
		}
		*d = Duration(int64(v))
	case int64:
		*d = Duration(v)
	case uint64:
		if v > math.MaxInt64 {
			return fmt.Errorf("jsontime: duration %d overflows", v)
		}
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("jsontime: cannot read %T as a duration", v)
	}
	return nil
}
