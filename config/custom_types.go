/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes for configuration structures.
// It's decoded from both integers and human-readable strings (e.g. "250M", "1Gi") and encoded as a string.
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler, it's used by mapstructure.TextUnmarshallerHookFunc too.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if num, ok, err := parseNonNegativeInt(s); ok {
		if err != nil {
			return err
		}
		*b = ByteSize(num)
		return nil
	}
	// bytefmt doesn't know power-of-two suffixes like "Mi", they mean the same for it as "M".
	v := s
	if len(v) > 1 && strings.HasSuffix(v, "i") {
		v = v[:len(v)-1]
	}
	num, err := bytefmt.ToBytes(v)
	if err != nil {
		return fmt.Errorf("invalid byte size format (%s): %w", s, err)
	}
	*b = ByteSize(num)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	return b.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalYAMLScalar(value, b.UnmarshalText)
}

// MarshalText implements encoding.TextMarshaler. JSON and YAML encoders use it as well.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// TimeDuration is a time duration for configuration structures.
// It's decoded from both integers (nanoseconds) and human-readable strings (e.g. "24h", "1h30m").
type TimeDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, it's used by mapstructure.TextUnmarshallerHookFunc too.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if num, ok, err := parseNonNegativeInt(s); ok {
		if err != nil {
			return err
		}
		*d = TimeDuration(num)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid time duration format (%s): %w", s, err)
	}
	*d = TimeDuration(dur)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *TimeDuration) UnmarshalJSON(data []byte) error {
	return d.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	return unmarshalYAMLScalar(value, d.UnmarshalText)
}

// MarshalText implements encoding.TextMarshaler. JSON and YAML encoders use it as well.
func (d TimeDuration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// parseNonNegativeInt reports ok=true if s is an integer at all.
func parseNonNegativeInt(s string) (num int64, ok bool, err error) {
	num, parseErr := strconv.ParseInt(s, 10, 64)
	if parseErr != nil {
		return 0, false, nil
	}
	if num < 0 {
		return 0, true, fmt.Errorf("negative value is not allowed: %d", num)
	}
	return num, true, nil
}

func unmarshalYAMLScalar(value *yaml.Node, unmarshalText func([]byte) error) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: scalar value is expected", value.Line)
	}
	return unmarshalText([]byte(value.Value))
}
