package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a config value written either as a Go duration ("90s",
// "1h30m") or as a bare number of whole seconds (5). Blank means unset.
type Duration string

func (d *Duration) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*d = ""
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Duration(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds, got %s", raw)
	}
	*d = Duration(n.String())
	return nil
}

func (d Duration) IsSet() bool { return strings.TrimSpace(string(d)) != "" }

// Parse returns the value, or zero when unset. Negative values are rejected;
// field names the config key in errors.
func (d Duration) Parse(field string) (time.Duration, error) {
	s := strings.TrimSpace(string(d))
	if s == "" {
		return 0, nil
	}
	var v time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		v = time.Duration(n) * time.Second
	} else if v, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", field)
	}
	return v, nil
}

// OrDefault is Parse with def substituted for zero.
func (d Duration) OrDefault(field string, def time.Duration) (time.Duration, error) {
	v, err := d.Parse(field)
	if err != nil || v > 0 {
		return v, err
	}
	return def, nil
}

// Seconds parses a value that must be a whole number of seconds. Unset
// yields def.
func (d Duration) Seconds(field string, def int) (int, error) {
	if !d.IsSet() {
		return def, nil
	}
	v, err := d.Parse(field)
	if err != nil {
		return 0, err
	}
	if v%time.Second != 0 {
		return 0, fmt.Errorf("%s: must be a whole number of seconds, got %s", field, v)
	}
	return int(v / time.Second), nil
}
