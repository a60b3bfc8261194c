package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ParseDurationField parses a config duration; empty means zero. Besides Go
// duration strings it accepts a whole number of days ("2d"). path names the
// key in errors, e.g. "delivery.timeout".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, goerr.Wrap(err, "invalid duration", goerr.V("key", path), goerr.V("value", raw))
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, goerr.Wrap(err, "invalid duration", goerr.V("key", path), goerr.V("value", raw))
		}
	}
	if d < 0 {
		return 0, goerr.New("duration must not be negative", goerr.V("key", path), goerr.V("value", raw))
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	switch {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	}
	return d, nil
}
