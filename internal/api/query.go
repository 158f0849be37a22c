package api

import (
	"fmt"
	"strconv"
	"time"
)

// ParseIntParam reads an integer query value bounded to [lo, hi]. An empty
// value yields def.
func ParseIntParam(value string, lo, hi, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("must be a valid integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return n, nil
}

// ParseTimeParam reads an RFC3339 query value. An empty value yields the
// zero time.
func ParseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp")
	}
	return t, nil
}
