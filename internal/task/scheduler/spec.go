package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToCron turns a configured schedule into an expression robfig/cron parses.
// Cron specs and @descriptors pass through unchanged. A Go duration ("6h")
// or an HH:MM interval ("02:30") becomes "@every <d>".
func ToCron(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return "", fmt.Errorf("schedule required")
	case strings.HasPrefix(s, "@"), len(strings.Fields(s)) >= 5:
		return s, nil
	}

	d, err := interval(s)
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", raw, err)
	}
	if d <= 0 {
		return "", fmt.Errorf("schedule %q: interval must be positive", raw)
	}
	return "@every " + d.String(), nil
}

func interval(s string) (time.Duration, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("want a cron spec, HH:MM or a duration such as 6h")
		}
		return d, nil
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || len(m) != 2 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad HH:MM value")
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
