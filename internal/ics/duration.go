package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration parses an RFC 5545 DURATION value such as "PT1H30M",
// "P1D" or "-P2W".
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	negative := false
	switch {
	case strings.HasPrefix(v, "-"):
		negative = true
		v = v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 2 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, ch := range v {
		switch {
		case ch >= '0' && ch <= '9':
			num += string(ch)
			continue
		case ch == 'T':
			if num != "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}

		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration number %q", num)
		}
		num = ""

		var unit time.Duration
		switch {
		case ch == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case ch == 'D' && !inTime:
			unit = 24 * time.Hour
		case ch == 'H' && inTime:
			unit = time.Hour
		case ch == 'M' && inTime:
			unit = time.Minute
		case ch == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration unit %q", ch)
		}
		total += time.Duration(n) * unit
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing number", v)
	}

	if negative {
		total = -total
	}
	return total, nil
}
