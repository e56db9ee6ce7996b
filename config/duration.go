package config

import (
	"strconv"
	"time"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// ParseDuration parses `<integer><unit>` with unit in {s,m,h,d,w}. Plain
// integers with no unit are rejected rather than silently guessed at.
func ParseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, ditoxerr.New(ditoxerr.InvalidInput, "empty duration")
	}
	unit := raw[len(raw)-1]
	numPart := raw[:len(raw)-1]

	var unitDur time.Duration
	switch unit {
	case 's':
		unitDur = time.Second
	case 'm':
		unitDur = time.Minute
	case 'h':
		unitDur = time.Hour
	case 'd':
		unitDur = 24 * time.Hour
	case 'w':
		unitDur = 7 * 24 * time.Hour
	default:
		return 0, ditoxerr.New(ditoxerr.InvalidInput, "unrecognized duration unit in "+raw)
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.InvalidInput, "parse duration magnitude in "+raw, err)
	}
	if n < 0 {
		return 0, ditoxerr.New(ditoxerr.InvalidInput, "negative duration in "+raw)
	}
	return time.Duration(n) * unitDur, nil
}
