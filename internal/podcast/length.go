package podcast

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// WordsPerMinute is the speech rate the word budget is derived from.
const WordsPerMinute = 150

// Length is a parsed episode length request.
type Length struct {
	// Duration is the requested episode duration. For ranges this is the
	// midpoint.
	Duration time.Duration

	// TargetWords is the episode word budget at WordsPerMinute.
	TargetWords int
}

// lengthRe accepts "10 minutes", "90 seconds", "2.5 min", "10-12 minutes"
// and a bare number (interpreted as minutes).
var lengthRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)(?:\s*-\s*(\d+(?:\.\d+)?))?\s*([a-z]*)$`)

// ParseLength parses a free-form length request into a duration and word
// budget. Accepted units: minutes (default), min(s), m, seconds, sec(s), s.
// Ranges take the midpoint. Anything else is rejected.
func ParseLength(s string) (Length, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return Length{}, fmt.Errorf("podcast: parse length: empty length")
	}

	m := lengthRe.FindStringSubmatch(norm)
	if m == nil {
		return Length{}, fmt.Errorf("podcast: parse length: cannot parse %q", s)
	}

	lo, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Length{}, fmt.Errorf("podcast: parse length %q: %w", s, err)
	}
	value := lo
	if m[2] != "" {
		hi, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Length{}, fmt.Errorf("podcast: parse length %q: %w", s, err)
		}
		value = (lo + hi) / 2
	}

	var minutes float64
	switch m[3] {
	case "", "m", "min", "mins", "minute", "minutes":
		minutes = value
	case "s", "sec", "secs", "second", "seconds":
		minutes = value / 60
	default:
		return Length{}, fmt.Errorf("podcast: parse length: unknown unit %q in %q", m[3], s)
	}

	if minutes <= 0 {
		return Length{}, fmt.Errorf("podcast: parse length: %q is not a positive duration", s)
	}

	return Length{
		Duration:    time.Duration(minutes * float64(time.Minute)),
		TargetWords: int(math.Round(minutes * WordsPerMinute)),
	}, nil
}
