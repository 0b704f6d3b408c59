package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// scheduleZone is the operator-local timezone schedules are written in.
const scheduleZone = "America/Bogota"

// weekdayKeys maps time.Weekday (Sunday = 0) to the schedule day keys.
var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey returns the schedule key (mon..sun) for a weekday.
func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[int(d)%7]
}

// ValidDayKey reports whether s is one of the mon..sun schedule keys.
func ValidDayKey(s string) bool {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, k := range weekdayKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ParseHHMM normalises a 24h clock time to zero-padded "HH:MM" form. The
// second return is false for anything unparseable, including out-of-range
// components.
func ParseHHMM(s string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return "", false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", false
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// Location returns the schedule timezone. Bogotá does not observe DST, so a
// fixed UTC-5 zone stands in when the host has no tzdata.
func Location() *time.Location {
	loc, err := time.LoadLocation(scheduleZone)
	if err != nil {
		return time.FixedZone(scheduleZone, -5*60*60)
	}
	return loc
}
