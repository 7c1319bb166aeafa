package moat

import (
	"strconv"
	"strings"
	"time"
)

// cooldown is the sole dedup mechanism: schedules match at minute
// granularity, so a job that just fired must not fire again on the next poll
// of the same minute.
const cooldown = 60 * time.Second

// IsDue reports whether a schedule descriptor fires at now. Descriptors are
// " - " delimited with trimmed fields; anything that does not parse is never
// due rather than an error. All comparisons are in UTC at minute granularity.
//
// Supported forms:
//
//	NOW
//	ONCE - 2026-01-31 - 09:00
//	DAILY - 09:00
//	WEEKLY - Monday - 09:00
//	MONTHLY - 15 - 09:00
func IsDue(descriptor string, lastRunAt *time.Time, now time.Time) bool {
	if lastRunAt != nil && now.Sub(*lastRunAt) < cooldown {
		return false
	}

	now = now.UTC()
	fields := splitDescriptor(descriptor)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToUpper(fields[0]) {
	case "NOW":
		return len(fields) == 1
	case "ONCE":
		return len(fields) == 3 &&
			fields[1] == now.Format("2006-01-02") &&
			fields[2] == now.Format("15:04")
	case "DAILY":
		return len(fields) == 2 &&
			fields[1] == now.Format("15:04")
	case "WEEKLY":
		return len(fields) == 3 &&
			strings.EqualFold(fields[1], now.Weekday().String()) &&
			fields[2] == now.Format("15:04")
	case "MONTHLY":
		return len(fields) == 3 &&
			fields[1] == strconv.Itoa(now.Day()) &&
			fields[2] == now.Format("15:04")
	default:
		return false
	}
}

func splitDescriptor(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, " - ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// OneShot reports whether a descriptor describes a schedule that should be
// deactivated after a single run.
func OneShot(descriptor string) bool {
	fields := splitDescriptor(descriptor)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "NOW", "ONCE":
		return true
	}
	return false
}
