package tools

import (
	"context"
	"time"
)

// Clock reports the current UTC date and time.
type Clock struct{}

func (Clock) Name() string      { return "clock" }
func (Clock) Signature() string { return "clock()" }
func (Clock) Doc() string       { return "Return the current UTC date, time and weekday." }

func (Clock) Invoke(context.Context, string, []any, map[string]any) (any, error) {
	now := time.Now().UTC()
	return map[string]string{
		"date":    now.Format("2006-01-02"),
		"time":    now.Format("15:04:05"),
		"weekday": now.Weekday().String(),
	}, nil
}
