package poller

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the dashboard refresh period.
const DefaultInterval = 5 * time.Second

// interval is a fixed-period schedule. cron.Every rounds to whole seconds,
// which is too coarse for short refreshes and tests.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

// Every returns a schedule firing every d. Non-positive d means DefaultInterval.
func Every(d time.Duration) cron.Schedule {
	if d <= 0 {
		d = DefaultInterval
	}
	return interval(d)
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts standard cron expressions with an optional leading
// seconds field and descriptors such as "@every 30s" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}
