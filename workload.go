package glitch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronWorkload evaluates a cron expression against the virtual clock, for
// clients that issue requests on a schedule rather than every tick. Cron
// schedule arithmetic is pure, so the workload is as deterministic as the
// clock driving it.
//
// The expression uses the six-field form with a leading seconds field
// ("*/2 * * * * *" fires every other second); descriptors like @hourly
// also work.
type CronWorkload struct {
	sched cron.Schedule
	next  time.Time
}

func NewCronWorkload(expr string, start time.Time) (*CronWorkload, error) {
	parser := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return &CronWorkload{sched: sched, next: sched.Next(start)}, nil
}

// Due reports how many schedule points have elapsed up to now, advancing
// the internal cursor past them. Call it from the client's Tick; a tick
// interval longer than the schedule period yields several due points at
// once.
func (w *CronWorkload) Due(now time.Time) int {
	n := 0
	for !w.next.After(now) {
		n++
		w.next = w.sched.Next(w.next)
	}
	return n
}

// Next returns the upcoming schedule point.
func (w *CronWorkload) Next() time.Time { return w.next }
