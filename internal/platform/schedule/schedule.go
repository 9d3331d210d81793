// Package schedule provides an optional cron-expression cadence override
// for the periodic services: each normally runs on a fixed interval, but an
// operator may instead pin it to a standard 5-field cron expression (e.g.
// run the health-score service at 06:00 daily instead of every 60 minutes).
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker fires on cfg.Interval, or on a parsed cron schedule when a cron
// expression is supplied, whichever the caller configured.
type Ticker struct {
	interval time.Duration
	cronSpec cron.Schedule
	timer    *time.Timer
	fixed    *time.Ticker
	C        <-chan time.Time
}

// New builds a Ticker. If cronExpr is non-empty it takes precedence over
// interval and is parsed with cron.ParseStandard (5-field, minute
// precision); an invalid expression falls back to interval.
func New(interval time.Duration, cronExpr string) *Ticker {
	if cronExpr != "" {
		if spec, err := cron.ParseStandard(cronExpr); err == nil {
			t := &Ticker{cronSpec: spec}
			ch := make(chan time.Time, 1)
			t.C = ch
			t.scheduleNext(ch)
			return t
		}
	}
	ft := time.NewTicker(interval)
	return &Ticker{interval: interval, fixed: ft, C: ft.C}
}

func (t *Ticker) scheduleNext(ch chan time.Time) {
	now := time.Now()
	next := t.cronSpec.Next(now)
	t.timer = time.AfterFunc(next.Sub(now), func() {
		select {
		case ch <- time.Now():
		default:
		}
		t.scheduleNext(ch)
	})
}

// Stop releases the underlying timer/ticker.
func (t *Ticker) Stop() {
	if t.fixed != nil {
		t.fixed.Stop()
	}
	if t.timer != nil {
		t.timer.Stop()
	}
}
