package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const logPrefix = "stats:lifecycle"

// Drain stops admission and waits for in-flight tasks, polling every poll
// up to grace. It returns the number of tasks still outstanding.
func Drain(ctx context.Context, gate *Gate, grace, poll time.Duration) int64 {
	gate.SetAvailable(false)
	slog.Info(fmt.Sprintf("%s - draining, grace %s", logPrefix, grace))

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		left := gate.stats.CurTask()
		if left == 0 {
			slog.Info(fmt.Sprintf("%s - drain complete", logPrefix))
			return 0
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			left = gate.stats.CurTask()
			if left > 0 {
				slog.Warn(fmt.Sprintf("%s - %d tasks still running after %s", logPrefix, left, grace))
			}
			return left
		case <-ctx.Done():
			return gate.stats.CurTask()
		}
	}
}

// RunRollover checks the calendar day every interval and calls RolloverDay
// when it changes. It blocks until ctx is done.
func RunRollover(ctx context.Context, s *Statistics, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := dayOf(s.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if rolloverDue(&last, s.now()) {
				s.RolloverDay()
				slog.Info(fmt.Sprintf("%s - day rollover for %s", logPrefix, s.service))
			}
		}
	}
}

type day struct {
	year int
	yday int
}

func dayOf(t time.Time) day {
	return day{year: t.Year(), yday: t.YearDay()}
}

// rolloverDue reports whether now falls on a different day than *last and
// records it.
func rolloverDue(last *day, now time.Time) bool {
	d := dayOf(now)
	if d == *last {
		return false
	}
	*last = d
	return true
}
