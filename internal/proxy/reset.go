package proxy

import (
	"context"
	"time"
)

// NextMidnight returns the first local midnight strictly after t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// RunDailyReset calls ResetDaily at every local midnight until ctx is done.
// It returns nil on cancellation so it can run under an errgroup.
func RunDailyReset(ctx context.Context, p *Pool, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	for {
		wait := time.Until(NextMidnight(time.Now(), loc))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			p.ResetDaily()
		}
	}
}
