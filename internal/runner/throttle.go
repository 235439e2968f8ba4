package runner

import "time"

// throttle rate-limits progress updates to one per interval. State is local
// to one run. Not safe for concurrent use; a run is single-threaded.
type throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval, now: time.Now}
}

// allow reports whether an update may be emitted now, and if so records the
// emission time. The first call always passes.
func (t *throttle) allow() bool {
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
