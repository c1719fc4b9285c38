package timex

import (
	"sync"
	"time"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clock is the time source used by the boot-time waits and the schedulers.
// Tests substitute a manual clock so timing properties run without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// System is the wall clock.
var System Clock = systemClock{}

// Due reports whether at least every has elapsed since last.
// A zero last is always due.
func Due(last, now time.Time, every time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= every
}

// Ms converts a millisecond count to a Duration.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Manual is a clock that moves only when slept on or advanced.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func NewManual(start time.Time) *Manual { return &Manual{now: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.slept += d
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (m *Manual) Slept() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slept
}
