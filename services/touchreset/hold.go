package touchreset

import "time"

type HoldState uint8

const (
	HoldIdle HoldState = iota
	HoldHolding
	HoldConfirmed
	HoldAborted
)

func (s HoldState) String() string {
	switch s {
	case HoldIdle:
		return "idle"
	case HoldHolding:
		return "holding"
	case HoldConfirmed:
		return "confirmed"
	case HoldAborted:
		return "aborted"
	}
	return "unknown"
}

// Hold confirms a touch that stays down for the whole duration.
// Confirmed and Aborted are terminal.
type Hold struct {
	dur   time.Duration
	since time.Time
	state HoldState
}

func NewHold(d time.Duration) *Hold { return &Hold{dur: d} }

// Start begins the hold at now.
func (h *Hold) Start(now time.Time) {
	h.since = now
	h.state = HoldHolding
}

// Observe feeds one poll. A release is checked before the deadline, so a
// release seen at exactly the deadline still aborts.
func (h *Hold) Observe(now time.Time, touched bool) HoldState {
	if h.state != HoldHolding {
		return h.state
	}
	if !touched {
		h.state = HoldAborted
		return h.state
	}
	if now.Sub(h.since) >= h.dur {
		h.state = HoldConfirmed
	}
	return h.state
}

// Abort ends an in-progress hold.
func (h *Hold) Abort() {
	if h.state == HoldHolding {
		h.state = HoldAborted
	}
}

func (h *Hold) State() HoldState { return h.state }

func (h *Hold) Elapsed(now time.Time) time.Duration {
	if h.since.IsZero() {
		return 0
	}
	return now.Sub(h.since)
}

// Remaining is clamped at zero.
func (h *Hold) Remaining(now time.Time) time.Duration {
	r := h.dur - h.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}
