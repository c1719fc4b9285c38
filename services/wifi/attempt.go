package wifi

import "sync"

// attempts tracks background association attempts for stacks whose join
// cannot be cancelled. Each attempt gets an id; the result of an attempt
// that was abandoned or superseded is discarded, so a late success never
// raises the link.
type attempts struct {
	mu   sync.Mutex
	cur  uint32
	busy bool
	up   bool
}

// begin starts a new attempt and lowers the link. It refuses while another
// attempt runs.
func (a *attempts) begin() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return 0, false
	}
	a.cur++
	a.busy = true
	a.up = false
	return a.cur, true
}

// abandon gives up on attempt id.
func (a *attempts) abandon(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == id {
		a.cur++
		a.busy = false
		a.up = false
	}
}

// finish records the outcome of attempt id and reports whether it still
// counts. commit runs under the lock when a success is accepted.
func (a *attempts) finish(id uint32, ok bool, commit func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur != id {
		return false
	}
	a.busy = false
	if ok {
		if commit != nil {
			commit()
		}
		a.up = true
	}
	return true
}

func (a *attempts) linkUp() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.up
}

func (a *attempts) drop() {
	a.mu.Lock()
	a.up = false
	a.mu.Unlock()
}
