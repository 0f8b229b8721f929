package breaker

// Window is a fixed ring of recent operation outcomes plus a consecutive
// failure counter. Counters never go negative and both are capped by the
// window size.
type Window struct {
	outcomes []bool // true = failure
	next     int
	filled   int

	failures    int
	consecutive int
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{outcomes: make([]bool, size)}
}

// Record pushes one outcome, evicting the oldest once the ring is full.
func (w *Window) Record(failed bool) {
	if w.filled == len(w.outcomes) {
		if w.outcomes[w.next] {
			w.failures--
		}
	} else {
		w.filled++
	}
	w.outcomes[w.next] = failed
	w.next = (w.next + 1) % len(w.outcomes)

	if failed {
		w.failures++
		if w.consecutive < len(w.outcomes) {
			w.consecutive++
		}
	} else {
		w.consecutive = 0
	}
}

// Failures returns the failure count within the window.
func (w *Window) Failures() int { return w.failures }

// Consecutive returns the current run of failures, capped at the window
// size.
func (w *Window) Consecutive() int { return w.consecutive }

// Reset clears all outcomes and counters.
func (w *Window) Reset() {
	for i := range w.outcomes {
		w.outcomes[i] = false
	}
	w.next = 0
	w.filled = 0
	w.failures = 0
	w.consecutive = 0
}
