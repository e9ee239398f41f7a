package enrich

import "sync"

// healthWindow tracks the success/failure ratio of the most recent upstream
// calls. It feeds observability only; the client never consults it before
// attempting a live call.
type healthWindow struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   bool
}

func newHealthWindow(size int) *healthWindow {
	if size <= 0 {
		size = 50
	}
	return &healthWindow{outcomes: make([]bool, size)}
}

func (h *healthWindow) record(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes[h.next] = success
	h.next++
	if h.next == len(h.outcomes) {
		h.next = 0
		h.filled = true
	}
}

func (h *healthWindow) ratio() (float64, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.filled {
		n = len(h.outcomes)
	}
	if n == 0 {
		return 0, 0
	}

	var ok int
	for i := 0; i < n; i++ {
		if h.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n), n
}
