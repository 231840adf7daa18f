// Package endpoint decides when the candidate has finished a turn, based on
// silence between transcript updates.
package endpoint

import (
	"strings"
	"sync"
	"time"
)

// DefaultSilenceWindow is the inactivity window after the last non-empty
// transcript update before a turn is considered complete.
const DefaultSilenceWindow = 2500 * time.Millisecond

// Detector maintains a debounce timer re-armed on every transcript update
// carrying non-empty text. When the timer expires with a non-empty buffer,
// the submit callback fires exactly once with the buffered text.
type Detector struct {
	window time.Duration
	submit func(text string)

	mu     sync.Mutex
	buffer string
	timer  *time.Timer
	// epoch voids timers armed before a cancel; a stale timer that fires
	// after the state has moved on must be a no-op.
	epoch uint64
}

// NewDetector creates a detector with the given silence window. A zero window
// falls back to DefaultSilenceWindow.
func NewDetector(window time.Duration, submit func(string)) *Detector {
	if window <= 0 {
		window = DefaultSilenceWindow
	}
	return &Detector{window: window, submit: submit}
}

// Observe records the current full transcript of the in-progress turn and
// re-arms the silence timer if the text is non-empty.
func (d *Detector) Observe(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = text
	if strings.TrimSpace(text) == "" {
		return
	}
	epoch := d.epoch
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, func() { d.fire(epoch) })
		return
	}
	d.timer.Stop()
	// Reset with a fresh closure so the captured epoch stays current.
	d.timer = time.AfterFunc(d.window, func() { d.fire(epoch) })
}

// Cancel voids any armed timer and clears the buffer. Used whenever a turn is
// submitted by another path, so the timer cannot double-submit.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.buffer = ""
}

// Take returns the buffered transcript and clears it, voiding any armed
// timer. Used by explicit-stop submission paths.
func (d *Detector) Take() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	text := strings.TrimSpace(d.buffer)
	d.buffer = ""
	return text
}

func (d *Detector) fire(epoch uint64) {
	d.mu.Lock()
	if epoch != d.epoch {
		d.mu.Unlock()
		return
	}
	d.epoch++
	d.timer = nil
	text := strings.TrimSpace(d.buffer)
	d.buffer = ""
	d.mu.Unlock()
	if text == "" {
		// Timer expiry with a whitespace-only buffer is a no-op.
		return
	}
	if d.submit != nil {
		d.submit(text)
	}
}
