package playback

import (
	"math/rand"
	"sync"
	"time"
)

// Presence drives the interviewer avatar's camera so it does not sit frozen
// while the agent listens: the camera drops after a stretch of idle listening
// and comes back a few seconds later, and always comes back the moment the
// agent speaks.
type Presence struct {
	// OffAfter is how long the session may sit idle before the camera drops.
	OffAfter time.Duration
	// OnDelayMin/OnDelayMax bound the randomized pause before the camera
	// returns once it has dropped.
	OnDelayMin time.Duration
	OnDelayMax time.Duration

	onChange func(cameraOff bool)

	mu        sync.Mutex
	cameraOff bool
	epoch     uint64
	rnd       *rand.Rand
	stopped   bool
}

// NewPresence builds a presence driver with the default timings: the camera
// drops after roughly two quiet listen cycles and returns 5-10s later.
// onChange is invoked (outside the lock) whenever the camera state flips.
func NewPresence(onChange func(cameraOff bool)) *Presence {
	return &Presence{
		OffAfter:   12 * time.Second,
		OnDelayMin: 5 * time.Second,
		OnDelayMax: 10 * time.Second,
		onChange:   onChange,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SpeechStarted forces the camera on and cancels any pending flips.
func (p *Presence) SpeechStarted() {
	p.mu.Lock()
	p.epoch++
	flip := p.cameraOff && !p.stopped
	p.cameraOff = false
	p.mu.Unlock()
	if flip {
		p.notify(false)
	}
}

// EnterIdle arms the camera-off timer. Calling it again re-arms from now.
func (p *Presence) EnterIdle() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.epoch++
	myEpoch := p.epoch
	delay := p.OffAfter
	p.mu.Unlock()

	time.AfterFunc(delay, func() { p.turnOff(myEpoch) })
}

func (p *Presence) turnOff(myEpoch uint64) {
	p.mu.Lock()
	if p.epoch != myEpoch || p.stopped || p.cameraOff {
		p.mu.Unlock()
		return
	}
	p.cameraOff = true
	span := p.OnDelayMax - p.OnDelayMin
	delay := p.OnDelayMin
	if span > 0 {
		delay += time.Duration(p.rnd.Int63n(int64(span)))
	}
	p.mu.Unlock()

	p.notify(true)
	time.AfterFunc(delay, func() { p.turnOn(myEpoch) })
}

func (p *Presence) turnOn(myEpoch uint64) {
	p.mu.Lock()
	if p.epoch != myEpoch || p.stopped || !p.cameraOff {
		p.mu.Unlock()
		return
	}
	p.cameraOff = false
	p.mu.Unlock()

	p.notify(false)
	// Still idle, so the cycle continues.
	p.EnterIdle()
}

// CameraOff reports the current avatar camera state.
func (p *Presence) CameraOff() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cameraOff
}

// Stop ends the presence loop and forces the camera on for teardown.
func (p *Presence) Stop() {
	p.mu.Lock()
	p.epoch++
	p.stopped = true
	flip := p.cameraOff
	p.cameraOff = false
	p.mu.Unlock()
	if flip {
		p.notify(false)
	}
}

func (p *Presence) notify(off bool) {
	if p.onChange != nil {
		p.onChange(off)
	}
}
