package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/mannat244/Assesly/internal/tts"
)

// sampleWriter is the outbound track surface; *webrtc.TrackLocalStaticSample
// satisfies it.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusClipWriter encodes 48kHz mono PCM clips to Opus and writes them paced
// to a WebRTC track, reporting completion per clip. It implements
// playback.Sink: at most one clip is in flight, and starting a new one drops
// the previous clip without calling its done callback.
type OpusClipWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	frameSamples int
	stopCh       chan struct{}

	mu      sync.Mutex
	queue   [][]byte
	done    func(error)
	stopped bool
}

// NewOpusClipWriter constructs a clip writer with 20ms frames at 48kHz mono.
func NewOpusClipWriter(track sampleWriter) (*OpusClipWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := &OpusClipWriter{
		enc:          enc,
		track:        track,
		frameSamples: 960, // 20ms at 48kHz
		stopCh:       make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// PlayClip encodes the clip and starts paced playback. done fires exactly
// once with nil when the last frame has been written, or with an error if the
// track rejects a write. A clip replaced by a later PlayClip or Stop never
// fires done.
func (w *OpusClipWriter) PlayClip(clip *tts.Clip, done func(error)) error {
	if clip == nil || len(clip.PCM) < 2 {
		return errors.New("rtc: empty clip")
	}
	if clip.SampleRate != 48000 || clip.Channels != 1 {
		return fmt.Errorf("rtc: clip format %dHz/%dch, writer needs 48000Hz mono", clip.SampleRate, clip.Channels)
	}

	frames, err := w.encode(clip.PCM)
	if err != nil {
		return fmt.Errorf("rtc: encode clip: %w", err)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("rtc: writer closed")
	}
	w.queue = frames
	w.done = done
	w.mu.Unlock()
	return nil
}

// Stop drops the current clip, if any. Its done callback does not fire.
func (w *OpusClipWriter) Stop() {
	w.mu.Lock()
	w.queue = nil
	w.done = nil
	w.mu.Unlock()
}

// Close stops the pacer goroutine. The in-flight clip is dropped.
func (w *OpusClipWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.queue = nil
	w.done = nil
	w.mu.Unlock()
}

// encode splits little-endian s16 PCM into zero-padded 20ms frames plus a
// short silence tail so the final phoneme is not clipped.
func (w *OpusClipWriter) encode(pcmBytes []byte) ([][]byte, error) {
	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	var frames [][]byte
	for off := 0; off < len(samples); off += w.frameSamples {
		end := off + w.frameSamples
		frame := make([]int16, w.frameSamples)
		if end > len(samples) {
			copy(frame, samples[off:])
		} else {
			frame = samples[off:end]
		}
		n, err := w.enc.Encode(frame, opusBuf)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			frames = append(frames, pkt)
		}
	}
	// ~100ms of silence
	silence := make([]int16, w.frameSamples)
	for i := 0; i < 5; i++ {
		n, err := w.enc.Encode(silence, opusBuf)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			frames = append(frames, pkt)
		}
	}
	return frames, nil
}

func (w *OpusClipWriter) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				continue
			}
			frame := w.queue[0]
			w.queue = w.queue[1:]
			finished := len(w.queue) == 0
			done := w.done
			if finished {
				w.done = nil
			}
			w.mu.Unlock()

			if err := w.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond}); err != nil {
				w.mu.Lock()
				w.queue = nil
				if w.done != nil {
					done = w.done
					w.done = nil
				}
				w.mu.Unlock()
				if done != nil {
					done(err)
				}
				continue
			}
			if finished && done != nil {
				done(nil)
			}
		}
	}
}
