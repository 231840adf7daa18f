package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/mannat244/Assesly/internal/tts"
)

// controlSender sends a JSON event to the client's control channel.
type controlSender func(v any) error

// remoteNative is the on-device synthesis fallback: utterances are delegated
// to the client's runtime voice over the control channel. The client
// announces its voice inventory once, and acks each utterance when its
// runtime finishes speaking.
type remoteNative struct {
	send controlSender

	mu     sync.Mutex
	voices []tts.Voice
	nextID int
	waits  map[int]chan error
}

func newRemoteNative(send controlSender) *remoteNative {
	return &remoteNative{send: send, waits: make(map[int]chan error)}
}

func (n *remoteNative) Voices() []tts.Voice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]tts.Voice, len(n.voices))
	copy(out, n.voices)
	return out
}

func (n *remoteNative) setVoices(voices []tts.Voice) {
	n.mu.Lock()
	n.voices = voices
	n.mu.Unlock()
}

// Speak asks the client to speak text with its runtime voice and blocks until
// the client acks, the utterance fails, or ctx is cancelled.
func (n *remoteNative) Speak(ctx context.Context, text string, voice tts.Voice) error {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	ch := make(chan error, 1)
	n.waits[id] = ch
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.waits, id)
		n.mu.Unlock()
	}()

	msg := controlEvent{Type: "speak-native", ID: id, Text: text, Voice: voice.Name}
	if err := n.send(msg); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		// Tell the client to stop the utterance it may still be speaking.
		_ = n.send(controlEvent{Type: "cancel-native", ID: id})
		return ctx.Err()
	}
}

// finish resolves a pending utterance. errText empty means success.
func (n *remoteNative) finish(id int, errText string) {
	n.mu.Lock()
	ch, ok := n.waits[id]
	n.mu.Unlock()
	if !ok {
		return
	}
	if errText == "" {
		ch <- nil
	} else {
		ch <- errors.New(errText)
	}
}
