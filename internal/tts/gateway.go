package tts

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
)

// ErrSynthesisFailed means every provider attempt and the on-device fallback
// were exhausted; the session must still progress.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

const (
	// DefaultProvider is the tier used when the preference is empty or unknown.
	DefaultProvider = "cartesia"

	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// Gateway converts assistant text into a playable Speech, hiding provider
// heterogeneity behind bounded retry and ordered fallback. It never touches
// session state; the playback component does.
type Gateway struct {
	providers map[string]Provider
	native    NativeSynthesizer

	// MaxAttempts is the total tries against the chosen provider.
	MaxAttempts int
	// RetryBackoff is the fixed wait between attempts.
	RetryBackoff time.Duration
}

// NewGateway builds a gateway over the given providers. The native
// synthesizer may be nil when the runtime exposes none.
func NewGateway(providers []Provider, native NativeSynthesizer) *Gateway {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Gateway{
		providers:    m,
		native:       native,
		MaxAttempts:  defaultMaxAttempts,
		RetryBackoff: defaultRetryBackoff,
	}
}

// Synthesize produces speech for text. The provider preference resolves to a
// single primary tier which is retried up to MaxAttempts with a fixed backoff;
// only then does the gateway fall back to the on-device synthesizer.
func (g *Gateway) Synthesize(ctx context.Context, text, preference string) (Speech, error) {
	clean := CleanForSpeech(text)
	if clean == "" {
		return Speech{}, ErrSynthesisFailed
	}

	if p := g.resolve(preference); p != nil {
		for attempt := 1; attempt <= g.MaxAttempts; attempt++ {
			clip, err := p.Synthesize(ctx, clean)
			if err == nil && clip != nil && len(clip.PCM) > 0 {
				// NativeText rides along so playback can fall back to the
				// on-device voice if the clip itself fails to play.
				return Speech{Clip: clip, NativeText: clean, NativeVoice: SelectVoice(voicesOf(g.native))}, nil
			}
			log.Printf("tts: %s attempt %d/%d failed: %v", p.Name(), attempt, g.MaxAttempts, err)
			if ctx.Err() != nil {
				return Speech{}, ctx.Err()
			}
			if attempt < g.MaxAttempts {
				select {
				case <-time.After(g.RetryBackoff):
				case <-ctx.Done():
					return Speech{}, ctx.Err()
				}
			}
		}
	}

	if g.native == nil {
		return Speech{}, ErrSynthesisFailed
	}
	log.Printf("tts: all provider attempts failed, using on-device fallback")
	return Speech{NativeText: clean, NativeVoice: SelectVoice(g.native.Voices())}, nil
}

func voicesOf(n NativeSynthesizer) []Voice {
	if n == nil {
		return nil
	}
	return n.Voices()
}

// Native returns the on-device synthesizer, or nil.
func (g *Gateway) Native() NativeSynthesizer { return g.native }

func (g *Gateway) resolve(preference string) Provider {
	if p, ok := g.providers[strings.ToLower(strings.TrimSpace(preference))]; ok {
		return p
	}
	return g.providers[DefaultProvider]
}

// SelectVoice is a best-effort preference search over whatever voices the
// runtime exposes. Absence of a preferred voice is a degraded choice, not an
// error.
func SelectVoice(voices []Voice) Voice {
	for _, v := range voices {
		if strings.Contains(v.Lang, "en-IN") || strings.Contains(v.Name, "India") {
			return v
		}
	}
	for _, v := range voices {
		if strings.Contains(v.Name, "Google US English") {
			return v
		}
	}
	for _, v := range voices {
		if strings.Contains(v.Name, "Female") || strings.Contains(v.Name, "Samantha") {
			return v
		}
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return Voice{}
}
