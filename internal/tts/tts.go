package tts

import "context"

// Clip is a fully synthesized audio resource. All providers are configured to
// return 48 kHz little-endian mono PCM so the playback path is uniform.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Provider is one interchangeable synthesis tier.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) (*Clip, error)
}

// Voice describes one voice exposed by the on-device synthesizer.
type Voice struct {
	Name string
	Lang string
}

// NativeSynthesizer is the on-device last-resort speech path. Speak blocks
// until the utterance has been spoken or ctx is cancelled.
type NativeSynthesizer interface {
	Voices() []Voice
	Speak(ctx context.Context, text string, voice Voice) error
}

// Speech is the gateway result: either a provider clip to play, or text to
// hand to the on-device synthesizer with a chosen voice.
type Speech struct {
	Clip        *Clip
	NativeText  string
	NativeVoice Voice
}
