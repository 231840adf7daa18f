package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsClient is the premium synthesis tier, consumed over the HTTP
// streaming endpoint and buffered into a single clip.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	VoiceID    string
}

// NewElevenLabsClient constructs a client with the production endpoint.
func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		// The body is a stream; the request is bounded by ctx, not a client timeout.
		HTTPClient: &http.Client{Timeout: 0},
		BaseURL:    "https://api.elevenlabs.io",
		APIKey:     apiKey,
		VoiceID:    voiceID,
	}
}

func (e *ElevenLabsClient) Name() string { return "elevenlabs" }

// Synthesize streams PCM_48000 audio for the given text and buffers it into one clip.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string) (*Clip, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: api key or voice id missing")
	}

	u, err := url.Parse(e.BaseURL + "/v1/text-to-speech/" + e.VoiceID + "/stream")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	var audio bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			audio.Write(chunk[:n])
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return nil, fmt.Errorf("elevenlabs: stream read: %w", rerr)
		}
	}
	if audio.Len() == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio stream")
	}
	return &Clip{PCM: audio.Bytes(), SampleRate: 48000, Channels: 1}, nil
}
