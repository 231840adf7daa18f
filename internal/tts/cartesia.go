package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CartesiaClient is the default synthesis tier.
type CartesiaClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	VoiceID    string
	Model      string
}

// NewCartesiaClient constructs a client with the production endpoint.
func NewCartesiaClient(apiKey, voiceID string) *CartesiaClient {
	return &CartesiaClient{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		BaseURL:    "https://api.cartesia.ai",
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "sonic-3",
	}
}

func (c *CartesiaClient) Name() string { return "cartesia" }

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGenerationConfig struct {
	Speed  float64 `json:"speed"`
	Volume float64 `json:"volume"`
}

type cartesiaRequest struct {
	ModelID          string                   `json:"model_id"`
	Transcript       string                   `json:"transcript"`
	Voice            cartesiaVoice            `json:"voice"`
	OutputFormat     cartesiaOutputFormat     `json:"output_format"`
	Language         string                   `json:"language"`
	GenerationConfig cartesiaGenerationConfig `json:"generation_config"`
}

// Synthesize requests raw 48 kHz PCM bytes for the given text.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (*Clip, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("cartesia: API key missing")
	}
	body, _ := json.Marshal(cartesiaRequest{
		ModelID:    c.Model,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: 48000,
		},
		Language:         "en",
		GenerationConfig: cartesiaGenerationConfig{Speed: 0.9, Volume: 1.0},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cartesia-Version", "2024-06-10")
	req.Header.Set("X-API-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("cartesia: status=%d body=%s", resp.StatusCode, string(b))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cartesia: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("cartesia: empty audio response")
	}
	return &Clip{PCM: audio, SampleRate: 48000, Channels: 1}, nil
}
