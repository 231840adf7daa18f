package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamClient talks to the completion-stream collaborator. The endpoint
// accepts the full message history and replies with a chunked plain-text body
// that is the assistant turn; there is no framing beyond raw concatenation.
type StreamClient struct {
	HTTPClient *http.Client
	Endpoint   string
}

type completionRequest struct {
	Messages []Message `json:"messages"`
}

// NewStreamClient constructs a client for the given completion endpoint.
func NewStreamClient(endpoint string) *StreamClient {
	return &StreamClient{
		// No overall timeout: the body is a long-lived stream. Callers bound
		// the request with the context instead.
		HTTPClient: &http.Client{Timeout: 0},
		Endpoint:   endpoint,
	}
}

// Generate sends the message history and assembles the streamed reply into a
// single assistant string. The transport is consumed incrementally; a stream
// error or an absent body is a terminal generation failure.
func (c *StreamClient) Generate(ctx context.Context, messages []Message) (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("llm: completion endpoint missing")
	}
	body, _ := json.Marshal(completionRequest{Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: completion status=%d body=%s", resp.StatusCode, string(b))
	}
	if resp.Body == nil {
		return "", fmt.Errorf("llm: completion response has no body")
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return "", fmt.Errorf("llm: completion stream read: %w", rerr)
		}
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", fmt.Errorf("llm: empty completion")
	}
	return reply, nil
}
