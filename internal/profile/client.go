// Package profile loads the candidate's interview context from the account
// service and builds the interviewer persona prompt from it.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// InterviewContext is everything the session needs to know about the
// candidate before the first question.
type InterviewContext struct {
	CandidateName  string
	TargetCompany  string
	JobDescription string
	Resume         string
	// AudioProvider is the preferred synthesis tier ("cartesia",
	// "elevenlabs" or "deepgram").
	AudioProvider string
	// PriorHistory holds past interview summaries, newest last.
	PriorHistory []HistoryEntry
}

// HistoryEntry is one archived interview from the candidate's record.
type HistoryEntry struct {
	Date     string          `json:"date"`
	Score    int             `json:"score"`
	Feedback json.RawMessage `json:"feedback"`
}

type syncResponse struct {
	Name             string         `json:"name"`
	JobDescription   string         `json:"jobDescription"`
	TargetCompany    string         `json:"targetCompany"`
	Role             string         `json:"role"`
	InterviewHistory []HistoryEntry `json:"interviewHistory"`
	Preferences      struct {
		AudioProvider   string `json:"audioProvider"`
		UsePremiumAudio bool   `json:"usePremiumAudio"`
	} `json:"preferences"`
	Resume string `json:"resume"`
}

// Client fetches candidate profiles from the account service.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	AuthToken  string
}

// NewClient builds a profile client for the given account service base URL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
		AuthToken:  authToken,
	}
}

// Fetch loads the candidate's context. Missing fields get sensible defaults
// so the interview can always start.
func (c *Client) Fetch(ctx context.Context) (*InterviewContext, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("profile: no account service URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/user/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("profile: build request: %w", err)
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: fetch context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("profile: not authenticated")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("profile: account service returned status %d", resp.StatusCode)
	}

	var body syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("profile: decode context: %w", err)
	}

	return contextFrom(body), nil
}

// DefaultContext is the context used when the account service is
// unreachable: the interview still runs, just without personalization.
func DefaultContext() *InterviewContext {
	return contextFrom(syncResponse{})
}

func contextFrom(body syncResponse) *InterviewContext {
	ic := &InterviewContext{
		CandidateName:  orDefault(body.Name, "Candidate"),
		TargetCompany:  orDefault(body.TargetCompany, "General Tech"),
		JobDescription: orDefault(body.JobDescription, "Software Engineer"),
		Resume:         orDefault(body.Resume, "Not provided"),
		AudioProvider:  "cartesia",
		PriorHistory:   body.InterviewHistory,
	}
	// Explicit provider choice wins; the legacy premium flag maps to the
	// premium tier.
	if body.Preferences.AudioProvider != "" {
		ic.AudioProvider = body.Preferences.AudioProvider
	} else if body.Preferences.UsePremiumAudio {
		ic.AudioProvider = "elevenlabs"
	}
	return ic
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
