// Package feedback turns a finished interview transcript into a scored
// report and records it on the candidate's history.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mannat244/Assesly/internal/llm"
	"github.com/mannat244/Assesly/internal/profile"
)

// Report is the hiring-manager summary produced at the end of a session.
type Report struct {
	Score               int      `json:"score"`
	Feedback            string   `json:"feedback"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
}

// DegradedReport is returned when analysis fails: the session still ends
// cleanly and the history entry still gets written.
func DegradedReport() Report {
	return Report{Score: 0, Feedback: "Analysis unavailable.", Strengths: []string{}, AreasForImprovement: []string{}}
}

// Session is the archived record of one interview.
type Session struct {
	ID                  string        `json:"id"`
	Date                string        `json:"date"`
	Company             string        `json:"company"`
	Score               int           `json:"score"`
	Messages            []llm.Message `json:"messages"`
	Feedback            string        `json:"feedback"`
	Strengths           []string      `json:"strengths"`
	AreasForImprovement []string      `json:"areasForImprovement"`
}

// Generator produces a Report from a transcript. *Client implements it.
type Generator interface {
	Generate(ctx context.Context, transcript []llm.Message, ic *profile.InterviewContext) Report
}

// Client generates reports through the language model and syncs history to
// the account service.
type Client struct {
	LLM        *llm.StreamClient
	HTTPClient *http.Client
	AccountURL string
	AuthToken  string
}

// NewClient builds a feedback client. accountURL may be empty, in which case
// history sync is skipped.
func NewClient(model *llm.StreamClient, accountURL, authToken string) *Client {
	return &Client{
		LLM:        model,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		AccountURL: accountURL,
		AuthToken:  authToken,
	}
}

// Generate analyzes the transcript and returns a Report. It never fails the
// caller: any error degrades to DegradedReport so ending the interview
// always succeeds.
func (c *Client) Generate(ctx context.Context, transcript []llm.Message, ic *profile.InterviewContext) Report {
	msgs := make([]llm.Message, 0, len(transcript)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: analysisPrompt(ic)})
	for _, m := range transcript {
		if m.Role == llm.RoleSystem {
			continue // the persona prompt is noise for the analysis
		}
		msgs = append(msgs, m)
	}

	raw, err := c.LLM.Generate(ctx, msgs)
	if err != nil {
		log.Printf("feedback: report generation failed: %v", err)
		return DegradedReport()
	}

	var report Report
	if err := json.Unmarshal([]byte(extractJSON(raw)), &report); err != nil {
		log.Printf("feedback: could not parse report: %v", err)
		return DegradedReport()
	}
	if report.Strengths == nil {
		report.Strengths = []string{}
	}
	if report.AreasForImprovement == nil {
		report.AreasForImprovement = []string{}
	}
	return report
}

// AppendHistory prepends the session to the candidate's interview history on
// the account service. Failures are logged, not returned: the report was
// already delivered to the client.
func (c *Client) AppendHistory(ctx context.Context, prior []profile.HistoryEntry, session Session) {
	if c.AccountURL == "" {
		return
	}

	// Newest first, matching what the dashboard expects.
	entries := make([]any, 0, len(prior)+1)
	entries = append(entries, session)
	for _, e := range prior {
		entries = append(entries, e)
	}

	body, err := json.Marshal(map[string]any{"interviewHistory": entries})
	if err != nil {
		log.Printf("feedback: marshal history: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AccountURL+"/api/user/sync", bytes.NewReader(body))
	if err != nil {
		log.Printf("feedback: build history request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("feedback: sync history: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("feedback: history sync returned status %d", resp.StatusCode)
	}
}

func analysisPrompt(ic *profile.InterviewContext) string {
	company := "General Tech"
	job := "Software Engineer"
	if ic != nil {
		if ic.TargetCompany != "" {
			company = ic.TargetCompany
		}
		if ic.JobDescription != "" {
			job = ic.JobDescription
		}
	}
	return fmt.Sprintf(`You are a Senior Hiring Manager creating a post-interview report.
Analyze the following interview transcript between a candidate and an interviewer (AI).

Context:
Target Company: %s
Job Description: %s

Output MUST be a valid JSON object with this exact structure:
{
    "score": <integer_0_to_100>,
    "feedback": "<string_summary_paragraph>",
    "strengths": ["<string>", "<string>", "<string>"],
    "areasForImprovement": ["<string>", "<string>", "<string>"]
}

Scoring Guide:
- 90-100: Hired immediately. Perfect answers, deep insight.
- 80-89: Strong candidate. Good answers, minor nitpicks.
- 70-79: Acceptable. Passed the bar, but unremarkable.
- 60-69: Weak. Missed some key concepts.
- <60: Rejected. Fundamental gaps.

Be honest and critical. Do not hallucinate conversation that didn't happen.
If the conversation was too short (less than 3 turns), give a low score and mention it was incomplete.`, company, job)
}

// extractJSON trims anything the model wrapped around the JSON object, like
// markdown fences or a lead-in sentence.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
