package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mannat244/Assesly/internal/llm"
	"github.com/mannat244/Assesly/internal/profile"
)

func testTranscript() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "persona"},
		{Role: llm.RoleAssistant, Content: "Tell me about yourself."},
		{Role: llm.RoleUser, Content: "I build backend systems."},
	}
}

func TestGenerateParsesReport(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 {
			gotSystem = req.Messages[0].Content
		}
		for _, m := range req.Messages[1:] {
			if m.Role == llm.RoleSystem {
				t.Error("persona system prompt leaked into analysis call")
			}
		}
		w.Write([]byte(`{"score":82,"feedback":"Solid.","strengths":["clear"],"areasForImprovement":["depth"]}`))
	}))
	defer srv.Close()

	c := NewClient(llm.NewStreamClient(srv.URL), "", "")
	ic := &profile.InterviewContext{TargetCompany: "Acme", JobDescription: "SRE"}
	report := c.Generate(context.Background(), testTranscript(), ic)

	if report.Score != 82 || report.Feedback != "Solid." {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Strengths) != 1 || len(report.AreasForImprovement) != 1 {
		t.Fatalf("report lists = %+v", report)
	}
	for _, want := range []string{"Acme", "SRE", "Senior Hiring Manager"} {
		if !strings.Contains(gotSystem, want) {
			t.Errorf("analysis prompt missing %q", want)
		}
	}
}

func TestGenerateUnwrapsFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("```json\n{\"score\":70,\"feedback\":\"ok\",\"strengths\":[],\"areasForImprovement\":[]}\n```"))
	}))
	defer srv.Close()

	report := NewClient(llm.NewStreamClient(srv.URL), "", "").Generate(context.Background(), testTranscript(), nil)
	if report.Score != 70 {
		t.Fatalf("score = %d, want 70", report.Score)
	}
}

func TestGenerateDegradesOnFailure(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"not json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("I cannot score this.")) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			report := NewClient(llm.NewStreamClient(srv.URL), "", "").Generate(context.Background(), testTranscript(), nil)
			want := DegradedReport()
			if report.Score != want.Score || report.Feedback != want.Feedback {
				t.Fatalf("report = %+v, want degraded default", report)
			}
			if report.Strengths == nil || report.AreasForImprovement == nil {
				t.Fatal("degraded report must have non-nil lists")
			}
		})
	}
}

func TestAppendHistoryPrependsSession(t *testing.T) {
	var got struct {
		InterviewHistory []map[string]any `json:"interviewHistory"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/user/sync" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(nil, srv.URL, "tok")
	prior := []profile.HistoryEntry{{Date: "2026-08-01", Score: 60}}
	c.AppendHistory(context.Background(), prior, Session{ID: "s1", Company: "Acme", Score: 82})

	if len(got.InterviewHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.InterviewHistory))
	}
	if got.InterviewHistory[0]["id"] != "s1" {
		t.Fatalf("first entry = %v, want the new session", got.InterviewHistory[0])
	}
}

func TestAppendHistoryNoAccountURL(t *testing.T) {
	// Must be a no-op, not a panic or a request to "".
	NewClient(nil, "", "").AppendHistory(context.Background(), nil, Session{ID: "s1"})
}
