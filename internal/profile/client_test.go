package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchAppliesDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"","targetCompany":"","preferences":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ic, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ic.CandidateName != "Candidate" {
		t.Errorf("CandidateName = %q", ic.CandidateName)
	}
	if ic.TargetCompany != "General Tech" {
		t.Errorf("TargetCompany = %q", ic.TargetCompany)
	}
	if ic.JobDescription != "Software Engineer" {
		t.Errorf("JobDescription = %q", ic.JobDescription)
	}
	if ic.Resume != "Not provided" {
		t.Errorf("Resume = %q", ic.Resume)
	}
	if ic.AudioProvider != "cartesia" {
		t.Errorf("AudioProvider = %q, want cartesia default", ic.AudioProvider)
	}
}

func TestFetchAudioPreference(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"explicit provider", `{"preferences":{"audioProvider":"deepgram"}}`, "deepgram"},
		{"legacy premium flag", `{"preferences":{"usePremiumAudio":true}}`, "elevenlabs"},
		{"explicit wins over flag", `{"preferences":{"audioProvider":"cartesia","usePremiumAudio":true}}`, "cartesia"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			ic, err := NewClient(srv.URL, "").Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if ic.AudioProvider != tc.want {
				t.Errorf("AudioProvider = %q, want %q", ic.AudioProvider, tc.want)
			}
		})
	}
}

func TestFetchSendsAuthAndFailsOnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "tok").Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestSystemPromptIncludesContext(t *testing.T) {
	ic := &InterviewContext{
		CandidateName:  "Mannat",
		TargetCompany:  "Acme",
		JobDescription: "Backend Engineer",
		Resume:         "Built things",
	}
	prompt := SystemPrompt(ic)
	for _, want := range []string{"Sneha", "Mannat", "Acme", "Backend Engineer", "Built things", "ONE clear question"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
