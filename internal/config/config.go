package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Collaborator endpoints.
	CompletionURL string
	ProfileURL    string
	FeedbackURL   string
	HistoryURL    string

	// Realtime speech-recognition engine.
	CaptureURL    string
	CaptureAPIKey string

	// TTS provider tiers.
	CartesiaAPIKey    string
	CartesiaVoiceID   string
	DeepgramAPIKey    string
	DeepgramModel     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// Transcript archive storage.
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	ICEServersJSON string

	SilenceWindow    time.Duration
	WatchdogInterval time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	completionURL := os.Getenv("COMPLETION_STREAM_URL")
	if completionURL == "" {
		log.Println("Warning: COMPLETION_STREAM_URL not set - interviewer replies will not work")
	}

	captureKey := os.Getenv("CAPTURE_API_KEY")
	if captureKey == "" {
		log.Println("Warning: CAPTURE_API_KEY not set - speech capture will not work")
	}
	captureURL := os.Getenv("CAPTURE_STREAM_URL")
	if captureURL == "" {
		captureURL = "wss://streaming.assemblyai.com/v3/ws"
	}

	cartesiaKey := os.Getenv("CARTESIA_API_KEY")
	if cartesiaKey == "" {
		log.Println("Warning: CARTESIA_API_KEY not set - default TTS tier disabled")
	}
	cartesiaVoice := os.Getenv("CARTESIA_VOICE_ID")
	if cartesiaVoice == "" {
		cartesiaVoice = "95d51f79-c397-46f9-b49a-23763d3eaa2d"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	deepgramModel := os.Getenv("DEEPGRAM_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if elevenKey != "" && voiceID == "" {
		log.Println("Warning: ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
	}

	ice := os.Getenv("ICE_SERVERS_JSON")
	if ice == "" {
		ice = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	}

	silence := durationEnv("SILENCE_WINDOW_MS", 2500*time.Millisecond)
	watchdog := durationEnv("WATCHDOG_INTERVAL_MS", 5*time.Second)

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:        addr,
		CompletionURL:      completionURL,
		ProfileURL:         os.Getenv("PROFILE_URL"),
		FeedbackURL:        os.Getenv("FEEDBACK_URL"),
		HistoryURL:         os.Getenv("HISTORY_URL"),
		CaptureURL:         captureURL,
		CaptureAPIKey:      captureKey,
		CartesiaAPIKey:     cartesiaKey,
		CartesiaVoiceID:    cartesiaVoice,
		DeepgramAPIKey:     deepgramKey,
		DeepgramModel:      deepgramModel,
		ElevenLabsAPIKey:   elevenKey,
		ElevenLabsVoiceID:  voiceID,
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     envOr("SUPABASE_BUCKET", "interview-transcripts"),
		ICEServersJSON:     ice,
		SilenceWindow:      silence,
		WatchdogInterval:   watchdog,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Printf("Warning: invalid %s=%q, using default", key, v)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
