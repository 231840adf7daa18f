package capture

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEngine is a realtime speech-recognition engine backed by a streaming
// transcription service over WebSocket. Callers feed it 16 kHz little-endian
// mono PCM; it emits interim transcripts while a turn is in progress and a
// final transcript when the service marks the turn complete.
type StreamEngine struct {
	baseURL string
	apiKey  string

	events chan Event

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	stopCh    chan struct{}
	audioData chan []byte
}

// Engine message types.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	Type                 string  `json:"type"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewStreamEngine creates a recognizer client for the given streaming service.
func NewStreamEngine(baseURL, apiKey string) *StreamEngine {
	return &StreamEngine{
		baseURL: baseURL,
		apiKey:  apiKey,
		events:  make(chan Event, 64),
	}
}

// Events returns the engine's event stream. The channel stays open across
// Start/Stop cycles; each cycle terminates with an EventEnded.
func (s *StreamEngine) Events() <-chan Event { return s.events }

// Start dials the streaming service and begins a recognition cycle.
func (s *StreamEngine) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("%w: no API key configured", ErrUnsupported)
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", s.baseURL, params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			s.emit(Event{Kind: EventError, Err: ErrorPermissionDenied})
			return fmt.Errorf("capture: stream engine unauthorized (status %d)", resp.StatusCode)
		}
		s.emit(Event{Kind: EventError, Err: ErrorNetwork})
		return fmt.Errorf("capture: stream engine dial: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.stopCh = make(chan struct{})
	s.audioData = make(chan []byte, 1000)

	go s.readLoop(conn, s.stopCh)
	go s.writeLoop(conn, s.stopCh, s.audioData)

	log.Printf("capture: stream engine connected")
	return nil
}

// SendPCM16KLE queues audio to be sent to the recognizer. Packets are dropped
// rather than blocking the media path when the buffer is full.
func (s *StreamEngine) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("capture: stream engine not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("capture: audio buffer full, dropping packet")
	}
	return nil
}

// Stop ends the recognition cycle gracefully, asking the service to flush.
func (s *StreamEngine) Stop() { s.shutdown(true) }

// Abort ends the recognition cycle immediately.
func (s *StreamEngine) Abort() { s.shutdown(false) }

func (s *StreamEngine) shutdown(flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	close(s.stopCh)
	if s.conn != nil {
		if flush {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		}
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
}

func (s *StreamEngine) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("capture: recovered from panic in readLoop: %v", r)
		}
	}()
	defer s.emit(Event{Kind: EventEnded})
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
				// Deliberate shutdown, not a transport failure.
			default:
				log.Printf("capture: read error: %v", err)
				s.emit(Event{Kind: EventError, Err: ErrorNetwork})
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *StreamEngine) processMessage(message []byte) {
	var base map[string]interface{}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("capture: unmarshal message: %v", err)
		return
	}
	msgType, ok := base["type"].(string)
	if !ok {
		log.Printf("capture: message missing type field")
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("capture: recognizer session began: ID=%s", msg.ID)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" && !msg.EndOfTurn {
			return
		}
		kind := EventInterim
		if msg.EndOfTurn {
			kind = EventFinal
		}
		s.emit(Event{Kind: kind, Text: msg.Transcript})
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("capture: recognizer session terminated after %.2fs audio", msg.AudioDurationSeconds)
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("capture: recognizer error: %s", msg.Error)
		s.emit(Event{Kind: EventError, Err: ErrorNetwork})
	default:
		log.Printf("capture: unknown message type: %s", msgType)
	}
}

func (s *StreamEngine) writeLoop(conn *websocket.Conn, stopCh chan struct{}, audio chan []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("capture: recovered from panic in writeLoop: %v", r)
		}
	}()
	for {
		select {
		case <-stopCh:
			return
		case pcm, ok := <-audio:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("capture: send audio: %v", err)
				return
			}
		}
	}
}

func (s *StreamEngine) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Printf("capture: engine event buffer full, dropping")
	}
}
