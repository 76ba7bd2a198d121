// Package protocol defines the websocket messages exchanged between a
// practice client and the rehearsal server.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// MessageType identifies the type of websocket message
type MessageType string

const (
	// Client → Server messages
	TypeStart     MessageType = "start"     // Begin a session
	TypeMic       MessageType = "mic"       // Microphone audio
	TypeFrame     MessageType = "frame"     // Video frame
	TypeLandmarks MessageType = "landmarks" // Client-side face landmarks
	TypeCamera    MessageType = "camera"    // Camera toggle
	TypeStop      MessageType = "stop"      // Abort the session

	// Server → Client messages
	TypeStarted MessageType = "started" // Session accepted
	TypeScore   MessageType = "score"   // Live score update
	TypeRecord  MessageType = "record"  // Final record
	TypeError   MessageType = "error"   // Error or user-facing notice

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Error codes carried by ErrorData.
const (
	CodeBadMessage     = "bad_message"
	CodeUnknownType    = "unknown_type"
	CodeNoSession      = "no_session"
	CodeSessionActive  = "session_active"
	CodeUnknownScene   = "unknown_scenario"
	CodeCaptureFailed  = "capture_unavailable"
	CodeModelMissing   = "model_unavailable"
	CodeSaveFailed     = "save_failed"
	CodeSessionAborted = "session_aborted"
)

// Message is the base wrapper for all websocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// StartData selects the scenario and initial camera state
type StartData struct {
	ScenarioID string `json:"scenario_id"`
	Camera     bool   `json:"camera"`
}

// MicData contains microphone audio
type MicData struct {
	Format     string `json:"format"`      // "pcm16", "opus"
	SampleRate int    `json:"sample_rate"` // e.g., 48000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// FrameData contains a video frame for server-side face detection
type FrameData struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// Point is a landmark in normalized image coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarksData carries one frame of landmarks computed on the client.
// Found=false reports a frame without a face.
type LandmarksData struct {
	Found bool     `json:"found"`
	Nose  Point    `json:"nose"`
	Mouth [2]Point `json:"mouth"`
}

// CameraData toggles face analysis
type CameraData struct {
	Enabled bool `json:"enabled"`
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// StartedData acknowledges a start request
type StartedData struct {
	SessionID string           `json:"session_id"`
	Scenario  session.Scenario `json:"scenario"`
	TimeLeft  int              `json:"time_left"`
}

// ScoreData is a live update
type ScoreData = session.Update

// ErrorData reports a failure or notice. Fatal errors end the session.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
