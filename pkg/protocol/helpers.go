package protocol

import (
	"encoding/base64"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStartMessage creates a start message
func NewStartMessage(scenarioID string, camera bool) (*Message, error) {
	return NewMessage(TypeStart, StartData{ScenarioID: scenarioID, Camera: camera})
}

// NewMicMessage creates a microphone message from little-endian PCM16
func NewMicMessage(pcmData []byte, sampleRate, channels int) (*Message, error) {
	return NewMessage(TypeMic, MicData{
		Format:     "pcm16",
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       base64.StdEncoding.EncodeToString(pcmData),
	})
}

// NewOpusMessage creates a microphone message from one Opus packet
func NewOpusMessage(packet []byte, channels int) (*Message, error) {
	return NewMessage(TypeMic, MicData{
		Format:     "opus",
		SampleRate: 48000,
		Channels:   channels,
		Data:       base64.StdEncoding.EncodeToString(packet),
	})
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewLandmarksMessage creates a landmarks message
func NewLandmarksMessage(data LandmarksData) (*Message, error) {
	return NewMessage(TypeLandmarks, data)
}

// NewCameraMessage creates a camera toggle message
func NewCameraMessage(enabled bool) (*Message, error) {
	return NewMessage(TypeCamera, CameraData{Enabled: enabled})
}

// NewStopMessage creates a stop message
func NewStopMessage() (*Message, error) {
	return NewMessage(TypeStop, nil)
}

// NewStartedMessage acknowledges a started session
func NewStartedMessage(sessionID string, scenario session.Scenario) (*Message, error) {
	return NewMessage(TypeStarted, StartedData{
		SessionID: sessionID,
		Scenario:  scenario,
		TimeLeft:  int(scenario.Duration() / time.Second),
	})
}

// NewScoreMessage creates a live score message
func NewScoreMessage(u session.Update) (*Message, error) {
	return NewMessage(TypeScore, u)
}

// NewRecordMessage creates a final record message
func NewRecordMessage(r session.Record) (*Message, error) {
	return NewMessage(TypeRecord, r)
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string, fatal bool) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message, Fatal: fatal})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStartData extracts start data from a message
func (m *Message) GetStartData() (*StartData, error) {
	var data StartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMicData extracts mic data from a message
func (m *Message) GetMicData() (*MicData, error) {
	var data MicData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeMicData decodes the base64 audio data
func (mic *MicData) DecodeMicData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(mic.Data)
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetLandmarksData extracts landmarks from a message
func (m *Message) GetLandmarksData() (*LandmarksData, error) {
	var data LandmarksData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCameraData extracts the camera toggle from a message
func (m *Message) GetCameraData() (*CameraData, error) {
	var data CameraData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStartedData extracts a start acknowledgement
func (m *Message) GetStartedData() (*StartedData, error) {
	var data StartedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetScoreData extracts a live update
func (m *Message) GetScoreData() (*ScoreData, error) {
	var data ScoreData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRecord extracts the final record
func (m *Message) GetRecord() (*session.Record, error) {
	var data session.Record
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
