package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/face"
	"github.com/teslashibe/go-rehearse/pkg/session"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "start message",
			msgType: TypeStart,
			data:    StartData{ScenarioID: "casual-intro", Camera: true},
		},
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 640, Height: 480, Format: "jpeg"},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeScore,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg == nil {
				t.Fatal("NewMessage() returned nil message")
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
			if tt.data == nil && msg.Data != nil {
				t.Errorf("NewMessage() data = %s, want nil", msg.Data)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewFrameMessage(1920, 1080, []byte("test image data"), 42)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeFrame)
	}
	if parsed.Timestamp != msg.Timestamp {
		t.Errorf("Timestamp = %d, want %d", parsed.Timestamp, msg.Timestamp)
	}

	frame, err := parsed.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frame.Width != 1920 || frame.Height != 1080 || frame.FrameID != 42 {
		t.Errorf("frame = %+v", frame)
	}
	img, err := frame.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if string(img) != "test image data" {
		t.Errorf("decoded = %q", img)
	}
}

func TestStartMessage(t *testing.T) {
	raw := []byte(`{"type":"start","ts":1700000000000,"data":{"scenario_id":"interview-1","camera":true}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	data, err := msg.GetStartData()
	if err != nil {
		t.Fatalf("GetStartData() error = %v", err)
	}
	if data.ScenarioID != "interview-1" || !data.Camera {
		t.Errorf("start = %+v", data)
	}
}

func TestMicMessage(t *testing.T) {
	tests := []struct {
		name       string
		build      func() (*Message, error)
		format     string
		sampleRate int
		payload    []byte
	}{
		{
			name:       "pcm16",
			build:      func() (*Message, error) { return NewMicMessage([]byte{0x01, 0x02, 0x03, 0x04}, 16000, 1) },
			format:     "pcm16",
			sampleRate: 16000,
			payload:    []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:       "opus",
			build:      func() (*Message, error) { return NewOpusMessage([]byte{0xfc, 0xff, 0xfe}, 1) },
			format:     "opus",
			sampleRate: 48000,
			payload:    []byte{0xfc, 0xff, 0xfe},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.build()
			if err != nil {
				t.Fatalf("build error = %v", err)
			}
			if msg.Type != TypeMic {
				t.Errorf("Type = %v, want %v", msg.Type, TypeMic)
			}
			mic, err := msg.GetMicData()
			if err != nil {
				t.Fatalf("GetMicData() error = %v", err)
			}
			if mic.Format != tt.format || mic.SampleRate != tt.sampleRate || mic.Channels != 1 {
				t.Errorf("mic = %+v", mic)
			}
			decoded, err := mic.DecodeMicData()
			if err != nil {
				t.Fatalf("DecodeMicData() error = %v", err)
			}
			if string(decoded) != string(tt.payload) {
				t.Errorf("decoded = %v, want %v", decoded, tt.payload)
			}
		})
	}
}

func TestMicDataInvalidBase64(t *testing.T) {
	mic := MicData{Format: "pcm16", Data: "not base64!!"}
	if _, err := mic.DecodeMicData(); err == nil {
		t.Error("DecodeMicData() should fail on invalid base64")
	}
}

func TestLandmarksMessage(t *testing.T) {
	in := LandmarksData{
		Found: true,
		Nose:  Point{X: 0.5, Y: 0.45},
		Mouth: [2]Point{{X: 0.42, Y: 0.7}, {X: 0.58, Y: 0.74}},
	}
	msg, err := NewLandmarksMessage(in)
	if err != nil {
		t.Fatalf("NewLandmarksMessage() error = %v", err)
	}
	raw, _ := msg.Bytes()
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	out, err := parsed.GetLandmarksData()
	if err != nil {
		t.Fatalf("GetLandmarksData() error = %v", err)
	}
	if *out != in {
		t.Errorf("landmarks = %+v, want %+v", *out, in)
	}
}

func TestCameraMessage(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		msg, err := NewCameraMessage(enabled)
		if err != nil {
			t.Fatalf("NewCameraMessage() error = %v", err)
		}
		data, err := msg.GetCameraData()
		if err != nil {
			t.Fatalf("GetCameraData() error = %v", err)
		}
		if data.Enabled != enabled {
			t.Errorf("Enabled = %v, want %v", data.Enabled, enabled)
		}
	}
}

func TestScoreMessage(t *testing.T) {
	update := session.Update{
		SessionID:     "abc",
		Score:         57,
		TimeLeft:      12,
		Audio:         activity.Metrics{Speaking: true, EverSpoke: true, SpeechBursts: 3},
		Face:          face.Metrics{EyeContact: face.EyeContactGood, Expressiveness: face.ExpressivenessFlat},
		CameraEnabled: true,
	}
	msg, err := NewScoreMessage(update)
	if err != nil {
		t.Fatalf("NewScoreMessage() error = %v", err)
	}

	// Labels travel as names.
	var wire struct {
		Data struct {
			Face map[string]string `json:"face"`
		} `json:"data"`
	}
	raw, _ := msg.Bytes()
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if wire.Data.Face["eye_contact"] != "Good" || wire.Data.Face["expressiveness"] != "Flat" {
		t.Errorf("face labels = %v", wire.Data.Face)
	}

	got, err := msg.GetScoreData()
	if err != nil {
		t.Fatalf("GetScoreData() error = %v", err)
	}
	if *got != update {
		t.Errorf("score = %+v, want %+v", *got, update)
	}
}

func TestRecordMessage(t *testing.T) {
	delta := -4.0
	rec := session.Record{
		ID:                        "r1",
		QuestionID:                "q1",
		ScenarioTitle:             "Pitch",
		Category:                  "work",
		AvgConfidence:             61,
		MinConfidence:             40,
		SilenceRatio:              0.25,
		Duration:                  30,
		DeltaConfidenceVsBaseline: &delta,
		Timestamp:                 time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	msg, err := NewRecordMessage(rec)
	if err != nil {
		t.Fatalf("NewRecordMessage() error = %v", err)
	}
	got, err := msg.GetRecord()
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.ID != rec.ID || got.AvgConfidence != 61 || got.SilenceRatio != 0.25 {
		t.Errorf("record = %+v", got)
	}
	if got.DeltaConfidenceVsBaseline == nil || *got.DeltaConfidenceVsBaseline != -4 {
		t.Errorf("delta = %v, want -4", got.DeltaConfidenceVsBaseline)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, rec.Timestamp)
	}
}

func TestStartedMessage(t *testing.T) {
	scenario := session.Scenario{ID: "s1", Title: "Intro", Seconds: 45}
	msg, err := NewStartedMessage("sess-1", scenario)
	if err != nil {
		t.Fatalf("NewStartedMessage() error = %v", err)
	}
	data, err := msg.GetStartedData()
	if err != nil {
		t.Fatalf("GetStartedData() error = %v", err)
	}
	if data.SessionID != "sess-1" || data.Scenario.ID != "s1" || data.TimeLeft != 45 {
		t.Errorf("started = %+v", data)
	}
}

func TestErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(CodeCaptureFailed, "Microphone permission denied", true)
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}
	data, err := msg.GetErrorData()
	if err != nil {
		t.Fatalf("GetErrorData() error = %v", err)
	}
	if data.Code != CodeCaptureFailed || !data.Fatal {
		t.Errorf("error = %+v", data)
	}
}

func TestPingPongMessage(t *testing.T) {
	ping, err := NewPingMessage("ping-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}
	pingData, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "ping-123" {
		t.Errorf("ID = %v, want ping-123", pingData.ID)
	}

	pongTS := pingData.Timestamp + 50
	pong, err := NewPongMessage(pingData.ID, pingData.Timestamp, pongTS)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	pongData, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs != 50 {
		t.Errorf("LatencyMs = %v, want 50", pongData.LatencyMs)
	}
}

func TestStopMessage(t *testing.T) {
	msg, err := NewStopMessage()
	if err != nil {
		t.Fatalf("NewStopMessage() error = %v", err)
	}
	raw, _ := msg.Bytes()
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeStop || parsed.Data != nil {
		t.Errorf("stop = %+v", parsed)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"invalid json", "not json"},
		{"missing type", `{"ts":1}`},
		{"array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.input)); err == nil {
				t.Errorf("ParseMessage(%q) should fail", tt.input)
			}
		})
	}
}

func TestParseDataMismatch(t *testing.T) {
	msg := &Message{Type: TypeStart, Data: json.RawMessage(`{"scenario_id":7}`)}
	if _, err := msg.GetStartData(); err == nil {
		t.Error("GetStartData() should fail on a numeric scenario_id")
	}
}

func TestFrameDataEncoding(t *testing.T) {
	data := FrameData{Format: "jpeg", Data: base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})}
	img, err := data.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if len(img) != 2 || img[0] != 0xff {
		t.Errorf("decoded = %v", img)
	}
}
