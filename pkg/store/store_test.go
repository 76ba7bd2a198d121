package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/pkg/session"
)

func TestKey(t *testing.T) {
	tests := []struct {
		user string
		want string
	}{
		{"u1", "confidence_sessions_u1"},
		{"", "confidence_sessions_guest"},
		{"  ", "confidence_sessions_guest"},
	}
	for _, tt := range tests {
		if got := Key(tt.user); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.StoreConfig{
		Backend: config.StoreJSON,
		Path:    filepath.Join(t.TempDir(), "s.json"),
	}, nil)
	if err != nil {
		t.Fatalf("New(json) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*JSONStore); !ok {
		t.Errorf("New(json) = %T, want *JSONStore", s)
	}

	if _, err := New(ctx, config.StoreConfig{Backend: "cassette"}, nil); err == nil {
		t.Error("New(unknown) expected error")
	}
	if _, err := New(ctx, config.StoreConfig{Backend: config.StoreRedis}, nil); err == nil {
		t.Error("New(redis) without addr expected error")
	}
	if _, err := New(ctx, config.StoreConfig{Backend: config.StoreSheets}, nil); err == nil {
		t.Error("New(sheets) without sheet id expected error")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		wantErr bool
		wantAvg float64
	}{
		{"current", `{"avgConfidence": 64, "category": "casual"}`, false, 64},
		{"string numbers", `{"avgConfidence": "58.5"}`, false, 58.5},
		{"legacy key", `{"finalConfidence": 41}`, false, 41},
		{"not json", `{{`, true, 0},
		{"null", `null`, true, 0},
		{"array", `[1,2]`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := decode([]byte(tt.blob))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && r.AvgConfidence != tt.wantAvg {
				t.Errorf("AvgConfidence = %v, want %v", r.AvgConfidence, tt.wantAvg)
			}
		})
	}
}

func sampleRecord(id, category string, avg float64) session.Record {
	return session.Record{
		ID:            id,
		QuestionID:    category,
		Category:      category,
		AvgConfidence: avg,
		MinConfidence: avg - 10,
		SpeechBursts:  4,
		Duration:      60,
		Timestamp:     time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}
