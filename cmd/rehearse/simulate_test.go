package main

import (
	"testing"
	"time"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []time.Duration
		loud    []bool
		wantErr bool
	}{
		{"single", "speech:2s", []time.Duration{2 * time.Second}, []bool{true}, false},
		{"mixed", "speech:4s, silence:500ms ,speak:1s", []time.Duration{4 * time.Second, 500 * time.Millisecond, time.Second}, []bool{true, false, true}, false},
		{"pause alias", "pause:3s", []time.Duration{3 * time.Second}, []bool{false}, false},
		{"trailing comma", "speech:1s,", []time.Duration{time.Second}, []bool{true}, false},
		{"empty", "", nil, nil, true},
		{"missing duration", "speech", nil, nil, true},
		{"bad duration", "speech:soon", nil, nil, true},
		{"negative duration", "silence:-1s", nil, nil, true},
		{"unknown kind", "music:1s", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, seg := range got {
				if seg.Duration != tt.want[i] {
					t.Errorf("segment %d duration = %v, want %v", i, seg.Duration, tt.want[i])
				}
				if (seg.Amplitude > 0) != tt.loud[i] {
					t.Errorf("segment %d amplitude = %v, want loud %v", i, seg.Amplitude, tt.loud[i])
				}
			}
		})
	}
}
