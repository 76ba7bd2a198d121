package face

import (
	"encoding/json"
	"testing"
)

func lm(noseX, mouthGap float64) *Landmarks {
	return &Landmarks{
		Nose:  Point{X: noseX, Y: 0.5},
		Mouth: [2]Point{{X: 0.5, Y: 0.7}, {X: 0.5, Y: 0.7 + mouthGap}},
	}
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		noseX    float64
		gap      float64
		wantEye  EyeContact
		wantExpr Expressiveness
	}{
		{"centered open", 0.50, 0.03, EyeContactGood, ExpressivenessExpressive},
		{"centered closed", 0.50, 0.01, EyeContactGood, ExpressivenessFlat},
		{"left of band", 0.30, 0.03, EyeContactLow, ExpressivenessExpressive},
		{"right of band", 0.70, 0.00, EyeContactLow, ExpressivenessFlat},
		{"lower bound exclusive", 0.45, 0.00, EyeContactLow, ExpressivenessFlat},
		{"upper bound exclusive", 0.55, 0.00, EyeContactLow, ExpressivenessFlat},
		{"just inside", 0.4501, 0.00, EyeContactGood, ExpressivenessFlat},
		{"negative gap", 0.50, -0.05, EyeContactGood, ExpressivenessExpressive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(cfg, *lm(tt.noseX, tt.gap))
			if got.EyeContact != tt.wantEye {
				t.Errorf("EyeContact = %v, want %v", got.EyeContact, tt.wantEye)
			}
			if got.Expressiveness != tt.wantExpr {
				t.Errorf("Expressiveness = %v, want %v", got.Expressiveness, tt.wantExpr)
			}
		})
	}
}

func TestExtractor_HoldsOnMiss(t *testing.T) {
	e := NewExtractor(DefaultConfig(), nil)

	if m, changed := e.Observe(nil); m != Unknown || changed {
		t.Fatalf("miss before first face = %+v changed=%v", m, changed)
	}

	m, changed := e.Observe(lm(0.5, 0.05))
	if !changed || m.EyeContact != EyeContactGood || m.Expressiveness != ExpressivenessExpressive {
		t.Fatalf("first face = %+v changed=%v", m, changed)
	}

	for i := 0; i < 5; i++ {
		held, changed := e.Observe(nil)
		if changed || held != m {
			t.Fatalf("miss %d changed output to %+v", i, held)
		}
	}

	if _, changed := e.Observe(lm(0.5, 0.05)); changed {
		t.Error("identical face reported a change")
	}
}

func TestExtractor_DisableResets(t *testing.T) {
	e := NewExtractor(DefaultConfig(), nil)
	e.Observe(lm(0.5, 0.05))

	if m := e.SetEnabled(false); m != Unknown {
		t.Errorf("SetEnabled(false) = %+v, want Unknown", m)
	}
	if m, _ := e.Observe(lm(0.5, 0.05)); m != Unknown {
		t.Errorf("Observe while disabled = %+v, want Unknown", m)
	}
	if e.Metrics() != Unknown {
		t.Errorf("Metrics() while disabled = %+v", e.Metrics())
	}

	e.SetEnabled(true)
	if e.Metrics() != Unknown {
		t.Errorf("re-enabled output = %+v, want Unknown until next face", e.Metrics())
	}
	if m, _ := e.Observe(lm(0.2, 0)); m.EyeContact != EyeContactLow {
		t.Errorf("after re-enable = %+v", m)
	}
}

func TestExtractor_Unavailable(t *testing.T) {
	e := NewExtractor(DefaultConfig(), nil)
	e.MarkUnavailable(ErrModelUnavailable)

	if m, _ := e.Observe(lm(0.5, 0.05)); m != Unknown {
		t.Errorf("Observe after model failure = %+v", m)
	}
	e.SetEnabled(true)
	if e.Available() || e.Metrics() != Unknown {
		t.Error("unavailable extractor recovered")
	}
}

func TestExtractor_Stats(t *testing.T) {
	e := NewExtractor(DefaultConfig(), nil)
	e.Observe(lm(0.5, 0))
	e.Observe(lm(0.5, 0))
	e.Observe(lm(0.9, 0))
	e.Observe(nil)

	st := e.Stats()
	if st.Frames != 4 || st.FaceFrames != 3 {
		t.Fatalf("Stats = %+v", st)
	}
	if got := st.EyeContactRatio(); got != 0.5 {
		t.Errorf("EyeContactRatio = %v, want 0.5", got)
	}
	if got := st.HeadMovementRatio(); got != 0.25 {
		t.Errorf("HeadMovementRatio = %v, want 0.25", got)
	}
	if (Stats{}).EyeContactRatio() != 0 {
		t.Error("empty stats ratio should be 0")
	}
}

func TestLabelsJSON(t *testing.T) {
	data, err := json.Marshal(Metrics{EyeContact: EyeContactGood, Expressiveness: ExpressivenessFlat})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"eye_contact":"Good","expressiveness":"Flat"}` {
		t.Errorf("Marshal = %s", data)
	}

	var m Metrics
	if err := json.Unmarshal([]byte(`{"eye_contact":"Low","expressiveness":"bogus"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.EyeContact != EyeContactLow || m.Expressiveness != ExpressivenessUnknown {
		t.Errorf("Unmarshal = %+v", m)
	}
}

func TestSelectPrimary(t *testing.T) {
	if SelectPrimary(nil) != nil {
		t.Error("SelectPrimary(nil) should be nil")
	}

	faces := []Face{
		{Box: Rect{W: 0.1, H: 0.1}, Score: 0.9},
		{Box: Rect{W: 0.4, H: 0.4}, Score: 0.85},
		{Box: Rect{W: 0.05, H: 0.05}, Score: 0.6},
	}
	got := SelectPrimary(faces)
	if got != &faces[1] {
		t.Errorf("SelectPrimary picked %+v, want the large confident face", got)
	}
}
