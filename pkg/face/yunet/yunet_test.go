package yunet

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-rehearse/pkg/face"
)

func TestNew_MissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/path/model.onnx"

	_, err := New(cfg)
	if !errors.Is(err, face.ErrModelUnavailable) {
		t.Errorf("New() = %v, want ErrModelUnavailable", err)
	}
}

func TestDetect_SolidImage(t *testing.T) {
	d := newTestDetector(t)

	faces, err := d.Detect(solidJPEG(320, 240, color.RGBA{R: 90, G: 90, B: 90, A: 255}))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("found %d faces in a solid image", len(faces))
	}
}

func TestDetect_InvalidJPEG(t *testing.T) {
	d := newTestDetector(t)

	if _, err := d.Detect([]byte("not a jpeg")); err == nil {
		t.Error("expected error for invalid image data")
	}
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()

	path := findModelPath()
	if path == "" {
		t.Skip("YuNet model not found, skipping test")
	}
	cfg := DefaultConfig()
	cfg.ModelPath = path

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// findModelPath walks up from the test directory looking for models/.
func findModelPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		p := filepath.Join(dir, "models", "face_detection_yunet.onnx")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func solidJPEG(width, height int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}
