// Package yunet is a face.LandmarkSource backed by OpenCV's YuNet detector.
//
// YuNet yields five landmarks per face. The nose tip drives eye contact;
// the two mouth corners stand in for the mouth pair, so expressiveness
// reflects mouth tilt rather than opening with this source.
package yunet

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rehearse/pkg/face"
)

// Config holds detector configuration.
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum face score
	InputWidth       int     // Initial model input width
	InputHeight      int     // Initial model input height
}

// DefaultConfig returns defaults for the 2023 YuNet release.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Output row layout of FaceDetectorYN.
const (
	colX, colY, colW, colH = 0, 1, 2, 3
	colNoseX, colNoseY     = 8, 9
	colMouthRX, colMouthRY = 10, 11
	colMouthLX, colMouthLY = 12, 13
	colScore               = 14
)

// Detector runs YuNet over JPEG frames.
type Detector struct {
	detector gocv.FaceDetectorYN
	config   Config
	mu       sync.Mutex // FaceDetectorYN is not safe for concurrent use
}

// New loads the model. A missing model file yields face.ErrModelUnavailable.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", face.ErrModelUnavailable, cfg.ModelPath, err)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &Detector{detector: detector, config: cfg}, nil
}

// Detect finds faces in the JPEG image.
func (d *Detector) Detect(jpeg []byte) ([]face.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	w := float64(img.Cols())
	h := float64(img.Rows())
	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	out := gocv.NewMat()
	defer out.Close()
	d.detector.Detect(img, &out)

	faces := make([]face.Face, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		at := func(col int) float64 { return float64(out.GetFloatAt(r, col)) }

		faces = append(faces, face.Face{
			Box: face.Rect{
				X: at(colX) / w,
				Y: at(colY) / h,
				W: at(colW) / w,
				H: at(colH) / h,
			},
			Score: at(colScore),
			Landmarks: face.Landmarks{
				Nose: face.Point{X: at(colNoseX) / w, Y: at(colNoseY) / h},
				Mouth: [2]face.Point{
					{X: at(colMouthRX) / w, Y: at(colMouthRY) / h},
					{X: at(colMouthLX) / w, Y: at(colMouthLY) / h},
				},
			},
		})
	}
	return faces, nil
}

// Close releases the detector resources.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}

var _ face.LandmarkSource = (*Detector)(nil)
