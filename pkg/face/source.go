package face

// Point is a normalized image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a normalized bounding box with its top-left corner at X,Y.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the area of the box.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Landmarks are the points the classifier needs. Mouth holds two
// vertically separated mouth points: inner upper and lower lip from a
// face mesh, or the two mouth corners from a 5-point detector.
type Landmarks struct {
	Nose  Point    `json:"nose"`
	Mouth [2]Point `json:"mouth"`
}

// Face is one detected face.
type Face struct {
	Box       Rect      `json:"box"`
	Score     float64   `json:"score"`
	Landmarks Landmarks `json:"landmarks"`
}

// LandmarkSource finds faces in an encoded image.
type LandmarkSource interface {
	// Detect returns every face found in the JPEG image.
	Detect(jpeg []byte) ([]Face, error)

	// Close releases resources.
	Close() error
}

// Frame is one video frame delivered to the extractor: either an encoded
// image to run through a LandmarkSource, or faces already located by the
// client.
type Frame struct {
	JPEG []byte

	// Faces is used instead of JPEG when Precomputed is set. An empty
	// slice means the client found no face.
	Faces       []Face
	Precomputed bool
}

// SelectPrimary picks the face to analyze when several are present,
// weighting detection score over relative size. Returns nil for none.
func SelectPrimary(faces []Face) *Face {
	switch len(faces) {
	case 0:
		return nil
	case 1:
		return &faces[0]
	}

	maxArea := 0.0
	for _, f := range faces {
		if a := f.Box.Area(); a > maxArea {
			maxArea = a
		}
	}

	bestScore := -1.0
	var best *Face
	for i := range faces {
		score := faces[i].Score * 0.7
		if maxArea > 0 {
			score += faces[i].Box.Area() / maxArea * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &faces[i]
		}
	}
	return best
}
