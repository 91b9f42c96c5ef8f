package vision

import "fmt"

// Models is the set of model capabilities loaded once at start-up and shared
// read-only by every verification. A Models built with Failed stays unusable.
type Models struct {
	detector ObjectDetector
	faces    FaceEncoder
	initErr  error
	closers  []func() error
}

// NewModels wraps initialized capabilities. closers run on Close.
func NewModels(detector ObjectDetector, faces FaceEncoder, closers ...func() error) *Models {
	m := &Models{detector: detector, faces: faces, closers: closers}
	if detector == nil || faces == nil {
		m.initErr = fmt.Errorf("%w: capability missing", ErrDetectorUnavailable)
	}
	return m
}

// Failed records an initialization failure.
func Failed(cause error) *Models {
	return &Models{initErr: fmt.Errorf("%w: %v", ErrDetectorUnavailable, cause)}
}

// Ready returns the initialization error, wrapping ErrDetectorUnavailable, or nil.
func (m *Models) Ready() error {
	if m == nil {
		return ErrDetectorUnavailable
	}
	return m.initErr
}

// Detector returns the object detector; nil when not ready.
func (m *Models) Detector() ObjectDetector {
	if m.Ready() != nil {
		return nil
	}
	return m.detector
}

// Faces returns the face encoder; nil when not ready.
func (m *Models) Faces() FaceEncoder {
	if m.Ready() != nil {
		return nil
	}
	return m.faces
}

// Close releases the underlying connections.
func (m *Models) Close() error {
	if m == nil {
		return nil
	}
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
