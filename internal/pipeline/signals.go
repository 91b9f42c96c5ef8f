package pipeline

import (
	"context"

	"github.com/example/kyc-facematch/internal/geometry"
	"github.com/example/kyc-facematch/internal/vision"
)

// DocumentSignal is one independent source of evidence that an ID document is present.
type DocumentSignal interface {
	Name() string
	Detect(ctx context.Context) (Evidence, error)
}

// labelSignal looks for an ID-proxy label among detector output.
type labelSignal struct {
	name   string
	detect func(ctx context.Context) ([]vision.Detection, error)
	labels map[string]float64
}

func (s labelSignal) Name() string { return s.name }

func (s labelSignal) Detect(ctx context.Context) (Evidence, error) {
	detections, err := s.detect(ctx)
	if err != nil {
		return Evidence{Source: s.name}, err
	}
	for _, d := range detections {
		if labelHit(s.labels, d) {
			return Evidence{Source: s.name, Found: true, Label: d.Label, Confidence: d.Confidence}, nil
		}
	}
	return Evidence{Source: s.name}, nil
}

// contourSignal wraps a geometric document test.
type contourSignal struct {
	name  string
	check func() (geometry.Candidate, bool)
}

func (s contourSignal) Name() string { return s.name }

func (s contourSignal) Detect(context.Context) (Evidence, error) {
	_, ok := s.check()
	return Evidence{Source: s.name, Found: ok}, nil
}

// firstPositive consults signals in order and stops at the first that finds a
// document. It returns that evidence and the trail of everything consulted.
func firstPositive(ctx context.Context, signals ...DocumentSignal) (Evidence, []Evidence, error) {
	trail := make([]Evidence, 0, len(signals))
	for _, s := range signals {
		ev, err := s.Detect(ctx)
		if err != nil {
			return Evidence{}, trail, err
		}
		trail = append(trail, ev)
		if ev.Found {
			return ev, trail, nil
		}
	}
	return Evidence{}, trail, nil
}
