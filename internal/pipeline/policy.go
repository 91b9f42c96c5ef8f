package pipeline

import (
	"errors"
	"fmt"

	"github.com/example/kyc-facematch/internal/geometry"
	"github.com/example/kyc-facematch/internal/vision"
)

// IDProxyLabels are everyday-object classes that stand in for an ID card. The
// deployed detector has no ID-card class, and flat rectangular objects such as
// phones and books are what it reports when a card is held up.
var IDProxyLabels = []string{
	"book", "cell phone", "laptop", "mouse", "remote",
	"keyboard", "scissors", "toothbrush", "hair drier", "toilet paper",
}

// UniformLabels maps every label to the same confidence threshold.
func UniformLabels(labels []string, threshold float64) map[string]float64 {
	out := make(map[string]float64, len(labels))
	for _, l := range labels {
		out[l] = threshold
	}
	return out
}

// Policy holds every tunable constant of the verification decision.
// Detection thresholds are exclusive: a detection counts when its confidence
// is strictly greater than the threshold of its label.
type Policy struct {
	IDImageLabels map[string]float64 `json:"id_image_labels"`
	SelfieLabels  map[string]float64 `json:"selfie_labels"`

	PersonLabel      string  `json:"person_label"`
	PersonConfidence float64 `json:"person_confidence"`

	// StrictShape applies to the standalone ID photo, HeldShape to a document
	// held in the selfie, where the card is smaller and often tilted.
	StrictShape geometry.ShapeRule `json:"strict_shape"`
	HeldShape   geometry.ShapeRule `json:"held_shape"`

	FlatArtifact        geometry.FlatRule `json:"flat_artifact"`
	RejectFlatArtifacts bool              `json:"reject_flat_artifacts"`

	CropPadding      float64 `json:"crop_padding"`
	MinCropSize      int     `json:"min_crop_size"`
	MinMeanIntensity float64 `json:"min_mean_intensity"`
	MaxMeanIntensity float64 `json:"max_mean_intensity"`

	// MatchDistance is exclusive: faces match when distance < MatchDistance.
	MatchDistance float64 `json:"match_distance"`
	SelfieJitters int     `json:"selfie_jitters"`
	IDJitters     int     `json:"id_jitters"`
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		IDImageLabels:    UniformLabels(IDProxyLabels, 0.3),
		SelfieLabels:     UniformLabels(IDProxyLabels, 0.2),
		PersonLabel:      "person",
		PersonConfidence: 0.5,
		StrictShape:      geometry.ShapeRule{MinAspect: 0.5, MaxAspect: 2.0, MinAreaFraction: 0.10},
		HeldShape:        geometry.ShapeRule{MinAspect: 0.3, MaxAspect: 3.0, MinAreaFraction: 0.05},
		FlatArtifact:     geometry.FlatRule{MinArea: 5000, MinAspect: 0.5, MaxAspect: 2.0},
		CropPadding:      0.2,
		MinCropSize:      60,
		MinMeanIntensity: 5,
		MaxMeanIntensity: 250,
		MatchDistance:    0.4,
		SelfieJitters:    1,
		IDJitters:        10,
	}
}

// Validate rejects policies that would make every verification fail or pass.
func (p Policy) Validate() error {
	var errs []error
	if len(p.IDImageLabels) == 0 || len(p.SelfieLabels) == 0 {
		errs = append(errs, errors.New("document label sets must not be empty"))
	}
	for name, labels := range map[string]map[string]float64{"id_image_labels": p.IDImageLabels, "selfie_labels": p.SelfieLabels} {
		for label, th := range labels {
			if th < 0 || th >= 1 {
				errs = append(errs, fmt.Errorf("%s[%q]: threshold %v outside [0,1)", name, label, th))
			}
		}
	}
	if p.PersonLabel == "" {
		errs = append(errs, errors.New("person label required"))
	}
	if p.PersonConfidence < 0 || p.PersonConfidence >= 1 {
		errs = append(errs, fmt.Errorf("person confidence %v outside [0,1)", p.PersonConfidence))
	}
	for name, r := range map[string]geometry.ShapeRule{"strict_shape": p.StrictShape, "held_shape": p.HeldShape} {
		if r.MinAspect >= r.MaxAspect || r.MinAreaFraction < 0 || r.MinAreaFraction > 1 {
			errs = append(errs, fmt.Errorf("%s: invalid rule %+v", name, r))
		}
	}
	if p.CropPadding < 0 {
		errs = append(errs, fmt.Errorf("crop padding %v must not be negative", p.CropPadding))
	}
	if p.MinMeanIntensity >= p.MaxMeanIntensity {
		errs = append(errs, fmt.Errorf("mean intensity window [%v,%v] is empty", p.MinMeanIntensity, p.MaxMeanIntensity))
	}
	if p.MatchDistance <= 0 {
		errs = append(errs, fmt.Errorf("match distance %v must be positive", p.MatchDistance))
	}
	if p.SelfieJitters < 1 || p.IDJitters < 1 {
		errs = append(errs, errors.New("jitters must be at least 1"))
	}
	return errors.Join(errs...)
}

// labelHit reports whether d is one of labels with confidence above its threshold.
func labelHit(labels map[string]float64, d vision.Detection) bool {
	th, ok := labels[d.Label]
	return ok && d.Confidence > th
}
