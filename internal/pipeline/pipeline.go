// Package pipeline decides whether the face in a selfie holding an ID matches the
// face printed on a separately photographed ID. Each gate either passes the
// request on or returns a rejection Outcome; model failures return errors.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/geometry"
	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/vision"
)

// ShapeAnalyzer runs the geometric document and spoof heuristics.
type ShapeAnalyzer interface {
	DocumentShape(img image.Image, rule geometry.ShapeRule) geometry.ShapeResult
	HeldDocument(img image.Image, rule geometry.ShapeRule, exclude *image.Rectangle) (geometry.Candidate, bool)
	FlatArtifact(img image.Image, rule geometry.FlatRule) geometry.Artifact
}

// Input is a single verification request.
type Input struct {
	RequestID string
	IDImage   *image.NRGBA
	Selfie    *image.NRGBA
}

// Pipeline is safe for concurrent use; it keeps no state between calls.
type Pipeline struct {
	models *vision.Models
	shapes ShapeAnalyzer
	policy Policy
	logger *zap.Logger
}

// New builds a pipeline over already-initialized models.
func New(models *vision.Models, shapes ShapeAnalyzer, policy Policy, logger *zap.Logger) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline policy: %w", err)
	}
	if shapes == nil {
		shapes = geometry.NewAnalyzer()
	}
	return &Pipeline{models: models, shapes: shapes, policy: policy, logger: logger.Named("pipeline")}, nil
}

// Policy returns the thresholds the pipeline decides with.
func (p *Pipeline) Policy() Policy { return p.policy }

// run carries per-request state through the stages.
type run struct {
	*Pipeline
	ctx      context.Context
	in       Input
	log      *zap.Logger
	detector vision.ObjectDetector
	faces    vision.FaceEncoder
	evidence []Evidence
	spoof    bool
}

// Verify runs every gate in order. Rejections come back as an Outcome with
// Match false and a nil error; a non-nil error means the request could not be
// evaluated (models unavailable or an adapter call failed).
func (p *Pipeline) Verify(ctx context.Context, in Input) (Outcome, error) {
	if err := p.models.Ready(); err != nil {
		return Outcome{}, logging.NewOperationError("pipeline.verify", in.RequestID, err)
	}
	if in.IDImage == nil || in.Selfie == nil {
		return Outcome{}, logging.NewOperationError("pipeline.verify", in.RequestID, fmt.Errorf("%w: missing image", imagecodec.ErrInvalidImageFormat))
	}
	r := &run{
		Pipeline: p,
		ctx:      ctx,
		in:       in,
		log:      logging.WithOperation(p.logger, "pipeline.verify", in.RequestID),
		detector: p.models.Detector(),
		faces:    p.models.Faces(),
	}
	out, err := r.execute()
	if err != nil {
		r.log.Error("verification aborted", zap.Error(err))
		return Outcome{}, err
	}
	out.SpoofSuspected = r.spoof
	out.Evidence = r.evidence
	if out.Match {
		r.log.Info("faces matched", zap.Float64("distance", *out.Distance))
	} else {
		r.log.Info("verification rejected", zap.String("stage", string(out.Stage)), zap.String("reason", out.Message))
	}
	return out, nil
}

func reject(stage Stage, msg string) Outcome {
	return Outcome{Stage: stage, Message: msg}
}

func (r *run) fault(op string, err error) error {
	return logging.NewOperationError(op, r.in.RequestID, fmt.Errorf("%w: %w", ErrAdapter, err))
}

func (r *run) execute() (Outcome, error) {
	idImg, selfie := r.in.IDImage, r.in.Selfie
	pol := r.policy

	// 1. Same picture uploaded twice.
	if imagecodec.Equal(idImg, selfie) {
		return reject(StageSameImage, MsgSameImage), nil
	}

	// 2. Standalone ID framing. With no contour at all there is nothing to judge;
	// stage 3 then has to find the document by label.
	shape := r.shapes.DocumentShape(idImg, pol.StrictShape)
	r.log.Debug("id document shape",
		zap.Bool("found", shape.Found),
		zap.Bool("pass", shape.Pass),
		zap.Float64("aspect_ratio", shape.Candidate.AspectRatio),
		zap.Float64("area", shape.Candidate.Area))
	if shape.Found && !shape.Pass {
		return reject(StageDocumentShape, MsgDocumentFraming), nil
	}

	// 3. Confirm a document is pictured: detector first, contour verdict second.
	idDoc, trail, err := firstPositive(r.ctx,
		labelSignal{
			name:   "detector.id_image",
			detect: r.detectOnce("pipeline.detect_id_image", idImg),
			labels: pol.IDImageLabels,
		},
		contourSignal{
			name:  "contour.id_image",
			check: func() (geometry.Candidate, bool) { return shape.Candidate, shape.Found && shape.Pass },
		},
	)
	r.evidence = append(r.evidence, trail...)
	if err != nil {
		return Outcome{}, err
	}
	if !idDoc.Found {
		return reject(StageIDPresence, MsgNoIDDocument), nil
	}

	// 4. One detector pass over the selfie for the person and the held document.
	selfieDetect := r.detectOnce("pipeline.detect_selfie", selfie)
	detections, err := selfieDetect(r.ctx)
	if err != nil {
		return Outcome{}, err
	}
	person, havePerson := r.largestPerson(detections)

	// 5. Held document: detector labels, then contours away from the person.
	var exclude *image.Rectangle
	if havePerson {
		rect := person.Rect()
		exclude = &rect
	}
	selfieDoc, trail, err := firstPositive(r.ctx,
		labelSignal{name: "detector.selfie", detect: selfieDetect, labels: pol.SelfieLabels},
		contourSignal{
			name:  "contour.selfie",
			check: func() (geometry.Candidate, bool) { return r.shapes.HeldDocument(selfie, pol.HeldShape, exclude) },
		},
	)
	r.evidence = append(r.evidence, trail...)
	if err != nil {
		return Outcome{}, err
	}

	artifact := r.shapes.FlatArtifact(selfie, pol.FlatArtifact)
	r.spoof = artifact.Suspected
	if artifact.Suspected {
		r.log.Info("flat artifact suspected in selfie", zap.Int("rectangles", artifact.Count))
	}

	// 6. Both the document and the person must be visible.
	if !selfieDoc.Found {
		return reject(StageSelfieDocument, MsgNoIDInSelfie), nil
	}
	if !havePerson {
		return reject(StagePerson, MsgNoPerson), nil
	}
	if pol.RejectFlatArtifacts && artifact.Suspected {
		return reject(StageSpoof, MsgFlatArtifact), nil
	}

	// 7. Crop the user with padding and check it is usable.
	cropRect := paddedRect(person, pol.CropPadding, selfie.Rect)
	crop := cropRegion(selfie, cropRect)
	if crop == nil {
		return reject(StageFaceCrop, MsgEmptyCrop), nil
	}
	mean := meanIntensity(crop)
	r.log.Debug("face crop", zap.Stringer("rect", cropRect), zap.Float64("mean_intensity", mean))
	if mean < pol.MinMeanIntensity || mean > pol.MaxMeanIntensity {
		return reject(StageFaceCrop, MsgBadExposure), nil
	}
	if cropRect.Dx() < pol.MinCropSize || cropRect.Dy() < pol.MinCropSize {
		return reject(StageFaceCrop, MsgCropTooSmall), nil
	}

	// 8. Face on the selfie crop.
	selfieFaces, err := r.faces.Locate(r.ctx, crop)
	if err != nil {
		return Outcome{}, r.fault("pipeline.locate_selfie_face", err)
	}
	if len(selfieFaces) == 0 {
		return reject(StageSelfieFace, MsgNoSelfieFace), nil
	}
	selfieEnc, err := r.faces.Encode(r.ctx, crop, selfieFaces, pol.SelfieJitters)
	if err != nil {
		return Outcome{}, r.fault("pipeline.encode_selfie_face", err)
	}
	if len(selfieEnc) == 0 {
		return reject(StageSelfieFace, MsgNoSelfieEncoding), nil
	}

	// 9. Exactly one face on the ID.
	idFaces, err := r.faces.Locate(r.ctx, idImg)
	if err != nil {
		return Outcome{}, r.fault("pipeline.locate_id_face", err)
	}
	if len(idFaces) != 1 {
		r.log.Debug("id face count", zap.Int("faces", len(idFaces)))
		return reject(StageIDFace, MsgIDFaceCount), nil
	}
	idEnc, err := r.faces.Encode(r.ctx, idImg, idFaces, pol.IDJitters)
	if err != nil {
		return Outcome{}, r.fault("pipeline.encode_id_face", err)
	}
	if len(idEnc) == 0 {
		return reject(StageIDFace, MsgNoIDEncoding), nil
	}

	// 10-11. Compare.
	distance, err := vision.Distance(selfieEnc[0], idEnc[0])
	if err != nil {
		return Outcome{}, r.fault("pipeline.compare", err)
	}
	return decide(distance, pol.MatchDistance), nil
}

// decide applies the distance threshold. The message always carries the numbers.
func decide(distance, threshold float64) Outcome {
	confidence := 1 - distance
	out := Outcome{Stage: StageCompare, Confidence: &confidence, Distance: &distance}
	if distance < threshold {
		out.Match = true
		out.Message = fmt.Sprintf("Face match verified with %.2f%% confidence (distance: %.4f)", confidence*100, distance)
	} else {
		out.Message = fmt.Sprintf("Faces do not match. Confidence: %.2f%% (distance: %.4f)", confidence*100, distance)
	}
	return out
}

// detectOnce returns a detector call that runs at most once per request.
func (r *run) detectOnce(op string, img *image.NRGBA) func(context.Context) ([]vision.Detection, error) {
	var (
		once       sync.Once
		detections []vision.Detection
		err        error
	)
	return func(ctx context.Context) ([]vision.Detection, error) {
		once.Do(func() {
			detections, err = r.detector.Detect(ctx, img)
			if err != nil {
				err = r.fault(op, err)
			}
		})
		return detections, err
	}
}

// largestPerson keeps the biggest confident person box.
func (r *run) largestPerson(detections []vision.Detection) (vision.Box, bool) {
	var (
		best     vision.Box
		bestArea int
		found    bool
	)
	for _, d := range detections {
		if d.Label != r.policy.PersonLabel || d.Confidence <= r.policy.PersonConfidence {
			continue
		}
		if a := d.Box.Area(); a > bestArea {
			best, bestArea, found = d.Box, a, true
		}
	}
	return best, found
}
