package grpcclient

import (
	"context"
	"fmt"
	"image"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/vision"
)

// Detector implements vision.ObjectDetector over the Detect RPC. The request is
// a PNG in a BytesValue, the reply a Struct with a "detections" list.
type Detector struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ vision.ObjectDetector = (*Detector)(nil)

func (d *Detector) Detect(ctx context.Context, img *image.NRGBA) ([]vision.Detection, error) {
	payload, err := imagecodec.EncodePNG(img)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.detect", "", err)
	}
	resp := &structpb.Struct{}
	if err := d.conn.Invoke(ctx, methodDetect, wrapperspb.Bytes(payload), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect", "", err)
		d.logger.Error("object detection failed", zap.Error(wrapped))
		return nil, wrapped
	}
	detections, err := parseDetections(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.detect", "", err)
	}
	return detections, nil
}

func parseDetections(resp *structpb.Struct) ([]vision.Detection, error) {
	raw := cast.ToSlice(resp.AsMap()["detections"])
	out := make([]vision.Detection, 0, len(raw))
	for i, item := range raw {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		label := cast.ToString(fields["label"])
		if label == "" {
			return nil, fmt.Errorf("detection %d: missing label", i)
		}
		out = append(out, vision.Detection{
			Label:      label,
			Confidence: cast.ToFloat64(fields["confidence"]),
			Box: vision.Box{
				X1: cast.ToInt(fields["x1"]),
				Y1: cast.ToInt(fields["y1"]),
				X2: cast.ToInt(fields["x2"]),
				Y2: cast.ToInt(fields["y2"]),
			},
		})
	}
	return out, nil
}
