package grpcclient

import (
	"context"
	"encoding/base64"
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

// FaceEncoder implements vision.FaceEncoder over the Locate and Encode RPCs.
type FaceEncoder struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ vision.FaceEncoder = (*FaceEncoder)(nil)

func (f *FaceEncoder) Locate(ctx context.Context, img *image.NRGBA) ([]vision.FaceRegion, error) {
	payload, err := imagecodec.EncodePNG(img)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.locate_faces", "", err)
	}
	resp := &structpb.Struct{}
	if err := f.conn.Invoke(ctx, methodLocate, wrapperspb.Bytes(payload), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.locate_faces", "", err)
		f.logger.Error("face location failed", zap.Error(wrapped))
		return nil, wrapped
	}

	regions, err := parseFaces(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.locate_faces", "", err)
		f.logger.Error("malformed face location response", zap.Error(wrapped))
		return nil, wrapped
	}
	return regions, nil
}

var faceEdges = []string{"top", "right", "bottom", "left"}

// parseFaces rejects malformed items instead of letting them through as
// zero-sized regions, which would still count as faces.
func parseFaces(resp *structpb.Struct) ([]vision.FaceRegion, error) {
	raw := cast.ToSlice(resp.AsMap()["faces"])
	regions := make([]vision.FaceRegion, 0, len(raw))
	for i, item := range raw {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		edges := make([]int, len(faceEdges))
		for j, key := range faceEdges {
			v, ok := fields[key]
			if !ok {
				return nil, fmt.Errorf("face %d: missing %s", i, key)
			}
			if edges[j], err = cast.ToIntE(v); err != nil {
				return nil, fmt.Errorf("face %d: %s: %w", i, key, err)
			}
		}
		r := vision.FaceRegion{Top: edges[0], Right: edges[1], Bottom: edges[2], Left: edges[3]}
		if r.Bottom <= r.Top || r.Right <= r.Left {
			return nil, fmt.Errorf("face %d: empty region %+v", i, r)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// Encode sends the image base64-encoded alongside the regions, since a Struct
// carries no raw bytes.
func (f *FaceEncoder) Encode(ctx context.Context, img *image.NRGBA, regions []vision.FaceRegion, jitters int) ([]vision.Embedding, error) {
	payload, err := imagecodec.EncodePNG(img)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_faces", "", err)
	}
	faces := make([]interface{}, 0, len(regions))
	for _, r := range regions {
		faces = append(faces, map[string]interface{}{
			"top": r.Top, "right": r.Right, "bottom": r.Bottom, "left": r.Left,
		})
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"image":   base64.StdEncoding.EncodeToString(payload),
		"faces":   faces,
		"jitters": jitters,
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_faces", "", err)
	}

	resp := &structpb.Struct{}
	if err := f.conn.Invoke(ctx, methodEncode, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.encode_faces", "", err)
		f.logger.Error("face encoding failed", zap.Error(wrapped), zap.Int("faces", len(regions)))
		return nil, wrapped
	}

	out, err := parseEncodings(resp, len(regions))
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.encode_faces", "", err)
		f.logger.Error("malformed face encoding response", zap.Error(wrapped), zap.Int("faces", len(regions)))
		return nil, wrapped
	}
	return out, nil
}

// parseEncodings returns one embedding per requested region, in region order.
// An empty list means no face could be encoded and is passed on as such; any
// other count that differs from want is an error.
func parseEncodings(resp *structpb.Struct, want int) ([]vision.Embedding, error) {
	raw := cast.ToSlice(resp.AsMap()["encodings"])
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) != want {
		return nil, fmt.Errorf("got %d encodings for %d faces", len(raw), want)
	}
	out := make([]vision.Embedding, 0, len(raw))
	for i, item := range raw {
		values, err := cast.ToSliceE(item)
		if err != nil {
			return nil, fmt.Errorf("encoding %d: %w", i, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("encoding %d is empty", i)
		}
		emb := make(vision.Embedding, len(values))
		for j, v := range values {
			if emb[j], err = cast.ToFloat64E(v); err != nil {
				return nil, fmt.Errorf("encoding %d[%d]: %w", i, j, err)
			}
		}
		out = append(out, emb)
	}
	return out, nil
}
