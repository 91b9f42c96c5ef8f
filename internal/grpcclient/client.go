package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/kyc-facematch/internal/logging"
)

// Fully qualified RPC names served by the model service.
const (
	methodDetect = "/kyc.vision.v1.ObjectDetector/Detect"
	methodLocate = "/kyc.vision.v1.FaceEncoder/Locate"
	methodEncode = "/kyc.vision.v1.FaceEncoder/Encode"
)

// ModelService is a connection to the inference service that hosts the object
// detector and the face encoder.
type ModelService struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// DialModelService blocks until the service is reachable or timeout elapses.
func DialModelService(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*ModelService, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model_service", "", err)
		logger.Error("failed to dial model service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &ModelService{conn: conn, logger: logger.Named("grpcclient")}, nil
}

// Detector returns the object detection client.
func (m *ModelService) Detector() *Detector {
	return &Detector{conn: m.conn, logger: m.logger}
}

// Faces returns the face location and encoding client.
func (m *ModelService) Faces() *FaceEncoder {
	return &FaceEncoder{conn: m.conn, logger: m.logger}
}

// Close tears down the connection.
func (m *ModelService) Close() error {
	return m.conn.Close()
}
