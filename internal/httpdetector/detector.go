// Package httpdetector talks to an object detection service over plain HTTP:
// an image is posted as multipart form data and bounding boxes come back as JSON.
package httpdetector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/vision"
)

// boundingBox is the wire form of one detection.
type boundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Detector implements vision.ObjectDetector against an inference endpoint.
type Detector struct {
	inferenceURL string
	client       *http.Client
	logger       *zap.Logger
}

var _ vision.ObjectDetector = (*Detector)(nil)

// New returns a detector posting to inferenceURL.
func New(inferenceURL string, timeout time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		inferenceURL: inferenceURL,
		client:       &http.Client{Timeout: timeout},
		logger:       logger.Named("httpdetector"),
	}
}

func (d *Detector) Detect(ctx context.Context, img *image.NRGBA) ([]vision.Detection, error) {
	payload, err := imagecodec.EncodePNG(img)
	if err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, bytes.NewReader(payload)); err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("copy image data: %w", err))
	}
	if err := writer.Close(); err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.inferenceURL, body)
	if err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("send request: %w", err))
		d.logger.Error("inference request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wrapped := logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("inference failed with status: %d", resp.StatusCode))
		d.logger.Error("inference request rejected", zap.Error(wrapped))
		return nil, wrapped
	}

	var result struct {
		Detections []boundingBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, logging.NewOperationError("httpdetector.detect", "", fmt.Errorf("decode response: %w", err))
	}

	out := make([]vision.Detection, 0, len(result.Detections))
	for _, b := range result.Detections {
		out = append(out, vision.Detection{
			Label:      b.Class,
			Confidence: b.Confidence,
			Box:        vision.Box{X1: b.X, Y1: b.Y, X2: b.X + b.Width, Y2: b.Y + b.Height},
		})
	}
	return out, nil
}

// CheckHealth probes /health on the inference host.
func (d *Detector) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(d.inferenceURL)
	if err != nil {
		return logging.NewOperationError("httpdetector.check_health", "", err)
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return logging.NewOperationError("httpdetector.check_health", "", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return logging.NewOperationError("httpdetector.check_health", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return logging.NewOperationError("httpdetector.check_health", "", fmt.Errorf("ml service unhealthy: %d", resp.StatusCode))
	}
	return nil
}
