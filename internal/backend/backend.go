// Package backend connects the model capabilities selected by configuration.
package backend

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/kyc-facematch/internal/config"
	"github.com/example/kyc-facematch/internal/grpcclient"
	"github.com/example/kyc-facematch/internal/httpdetector"
	"github.com/example/kyc-facematch/internal/vision"
)

// Connect dials the model service and, for the HTTP backend, probes the
// inference service. A failure does not stop the caller: the returned Models
// stays unavailable and every verification reports a system error until restart.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...grpc.DialOption) *vision.Models {
	svc, err := grpcclient.DialModelService(ctx, cfg.ModelServiceAddr, cfg.ModelDialTimeout, logger, opts...)
	if err != nil {
		logger.Error("model service unavailable, verifications will fail", zap.Error(err))
		return vision.Failed(err)
	}

	var detector vision.ObjectDetector = svc.Detector()
	if cfg.ModelBackend == config.BackendHTTP {
		httpDetector := httpdetector.New(cfg.InferenceURL, cfg.ModelDialTimeout, logger)
		healthCtx, cancel := context.WithTimeout(ctx, cfg.ModelDialTimeout)
		defer cancel()
		if err := httpDetector.CheckHealth(healthCtx); err != nil {
			logger.Error("inference service unhealthy, verifications will fail", zap.Error(err), zap.String("url", cfg.InferenceURL))
			_ = svc.Close()
			return vision.Failed(err)
		}
		detector = httpDetector
	}

	logger.Info("models ready", zap.String("backend", cfg.ModelBackend))
	return vision.NewModels(detector, svc.Faces(), svc.Close)
}
