package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/metrics"
	"github.com/example/kyc-facematch/internal/pipeline"
	"github.com/example/kyc-facematch/internal/repository"
	"github.com/example/kyc-facematch/internal/retry"
)

// ErrProcessing is returned by GetResult while a request is still being evaluated.
var ErrProcessing = errors.New("verification still processing")

// Verifier runs the face-match decision.
type Verifier interface {
	Verify(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error)
}

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	RejectionsByStage(ctx context.Context) ([]repository.StageCount, error)
}

// Request is one submission as received from the client.
type Request struct {
	UserID       string
	SelfieWithID string
	IDImage      string
	PersonalInfo map[string]interface{}
	Documents    map[string]string
}

// Result is the decision plus what happened to the user's KYC record.
type Result struct {
	RequestID          string
	Outcome            pipeline.Outcome
	KYCUpdated         bool
	VerificationStatus string
}

// Options tunes the use case.
type Options struct {
	MaxConcurrent    int64
	DocumentsBaseURL string
	ResultTTL        time.Duration
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	verifier Verifier
	repo     VerificationRepository
	kyc      KYCStore
	cache    *resultCache
	metrics  *metrics.Recorder
	workers  *semaphore.Weighted
	baseURL  string
	logger   *zap.Logger
	now      func() time.Time
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(verifier Verifier, repo VerificationRepository, kyc KYCStore, cache Cache, recorder *metrics.Recorder, opts Options, logger *zap.Logger) *VerificationUseCase {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	logger = logger.Named("verification_usecase")
	return &VerificationUseCase{
		verifier: verifier,
		repo:     repo,
		kyc:      kyc,
		cache:    &resultCache{store: cache, ttl: opts.ResultTTL, retry: retry.DefaultPolicy(), logger: logger},
		metrics:  recorder,
		workers:  semaphore.NewWeighted(opts.MaxConcurrent),
		baseURL:  opts.DocumentsBaseURL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// VerifyFaces decodes both images, runs the pipeline on a worker slot and
// records the decision. A returned error wraps imagecodec.ErrInvalidImageFormat
// for undecodable input, or the pipeline error otherwise. Persistence and cache
// failures are logged and do not fail the request.
func (uc *VerificationUseCase) VerifyFaces(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSubject(logging.WithOperation(uc.logger, "usecase.verify_faces", requestID), req.UserID)

	selfie, err := imagecodec.Decode(req.SelfieWithID)
	if err != nil {
		opLogger.Info("selfie could not be decoded", zap.Error(err))
		return nil, logging.NewOperationError("usecase.decode_selfie", requestID, err)
	}
	idImage, err := imagecodec.Decode(req.IDImage)
	if err != nil {
		opLogger.Info("id image could not be decoded", zap.Error(err))
		return nil, logging.NewOperationError("usecase.decode_id_image", requestID, err)
	}

	if err := uc.cache.markProcessing(ctx, requestID); err != nil {
		opLogger.Warn("failed to set processing flag", zap.Error(err))
	}

	start := uc.now()
	if err := uc.workers.Acquire(ctx, 1); err != nil {
		return nil, logging.NewOperationError("usecase.acquire_worker", requestID, err)
	}
	uc.metrics.Acquired()
	outcome, err := uc.verifier.Verify(ctx, pipeline.Input{RequestID: requestID, IDImage: idImage, Selfie: selfie})
	uc.workers.Release(1)
	uc.metrics.Released()
	elapsed := uc.now().Sub(start)

	if err != nil {
		uc.metrics.Observe(metrics.StatusError, "", false, elapsed)
		opLogger.Error("verification failed", zap.Error(err))
		return nil, err
	}

	status := metrics.StatusRejected
	if outcome.Match {
		status = metrics.StatusMatched
	}
	uc.metrics.Observe(status, string(outcome.Stage), outcome.SpoofSuspected, elapsed)

	result := &Result{
		RequestID:          requestID,
		Outcome:            outcome,
		VerificationStatus: kycStatus(outcome),
		KYCUpdated:         uc.recordSubmission(ctx, opLogger, requestID, req, outcome),
	}

	log := &repository.VerificationLog{
		RequestID:           requestID,
		UserID:              req.UserID,
		Matched:             outcome.Match,
		Stage:               string(outcome.Stage),
		Message:             outcome.Message,
		Confidence:          outcome.Confidence,
		Distance:            outcome.Distance,
		SpoofSuspected:      outcome.SpoofSuspected,
		IDImageSHA1:         imageDigest(idImage),
		SelfieSHA1:          imageDigest(selfie),
		ProcessingLatencyMs: elapsed.Milliseconds(),
		CreatedAt:           uc.now(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist verification log", zap.Error(err))
	}
	if err := uc.cache.put(ctx, log); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}

	opLogger.Info("verification completed",
		zap.Bool("match", outcome.Match),
		zap.String("stage", string(outcome.Stage)),
		zap.Bool("kyc_updated", result.KYCUpdated),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (uc *VerificationUseCase) recordSubmission(ctx context.Context, opLogger *zap.Logger, requestID string, req Request, out pipeline.Outcome) bool {
	sub, err := buildSubmission(requestID, req, out, uc.baseURL, uc.now())
	if err != nil {
		opLogger.Warn("kyc submission rejected", zap.Error(err))
		return false
	}
	if err := uc.kyc.RecordSubmission(ctx, req.UserID, sub); err != nil {
		opLogger.Error("failed to update kyc status", zap.Error(err))
		return false
	}
	return true
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	cached, err := uc.cache.get(ctx, requestID)
	switch {
	case err == nil && cached.UserID == userID:
		return cached, nil
	case errors.Is(err, ErrProcessing):
		return nil, err
	}
	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport lists other requests that submitted the same ID image.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.IDImageSHA1, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

// GetKYCStatus returns the user's profile; users who never submitted are unverified.
func (uc *VerificationUseCase) GetKYCStatus(ctx context.Context, userID string) (*repository.KYCProfile, error) {
	profile, err := uc.kyc.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &repository.KYCProfile{UserID: userID, Status: repository.StatusUnverified, CurrentSubmission: -1}, nil
	}
	return profile, err
}

// imageDigest hashes decoded pixels, so re-encoding an image does not change it.
func imageDigest(img *image.NRGBA) string {
	h := sha1.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(img.Rect.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(img.Rect.Dy()))
	h.Write(dims[:])
	for y := 0; y < img.Rect.Dy(); y++ {
		h.Write(img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()*4])
	}
	return hex.EncodeToString(h.Sum(nil))
}
