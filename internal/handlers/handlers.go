package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/auth"
	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/repository"
	"github.com/example/kyc-facematch/internal/usecase"
	"github.com/example/kyc-facematch/internal/vision"
)

// MaxBodySize bounds a verification request carrying two base64 images.
const MaxBodySize = 20 << 20

// Error types reported in response details.
const (
	errorTypeInvalidRequest = "invalid_request"
	errorTypeInvalidImage   = "invalid_image"
	errorTypeSystem         = "system_error"
)

// VerificationService is the use case surface the handlers need.
type VerificationService interface {
	VerifyFaces(ctx context.Context, req usecase.Request) (*usecase.Result, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetKYCStatus(ctx context.Context, userID string) (*repository.KYCProfile, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Readiness reports whether the models can serve requests.
type Readiness interface {
	Ready() error
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Service VerificationService
	Auth    gin.HandlerFunc
	Models  Readiness
	Metrics http.Handler
	Logger  *zap.Logger
}

type verifyRequest struct {
	SelfieWithID string                 `json:"selfie_with_id" binding:"required"`
	IDImage      string                 `json:"id_image" binding:"required"`
	PersonalInfo map[string]interface{} `json:"personalInfo"`
	Documents    map[string]string      `json:"documents"`
}

type verifyDetails struct {
	FaceDetected          bool     `json:"face_detected"`
	VerificationCompleted bool     `json:"verification_completed"`
	KYCUpdated            bool     `json:"kyc_updated"`
	VerificationStatus    string   `json:"verification_status,omitempty"`
	Stage                 string   `json:"stage,omitempty"`
	Confidence            *float64 `json:"confidence,omitempty"`
	Distance              *float64 `json:"distance,omitempty"`
	SpoofSuspected        bool     `json:"spoof_suspected"`
	ErrorType             string   `json:"error_type,omitempty"`
}

type verifyResponse struct {
	Status    string        `json:"status"`
	Match     bool          `json:"match"`
	Message   string        `json:"message"`
	RequestID string        `json:"request_id,omitempty"`
	Details   verifyDetails `json:"details"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger.Named("handlers")
	h := &handler{svc: deps.Service, logger: logger}

	router.GET("/health", func(c *gin.Context) {
		if deps.Models != nil {
			if err := deps.Models.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "models": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "models": "ready"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	authed := router.Group("/", deps.Auth)
	authed.POST("/verify-faces", h.verifyFaces)
	authed.GET("/result/:id", h.getResult)
	authed.GET("/result/:id/duplicates", h.getDuplicates)
	authed.GET("/kyc/status", h.getKYCStatus)
	authed.GET("/metrics/summary", h.getMetricsSummary)
}

type handler struct {
	svc    VerificationService
	logger *zap.Logger
}

func (h *handler) verifyFaces(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())

	if c.ContentType() != gin.MIMEJSON {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)

	var body verifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, failure("selfie_with_id and id_image are required", errorTypeInvalidRequest))
		return
	}

	result, err := h.svc.VerifyFaces(c.Request.Context(), usecase.Request{
		UserID:       userID,
		SelfieWithID: body.SelfieWithID,
		IDImage:      body.IDImage,
		PersonalInfo: body.PersonalInfo,
		Documents:    body.Documents,
	})
	if err != nil {
		switch {
		case errors.Is(err, imagecodec.ErrInvalidImageFormat):
			c.JSON(http.StatusBadRequest, failure("Invalid image format. Please upload a JPEG, PNG, GIF, BMP or WebP image.", errorTypeInvalidImage))
		case errors.Is(err, vision.ErrDetectorUnavailable):
			h.logger.Error("verification models unavailable", zap.Error(err), zap.String("operation", logging.OperationOf(err)))
			c.JSON(http.StatusInternalServerError, failure("Face verification models are not available. Please try again later.", errorTypeSystem))
		default:
			h.logger.Error("verification failed", zap.Error(err), zap.String("operation", logging.OperationOf(err)))
			c.JSON(http.StatusInternalServerError, failure("Error processing images. Please try again later.", errorTypeSystem))
		}
		return
	}

	out := result.Outcome
	status := "pending"
	if out.Match {
		status = "success"
	}
	c.JSON(http.StatusOK, verifyResponse{
		Status:    status,
		Match:     out.Match,
		Message:   out.Message,
		RequestID: result.RequestID,
		Details: verifyDetails{
			FaceDetected:          out.FaceDetected(),
			VerificationCompleted: true,
			KYCUpdated:            result.KYCUpdated,
			VerificationStatus:    result.VerificationStatus,
			Stage:                 string(out.Stage),
			Confidence:            out.Confidence,
			Distance:              out.Distance,
			SpoofSuspected:        out.SpoofSuspected,
		},
	})
}

func failure(message, errorType string) verifyResponse {
	return verifyResponse{
		Status:  "error",
		Message: message,
		Details: verifyDetails{ErrorType: errorType},
	}
}

func (h *handler) getResult(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	requestID := c.Param("id")

	log, err := h.svc.GetResult(c.Request.Context(), userID, requestID)
	if err != nil {
		h.lookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":      log.RequestID,
		"match":           log.Matched,
		"stage":           log.Stage,
		"message":         log.Message,
		"confidence":      log.Confidence,
		"distance":        log.Distance,
		"spoof_suspected": log.SpoofSuspected,
		"created_at":      log.CreatedAt,
	})
}

func (h *handler) getDuplicates(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())

	report, err := h.svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.lookupError(c, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, gin.H{
			"request_id": d.RequestID,
			"same_user":  d.UserID == userID,
			"match":      d.Matched,
			"created_at": d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":    report.Request.RequestID,
		"id_image_sha1": report.Request.IDImageSHA1,
		"duplicates":    duplicates,
	})
}

func (h *handler) getKYCStatus(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())

	profile, err := h.svc.GetKYCStatus(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load kyc status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load kyc status"})
		return
	}

	submissions := make([]gin.H, 0, len(profile.Submissions))
	for _, s := range profile.Submissions {
		audit := make([]gin.H, 0, len(s.AuditTrail))
		for _, a := range s.AuditTrail {
			audit = append(audit, gin.H{
				"action":    a.Action,
				"details":   gin.H{"method": a.Method, "confidence": a.Confidence},
				"timestamp": a.Timestamp.Format(time.RFC3339),
			})
		}
		submissions = append(submissions, gin.H{
			"request_id":          s.RequestID,
			"status":              s.Status,
			"submitted_at":        s.SubmittedAt,
			"verified_at":         s.VerifiedAt,
			"verification_method": s.VerificationMethod,
			"documents":           s.Documents,
			"audit_trail":         audit,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":            profile.UserID,
		"status":             profile.Status,
		"current_submission": profile.CurrentSubmission,
		"submissions":        submissions,
	})
}

func (h *handler) getMetricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) lookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrProcessing):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	default:
		h.logger.Error("result lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
	}
}
