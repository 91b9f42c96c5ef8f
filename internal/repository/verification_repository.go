package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/kyc-facematch/internal/retry"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// VerificationLog represents one evaluated face-match request.
type VerificationLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	Matched             bool      `gorm:"column:matched"`
	Stage               string    `gorm:"column:stage;size:32"`
	Message             string    `gorm:"column:message;type:text"`
	Confidence          *float64  `gorm:"column:confidence"`
	Distance            *float64  `gorm:"column:distance"`
	SpoofSuspected      bool      `gorm:"column:spoof_suspected"`
	IDImageSHA1         string    `gorm:"column:id_image_sha1;index;size:40"`
	SelfieSHA1          string    `gorm:"column:selfie_sha1;size:40"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation is the raw roll-up behind the metrics summary.
type MetricsAggregation struct {
	TotalCount                 int64
	MatchCount                 int64
	SpoofCount                 int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
}

// StageCount is the number of rejections at one pipeline stage.
type StageCount struct {
	Stage string
	Count int64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{db: db, logger: logger.Named("verification_repository"), retry: retry.DefaultPolicy()}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return retry.Do(ctx, r.logger, r.retry, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves a verification log matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*VerificationLog, error) {
	var log VerificationLog
	err := retry.Do(ctx, r.logger, r.retry, "repository.find_log", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

// FindDuplicatesByHash lists other requests, from any user, that submitted the
// same ID image.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := retry.Do(ctx, r.logger, r.retry, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("id_image_sha1 = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics rolls up all verification logs.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := retry.Do(ctx, r.logger, r.retry, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN matched THEN 1 ELSE 0 END), 0) AS match_count,
				COALESCE(SUM(CASE WHEN spoof_suspected THEN 1 ELSE 0 END), 0) AS spoof_count,
				COALESCE(AVG(confidence), 0) AS average_confidence,
				COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// RejectionsByStage counts unmatched requests per pipeline stage.
func (r *VerificationRepository) RejectionsByStage(ctx context.Context) ([]StageCount, error) {
	var counts []StageCount
	err := retry.Do(ctx, r.logger, r.retry, "repository.rejections_by_stage", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("stage, COUNT(*) AS count").
			Where("matched = ?", false).
			Group("stage").
			Order("count DESC").
			Scan(&counts).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
