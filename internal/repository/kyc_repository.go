package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/retry"
)

// KYC statuses.
const (
	StatusUnverified = "unverified"
	StatusPending    = "pending"
	StatusVerified   = "verified"
)

// MethodFaceVerification tags submissions decided by the face-match pipeline.
const MethodFaceVerification = "face_verification"

// KYCProfile is the per-user identity-proofing state.
type KYCProfile struct {
	ID                uint            `gorm:"primaryKey"`
	UserID            string          `gorm:"column:user_id;uniqueIndex;size:64"`
	Status            string          `gorm:"column:status;size:16"`
	CurrentSubmission int             `gorm:"column:current_submission"`
	Submissions       []KYCSubmission `gorm:"foreignKey:ProfileID"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (KYCProfile) TableName() string { return "kyc_profiles" }

// KYCSubmission is one attempt, with the personal data and documents the user sent.
type KYCSubmission struct {
	ID                 uint                   `gorm:"primaryKey"`
	ProfileID          uint                   `gorm:"column:profile_id;index"`
	RequestID          string                 `gorm:"column:request_id;size:64"`
	Status             string                 `gorm:"column:status;size:16"`
	SubmittedAt        time.Time              `gorm:"column:submitted_at"`
	VerifiedAt         *time.Time             `gorm:"column:verified_at"`
	VerificationMethod string                 `gorm:"column:verification_method;size:32"`
	PersonalInfo       map[string]interface{} `gorm:"column:personal_info;type:jsonb;serializer:json"`
	Documents          map[string]string      `gorm:"column:documents;type:jsonb;serializer:json"`
	DateOfBirth        *time.Time             `gorm:"column:date_of_birth"`
	AuditTrail         []KYCAuditEntry        `gorm:"foreignKey:SubmissionID"`
}

func (KYCSubmission) TableName() string { return "kyc_submissions" }

// KYCAuditEntry records a decision taken on a submission.
type KYCAuditEntry struct {
	ID           uint      `gorm:"primaryKey"`
	SubmissionID uint      `gorm:"column:submission_id;index"`
	Action       string    `gorm:"column:action;size:16"`
	Method       string    `gorm:"column:method;size:32"`
	Confidence   string    `gorm:"column:confidence;size:16"`
	Timestamp    time.Time `gorm:"column:timestamp"`
}

func (KYCAuditEntry) TableName() string { return "kyc_audit_entries" }

// KYCRepository stores profiles, submissions and their audit trail.
type KYCRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewKYCRepository creates a new repository instance.
func NewKYCRepository(db *gorm.DB, logger *zap.Logger) *KYCRepository {
	return &KYCRepository{db: db, logger: logger.Named("kyc_repository"), retry: retry.DefaultPolicy()}
}

// AutoMigrate ensures the schema is available.
func (r *KYCRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&KYCProfile{}, &KYCSubmission{}, &KYCAuditEntry{})
}

// RecordSubmission stores sub for userID, creating the profile on first use,
// and moves the profile to the submission's status. The write is not retried:
// the submission and its audit trail get their ids assigned on insert.
func (r *KYCRepository) RecordSubmission(ctx context.Context, userID string, sub *KYCSubmission) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile := KYCProfile{}
		if err := tx.Where(KYCProfile{UserID: userID}).
			Attrs(KYCProfile{Status: StatusUnverified, CurrentSubmission: -1}).
			FirstOrCreate(&profile).Error; err != nil {
			return err
		}

		sub.ProfileID = profile.ID
		if err := tx.Create(sub).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&KYCSubmission{}).Where("profile_id = ?", profile.ID).Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&profile).Updates(map[string]interface{}{
			"status":             sub.Status,
			"current_submission": int(count - 1),
		}).Error
	})
	if err != nil {
		wrapped := logging.NewOperationError("repository.record_submission", sub.RequestID, err)
		logging.WithSubject(r.logger, userID).Error("failed to record kyc submission", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// GetProfile loads the profile of userID with its submissions, oldest first.
func (r *KYCRepository) GetProfile(ctx context.Context, userID string) (*KYCProfile, error) {
	var profile KYCProfile
	err := retry.Do(ctx, r.logger, r.retry, "repository.get_profile", "", func() error {
		return r.db.WithContext(ctx).
			Preload("Submissions", func(db *gorm.DB) *gorm.DB { return db.Order("submitted_at ASC") }).
			Preload("Submissions.AuditTrail").
			First(&profile, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}
