package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/example/kyc-facematch/internal/pipeline"
	"github.com/example/kyc-facematch/internal/repository"
)

// KYCStore persists the identity-proofing state of a user.
type KYCStore interface {
	RecordSubmission(ctx context.Context, userID string, sub *repository.KYCSubmission) error
	GetProfile(ctx context.Context, userID string) (*repository.KYCProfile, error)
}

// kycStatus maps a decision to the status stored on the profile. A rejected
// submission stays pending for manual review.
func kycStatus(out pipeline.Outcome) string {
	if out.Match {
		return repository.StatusVerified
	}
	return repository.StatusPending
}

// buildSubmission turns a decided request into the record kept on the profile.
// Document references get the upload base URL; dateOfBirth must be ISO-8601.
func buildSubmission(requestID string, req Request, out pipeline.Outcome, baseURL string, now time.Time) (*repository.KYCSubmission, error) {
	status := kycStatus(out)

	personal := make(map[string]interface{}, len(req.PersonalInfo))
	for k, v := range req.PersonalInfo {
		personal[k] = v
	}
	var dob *time.Time
	if raw, ok := personal["dateOfBirth"]; ok {
		parsed, err := parseISODate(cast.ToString(raw))
		if err != nil {
			return nil, fmt.Errorf("personalInfo.dateOfBirth: %w", err)
		}
		dob = &parsed
		personal["dateOfBirth"] = parsed.Format(time.RFC3339)
	}

	documents := make(map[string]string, len(req.Documents))
	for k, v := range req.Documents {
		if v != "" {
			v = baseURL + v
		}
		documents[k] = v
	}

	confidence := "N/A"
	if out.Confidence != nil {
		confidence = fmt.Sprintf("%.2f%%", *out.Confidence*100)
	}

	return &repository.KYCSubmission{
		RequestID:          requestID,
		Status:             status,
		SubmittedAt:        now,
		VerifiedAt:         &now,
		VerificationMethod: repository.MethodFaceVerification,
		PersonalInfo:       personal,
		Documents:          documents,
		DateOfBirth:        dob,
		AuditTrail: []repository.KYCAuditEntry{{
			Action:     status,
			Method:     repository.MethodFaceVerification,
			Confidence: confidence,
			Timestamp:  now,
		}},
	}, nil
}

var isoLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}
