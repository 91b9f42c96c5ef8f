package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/auth"
	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/pipeline"
	"github.com/example/kyc-facematch/internal/repository"
	"github.com/example/kyc-facematch/internal/usecase"
	"github.com/example/kyc-facematch/internal/vision"
)

const testJWTSecret = "test-secret"

type stubService struct {
	result   *usecase.Result
	err      error
	lastReq  usecase.Request
	log      *repository.VerificationLog
	logErr   error
	report   *usecase.DuplicateReport
	profile  *repository.KYCProfile
	summary  *usecase.MetricsSummary
	verified int
}

func (s *stubService) VerifyFaces(ctx context.Context, req usecase.Request) (*usecase.Result, error) {
	s.verified++
	s.lastReq = req
	return s.result, s.err
}

func (s *stubService) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	return s.log, s.logErr
}

func (s *stubService) GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error) {
	return s.report, s.logErr
}

func (s *stubService) GetKYCStatus(ctx context.Context, userID string) (*repository.KYCProfile, error) {
	return s.profile, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return s.summary, nil
}

type readiness struct{ err error }

func (r readiness) Ready() error { return r.err }

func newRouter(svc VerificationService, models Readiness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, Deps{
		Service: svc,
		Auth:    auth.JWTMiddleware(testJWTSecret, ""),
		Models:  models,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "kyc_verifications_total 0") }),
		Logger:  zap.NewNop(),
	})
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, contentType string, body []byte, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func verifyBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"selfie_with_id": "data:image/png;base64,AAAA",
		"id_image":       "data:image/png;base64,BBBB",
		"personalInfo":   map[string]interface{}{"fullName": "Jane Doe"},
		"documents":      map[string]string{"idFront": "front.png"},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func decodeVerifyResponse(t *testing.T, resp *httptest.ResponseRecorder) verifyResponse {
	t.Helper()
	var out verifyResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestVerifyRejectsLargeUpload(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, nil)

	body := []byte(`{"selfie_with_id":"` + strings.Repeat("a", MaxBodySize+1) + `","id_image":"x"}`)
	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json", body, true)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if svc.verified != 0 {
		t.Fatal("expected use case not to run")
	}
}

func TestVerifyRejectsUnsupportedContentType(t *testing.T) {
	router := newRouter(&stubService{}, nil)

	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "text/plain", []byte("hello"), true)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	router := newRouter(&stubService{}, nil)

	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json", verifyBody(t), false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestVerifyRejectsMissingImages(t *testing.T) {
	router := newRouter(&stubService{}, nil)

	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json", []byte(`{"id_image":"x"}`), true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if out := decodeVerifyResponse(t, resp); out.Details.ErrorType != errorTypeInvalidRequest {
		t.Fatalf("unexpected error type %q", out.Details.ErrorType)
	}
}

func TestVerifyReportsMatch(t *testing.T) {
	confidence, distance := 0.75, 0.25
	svc := &stubService{result: &usecase.Result{
		RequestID: "req-1",
		Outcome: pipeline.Outcome{
			Match:      true,
			Stage:      pipeline.StageCompare,
			Message:    "Face match verified with 75.00% confidence (distance: 0.2500)",
			Confidence: &confidence,
			Distance:   &distance,
		},
		KYCUpdated:         true,
		VerificationStatus: repository.StatusVerified,
	}}
	router := newRouter(svc, nil)

	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json; charset=utf-8", verifyBody(t), true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	out := decodeVerifyResponse(t, resp)
	if out.Status != "success" || !out.Match || out.RequestID != "req-1" {
		t.Fatalf("unexpected response %+v", out)
	}
	if !out.Details.FaceDetected || !out.Details.VerificationCompleted || !out.Details.KYCUpdated || out.Details.VerificationStatus != "verified" {
		t.Fatalf("unexpected details %+v", out.Details)
	}
	if svc.lastReq.UserID != "user-123" || svc.lastReq.Documents["idFront"] != "front.png" {
		t.Fatalf("unexpected use case request %+v", svc.lastReq)
	}
}

func TestVerifyReportsRejectionAsPending(t *testing.T) {
	svc := &stubService{result: &usecase.Result{
		RequestID:          "req-2",
		Outcome:            pipeline.Outcome{Stage: pipeline.StagePerson, Message: pipeline.MsgNoPerson},
		VerificationStatus: repository.StatusPending,
	}}
	router := newRouter(svc, nil)

	resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json", verifyBody(t), true)
	out := decodeVerifyResponse(t, resp)
	if resp.Code != http.StatusOK || out.Status != "pending" || out.Match || out.Message != pipeline.MsgNoPerson {
		t.Fatalf("unexpected response %d %+v", resp.Code, out)
	}
	if out.Details.FaceDetected || out.Details.Stage != "person" {
		t.Fatalf("unexpected details %+v", out.Details)
	}
}

func TestVerifyMapsErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      int
		errorType string
	}{
		{"invalid image", logging.NewOperationError("usecase.decode_selfie", "req", fmt.Errorf("%w: base64", imagecodec.ErrInvalidImageFormat)), http.StatusBadRequest, errorTypeInvalidImage},
		{"models unavailable", logging.NewOperationError("pipeline.verify", "req", vision.ErrDetectorUnavailable), http.StatusInternalServerError, errorTypeSystem},
		{"adapter failure", fmt.Errorf("%w: rpc", pipeline.ErrAdapter), http.StatusInternalServerError, errorTypeSystem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&stubService{err: tc.err}, nil)
			resp := doRequest(t, router, http.MethodPost, "/verify-faces", "application/json", verifyBody(t), true)
			if resp.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.Code)
			}
			out := decodeVerifyResponse(t, resp)
			if out.Status != "error" || out.Match || out.Details.ErrorType != tc.errorType || out.Details.VerificationCompleted {
				t.Fatalf("unexpected response %+v", out)
			}
		})
	}
}

func TestGetResult(t *testing.T) {
	cases := []struct {
		name string
		svc  *stubService
		code int
	}{
		{"found", &stubService{log: &repository.VerificationLog{RequestID: "req-1", Stage: "compare", Matched: true}}, http.StatusOK},
		{"processing", &stubService{logErr: usecase.ErrProcessing}, http.StatusAccepted},
		{"missing", &stubService{logErr: fmt.Errorf("%w: lookup", repository.ErrNotFound)}, http.StatusNotFound},
		{"broken", &stubService{logErr: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, newRouter(tc.svc, nil), http.MethodGet, "/result/req-1", "", nil, true)
			if resp.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.Code)
			}
		})
	}
}

func TestGetDuplicatesHidesOtherUsers(t *testing.T) {
	svc := &stubService{report: &usecase.DuplicateReport{
		Request: &repository.VerificationLog{RequestID: "req-1", UserID: "user-123", IDImageSHA1: "abc"},
		Duplicates: []*repository.VerificationLog{
			{RequestID: "req-2", UserID: "user-999"},
		},
	}}
	resp := doRequest(t, newRouter(svc, nil), http.MethodGet, "/result/req-1/duplicates", "", nil, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "user-999") {
		t.Fatal("expected other users' ids to stay hidden")
	}
	if !strings.Contains(resp.Body.String(), `"same_user":false`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestGetKYCStatus(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{profile: &repository.KYCProfile{
		UserID:            "user-123",
		Status:            repository.StatusVerified,
		CurrentSubmission: 0,
		Submissions: []repository.KYCSubmission{{
			RequestID:  "req-1",
			Status:     repository.StatusVerified,
			AuditTrail: []repository.KYCAuditEntry{{Action: "verified", Method: "face_verification", Confidence: "75.00%", Timestamp: now}},
		}},
	}}
	resp := doRequest(t, newRouter(svc, nil), http.MethodGet, "/kyc/status", "", nil, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out struct {
		Status      string `json:"status"`
		Submissions []struct {
			AuditTrail []struct {
				Details map[string]string `json:"details"`
			} `json:"audit_trail"`
		} `json:"submissions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if out.Status != "verified" || out.Submissions[0].AuditTrail[0].Details["confidence"] != "75.00%" {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestHealthReflectsModelReadiness(t *testing.T) {
	resp := doRequest(t, newRouter(&stubService{}, readiness{}), http.MethodGet, "/health", "", nil, false)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = doRequest(t, newRouter(&stubService{}, readiness{err: vision.ErrDetectorUnavailable}), http.MethodGet, "/health", "", nil, false)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	resp := doRequest(t, newRouter(&stubService{}, nil), http.MethodGet, "/metrics", "", nil, false)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "kyc_verifications_total") {
		t.Fatalf("unexpected metrics response %d %s", resp.Code, resp.Body.String())
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
