package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/auth"
	"github.com/example/kyc-facematch/internal/handlers"
	"github.com/example/kyc-facematch/internal/pipeline"
	"github.com/example/kyc-facematch/internal/repository"
	"github.com/example/kyc-facematch/internal/usecase"
)

const integrationSecret = "integration-secret"

// slowService holds VerifyFaces open until released so shutdown can race it.
type slowService struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowService) VerifyFaces(ctx context.Context, req usecase.Request) (*usecase.Result, error) {
	close(s.started)
	<-s.release
	return &usecase.Result{
		RequestID:          "req-shutdown",
		Outcome:            pipeline.Outcome{Match: false, Message: pipeline.MsgNoPerson, Stage: pipeline.StagePerson},
		KYCUpdated:         true,
		VerificationStatus: repository.StatusPending,
	}, nil
}

func (s *slowService) GetResult(context.Context, string, string) (*repository.VerificationLog, error) {
	return nil, repository.ErrNotFound
}

func (s *slowService) GetDuplicateReport(context.Context, string, string) (*usecase.DuplicateReport, error) {
	return nil, repository.ErrNotFound
}

func (s *slowService) GetKYCStatus(context.Context, string) (*repository.KYCProfile, error) {
	return &repository.KYCProfile{Status: repository.StatusUnverified, CurrentSubmission: -1}, nil
}

func (s *slowService) GetMetricsSummary(context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{}, nil
}

func signedToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(integrationSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestServerDrainsInFlightVerificationOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	svc := &slowService{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(svc.release)
		}
	}()

	router := gin.New()
	handlers.RegisterRoutes(router, handlers.Deps{
		Service: svc,
		Auth:    auth.JWTMiddleware(integrationSecret, ""),
		Logger:  logger,
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/verify-faces",
		strings.NewReader(`{"selfie_with_id":"c2VsZmll","id_image":"aWQ="}`))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-7"))

	client := &http.Client{Timeout: 3 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case err := <-errCh:
		t.Fatalf("request failed before reaching the service: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	close(svc.release)
	released = true

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		var payload struct {
			Status    string `json:"status"`
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if payload.Status != "pending" || payload.RequestID != "req-shutdown" {
			t.Fatalf("unexpected payload: %s", string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("expected the listener to be closed after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
