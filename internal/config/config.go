package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/example/kyc-facematch/internal/pipeline"
)

// Model backends understood by the service.
const (
	BackendGRPC = "grpc"
	BackendHTTP = "http"
)

// Config holds the process configuration resolved at start-up.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	ModelBackend     string
	ModelServiceAddr string
	InferenceURL     string
	ModelDialTimeout time.Duration

	DocumentsBaseURL           string
	MaxConcurrentVerifications int64

	Policy pipeline.Policy
}

// LoadDotEnv reads .env files into the environment when they exist.
// Variables already set win over the file.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load resolves the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom resolves the configuration through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	env := lookup(getenv)

	cfg := &Config{
		HTTPAddr:         env.str("HTTP_ADDR", ":8080"),
		LogLevel:         env.str("LOG_LEVEL", "info"),
		DatabaseDSN:      env.str("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=kyc port=5432 sslmode=disable"),
		RedisAddr:        env.str("REDIS_ADDR", "redis:6379"),
		JWTSecret:        env.str("JWT_SECRET", "dev-secret"),
		JWTAudience:      env.str("JWT_AUDIENCE", ""),
		ModelBackend:     strings.ToLower(env.str("MODEL_BACKEND", BackendGRPC)),
		ModelServiceAddr: env.str("MODEL_SERVICE_ADDR", "vision-service:50051"),
		InferenceURL:     env.str("INFERENCE_URL", "http://localhost:5000/predict"),
		DocumentsBaseURL: env.str("DOCUMENTS_BASE_URL", "http://localhost:3000/uploads/"),
	}

	var err error
	if cfg.ShutdownTimeout, err = env.duration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ModelDialTimeout, err = env.duration("MODEL_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentVerifications, err = env.int64("MAX_CONCURRENT_VERIFICATIONS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentVerifications < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_VERIFICATIONS must be positive, got %d", cfg.MaxConcurrentVerifications)
	}

	switch cfg.ModelBackend {
	case BackendGRPC, BackendHTTP:
	default:
		return nil, fmt.Errorf("unsupported MODEL_BACKEND %q", cfg.ModelBackend)
	}

	if cfg.Policy, err = loadPolicy(env); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadPolicy(env lookup) (pipeline.Policy, error) {
	policy := pipeline.DefaultPolicy()
	var err error

	if policy.MatchDistance, err = env.float("KYC_MATCH_DISTANCE", policy.MatchDistance); err != nil {
		return policy, err
	}
	if policy.PersonConfidence, err = env.float("KYC_PERSON_CONFIDENCE", policy.PersonConfidence); err != nil {
		return policy, err
	}
	if policy.RejectFlatArtifacts, err = env.bool("KYC_REJECT_FLAT_ARTIFACTS", policy.RejectFlatArtifacts); err != nil {
		return policy, err
	}

	idConf, err := env.float("KYC_ID_LABEL_CONFIDENCE", -1)
	if err != nil {
		return policy, err
	}
	if idConf >= 0 {
		policy.IDImageLabels = pipeline.UniformLabels(pipeline.IDProxyLabels, idConf)
	}
	selfieConf, err := env.float("KYC_SELFIE_LABEL_CONFIDENCE", -1)
	if err != nil {
		return policy, err
	}
	if selfieConf >= 0 {
		policy.SelfieLabels = pipeline.UniformLabels(pipeline.IDProxyLabels, selfieConf)
	}

	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid verification policy: %w", err)
	}
	return policy, nil
}

type lookup func(string) string

func (l lookup) str(key, fallback string) string {
	if value := strings.TrimSpace(l(key)); value != "" {
		return value
	}
	return fallback
}

func (l lookup) float(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(l(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (l lookup) int64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(l(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (l lookup) bool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(l(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := cast.ToBoolE(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func (l lookup) duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(l(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := cast.ToDurationE(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
