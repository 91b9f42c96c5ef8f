// Command kycverify runs the face verification pipeline on two local image
// files and prints the outcome as JSON.
//
// Exit status is 0 on a match, 1 on a rejection and 2 when the images could
// not be evaluated.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/backend"
	"github.com/example/kyc-facematch/internal/config"
	"github.com/example/kyc-facematch/internal/imagecodec"
	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/pipeline"
	"github.com/example/kyc-facematch/internal/vision"
)

const (
	exitMatch    = 0
	exitRejected = 1
	exitError    = 2
)

type options struct {
	idPath       string
	selfiePath   string
	modelAddr    string
	backend      string
	inferenceURL string
	logLevel     string
	timeout      time.Duration
}

// report is what gets printed on stdout.
type report struct {
	RequestID string            `json:"request_id"`
	Outcome   *pipeline.Outcome `json:"outcome,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("kycverify", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.idPath, "id", "i", "", "path to the ID document image")
	fs.StringVarP(&opts.selfiePath, "selfie", "s", "", "path to the selfie holding the ID")
	fs.StringVar(&opts.modelAddr, "model-addr", cfg.ModelServiceAddr, "model service gRPC address")
	fs.StringVar(&opts.backend, "backend", cfg.ModelBackend, "object detection backend (grpc or http)")
	fs.StringVar(&opts.inferenceURL, "inference-url", cfg.InferenceURL, "HTTP inference endpoint for the http backend")
	fs.StringVarP(&opts.logLevel, "log-level", "l", "warn", "log level")
	fs.DurationVarP(&opts.timeout, "timeout", "t", time.Minute, "overall deadline for the verification")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.idPath == "" || opts.selfiePath == "" {
		return opts, fmt.Errorf("both --id and --selfie are required")
	}
	if opts.backend != config.BackendGRPC && opts.backend != config.BackendHTTP {
		return opts, fmt.Errorf("unsupported backend %q", opts.backend)
	}
	return opts, nil
}

func readImage(path string) (*image.NRGBA, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := imagecodec.DecodeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// verify runs one verification and returns the process exit status.
func verify(ctx context.Context, models *vision.Models, policy pipeline.Policy, opts options, logger *zap.Logger, stdout io.Writer) int {
	rep := report{RequestID: uuid.NewString()}
	status := exitError

	outcome, err := func() (pipeline.Outcome, error) {
		selfie, err := readImage(opts.selfiePath)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		idImage, err := readImage(opts.idPath)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		p, err := pipeline.New(models, nil, policy, logger)
		if err != nil {
			return pipeline.Outcome{}, err
		}
		return p.Verify(ctx, pipeline.Input{RequestID: rep.RequestID, IDImage: idImage, Selfie: selfie})
	}()

	if err != nil {
		rep.Error = err.Error()
	} else {
		rep.Outcome = &outcome
		status = exitRejected
		if outcome.Match {
			status = exitMatch
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("failed to write report", zap.Error(err))
		return exitError
	}
	return status
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration: %v\n", err)
		return exitError
	}
	opts, err := parseFlags(args, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "kycverify: %v\n", err)
		return exitError
	}

	logger, err := logging.NewLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	cfg.ModelServiceAddr = opts.modelAddr
	cfg.ModelBackend = opts.backend
	cfg.InferenceURL = opts.inferenceURL

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	models := backend.Connect(ctx, cfg, logger)
	defer func() { _ = models.Close() }()

	return verify(ctx, models, cfg.Policy, opts, logger, stdout)
}

func main() {
	config.LoadDotEnv()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
