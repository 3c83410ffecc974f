package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cascade-labs/cascade-go/internal/api"
	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/orchestrator"
	"github.com/cascade-labs/cascade-go/internal/pipeline"
	"github.com/cascade-labs/cascade-go/internal/platform/env"
	"github.com/cascade-labs/cascade-go/internal/platform/httpserver"
	"github.com/cascade-labs/cascade-go/internal/platform/k8s"
	"github.com/cascade-labs/cascade-go/internal/platform/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("CASCADE_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("CASCADE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	taskImage := strings.TrimSpace(env.String("CASCADE_TASK_IMAGE", ""))
	if taskImage == "" {
		logger.Error("missing task image", "env", "CASCADE_TASK_IMAGE")
		os.Exit(2)
	}
	jobNamespace := strings.TrimSpace(env.String("CASCADE_K8S_NAMESPACE", ""))
	jobServiceAccount := strings.TrimSpace(env.String("CASCADE_K8S_SERVICE_ACCOUNT", ""))
	jobTTLSeconds, err := env.Int32("CASCADE_K8S_JOB_TTL_SECONDS", 3600)
	if err != nil {
		logger.Error("invalid job ttl seconds", "error", err)
		os.Exit(2)
	}

	k8sClient, err := k8s.NewInClusterClient()
	if err != nil {
		logger.Error("k8s client init failed", "error", err)
		os.Exit(2)
	}
	jobs, err := backend.NewKubernetesJobs(k8sClient, jobNamespace, taskImage, jobServiceAccount, jobTTLSeconds)
	if err != nil {
		logger.Error("jobs backend init failed", "error", err)
		os.Exit(2)
	}
	lister, err := backend.NewObjectStoreLister(storeClient, storeCfg.Bucket)
	if err != nil {
		logger.Error("artifact lister init failed", "error", err)
		os.Exit(2)
	}

	profile := pipeline.DefaultProfile()
	if profilePath := strings.TrimSpace(env.String("CASCADE_PROFILE_PATH", "")); profilePath != "" {
		raw, err := os.ReadFile(profilePath)
		if err != nil {
			logger.Error("read resource profile", "path", profilePath, "error", err)
			os.Exit(2)
		}
		profile, err = pipeline.ParseProfile(raw)
		if err != nil {
			logger.Error("invalid resource profile", "path", profilePath, "error", err)
			os.Exit(2)
		}
	}

	pollInterval, err := env.Duration("CASCADE_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		logger.Error("invalid poll interval", "error", err)
		os.Exit(2)
	}
	pollMaxAttempts, err := env.Int("CASCADE_POLL_MAX_ATTEMPTS", 360)
	if err != nil {
		logger.Error("invalid poll max attempts", "error", err)
		os.Exit(2)
	}
	listInterval, err := env.Duration("CASCADE_LIST_INTERVAL", 5*time.Second)
	if err != nil {
		logger.Error("invalid list interval", "error", err)
		os.Exit(2)
	}
	listMaxAttempts, err := env.Int("CASCADE_LIST_MAX_ATTEMPTS", 60)
	if err != nil {
		logger.Error("invalid list max attempts", "error", err)
		os.Exit(2)
	}

	svc, err := orchestrator.New(orchestrator.Config{
		Jobs:            jobs,
		Artifacts:       lister,
		Profile:         profile,
		Logger:          logger,
		PollInterval:    pollInterval,
		PollMaxAttempts: pollMaxAttempts,
		ListInterval:    listInterval,
		ListMaxAttempts: listMaxAttempts,
	})
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}

	apiHandler, err := api.New(logger, svc)
	if err != nil {
		logger.Error("api init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler.Routes())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", httpserver.Healthz("cascade-orchestrator"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("cascade-orchestrator",
		httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, storeClient, storeCfg)
			},
		},
	))

	handler := httpserver.Wrap(logger, "cascade-orchestrator", mux)
	err = httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "cascade-orchestrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}
