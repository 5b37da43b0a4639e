package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	wfclient "github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rolloutd/rolloutd/internal/application"
	"github.com/rolloutd/rolloutd/internal/config"
	"github.com/rolloutd/rolloutd/internal/domain"
	"github.com/rolloutd/rolloutd/internal/infrastructure/dbosworkflows"
	"github.com/rolloutd/rolloutd/internal/infrastructure/extclients"
	"github.com/rolloutd/rolloutd/internal/infrastructure/goworkflows"
	"github.com/rolloutd/rolloutd/internal/infrastructure/httpapi"
	"github.com/rolloutd/rolloutd/internal/infrastructure/metrics"
	"github.com/rolloutd/rolloutd/internal/infrastructure/sqlite"
	"github.com/rolloutd/rolloutd/internal/infrastructure/syncworkflow"
	"github.com/rolloutd/rolloutd/internal/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("rolloutd", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rollouts := &sqlite.RolloutRepo{DB: db}
	audit := &sqlite.DecisionRecordRepo{DB: db}

	router := extclients.NewRouterClient(cfg.RouterBaseURL)
	workloads := extclients.NewWorkloadClient(cfg.WorkloadsBaseURL)
	metricsSource := extclients.NewMetricsClient(cfg.MetricsBaseURL)

	wf := &domain.FinalizeWorkflow{
		Rollouts:  rollouts,
		Audit:     audit,
		Router:    router,
		Workloads: workloads,
		Retry: domain.RetryPolicy{
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMax,
			MaxElapsed:      cfg.RetryMaxElapsed,
		},
		PromoteReplicas: cfg.PromoteReplicas,
	}

	finalizer, launch, err := buildFinalizer(ctx, cfg, wf)
	if err != nil {
		log.Error("failed to build workflow engine", "engine", cfg.WorkflowEngine, "error", err)
		os.Exit(1)
	}
	if launch != nil {
		defer launch()
	}

	svc := &application.RolloutService{
		Rollouts:      rollouts,
		Audit:         audit,
		Metrics:       metricsSource,
		Evaluator:     &domain.Evaluator{Windows: domain.NewWindowSet(256), ScrapeInterval: cfg.ScrapeInterval},
		Shifter:       domain.NewTrafficShifter(router),
		Finalizer:     finalizer,
		Locks:         application.NewKeyedMutex(),
		Logger:        log,
		QueryTimeout:  cfg.QueryTimeout,
		MetricsWindow: cfg.MetricsWindow,
		Defaults: domain.StageDefaults{
			MinDwell: cfg.DefaultMinDwell,
			Criteria: []domain.Criterion{
				domain.ErrorRateCriterion(cfg.DefaultSoftErrorRate, cfg.DefaultHardErrorRate, cfg.DefaultMinSamples),
			},
			MaxEvaluations: cfg.DefaultMaxEvaluations,
		},
	}

	if err := svc.ResumeInterrupted(ctx); err != nil {
		log.Error("failed to resume interrupted rollouts", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	ctl := application.NewController(svc, cfg.TickInterval, log, metrics.NewController(reg))
	go ctl.Run(ctx)

	api := httpapi.NewRouter(log, svc, reg, db.PingContext)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("rolloutd starting", "addr", cfg.Addr, "engine", cfg.WorkflowEngine)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("rolloutd stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// buildFinalizer constructs the finalize runner for the configured
// workflow engine. The returned cleanup, if any, must run at shutdown.
func buildFinalizer(ctx context.Context, cfg config.ServerConfig, wf *domain.FinalizeWorkflow) (domain.FinalizeRunner, func(), error) {
	switch cfg.WorkflowEngine {
	case "sync", "":
		runner, err := (&syncworkflow.Engine{}).FinalizeRunner(wf)
		return runner, nil, err

	case "goworkflows":
		b := wfsqlite.NewInMemoryBackend()
		w := worker.New(b, nil)
		if err := w.Start(ctx); err != nil {
			return nil, nil, err
		}
		engine := &goworkflows.Engine{Worker: w, Client: wfclient.New(b)}
		runner, err := engine.FinalizeRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		return runner, func() { _ = w.WaitForCompletion() }, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "rolloutd",
			DatabaseURL: cfg.DBOSDatabase,
		})
		if err != nil {
			return nil, nil, err
		}
		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.FinalizeRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, err
		}
		return runner, func() { dbos.Shutdown(dbosCtx, 5*time.Second) }, nil

	default:
		return nil, nil, errors.New("unknown workflow engine " + cfg.WorkflowEngine)
	}
}
