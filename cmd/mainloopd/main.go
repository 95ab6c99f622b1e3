// Command mainloopd runs the durable-workflow daemon: it registers the
// main-thread and worker-task workflows with a durable.Engine, starts the
// inbound httpapi.Server, and serves until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mainloopdev/mainloopd/internal/classifier"
	classifierfake "github.com/mainloopdev/mainloopd/internal/classifier/fake"
	"github.com/mainloopdev/mainloopd/internal/config"
	"github.com/mainloopdev/mainloopd/internal/durable"
	"github.com/mainloopdev/mainloopd/internal/durable/inmem"
	"github.com/mainloopdev/mainloopd/internal/durable/temporal"
	"github.com/mainloopdev/mainloopd/internal/eventbus"
	"github.com/mainloopdev/mainloopd/internal/forge"
	forgegithub "github.com/mainloopdev/mainloopd/internal/forge/github"
	"github.com/mainloopdev/mainloopd/internal/httpapi"
	sandboxfake "github.com/mainloopdev/mainloopd/internal/sandbox/fake"
	"github.com/mainloopdev/mainloopd/internal/storage"
	"github.com/mainloopdev/mainloopd/internal/storage/memory"
	"github.com/mainloopdev/mainloopd/internal/storage/postgres"
	"github.com/mainloopdev/mainloopd/internal/telemetry"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/mainloopdev/mainloopd/internal/queue"
	"github.com/mainloopdev/mainloopd/internal/workflow/mainthread"
	"github.com/mainloopdev/mainloopd/internal/workflow/worker"
)

func main() {
	log := telemetry.NewClueLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error(ctx, "mainloopd: fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log telemetry.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, stopEngine, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer stopEngine()

	fg := buildForge(cfg)
	sb := sandboxfake.New()
	metrics := telemetry.NewPrometheusMetrics(prometheus.NewRegistry())
	bus, err := buildBus(cfg, metrics)
	if err != nil {
		return err
	}
	defer bus.Close()
	cls := buildClassifier(cfg)

	w := worker.New(store, fg, sb, sb, bus, log, metrics)
	w.Config = cfg.Worker
	if err := w.RegisterActivities(ctx, eng); err != nil {
		return err
	}

	mt := mainthread.New(store, cls, bus, log, metrics)
	if err := mt.RegisterActivities(ctx, eng); err != nil {
		return err
	}

	if tc, ok := eng.(*temporal.Engine); ok {
		if err := tc.Worker().Start(); err != nil {
			return err
		}
	}

	srv := httpapi.New(eng, store, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info(ctx, "mainloopd: listening", "addr", cfg.HTTPAddr,
		"storage", cfg.StorageDriver, "durable", cfg.DurableDriver)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func buildStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return memory.New(), nil
	}
}

func buildEngine(cfg config.Config, log telemetry.Logger) (durable.Engine, func(), error) {
	switch cfg.DurableDriver {
	case "temporal":
		eng, err := temporal.New(temporal.Options{
			DefaultQueue:           queue.WorkerTasks,
			DisableWorkerAutoStart: true,
			ClientOptions: &temporalclient.Options{
				HostPort:  cfg.TemporalHostPort,
				Namespace: cfg.TemporalNamespace,
			},
			Logger: log,
		})
		if err != nil {
			return nil, nil, err
		}
		return eng, func() { _ = eng.Close() }, nil
	default:
		eng := inmem.New(log)
		return eng, func() {}, nil
	}
}

func buildBus(cfg config.Config, metrics telemetry.Metrics) (eventbus.Bus, error) {
	if cfg.EventBusDriver != "redis" {
		return eventbus.NewBus(metrics), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return eventbus.NewRedisBus(redis.NewClient(opts), metrics), nil
}

func buildForge(cfg config.Config) forge.Forge {
	gh := github.NewClient(nil)
	if cfg.GitHubToken != "" {
		gh = gh.WithAuthToken(cfg.GitHubToken)
	}
	return forgegithub.New(gh, cfg.GitHub)
}

func buildClassifier(cfg config.Config) classifier.Classifier {
	return classifierfake.New(cfg.DefaultRepoURL)
}
