package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/activities"
	"github.com/yourorg/fitment-ingest/internal/apiclient"
	"github.com/yourorg/fitment-ingest/internal/cache"
	"github.com/yourorg/fitment-ingest/internal/config"
	"github.com/yourorg/fitment-ingest/internal/logging"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/recommend"
	"github.com/yourorg/fitment-ingest/internal/storage"
	"github.com/yourorg/fitment-ingest/internal/workflow"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Structured logger (zap)
	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()

	// Metrics server
	metrics.Init()
	go func() {
		_ = metrics.Serve(cfg.MetricsAddr)
	}()

	store, err := storage.New(ctx)
	if err != nil {
		log.Fatal("object store:", err)
	}
	// Workflows carry their tenant explicitly; the client has no ambient tenant.
	svc, err := apiclient.New(cfg.APIURL, nil,
		apiclient.WithToken(cfg.APIToken),
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithLogger(zl))
	if err != nil {
		log.Fatal("api client:", err)
	}

	fetcher := &recommend.Fetcher{Limit: cfg.RecommendationLimit, Concurrency: cfg.RecommendationConcurrency, Log: zl}
	if cfg.RedisURL != "" {
		if rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			zl.Warn("redis unavailable, recommendations are not cached", zap.Error(err))
		} else {
			defer rdb.Close()
			fetcher.Cache = cache.NewRecommendations(rdb, cfg.RedisTTL)
		}
	}

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		log.Fatal("temporal client:", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	acts := activities.New(activities.Config{
		Client:         func(id string) pipeline.Client { return svc.ForTenant(id) },
		Store:          store,
		Recommend:      fetcher,
		MaxUploadBytes: cfg.UploadMaxBytes,
	})
	acts.Register(w)
	w.RegisterWorkflow(workflow.PipelineWorkflow)

	zl.Info("worker started", zap.String("namespace", cfg.TemporalNamespace), zap.String("taskQueue", cfg.TemporalTaskQueue), zap.String("metrics", cfg.MetricsAddr))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker failed:", err)
	}
}
