package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/api"
	"github.com/yourorg/fitment-ingest/internal/apiclient"
	"github.com/yourorg/fitment-ingest/internal/cache"
	"github.com/yourorg/fitment-ingest/internal/config"
	"github.com/yourorg/fitment-ingest/internal/db"
	"github.com/yourorg/fitment-ingest/internal/jobs"
	"github.com/yourorg/fitment-ingest/internal/logging"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/notify"
	"github.com/yourorg/fitment-ingest/internal/pipeline"
	"github.com/yourorg/fitment-ingest/internal/recommend"
	"github.com/yourorg/fitment-ingest/internal/storage"
	"github.com/yourorg/fitment-ingest/internal/tenant"
)

func main() {
	cfg := config.Load()
	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	tenants := tenant.New(cfg.TenantID)
	svc, err := apiclient.New(cfg.APIURL, tenants,
		apiclient.WithToken(cfg.APIToken),
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithLogger(zl))
	if err != nil {
		zl.Fatal("api client", zap.Error(err))
	}

	fetcher := &recommend.Fetcher{Limit: cfg.RecommendationLimit, Concurrency: cfg.RecommendationConcurrency, Log: zl}
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zl.Warn("redis unavailable, recommendations are not cached", zap.Error(err))
		} else {
			defer rdb.Close()
			fetcher.Cache = cache.NewRecommendations(rdb, cfg.RedisTTL)
		}
	}

	var archive pipeline.Archive
	if cfg.ArchivePrefix != "" {
		store, err := storage.New(ctx)
		if err != nil {
			zl.Warn("object store unavailable, publish archive disabled", zap.Error(err))
		} else {
			archive = store
		}
	}

	var (
		recorder  pipeline.RunRecorder
		runs      db.RunRepository
		baselines jobs.BaselineStore
	)
	if db.Enabled() {
		pool, err := db.Connect(ctx, db.FromEnv())
		if err != nil {
			zl.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			zl.Fatal("db migrate", zap.Error(err))
		}
		runs = db.NewRunRepo(pool)
		recorder = db.RunRecorder{Repo: runs}
		baselines = db.NewBaselineRepo(pool)
	}

	feed := notify.NewFeed(200)
	sinks := notify.Fanout{notify.LogSink{Log: zl}, feed}
	if len(cfg.KafkaBrokers) > 0 {
		ks := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, zl)
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	watch := jobs.New(jobs.Config{
		Tenants:  tenants,
		Lister:   func(id string) jobs.Lister { return svc.ForTenant(id) },
		Sink:     sinks,
		Store:    baselines,
		Interval: cfg.PollInterval,
		Log:      zl,
	})
	defer watch.Stop()

	// Temporal is optional; headless workflow routes are only mounted when it is reachable.
	var workflows api.WorkflowClient
	tc, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		zl.Warn("temporal unavailable, workflow routes disabled", zap.Error(err))
	} else {
		defer tc.Close()
		workflows = tc
	}

	if cfg.ScratchDir != "" {
		_ = os.MkdirAll(cfg.ScratchDir, 0o755)
	}

	h := api.NewHandler(api.Config{
		Tenants:  tenants,
		Sessions: pipeline.NewRegistry(tenants),
		Pipeline: pipeline.Config{
			Client:         func(id string) pipeline.Client { return svc.ForTenant(id) },
			Recommend:      fetcher,
			Archive:        archive,
			ArchivePrefix:  cfg.ArchivePrefix,
			Recorder:       recorder,
			MaxUploadBytes: cfg.UploadMaxBytes,
			PreviewRows:    cfg.PreviewWindow,
			Log:            zl,
		},
		Jobs:       func(id string) api.JobsAPI { return svc.ForTenant(id) },
		Watch:      watch,
		Feed:       feed,
		Runs:       runs,
		Workflows:  workflows,
		TaskQueue:  cfg.TemporalTaskQueue,
		ScratchDir: cfg.ScratchDir,
		Window:     cfg.PreviewWindow,
		Context:    ctx,
		Log:        zl,
	})

	r := gin.New()
	r.Use(gin.Recovery(), api.Metrics())
	r.MaxMultipartMemory = 8 << 20 // 8MB
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	h.Register(r.Group("/api/v1"))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	zl.Info("console starting", zap.String("addr", srv.Addr), zap.String("tenant", tenants.ID()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Fatal("server failed", zap.Error(err))
	}
}
