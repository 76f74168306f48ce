package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/apiclient"
	"github.com/yourorg/fitment-ingest/internal/config"
	"github.com/yourorg/fitment-ingest/internal/db"
	"github.com/yourorg/fitment-ingest/internal/jobs"
	"github.com/yourorg/fitment-ingest/internal/logging"
	"github.com/yourorg/fitment-ingest/internal/metrics"
	"github.com/yourorg/fitment-ingest/internal/notify"
	"github.com/yourorg/fitment-ingest/internal/tenant"
)

// watcher polls the job history of one tenant and forwards each completed
// transition exactly once to the log and, when configured, to Kafka.
func main() {
	cfg := config.Load()
	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()

	if cfg.TenantID == "" {
		zl.Fatal("INGEST_TENANT_ID is required")
	}

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

	var downstream jobs.Sink = notify.LogSink{Log: zl}
	if len(cfg.KafkaBrokers) > 0 {
		ks := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, zl)
		defer ks.Close()
		downstream = notify.Fanout{downstream, ks}
	}
	ledger, err := notify.OpenLedger(cfg.NotifyLedgerDir, downstream)
	if err != nil {
		zl.Fatal("notification ledger", zap.Error(err))
	}
	defer ledger.Close()

	var baselines jobs.BaselineStore
	if db.Enabled() {
		pool, err := db.Connect(ctx, db.FromEnv())
		if err != nil {
			zl.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			zl.Fatal("db migrate", zap.Error(err))
		}
		baselines = db.NewBaselineRepo(pool)
	}

	r := jobs.New(jobs.Config{
		Tenants:  tenants,
		Lister:   func(id string) jobs.Lister { return svc.ForTenant(id) },
		Sink:     ledger,
		Store:    baselines,
		Interval: cfg.PollInterval,
		Log:      zl,
	})
	r.Start(ctx)
	zl.Info("watcher started", zap.String("tenant", cfg.TenantID), zap.Duration("interval", cfg.PollInterval),
		zap.Strings("brokers", cfg.KafkaBrokers), zap.Bool("baseline_db", baselines != nil))

	<-ctx.Done()
	r.Stop()
	zl.Info("watcher stopped")
}
