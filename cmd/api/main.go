package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/shopwatch/internal/application"
	appai "github.com/bryanwahyu/shopwatch/internal/application/ai"
	appalerts "github.com/bryanwahyu/shopwatch/internal/application/alerts"
	appissues "github.com/bryanwahyu/shopwatch/internal/application/issues"
	appscans "github.com/bryanwahyu/shopwatch/internal/application/scans"
	"github.com/bryanwahyu/shopwatch/internal/config"
	"github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/events"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
	"github.com/bryanwahyu/shopwatch/internal/domain/scans"
	"github.com/bryanwahyu/shopwatch/internal/domain/tenants"
	aiclient "github.com/bryanwahyu/shopwatch/internal/infra/ai/openai"
	"github.com/bryanwahyu/shopwatch/internal/infra/billing"
	mysqlp "github.com/bryanwahyu/shopwatch/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/shopwatch/internal/infra/db/postgres"
	"github.com/bryanwahyu/shopwatch/internal/infra/engine"
	"github.com/bryanwahyu/shopwatch/internal/infra/engine/browser"
	"github.com/bryanwahyu/shopwatch/internal/infra/engine/static"
	kafkapub "github.com/bryanwahyu/shopwatch/internal/infra/events/kafka"
	"github.com/bryanwahyu/shopwatch/internal/infra/httpserver"
	"github.com/bryanwahyu/shopwatch/internal/infra/notify"
	"github.com/bryanwahyu/shopwatch/internal/infra/queue"
	minioStore "github.com/bryanwahyu/shopwatch/internal/infra/storage"
	"github.com/bryanwahyu/shopwatch/internal/logging"
	mw "github.com/bryanwahyu/shopwatch/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.Logger.Level, cfg.Logger.Mode)
	defer logger.Sync()

	ctx := context.Background()

	// connect database
	var (
		db        *sql.DB
		pageRepo  pages.Repository
		scanRepo  scans.Repository
		issueRepo issues.Repository
		alertRepo alerts.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		pageRepo = postgresp.NewPageRepository(db)
		scanRepo = postgresp.NewScanRepository(db)
		issueRepo = postgresp.NewIssueRepository(db)
		alertRepo = postgresp.NewAlertRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			logger.Fatal("mysql connect", zap.Error(err))
		}
		pageRepo = mysqlp.NewPageRepository(db)
		scanRepo = mysqlp.NewScanRepository(db)
		issueRepo = mysqlp.NewIssueRepository(db)
		alertRepo = mysqlp.NewAlertRepository(db)
	}
	defer db.Close()

	// artifact store
	var artifacts scans.ArtifactStore
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Fatal("minio init", zap.Error(err))
		}
		artifacts = store
	}

	// event publisher
	var pub events.Publisher = events.Nop{}
	if cfg.Kafka.Broker != "" {
		kp := kafkapub.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic)
		defer kp.Close()
		pub = kp
	}

	// rescan queue
	rescans := queue.NewRescanQueue(cfg.Redis.Addr, "")
	defer rescans.Close()

	// scan engine: static prober for quick scans, browser service for deep
	prober := static.NewProber(time.Duration(cfg.Engine.TimeoutQuick)*time.Second, cfg.Engine.SlowLoadMS)
	var deep scans.Engine
	if cfg.Engine.BrowserURL != "" {
		deep = browser.NewRunner(cfg.Engine.BrowserURL, time.Duration(cfg.Engine.TimeoutDeep)*time.Second)
	}
	eng := engine.NewComposite(prober, deep)

	// entitlements
	var entitlements tenants.Entitlements
	if cfg.Billing.URL != "" {
		entitlements = billing.NewClient(cfg.Billing.URL)
	} else {
		entitlements = billing.NewAllowlist(cfg.Billing.Allowed)
	}

	clock := application.SystemClock{}

	ledger := appissues.NewLedger(issueRepo, clock, pub, logger)

	// alert dispatch
	var mailer *notify.Mailer
	if cfg.Mail.Endpoint != "" {
		mailer = notify.NewMailer(cfg.Mail.Endpoint, cfg.Mail.APIKey, cfg.Mail.From)
	}
	gate := appalerts.NewGatekeeper(alertRepo, notify.NewRouter(mailer), clock, pub, logger,
		cfg.Mail.Recipients, cfg.Mail.Default)

	// AI confirmation (optional)
	var aiSvc *appai.Service
	if cfg.AI.APIKey != "" {
		client := aiclient.NewClient(cfg.AI.APIKey, cfg.AI.Model)
		aiSvc = appai.NewService(client, ledger, scanRepo, logger)
	}

	svc := appscans.NewService(
		pageRepo, scanRepo, eng, artifacts, entitlements,
		ledger, aiSvc, gate, rescans, pub, clock, logger,
		appscans.Options{
			ConfidenceThreshold: cfg.Scan.ConfidenceThreshold,
			DeepScanDay:         cfg.DeepScanWeekday(),
			RescanDelay:         cfg.RescanDelay(),
			RefreshInterval:     cfg.RefreshInterval(),
			EngineAttempts:      cfg.Scan.EngineAttempts,
			Workers:             cfg.Scan.Workers,
			QueueSize:           cfg.Scan.QueueSize,
		},
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go svc.Start(runCtx)
	go svc.StartSweeper(runCtx)

	health := mw.HealthHandler(map[string]mw.HealthChecker{
		"database": &mw.DatabaseHealthChecker{DB: db},
	})

	handler := httpserver.NewRouter(httpserver.Deps{
		Scans:   svc,
		Ledger:  ledger,
		Pages:   pageRepo,
		ScanDB:  scanRepo,
		Issues:  issueRepo,
		Alerts:  alertRepo,
		Log:     logger,
		APIKeys: cfg.Auth.APIKeys,
		Health:  health,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server")
	cancel()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
