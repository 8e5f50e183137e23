package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftwatch/metric-sentinel/internal/api"
	"github.com/driftwatch/metric-sentinel/internal/cache"
	"github.com/driftwatch/metric-sentinel/internal/config"
	"github.com/driftwatch/metric-sentinel/internal/domains"
	"github.com/driftwatch/metric-sentinel/internal/engine"
	"github.com/driftwatch/metric-sentinel/internal/inventory"
	"github.com/driftwatch/metric-sentinel/internal/metrics"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/notify"
	"github.com/driftwatch/metric-sentinel/internal/promsource"
	"github.com/driftwatch/metric-sentinel/internal/scheduler"
	"github.com/driftwatch/metric-sentinel/internal/services"
	"github.com/driftwatch/metric-sentinel/internal/timewindow"
	"github.com/driftwatch/metric-sentinel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting metric-sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	source := promsource.NewClient(cfg.Source.BaseURL, cfg.Source.Timeout)

	fetchers := []engine.DomainFetcher{
		domains.NewApplicationDetector(logger, source, domains.ApplicationConfig{
			APIList:            cfg.Domains.Application.APIList,
			SkipPrefixes:       cfg.Domains.Application.SkipPrefixes,
			Namespace:          cfg.Domains.Application.Namespace,
			PodSelector:        cfg.Domains.Application.PodSelector,
			RequestPolicy:      baselinePolicy(cfg.Domains.Application.Requests),
			MeshPolicy:         baselinePolicy(cfg.Domains.Application.Mesh),
			ErrorRateThreshold: cfg.Domains.Application.ErrorRateThreshold,
			ResourceThreshold:  cfg.Domains.Application.ResourceThreshold,
			MinConsecutive:     cfg.Domains.Application.MinConsecutive,
		}),
	}

	if cfg.AWS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS config", slog.Any("error", err))
			os.Exit(1)
		}
		cw := cloudwatch.NewFromConfig(awsCfg)
		fetchers = append(fetchers,
			domains.NewDatabaseDetector(logger, cw, rds.NewFromConfig(awsCfg), domains.DatabaseConfig{
				ClusterIdentifiers: cfg.Domains.Database.Clusters,
				PeriodSeconds:      cfg.Domains.Database.PeriodSeconds,
				Policy:             baselinePolicy(cfg.Domains.Database.Policy),
			}),
			domains.NewCacheDetector(logger, cw, elasticache.NewFromConfig(awsCfg), domains.CacheConfig{
				ReplicationGroupIDs: cfg.Domains.Cache.ReplicationGroups,
				PeriodSeconds:       cfg.Domains.Cache.PeriodSeconds,
				Policy:              baselinePolicy(cfg.Domains.Cache.Policy),
			}),
		)
	} else {
		logger.Info("AWS disabled, database and cache domains skipped")
	}

	var inv engine.Inventory
	if cfg.Kubernetes.Enabled {
		client, err := inventory.NewClient(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Namespace)
		if err != nil {
			logger.Warn("deployment inventory unavailable", slog.Any("error", err))
		} else {
			inv = client
		}
	}

	orchestrator := engine.NewOrchestrator(logger, inv, fetchers...)

	hour, minute, err := utils.ParseClock(cfg.Windows.TargetTime)
	if err != nil {
		logger.Error("invalid window target time", slog.String("value", cfg.Windows.TargetTime), slog.Any("error", err))
		os.Exit(1)
	}
	windowPolicy := timewindow.Policy{
		TargetHour:   hour,
		TargetMinute: minute,
		DaysBefore:   cfg.Windows.DaysBefore,
		Width:        time.Duration(cfg.Windows.WidthMinutes) * time.Minute,
		Location:     cfg.Windows.WindowPolicyLocation(),
	}

	notifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL, cacheProvider, logger)
	reportService := services.NewReportService(logger, orchestrator, cacheProvider, notifier, windowPolicy)

	server, err := api.NewServer(cfg.Server, api.NewHandlers(logger, reportService))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var cronRunner *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		cronRunner, err = scheduler.New(logger, reportService, cfg.Windows)
		if err != nil {
			logger.Error("failed to build schedule", slog.Any("error", err))
			os.Exit(1)
		}
		cronRunner.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if cronRunner != nil {
		cronRunner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("metric-sentinel stopped")
}

func baselinePolicy(p config.PolicyConfig) models.BaselinePolicy {
	return models.BaselinePolicy{
		MinActivity:      p.MinActivity,
		PercentThreshold: p.PercentThreshold,
	}
}
