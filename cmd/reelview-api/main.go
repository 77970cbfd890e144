package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
	"github.com/MarcoPoloResearchLab/reelview/internal/config"
	"github.com/MarcoPoloResearchLab/reelview/internal/crawler"
	"github.com/MarcoPoloResearchLab/reelview/internal/database"
	"github.com/MarcoPoloResearchLab/reelview/internal/logging"
	"github.com/MarcoPoloResearchLab/reelview/internal/server"
	"github.com/MarcoPoloResearchLab/reelview/internal/users"
	"github.com/MarcoPoloResearchLab/reelview/internal/watchlist"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reelview-api",
		Short: "ReelView watchlist service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().Duration("request-timeout", defaults.GetDuration("http.request_timeout"), "Deadline applied to every request")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database path or connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("crawler-base-url", defaults.GetString("crawler.base_url"), "External site base URL")
	cmd.PersistentFlags().Int("batch-concurrency", defaults.GetInt("batch.concurrency"), "Usernames resolved concurrently per request")
	cmd.PersistentFlags().String("store-fault-policy", defaults.GetString("batch.store_fault_policy"), "Store fault handling (isolate, abort)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.request_timeout", "request-timeout")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "crawler.base_url", "crawler-base-url")
	bindFlag(cmd, "batch.concurrency", "batch-concurrency")
	bindFlag(cmd, "batch.store_fault_policy", "store-fault-policy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("reelview")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{Driver: appConfig.DatabaseDriver, DSN: appConfig.DatabaseDSN}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := catalog.NewStore(catalog.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger.Named("catalog"),
	})
	if err != nil {
		return err
	}

	walker, err := newWalker(appConfig, logger.Named("crawler"))
	if err != nil {
		return err
	}

	reconciler, err := watchlist.NewReconciler(watchlist.ReconcilerConfig{
		Catalog:     store,
		Crawler:     walker,
		SyncTimeout: appConfig.RequestTimeout,
		Logger:      logger.Named("watchlist"),
	})
	if err != nil {
		return err
	}

	resolver, err := users.NewResolver(users.ResolverConfig{
		Catalog:      store,
		Verifier:     walker,
		Syncer:       reconciler,
		SuggestLimit: appConfig.SuggestLimit,
		Logger:       logger.Named("users"),
	})
	if err != nil {
		return err
	}

	batchProcessor, err := users.NewBatchProcessor(users.BatchConfig{
		Resolver:         resolver,
		Counter:          store,
		Concurrency:      appConfig.BatchConcurrency,
		StoreFaultPolicy: users.StoreFaultPolicy(appConfig.BatchStoreFaultPolicy),
		Logger:           logger.Named("batch"),
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		BatchProcessor:     batchProcessor,
		HealthChecker:      store,
		Logger:             logger.Named("http"),
		AllowedOrigins:     appConfig.AllowedOrigins,
		RateLimitPerMinute: appConfig.RateLimitPerMinute,
		RequestTimeout:     appConfig.RequestTimeout,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newWalker(appConfig config.AppConfig, logger *zap.Logger) (*crawler.Walker, error) {
	var limiter *rate.Limiter
	if appConfig.CrawlerRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(appConfig.CrawlerRequestsPerSecond), 1)
	}
	fetcher := crawler.NewFetcher(crawler.FetcherConfig{
		HTTPClient: &http.Client{Timeout: appConfig.CrawlerTimeout},
		Retry: crawler.RetryPolicy{
			MaxAttempts:   appConfig.CrawlerMaxAttempts,
			Backoff:       crawler.ConstantBackoff(appConfig.CrawlerRetryDelay),
			StopOnMissing: appConfig.CrawlerStopOnMissing,
		},
		Limiter:   limiter,
		UserAgent: appConfig.CrawlerUserAgent,
		Logger:    logger,
	})
	extractor := crawler.NewExtractor(crawler.ExtractorConfig{
		ItemCap: appConfig.CrawlerItemCap,
		Logger:  logger,
	})
	return crawler.NewWalker(crawler.WalkerConfig{
		Fetcher:   fetcher,
		Extractor: extractor,
		BaseURL:   appConfig.CrawlerBaseURL,
		PageCap:   appConfig.CrawlerPageCap,
		Logger:    logger,
	})
}
