package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caresms/internal/config"
	"caresms/internal/constants"
	"caresms/internal/database"
	"caresms/internal/retry"
	"caresms/internal/service"
	"caresms/internal/tracing"
	"caresms/pkg/fhir"
	"caresms/pkg/twilio"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes message content)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("CareSMS %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting CareSMS")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - message content may appear in logs")
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		if level > logrus.InfoLevel {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the ledger with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize ledger database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ledger database after retries: %w", err)
	}
	defer db.Close()

	fhirClient := fhir.NewClient(fhir.ClientConfig{
		BaseURL:  cfg.FHIR.BaseURL,
		Username: cfg.FHIR.Username,
		Password: cfg.FHIR.Password,
		Timeout:  time.Duration(cfg.FHIR.TimeoutSec) * time.Second,
	})

	statusCallbackURL := cfg.Twilio.StatusCallbackURL
	if statusCallbackURL == "" && cfg.Server.PublicBaseURL != "" {
		statusCallbackURL = cfg.Server.PublicBaseURL + "/webhook/status"
	}
	smsClient := twilio.NewClient(twilio.ClientConfig{
		AccountSID:        cfg.Twilio.AccountSID,
		AuthToken:         cfg.Twilio.AuthToken,
		FromPhone:         cfg.Twilio.FromPhone,
		BaseURL:           cfg.Twilio.APIBaseURL,
		StatusCallbackURL: statusCallbackURL,
		Timeout:           time.Duration(cfg.Twilio.TimeoutSec) * time.Second,
	})

	identity := service.NewIdentityResolver(fhirClient,
		time.Duration(cfg.Identity.CacheTTLMinutes)*time.Minute,
		cfg.Identity.DefaultRegionCode, logger)

	bridge := service.NewBridge(fhirClient, smsClient, db, identity,
		time.Duration(cfg.Reconcile.StaleThresholdMinutes)*time.Minute, logger)

	logger.WithField("fhir", cfg.FHIR.BaseURL).Info("Message bridge initialized")

	scheduler := service.NewScheduler(bridge, service.SchedulerConfig{
		ReconcileInterval: time.Duration(cfg.Reconcile.IntervalMinutes) * time.Minute,
		ExecuteInterval:   time.Duration(cfg.Reconcile.ExecuteIntervalMin) * time.Minute,
		RetentionDays:     cfg.Database.RetentionDays,
		ExecuteEnabled:    cfg.Reconcile.ExecuteOnSchedule,
	}, logger)
	scheduler.Start(ctx)
	defer scheduler.Wait()

	server := NewServer(cfg, bridge, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
