package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/promptlane/relay/internal/alerting"
	"github.com/promptlane/relay/internal/api"
	"github.com/promptlane/relay/internal/api/health"
	"github.com/promptlane/relay/internal/metrics"
	"github.com/promptlane/relay/internal/notifier"
	"github.com/promptlane/relay/internal/storage"
	"github.com/promptlane/relay/internal/webhook"
	"github.com/promptlane/relay/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "relay-server",
	Short: "Relay Server - Audit alerting and webhook delivery engine",
	Long: `Relay Server ingests audit events, evaluates alert rules,
and delivers signed webhooks to subscriber endpoints.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relay-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP API listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	log.Printf("database initialized at %s", cfg.Database.Path)

	// Direct-message channel is optional; without SMTP only webhooks fire.
	var messenger notifier.Messenger
	if cfg.Email.Host != "" {
		m, err := notifier.NewEmailMessenger(notifier.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: os.Getenv("RELAY_SMTP_PASSWORD"),
			From:     cfg.Email.From,
			Domain:   cfg.Email.Domain,
		})
		if err != nil {
			return fmt.Errorf("configure email: %w", err)
		}
		messenger = m
		log.Printf("email notifications enabled via %s:%d", cfg.Email.Host, cfg.Email.Port)
	} else {
		log.Printf("email notifications disabled (no SMTP host configured)")
	}

	alertEngine := alerting.NewEngine(store, alerting.Config{
		Messenger: messenger,
		RateLimit: notifier.RateLimitConfig{
			MaxPerWindow: cfg.Alerting.RateLimitPerMinute,
			Window:       time.Minute,
			Enabled:      true,
		},
		WebhookTimeout: time.Duration(cfg.Alerting.WebhookTimeoutSeconds) * time.Second,
	})
	defer alertEngine.Close()

	webhookEngine := webhook.NewEngine(store.Subscriptions(), store.Deliveries(), webhook.Config{
		Workers:           cfg.Webhooks.Workers,
		QueueSize:         cfg.Webhooks.QueueSize,
		DeliveryTimeout:   time.Duration(cfg.Webhooks.DeliveryTimeoutSeconds) * time.Second,
		TestTimeout:       time.Duration(cfg.Webhooks.TestTimeoutSeconds) * time.Second,
		RetryPollInterval: time.Duration(cfg.Webhooks.RetryPollIntervalSeconds) * time.Second,
		RetrySweepLimit:   cfg.Webhooks.RetrySweepLimit,
		MaxPerSecond:      cfg.Webhooks.MaxPerSecond,
	})

	apiServer, err := api.New(&api.Config{
		Address: cfg.Server.HTTPAddress,
		Verbose: cfg.Verbose,
	}, store, alertEngine, webhookEngine)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	apiServer.RegisterHealthChecker(health.NewDatabaseChecker(store.DB()))

	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress)
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting relay-server %s", config.Version)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(ctx)
	})

	g.Go(func() error {
		return metricsServer.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		webhookEngine.Start(ctx)
		<-ctx.Done()
		webhookEngine.Close()
		return nil
	})

	g.Go(func() error {
		webhookEngine.RunRetryPoller(ctx)
		return nil
	})

	g.Go(func() error {
		runEventPruner(ctx, store, cfg.Database.EventRetentionDays)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// runEventPruner deletes audit events past the retention window once a day.
func runEventPruner(ctx context.Context, store storage.Storage, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	prune := func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		deleted, err := store.Events().DeleteBefore(ctx, cutoff)
		if err != nil {
			log.Printf("pruner: delete old events: %v", err)
			return
		}
		if deleted > 0 {
			log.Printf("pruner: deleted %d events older than %s", deleted, cutoff.Format(time.RFC3339))
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
