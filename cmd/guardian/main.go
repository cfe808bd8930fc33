package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mqxerror/qa-guardian-sub011/internal/audit"
	"github.com/mqxerror/qa-guardian-sub011/internal/config"
	"github.com/mqxerror/qa-guardian-sub011/internal/engine"
	"github.com/mqxerror/qa-guardian-sub011/internal/metrics"
	"github.com/mqxerror/qa-guardian-sub011/internal/notification"
	"github.com/mqxerror/qa-guardian-sub011/internal/server"
	"github.com/mqxerror/qa-guardian-sub011/internal/storage"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config   *config.Config
	storage  storage.Storage
	repo     *storage.Repository
	notifier notification.Notifier
	audit    audit.Recorder
	engine   *engine.Engine
	server   *server.HTTPServer
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	utils.GetLogger().WithField("level", logCfg.Level).Info("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing application components")

	// Storage
	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}
	app.storage = store
	app.repo = storage.NewRepository(store)

	// Audit recorder
	if app.config.Engine.AuditEnabled {
		app.audit = audit.NewStoreRecorder(store)
	} else {
		app.audit = audit.NopRecorder{}
	}

	// Notification dispatcher
	dispatcherCfg := &notification.DispatcherConfig{
		Workers:       app.config.Notifications.Workers,
		QueueSize:     app.config.Notifications.QueueSize,
		SendTimeout:   app.config.Notifications.SendTimeout,
		RetryAttempts: app.config.Notifications.RetryAttempts,
		RetryDelay:    app.config.Notifications.RetryDelay,
		Email: &notification.EmailSenderConfig{
			SMTPHost: app.config.Notifications.SMTPHost,
			SMTPPort: app.config.Notifications.SMTPPort,
			Username: app.config.Notifications.SMTPUsername,
			Password: app.config.Notifications.SMTPPassword,
			From:     app.config.Notifications.SMTPFrom,
		},
	}
	app.notifier = notification.NewDispatcher(dispatcherCfg)

	// Engine
	var m *metrics.Metrics
	if app.config.Server.EnableMetrics {
		m = metrics.NewDefault()
	}
	app.engine = engine.New(app.repo, nil, app.notifier, m, app.audit)

	// HTTP server
	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
	}
	app.server, err = server.NewHTTPServer(serverCfg, app.engine, app.repo, app.notifier, app.audit)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("All components initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithField("version", AppVersion).Info("Starting alert lifecycle engine")

	if err := app.engine.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.WithField("server_address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port)).
		Info("Alert lifecycle engine started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping alert lifecycle engine")

	app.cancel()

	// Stop components in reverse order
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.engine != nil {
		if err := app.engine.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop engine")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			logger.WithError(err).Error("Failed to close storage")
		}
	}

	logger.Info("Alert lifecycle engine stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "guardian",
	Short:   "Alert lifecycle engine",
	Long:    `Guardian groups, rate-limits, correlates, routes and escalates monitoring alerts for multi-tenant uptime checks.`,
	Version: AppVersion,
	RunE:    runGuardian,
}

// runGuardian is the main command to run the engine
func runGuardian(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("guardian %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage connection successful")

		if cfg.Notifications.SMTPHost != "" {
			fmt.Printf("SMTP configured: %s:%d\n", cfg.Notifications.SMTPHost, cfg.Notifications.SMTPPort)
		}

		fmt.Println("All connectivity tests passed")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
