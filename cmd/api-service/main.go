package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/paidflow/internal/api/handler"
	"github.com/cuongbtq/paidflow/internal/api/router"
	"github.com/cuongbtq/paidflow/internal/config"
	"github.com/cuongbtq/paidflow/internal/metrics"
	"github.com/cuongbtq/paidflow/internal/orchestrator"
	"github.com/cuongbtq/paidflow/internal/payment"
	"github.com/cuongbtq/paidflow/internal/registry"
	"github.com/cuongbtq/paidflow/internal/schema"
	"github.com/cuongbtq/paidflow/internal/status"
	"github.com/cuongbtq/paidflow/internal/worker"
	"github.com/cuongbtq/paidflow/internal/workflow"
	"github.com/cuongbtq/paidflow/shared/logger"
	"github.com/cuongbtq/paidflow/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("primary_field", cfg.Workflow.PrimaryFieldID),
		slog.String("payload_key", cfg.Workflow.PayloadKey),
		slog.Duration("poll_interval", cfg.Workflow.PollInterval),
		slog.Duration("poll_timeout", cfg.Workflow.PollTimeout),
	)
	metrics.SetAppInfo(cfg.App.Name, cfg.App.Version)

	component := func(name string) *slog.Logger {
		return appLogger.With(slog.String("component", name)).Logger
	}

	// Initialize the job event publisher
	publisher, rabbitClient, err := initPublisher(&cfg.Events, component("events"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	workflowClient := workflow.NewClient(&workflow.ClientConfig{
		BaseURL:        cfg.Workflow.BaseURL,
		Username:       cfg.Workflow.Username,
		Password:       cfg.Workflow.Password,
		RequestTimeout: cfg.Workflow.RequestTimeout,
	}, component("workflow"))

	paymentClient := initPaymentClient(&cfg.Payment, component("payment"))

	inputSchema := schema.New(cfg.InputSchema)

	orch := orchestrator.New(&orchestrator.Config{
		Logger: component("orchestrator"),
		Store:  registry.NewMemory(),
		Bridge: paymentClient,
		Engine: initEngine(&cfg.Workflow, workflowClient, component("workflow")),
		Pool: worker.NewPool(&worker.Config{
			Logger:      component("worker"),
			Name:        "resolve",
			Concurrency: cfg.Worker.Concurrency,
		}),
		Schema:         inputSchema,
		PrimaryFieldID: cfg.Workflow.PrimaryFieldID,
		Publisher:      publisher,
	})
	orch.Start()

	// Initialize router
	r := initRouter(cfg, component("http"), orch, inputSchema)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", runErr))
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		paymentClient.Close()
		workflowClient.Close()
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		runErr = err
	}

	if err := orch.Shutdown(ctx); err != nil {
		appLogger.Error("Orchestrator forced to shutdown",
			slog.Any("error", err),
		)
		runErr = err
	}

	appLogger.Info("Server shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPublisher connects the RabbitMQ event publisher when events are enabled
func initPublisher(cfg *config.RabbitMQConfig, logger *slog.Logger) (orchestrator.EventPublisher, *rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("Job event publishing disabled")
		return orchestrator.NoopPublisher{}, nil, nil
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	client, err := rabbitmq.NewClient(rabbitConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("RabbitMQ connection established")
	return client, client, nil
}

// initPaymentClient creates the payment service client
func initPaymentClient(cfg *config.PaymentConfig, logger *slog.Logger) *payment.Client {
	return payment.NewClient(&payment.Config{
		BaseURL:            cfg.ServiceURL,
		APIKey:             cfg.APIKey,
		AgentIdentifier:    cfg.AgentIdentifier,
		Network:            cfg.Network,
		PayByWindow:        cfg.PayByWindow,
		SubmitResultWindow: cfg.SubmitResultWindow,
		PollInterval:       cfg.PollInterval,
		RequestTimeout:     cfg.RequestTimeout,
	}, logger)
}

// initEngine creates the workflow engine
func initEngine(cfg *config.WorkflowConfig, client *workflow.Client, logger *slog.Logger) *workflow.Engine {
	return workflow.NewEngine(&workflow.EngineConfig{
		Logger:           logger,
		Transport:        client,
		FlowNameContains: cfg.FlowNameContains,
		PayloadKey:       cfg.PayloadKey,
		Success:          workflow.NewStatusSet(cfg.SuccessStatuses...),
		Failure:          workflow.NewStatusSet(cfg.ErrorStatuses...),
		Policy:           workflow.NewPollPolicy(cfg.PollInterval, cfg.PollTimeout),
	})
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobs handler.JobService, inputSchema *schema.Schema) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	handlerDeps := &handler.Dependencies{
		Logger:      logger,
		Jobs:        jobs,
		Projector:   status.NewProjector(cfg.Workflow.ResultPath, logger),
		Schema:      inputSchema,
		ServiceName: cfg.App.Name,
		MetricsPath: metricsPath,
		Agent: handler.AgentInfo{
			AgentIdentifier: cfg.Payment.AgentIdentifier,
			SellerVKey:      cfg.Payment.SellerVKey,
			Amount:          cfg.Payment.Amount,
			Unit:            cfg.Payment.Unit,
		},
	}

	return router.SetupRouter(handlerDeps)
}
