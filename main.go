// Items API is a small HTTP service that manages an in-memory list of items
// and emits telemetry (logs, traces, metrics, custom events and exceptions)
// on every request, for exercising an OpenTelemetry pipeline end to end.
//
// Usage:
//
//	items-api --config config.yaml [--debug]
//	items-api traffic --target http://localhost:8000 [--rounds 10] [--user alice]
//
// Configuration is provided via YAML file specifying:
//   - Server settings (host, port, metrics URI, variant, user header, log level)
//   - Telemetry settings (exporter, protocol, endpoint, sampling, connection string)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fjacquet/items_api/internal/api"
	"github.com/fjacquet/items_api/internal/client"
	"github.com/fjacquet/items_api/internal/config"
	"github.com/fjacquet/items_api/internal/logging"
	"github.com/fjacquet/items_api/internal/models"
	"github.com/fjacquet/items_api/internal/store"
	"github.com/fjacquet/items_api/internal/telemetry"
	"github.com/fjacquet/items_api/internal/utils"
)

const (
	programName       = "items-api"      // Application name
	serviceVersion    = "1.0.0"          // Reported as service.version
	shutdownTimeout   = 10 * time.Second // Maximum time to wait for graceful shutdown
	readHeaderTimeout = 5 * time.Second  // HTTP server read header timeout
	initTimeout       = 10 * time.Second // Maximum time to build the telemetry pipeline
)

// Server encapsulates the HTTP server and its dependencies.
// It manages the lifecycle of the HTTP server and the telemetry manager.
//
// Error Handling:
// Server errors (such as port binding failures) are communicated through the ErrorChan()
// channel rather than calling log.Fatal. This allows the caller to perform graceful
// shutdown even when the server encounters errors.
//
// Usage:
//
//	server := NewServer(safeCfg)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//
//	select {
//	case <-shutdownSignal:
//	    // Normal shutdown
//	case err := <-server.ErrorChan():
//	    log.Errorf("Server error: %v", err)
//	}
//
//	server.Shutdown()
type Server struct {
	cfg              *models.SafeConfig // Application configuration (reloadable)
	httpSrv          *http.Server       // HTTP server instance
	telemetryManager *telemetry.Manager // OpenTelemetry providers and Prometheus registry
	hookInstalled    bool               // Whether logs are forwarded to OpenTelemetry
	// serverErrChan receives HTTP server errors. It is buffered (capacity 1)
	// to ensure the goroutine can send an error even if the main select
	// hasn't started listening yet (race between Start() return and select).
	serverErrChan chan error
}

// NewServer creates a new server instance with the provided configuration.
// The telemetry manager is created here and initialized by Start.
func NewServer(cfg *models.SafeConfig) *Server {
	return &Server{
		cfg:              cfg,
		telemetryManager: telemetry.NewManager(telemetryConfig(cfg.Get(), serviceVersion)),
		serverErrChan:    make(chan error, 1), // Buffered to prevent goroutine leak
	}
}

// telemetryConfig maps the application configuration onto the telemetry manager's.
func telemetryConfig(cfg *models.Config, version string) telemetry.Config {
	return telemetry.Config{
		Enabled:          cfg.Telemetry.Enabled,
		Exporter:         cfg.Telemetry.Exporter,
		Protocol:         cfg.Telemetry.Protocol,
		Endpoint:         cfg.Telemetry.Endpoint,
		Insecure:         cfg.Telemetry.Insecure,
		ConnectionString: cfg.Telemetry.ConnectionString,
		SamplingRate:     cfg.Telemetry.SamplingRate,
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
	}
}

// Start initializes telemetry, builds the router and starts the HTTP server
// in a goroutine.
//
// The server exposes:
//   - The item routes, plus the demo routes of the showcase variant
//   - Metrics endpoint at the configured URI (default: /metrics)
//   - Health check endpoint at /health
//
// Returns an error if the telemetry pipeline cannot be initialized. Exporter
// failures only disable export; see telemetry.Manager.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := s.telemetryManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if s.telemetryManager.IsEnabled() {
		logging.InstallOTelHook(s.telemetryManager.LoggerProvider(), telemetry.ScopeName)
		s.hookInstalled = true
		log.Info("OpenTelemetry export enabled")
	} else {
		log.Info("OpenTelemetry export disabled, metrics are served locally only")
	}

	cfg := s.cfg.Get()
	s.httpSrv = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           s.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Infof("Starting %s on %s (variant %d)", programName, cfg.GetServerAddress(), cfg.Server.Variant)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	return nil
}

// router wires the store, the telemetry sink and the handlers together.
func (s *Server) router() *gin.Engine {
	cfg := s.cfg.Get()
	sink := telemetry.NewSinkFromManager(s.telemetryManager)
	handler := api.NewHandler(store.NewSeeded(), sink, s.cfg, api.WithVariant(cfg.Server.Variant))

	return api.NewRouter(handler, api.RouterOptions{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracerProvider: s.telemetryManager.TracerProvider(),
		MetricsURI:     cfg.Server.MetricsURI,
		MetricsHandler: s.telemetryManager.MetricsHandler(),
	})
}

// ErrorChan returns the channel for receiving server errors.
// The main function should select on this channel to handle errors gracefully.
func (s *Server) ErrorChan() <-chan error {
	return s.serverErrChan
}

// Shutdown gracefully shuts down the server components in order.
//
// Shutdown Order:
//  1. Stop HTTP server (waits for in-flight requests, up to shutdownTimeout)
//  2. Shutdown OpenTelemetry (flush pending spans, metrics and logs)
//  3. Detach the log hook from the shut down pipeline
//
// Returns an error if the HTTP server fails to shut down in time.
func (s *Server) Shutdown() error {
	var errs []error

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down HTTP server...")
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down telemetry...")
	if err := s.telemetryManager.Shutdown(ctx); err != nil {
		// Telemetry shutdown warnings are non-fatal
		log.Warnf("Telemetry shutdown warning: %v", err)
	}

	if s.hookInstalled {
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
		s.hookInstalled = false
	}

	close(s.serverErrChan)

	if len(errs) > 0 {
		log.Errorf("Shutdown completed with %d errors", len(errs))
		return errors.Join(errs...)
	}

	log.Info("Server stopped gracefully")
	return nil
}

// validateConfig checks if the configuration file exists, loads it, and validates its contents.
//
// Returns:
//   - Pointer to validated Config struct
//   - Error if file doesn't exist, cannot be parsed, or validation fails
func validateConfig(configPath string) (*models.Config, error) {
	if !utils.FileExists(configPath) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	var cfg models.Config
	if err := utils.ReadFile(&cfg, configPath); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setupLogging initializes logging to stdout and logName, at level.
// debugMode forces DEBUG whatever the level, and puts gin in debug mode.
func setupLogging(logName, level string, debugMode bool) error {
	if err := logging.PrepareLogs(logName); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetProgramName(programName)

	if debugMode {
		level = log.DebugLevel.String()
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := logging.SetLevel(level); err != nil {
		return err
	}
	log.Debug("Debug mode enabled")
	return nil
}

// reloadHooks returns the settings applied on config reload. With --debug
// the log level stays at DEBUG.
func reloadHooks(debugMode bool) []config.ApplyFunc {
	if debugMode {
		return nil
	}
	return []config.ApplyFunc{config.ApplyLogLevel}
}

// waitForShutdown blocks until either a shutdown signal is received
// or a server error occurs through the error channel.
//
// Signals handled:
//   - SIGINT (Ctrl+C)
//   - SIGTERM (kill command)
//
// Returns an error if the server encountered a fatal error, nil for normal signal shutdown.
func waitForShutdown(serverErr <-chan error) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.Infof("Received signal %v, initiating graceful shutdown...", sig)
		return nil
	case err := <-serverErr:
		return err
	}
}

// runServer loads the configuration and serves until a shutdown signal.
func runServer(configPath string, debugMode bool) error {
	cfg, err := validateConfig(configPath)
	if err != nil {
		return err
	}

	if err := setupLogging(cfg.Server.LogName, cfg.Server.LogLevel, debugMode); err != nil {
		return err
	}

	logging.LogInfo(fmt.Sprintf("Starting %s...", programName))
	if cfg.IsOTelEnabled() {
		log.Infof("Telemetry: exporter=%s protocol=%s endpoint=%s sampling=%.2f",
			cfg.Telemetry.Exporter, cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint, cfg.Telemetry.SamplingRate)
	} else {
		log.Info("Telemetry export disabled in configuration")
	}
	if debugMode && cfg.Telemetry.ConnectionString != "" {
		log.Infof("Connection string: %s", cfg.MaskConnectionString())
	}

	safeCfg := models.NewSafeConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloader := config.NewReloader(safeCfg, configPath, reloadHooks(debugMode)...)
	reloader.Start(ctx)
	defer reloader.Close()

	server := NewServer(safeCfg)
	if err := server.Start(); err != nil {
		return err
	}

	if err := waitForShutdown(server.ErrorChan()); err != nil {
		logging.LogError(fmt.Sprintf("Server error: %v", err))
		// Continue to graceful shutdown
	}

	return server.Shutdown()
}

// trafficOptions are the flags of the traffic command.
type trafficOptions struct {
	target     string
	rounds     int
	user       string
	userHeader string
	variant    int
	interval   string
	endpoint   string
	insecure   bool
}

// runTraffic drives rounds of requests against a running service. With an
// OTLP endpoint, the client spans are exported so they join the service's
// traces.
func runTraffic(ctx context.Context, opts trafficOptions, debugMode bool) error {
	if err := setupLogging("", models.DefaultLogLevel, debugMode); err != nil {
		return err
	}

	manager := telemetry.NewManager(telemetry.Config{
		Enabled:        opts.endpoint != "",
		Exporter:       telemetry.ExporterOTLP,
		Protocol:       telemetry.ProtocolGRPC,
		Endpoint:       opts.endpoint,
		Insecure:       true,
		SamplingRate:   1.0,
		ServiceName:    programName + "-traffic",
		ServiceVersion: serviceVersion,
	})
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := manager.Initialize(initCtx); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Telemetry shutdown warning: %v", err)
		}
	}()

	c := client.New(opts.target,
		client.WithTracerProvider(manager.TracerProvider()),
		client.WithUser(opts.userHeader, opts.user),
		client.WithInsecureSkipVerify(opts.insecure),
	)
	defer func() { _ = c.Close() }()

	runner := client.NewRunner(c, client.WithVariant(opts.variant), client.WithInterval(opts.interval))
	summary, err := runner.Run(ctx, opts.rounds)
	if err != nil {
		return err
	}
	if !summary.OK() {
		return fmt.Errorf("traffic finished with %d failed requests and %d unexpected statuses",
			summary.Errors, summary.Unexpected)
	}
	return nil
}

// newRootCommand builds the CLI: the server as root command and the traffic
// subcommand.
func newRootCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
		traffic    trafficOptions
	)

	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Items API with OpenTelemetry instrumentation",
		Long:          "Items API serves an in-memory item list and emits logs, traces, metrics and custom events for every request",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configFile, debug)
		},
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (required)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug mode")
	_ = rootCmd.MarkFlagRequired("config")

	trafficCmd := &cobra.Command{
		Use:   "traffic",
		Short: "Send demo traffic to a running items API",
		Long:  "Traffic calls every route of a running items API, including the failing ones, so it emits each kind of telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTraffic(ctx, traffic, debug)
		},
	}
	trafficCmd.Flags().StringVarP(&traffic.target, "target", "t", "http://localhost:8000", "Base URL of the items API")
	trafficCmd.Flags().IntVarP(&traffic.rounds, "rounds", "r", 1, "Number of rounds to send")
	trafficCmd.Flags().StringVarP(&traffic.user, "user", "u", "", "End-user ID sent with every request")
	trafficCmd.Flags().StringVar(&traffic.userHeader, "user-header", models.DefaultUserHeader, "Header carrying the end-user ID")
	trafficCmd.Flags().IntVar(&traffic.variant, "variant", models.DefaultVariant, "Variant of the target service (1, 2 or 3)")
	trafficCmd.Flags().StringVar(&traffic.interval, "interval", "", "Pause between rounds (e.g. 500ms, 2s)")
	trafficCmd.Flags().StringVar(&traffic.endpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for client spans (disabled when empty)")
	trafficCmd.Flags().BoolVar(&traffic.insecure, "insecure", false, "Skip TLS certificate verification of the target")
	rootCmd.AddCommand(trafficCmd)

	return rootCmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logging.HandleError(err)
	}
}
