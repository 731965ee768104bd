package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/eventui/server/internal/bridge"
	"github.com/eventui/server/internal/bus"
	"github.com/eventui/server/internal/config"
	"github.com/eventui/server/internal/database"
	"github.com/eventui/server/internal/handlers"
	"github.com/eventui/server/internal/influx"
	"github.com/eventui/server/internal/logging"
	"github.com/eventui/server/internal/monitor"
	intOtel "github.com/eventui/server/internal/otel"
	"github.com/eventui/server/internal/parser"
	"github.com/eventui/server/internal/progression"
	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/internal/transport/websocket"
	"github.com/eventui/server/internal/worker"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ServiceName string = "eventui-server"
)

// shutdownTimeout bounds the graceful shutdown of each component.
const shutdownTimeout = 10 * time.Second

// global variables
var (
	// Env holds settings read from the environment
	Env config.Bootstrap

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	LogFile     *os.File

	SessionStartTime time.Time = time.Now()

	// Services
	engine         *progression.Engine
	signals        *bus.SignalBus
	events         *bus.EventBus
	endpoint       *bridge.Endpoint
	hub            *websocket.Hub
	workerManager  *worker.Manager
	notifier       *worker.Notifier
	uiConfigs      *worker.UIConfigs
	persister      *storage.Persister
	ingestService  *handlers.Service
	monitorService *monitor.Service
	influxManager  *influx.Manager

	// Storage backend and, for SQL backends, its connection
	storageBackend storage.Backend
	dbManager      *database.Manager
)

func initLogging() error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logging.Options{Level: "info"})
	Logger = SlogManager.Logger()

	if err := config.ParseEnv(&Env); err != nil {
		return err
	}

	if err := config.Load(Env.ConfigDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}
	LogFilePath = logging.LogFilePath(logsDir, ServiceName, SessionStartTime)

	// keep the previous session's file if the name collides
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		cfg := intOtel.FromConfig(otelCfg, nil)
		if LogFile != nil {
			cfg.LogWriter = LogFile
		}
		OTelProvider, err = intOtel.New(context.Background(), cfg)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	opts := logging.Options{
		Level:    viper.GetString("logLevel"),
		Provider: otelLogProvider,
		Scope:    ServiceName,
		Context: func() []slog.Attr {
			if hub == nil {
				return nil
			}
			return []slog.Attr{slog.Int("peers", hub.Count())}
		},
	}
	if LogFile != nil {
		opts.File = LogFile
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", CurrentVersion, "buildDate", BuildDate)
	return nil
}

func initEngine() error {
	engineLogger := logging.NewSlogAdapter(Logger.With("component", "engine"))
	signals = bus.NewSignalBus(engineLogger)
	events = bus.NewEventBus(engineLogger)

	engineCfg := config.GetEngineConfig()
	var err error
	engine, err = progression.New(progression.Dependencies{
		Signals:   signals,
		Events:    events,
		Logger:    engineLogger,
		QueueSize: engineCfg.SignalQueueSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	uiConfigs = worker.NewUIConfigs()
	n, err := uiConfigs.LoadDir(Env.UIConfigDir)
	if err != nil {
		Logger.Error("Failed to load UI configs", "error", err, "dir", Env.UIConfigDir)
	} else {
		Logger.Info("Loaded UI configs", "count", n, "dir", Env.UIConfigDir)
	}
	return nil
}

func initBridge() error {
	bridgeCfg := config.GetBridgeConfig()
	bridgeLogger := logging.NewSlogAdapter(Logger.With("component", "bridge"))

	hub = websocket.NewHub(websocket.Config{
		Secret:     bridgeCfg.Secret,
		SendBuffer: bridgeCfg.SendBuffer,
		WriteWait:  bridgeCfg.WriteWait,
	}, Logger.With("component", "hub"))

	var err error
	endpoint, err = bridge.NewEndpoint(hub, bridgeLogger)
	if err != nil {
		return fmt.Errorf("failed to create bridge endpoint: %w", err)
	}

	workerManager = worker.NewManager(worker.Dependencies{
		Engine:    engine,
		UIConfigs: uiConfigs,
		Logger:    bridgeLogger,
	})
	Logger.Debug("Registering worker handlers with dispatcher")
	workerManager.RegisterHandlers(endpoint.Dispatcher())
	Logger.Info("Worker handlers registered with dispatcher")

	notifier = worker.NewNotifier(engine, endpoint, bridgeLogger)
	notifier.Attach(events)

	hub.OnMessage = endpoint.Receive
	hub.OnConnect = func(player uuid.UUID) {
		if err := persister.Join(context.Background(), player); err != nil {
			Logger.Error("Failed to restore player state", "player", player, "error", err)
		}
	}
	hub.OnDisconnect = func(player uuid.UUID) {
		if err := persister.Leave(context.Background(), player); err != nil {
			Logger.Error("Failed to save player state", "player", player, "error", err)
		}
	}
	return nil
}

func initPersistence() error {
	if err := initStorage(); err != nil {
		return err
	}
	var err error
	persister, err = storage.NewPersister(storage.PersisterDeps{
		Backend:       storageBackend,
		Engine:        engine,
		Logger:        logging.NewZerologAdapter(SlogManager.Component("persister")),
		FlushInterval: config.GetStorageConfig().FlushInterval,
	})
	if err != nil {
		return err
	}
	persister.Attach(events)
	return nil
}

func initInflux() {
	influxManager = influx.NewManager(
		SlogManager.Component("influx"),
		filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("influx_backup_%s.log.gz", SessionStartTime.Format("20060102_150405"))),
	)
	err := influxManager.Connect(context.Background(), influx.ConfigFromViper())
	if errors.Is(err, influx.ErrDisabled) {
		influxManager = nil
		return
	}
	if err != nil {
		Logger.Error("Failed to connect to InfluxDB", "error", err)
		influxManager = nil
		return
	}
	influxManager.Attach(events)
}

func initMonitor() {
	deps := monitor.Dependencies{
		Engine:     engine,
		Peers:      hub.Count,
		Dirty:      persister.Dirty,
		Logger:     Logger.With("component", "monitor"),
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
	if influxManager != nil {
		deps.Influx = influxManager
	}
	monitorService = monitor.NewService(deps)
	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start monitor", "error", err)
	}
}

func newServer() *http.Server {
	bridgeCfg := config.GetBridgeConfig()

	ingestService = handlers.NewService(handlers.Dependencies{
		Engine: engine,
		Parser: parser.NewParser(Logger.With("component", "parser"), nil),
		Logger: Logger.With("component", "ingest"),
		Secret: bridgeCfg.Secret,
	})

	mux := http.NewServeMux()
	mux.Handle(bridgeCfg.Path, hub)
	mux.Handle(viper.GetString("ingest.path"), ingestService)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              bridgeCfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// reload re-reads mission definitions and UI configs. Loaded players are
// re-synced by the engine.
func reload() {
	if _, err := loadDefinitions(engine, Env.DefinitionsPath); err != nil {
		Logger.Error("Failed to reload mission definitions", "error", err)
	}
	if n, err := uiConfigs.LoadDir(Env.UIConfigDir); err != nil {
		Logger.Error("Failed to reload UI configs", "error", err)
	} else {
		Logger.Info("Reloaded UI configs", "count", n)
	}
}

func shutdown(server *http.Server, stopWorkers context.CancelFunc, workersDone <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		Logger.Error("HTTP server shutdown failed", "error", err)
	}
	hub.Close()

	// engine drains its queue, persister flushes dirty players
	stopWorkers()
	select {
	case <-workersDone:
	case <-ctx.Done():
		Logger.Error("Timed out waiting for workers")
	}

	if n := persister.SaveAll(ctx); n > 0 {
		Logger.Info("Saved player states", "count", n)
	}
	monitorService.Stop()
	notifier.Detach()
	persister.Detach()
	closeStorage()

	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB", "error", err)
		}
	}
	engine.Close()

	Logger.Info("Shutdown complete")
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "OTel shutdown failed: %v\n", err)
		}
	}
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Log flush failed: %v\n", err)
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

func run() error {
	if err := initEngine(); err != nil {
		return err
	}
	if _, err := loadDefinitions(engine, Env.DefinitionsPath); err != nil {
		return err
	}
	if err := initPersistence(); err != nil {
		return err
	}
	if err := initBridge(); err != nil {
		return err
	}
	initInflux()
	initMonitor()
	server := newServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		done := make(chan struct{})
		go func() {
			persister.Run(workerCtx)
			close(done)
		}()
		engine.Run(workerCtx, config.GetEngineConfig().TickInterval)
		<-done
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	serveErr := make(chan error, 1)
	go func() {
		Logger.Info("Listening", "addr", server.Addr, "bridgePath", config.GetBridgeConfig().Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			Logger.Info("Shutting down")
			break loop
		case <-hup:
			Logger.Info("Reloading definitions")
			reload()
		case err := <-serveErr:
			runErr = err
			break loop
		}
	}

	shutdown(server, stopWorkers, workersDone)
	return runErr
}

// setupDB migrates the configured SQL database and exits.
func setupDB() error {
	storageCfg := config.GetStorageConfig()
	if storageCfg.Type != "postgres" && storageCfg.Type != "sqlite" {
		return fmt.Errorf("storage type %q has no database", storageCfg.Type)
	}
	dbManager = database.NewManager(SlogManager.Component("database"))
	if err := dbManager.Connect(storageCfg); err != nil {
		return err
	}
	defer dbManager.Close()
	return dbManager.Setup()
}

// validate loads the definitions into a throwaway engine and prints the
// report. It fails when any mission is rejected.
func validate() error {
	if err := initEngine(); err != nil {
		return err
	}
	defer engine.Close()

	report, err := loadDefinitions(engine, Env.DefinitionsPath)
	if err != nil {
		return err
	}
	for id, errs := range report.Rejected {
		fmt.Printf("REJECTED %s: %s\n", id, strings.Join(errs, "; "))
	}
	for id, warns := range report.Warnings {
		fmt.Printf("WARNING  %s: %s\n", id, strings.Join(warns, "; "))
	}
	fmt.Printf("%d loaded, %d rejected\n", report.Loaded, len(report.Rejected))
	if len(report.Rejected) > 0 {
		return fmt.Errorf("%d mission definitions rejected", len(report.Rejected))
	}
	return nil
}

func main() {
	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	Logger.Info("Starting up...")

	var err error
	args := os.Args[1:]
	switch {
	case len(args) == 0:
		err = run()
	case strings.ToLower(args[0]) == "setupdb":
		err = setupDB()
		if err == nil {
			Logger.Info("DB setup complete.")
		}
	case strings.ToLower(args[0]) == "validate":
		err = validate()
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		Logger.Error("Exiting with error", "error", err)
		os.Exit(1)
	}
}
