package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"media-thumbnailer/internal/channel"
	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/filesystem"
	"media-thumbnailer/internal/handlers"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/mainloop"
	"media-thumbnailer/internal/memory"
	"media-thumbnailer/internal/metrics"
	"media-thumbnailer/internal/middleware"
	"media-thumbnailer/internal/pipeline"
	"media-thumbnailer/internal/probe"
	"media-thumbnailer/internal/startup"
	"media-thumbnailer/internal/thumbnail"
	"media-thumbnailer/internal/tracing"
	"media-thumbnailer/internal/workers"

	// Decoder tiers register themselves by name.
	_ "media-thumbnailer/internal/decoder/fastpath"
	_ "media-thumbnailer/internal/decoder/libav"
	_ "media-thumbnailer/internal/decoder/vlc"
)

const (
	shutdownTimeout   = 30 * time.Second
	collectorInterval = 15 * time.Second
)

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryConfig(memory.Configure(config.MemoryLimit, config.MemoryRatio))

	shutdownTracing, err := tracing.Init(context.Background(), config.OTelEndpoint, "media-thumbnailer", startup.Version)
	if err != nil {
		startup.LogFatal("Tracing setup failed: %v", err)
	}

	if config.PipelineBackend == pipeline.VipsName {
		if err := pipeline.InitVips(); err != nil {
			logging.Warn("libvips init failed: %v", err)
		}
	}
	encoder := pipeline.New(config.PipelineBackend, config.JPEGQuality)

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(volumes(config.MediaRoots)))

	ledger := decoder.DefaultLedger
	prober := probe.New(config.FFprobePath, ledger)
	chain, unavailable := decoder.Build(config.DecoderTiers, decoder.Options{
		FFmpegPath: config.FFmpegPath,
		Ledger:     ledger,
		Inspector:  prober,
	})
	startup.LogDecoderInit(startup.DecoderReport{
		Tiers:       config.DecoderTiers,
		Unavailable: unavailable,
		Backend:     config.PipelineBackend,
		VipsActive:  pipeline.IsVipsAvailable(),
		FFmpegPath:  config.FFmpegPath,
		FFprobePath: config.FFprobePath,
	})
	if len(chain.Names()) == 0 {
		logging.Error("No decoder tier is available, every thumbnail request will fail with DecodeUnsupported")
	}

	metrics.InitializeMetrics(chain.Names(), []string{encoder.Backend(), pipeline.GoBackend{}.Name()})
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)

	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	workerCount := workers.Resolve(config.Workers, workers.DefaultLimit)
	loop := mainloop.NewLoop()

	dispatcher, err := thumbnail.New(thumbnail.Config{
		Poster:   loop,
		Frames:   chain,
		Encoder:  encoder,
		Metadata: prober,
		Resolver: thumbnail.NewPathResolver(config.MediaRoots...),
		Pool:     workers.NewPool(workerCount),
		Memory:   memMonitor,
		Ledger:   ledger,
		Deadline: config.Deadline,
		Grace:    config.Grace,
	})
	if err != nil {
		startup.LogFatal("Failed to create dispatcher: %v", err)
	}

	collector := metrics.NewCollector(dispatcher, collectorInterval)
	collector.Start()

	h := handlers.New(channel.NewHandler(dispatcher), dispatcher)

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      config.Deadline + config.Grace + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           setupMetricsRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go serve(metricsSrv, "Metrics")
	}
	go serve(srv, "HTTP")

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		Workers:         workerCount,
		StartupDuration: time.Since(startTime),
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go handleShutdown(shutdownDeps{
		handlers:        h,
		server:          srv,
		metricsServer:   metricsSrv,
		dispatcher:      dispatcher,
		collector:       collector,
		memMonitor:      memMonitor,
		shutdownTracing: shutdownTracing,
		stopLoop:        stopLoop,
	})

	// Completion callbacks run here, on the main goroutine, until shutdown.
	loop.Run(loopCtx)
	startup.LogShutdownComplete()
}

func serve(srv *http.Server, name string) {
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("%s server error: %v", name, err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	api.HandleFunc("/channel/{method}", h.InvokeMethod).Methods("POST")

	return r
}

func setupMetricsRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	return r
}

// volumes names each media root after its last path element for the
// filesystem metrics volume label.
func volumes(roots []string) map[string]string {
	out := make(map[string]string, len(roots))
	for _, root := range roots {
		name := filepath.Base(root)
		if name == string(filepath.Separator) || name == "." {
			name = "root"
		}
		out[name] = root
	}
	return out
}

type shutdownDeps struct {
	handlers        *handlers.Handlers
	server          *http.Server
	metricsServer   *http.Server
	dispatcher      *thumbnail.Dispatcher
	collector       *metrics.Collector
	memMonitor      *memory.Monitor
	shutdownTracing func(context.Context) error
	stopLoop        context.CancelFunc
}

func handleShutdown(deps shutdownDeps) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	deps.handlers.SetReady(false)

	// HTTP handlers wait for their outcome, which is delivered through the
	// main loop, so the loop keeps running until the dispatcher is closed.
	startup.LogShutdownStep("Shutting down HTTP server")
	if err := deps.server.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Closing dispatcher")
	if err := deps.dispatcher.Close(ctx); err != nil {
		logging.Warn("Dispatcher close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Dispatcher closed")
	}
	if open := decoder.DefaultLedger.Open(); open > 0 {
		logging.Warn("%d native decoder handles still open at shutdown: %v", open, decoder.DefaultLedger.OpenByKind())
	}

	startup.LogShutdownStep("Stopping metrics collector")
	deps.collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Stopping memory monitor")
	deps.memMonitor.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	if deps.metricsServer != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := deps.metricsServer.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Flushing traces")
	if err := deps.shutdownTracing(ctx); err != nil {
		logging.Warn("Tracing shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Traces flushed")
	}

	pipeline.ShutdownVips()

	deps.stopLoop()
}
