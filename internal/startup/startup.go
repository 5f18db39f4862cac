package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/memory"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// LoadConfig loads configuration from CONFIG_FILE and the process
// environment, configures logging from it, and logs the result.
func LoadConfig() (*Config, error) {
	cfg, err := Load(os.Environ())
	if err != nil {
		return nil, err
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.Configure(logging.Options{
		Format:  cfg.LogFormat,
		NoColor: !cfg.LogColor,
	})

	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if cfg.File != "" {
		logging.Info("  CONFIG_FILE:         %s", cfg.File)
	}
	logging.Info("  PORT:                %s", cfg.Port)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  THUMBNAIL_DEADLINE:  %v", cfg.Deadline)
	logging.Info("  THUMBNAIL_GRACE:     %v", cfg.Grace)
	logging.Info("  THUMBNAIL_WORKERS:   %s", workersString(cfg.Workers))
	logging.Info("  DECODER_TIERS:       %s", strings.Join(cfg.DecoderTiers, ","))
	logging.Info("  PIPELINE_BACKEND:    %s", cfg.PipelineBackend)
	logging.Info("  JPEG_QUALITY:        %d", cfg.JPEGQuality)
	logging.Info("  MEDIA_ROOTS:         %s", rootsString(cfg.MediaRoots))
	logging.Info("  OTEL_ENDPOINT:       %s", valueOr(cfg.OTelEndpoint, "(tracing disabled)"))
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
	logging.Info("  LOG_FORMAT:          %s", cfg.LogFormat)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", cfg.LogHealthChecks)

	return cfg, nil
}

func workersString(n int) string {
	if n <= 0 {
		return "auto"
	}
	return fmt.Sprint(n)
}

func rootsString(roots []string) string {
	if len(roots) == 0 {
		return "(any absolute path)"
	}
	return strings.Join(roots, ",")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogMemoryConfig logs the outcome of memory.Configure
func LogMemoryConfig(result memory.ConfigResult) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY")
	logging.Info("------------------------------------------------------------")
	if !result.Configured {
		logging.Info("  GOMEMLIMIT:  not configured (set MEMORY_LIMIT to enable)")
		return
	}
	logging.Info("  GOMEMLIMIT:  %d bytes (source: %s)", result.GoMemLimit, result.Source)
	if result.Source == "MEMORY_LIMIT" {
		logging.Info("  Container:   %d bytes, ratio %.2f", result.ContainerLimit, result.Ratio)
	}
}

// DecoderReport describes the decoder setup for the startup log.
type DecoderReport struct {
	Tiers       []string
	Unavailable map[string]error
	Backend     string
	VipsActive  bool
	FFmpegPath  string
	FFprobePath string
}

// LogDecoderInit logs the decoder tier chain and checks the ffmpeg tools.
func LogDecoderInit(r DecoderReport) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DECODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	for i, name := range r.Tiers {
		if err, bad := r.Unavailable[name]; bad {
			logging.Warn("  Tier %d: %-10s DISABLED (%v)", i+1, name, err)
			continue
		}
		logging.Info("  Tier %d: %-10s ENABLED", i+1, name)
	}

	logging.Info("  Pipeline backend: %s", r.Backend)
	if r.Backend == "vips" && !r.VipsActive {
		logging.Warn("    libvips unavailable, falling back to the Go pipeline")
	}

	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", r.FFmpegPath},
		{"ffprobe", r.FFprobePath},
	} {
		if err := checkTool(tool.path); err != nil {
			logging.Warn("  %s check failed: %v", tool.name, err)
			continue
		}
		logging.Info("  [OK] %s is available", tool.name)
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes at debug level
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		sort.Slice(routes, func(i, j int) bool {
			if routes[i].Path == routes[j].Path {
				return routes[i].Method < routes[j].Method
			}
			return routes[i].Path < routes[j].Path
		})

		logging.Debug("  Registered routes (%d total):", len(routes))
		for _, route := range routes {
			logging.Debug("    %-6s %s", route.Method, route.Path)
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	Workers         int
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("  Decode workers:  %d", config.Workers)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Channel:       http://0.0.0.0:%s/api/channel/{method}", config.Port)
	logging.Info("    Metrics:       %s", metricsURL(config))
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

func metricsURL(config ServerConfig) string {
	if !config.MetricsEnabled {
		return enabledString(false)
	}
	return fmt.Sprintf("http://0.0.0.0:%s/metrics", config.MetricsPort)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   __  __        _ _         _____ _                _
  |  \/  |___ __| (_)__ _   |_   _| |_ _  _ _ __  | |__
  | |\/| / -_) _' | / _' |    | | | ' \ || | '  \ | '_ \
  |_|  |_\___\__,_|_\__,_|    |_| |_||_\_,_|_|_|_||_.__/

------------------------------------------------------------`
	fmt.Fprintln(os.Stderr, banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

// checkTool verifies an ffmpeg-family binary runs and logs its version line.
func checkTool(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	logging.Debug("  %s path: %s", name, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", name, err)
	}

	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		logging.Debug("  %s", strings.TrimSpace(first))
	}

	return nil
}
