package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"media-thumbnailer/internal/decoder"
	"media-thumbnailer/internal/logging"
	"media-thumbnailer/internal/mainloop"
	"media-thumbnailer/internal/pipeline"
	"media-thumbnailer/internal/probe"
	"media-thumbnailer/internal/startup"
	"media-thumbnailer/internal/thumbnail"
	"media-thumbnailer/internal/workers"

	_ "media-thumbnailer/internal/decoder/fastpath"
	_ "media-thumbnailer/internal/decoder/libav"
	_ "media-thumbnailer/internal/decoder/vlc"
)

const (
	exitOK       = 0
	exitFailed   = 1
	exitUsage    = 2
	closeTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	isTerminal := func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
	os.Exit(run(ctx, os.Args[1:], os.Environ(), os.Stdout, os.Stderr, isTerminal))
}

func run(ctx context.Context, args, environ []string, stdout, stderr io.Writer, isTerminal func() bool) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	command := args[0]
	switch command {
	case "generate", "jpeg", "metadata", "tiers":
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		// Only [a-zA-Z0-9_-] survive sanitizeCommand.
		fmt.Fprintf(stderr, "Unknown command: %s\n", sanitizeCommand(command))
		printUsage(stderr)
		return exitUsage
	}

	cfg, err := startup.Load(environ)
	if err != nil {
		fmt.Fprintf(stderr, "Error: configuration: %v\n", err)
		return exitUsage
	}
	configureLogging(cfg, environ, stderr)

	if cfg.PipelineBackend == pipeline.VipsName {
		if err := pipeline.InitVips(); err != nil {
			logging.Warn("libvips init failed: %v", err)
		}
		defer pipeline.ShutdownVips()
	}

	ledger := decoder.NewLedger()
	prober := probe.New(cfg.FFprobePath, ledger)
	opts := decoder.Options{FFmpegPath: cfg.FFmpegPath, Ledger: ledger, Inspector: prober}

	if command == "tiers" {
		listTiers(cfg.DecoderTiers, opts, stdout)
		return exitOK
	}

	chain, unavailable := decoder.Build(cfg.DecoderTiers, opts)
	for name, err := range unavailable {
		logging.Warn("Decoder tier %s unavailable: %v", name, err)
	}

	dispatcher, err := thumbnail.New(thumbnail.Config{
		Poster:   mainloop.Immediate{},
		Frames:   chain,
		Encoder:  pipeline.New(cfg.PipelineBackend, cfg.JPEGQuality),
		Metadata: prober,
		Resolver: thumbnail.NewPathResolver(cfg.MediaRoots...),
		Pool:     workers.NewPool(1),
		Ledger:   ledger,
		Deadline: cfg.Deadline,
		Grace:    cfg.Grace,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logging.Warn("Dispatcher close: %v", err)
		}
	}()

	switch command {
	case "metadata":
		if len(args) != 2 {
			printUsage(stderr)
			return exitUsage
		}
		return extractMetadata(ctx, dispatcher, absURI(args[1]), stdout, stderr)
	default:
		req, err := parseThumbnailArgs(args[1:])
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			printUsage(stderr)
			return exitUsage
		}
		raw := command == "jpeg"
		if raw && isTerminal() {
			fmt.Fprintln(stderr, "Error: refusing to write JPEG data to a terminal, redirect stdout to a file")
			return exitUsage
		}
		return generateThumbnail(ctx, dispatcher, req, raw, stdout, stderr)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// It uses an allowlist approach, replacing any character that is not alphanumeric,
// a hyphen, or an underscore with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Media Thumbnailer")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: thumbctl <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  generate <uri> <width> <height> [position]  - Print a base64 JPEG thumbnail")
	fmt.Fprintln(w, "  jpeg <uri> <width> <height> [position]      - Write raw JPEG bytes to stdout")
	fmt.Fprintln(w, "  metadata <uri>                              - Print media metadata as JSON")
	fmt.Fprintln(w, "  tiers                                       - List decoder tiers and their availability")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  DECODER_TIERS, PIPELINE_BACKEND, JPEG_QUALITY, FFMPEG_PATH, FFPROBE_PATH,")
	fmt.Fprintln(w, "  MEDIA_ROOTS, THUMBNAIL_DEADLINE, THUMBNAIL_GRACE, LOG_LEVEL, CONFIG_FILE")
}

// configureLogging sends logs to stderr. Without LOG_LEVEL the tool only
// reports warnings, so stdout stays clean for piping.
func configureLogging(cfg *startup.Config, environ []string, stderr io.Writer) {
	level := logging.LevelWarn
	if slices.ContainsFunc(environ, func(kv string) bool { return strings.HasPrefix(kv, "LOG_LEVEL=") }) {
		level = logging.ParseLevel(cfg.LogLevel)
	}
	logging.SetLevel(level)
	logging.Configure(logging.Options{
		Format:  cfg.LogFormat,
		NoColor: !cfg.LogColor,
		Writer:  stderr,
	})
}

// absURI turns a relative path argument into an absolute one. URIs with a
// scheme are passed through for the resolver to judge.
func absURI(arg string) string {
	if strings.Contains(arg, "://") || filepath.IsAbs(arg) || arg == "" {
		return arg
	}
	if abs, err := filepath.Abs(arg); err == nil {
		return abs
	}
	return arg
}

func parseThumbnailArgs(args []string) (thumbnail.ThumbnailRequest, error) {
	var req thumbnail.ThumbnailRequest
	if len(args) < 3 || len(args) > 4 {
		return req, errors.New("expected <uri> <width> <height> [position]")
	}

	width, err := strconv.Atoi(args[1])
	if err != nil {
		return req, fmt.Errorf("width %q is not an integer", args[1])
	}
	height, err := strconv.Atoi(args[2])
	if err != nil {
		return req, fmt.Errorf("height %q is not an integer", args[2])
	}

	req.URI = absURI(args[0])
	req.Width = width
	req.Height = height

	if len(args) == 4 {
		pos, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return req, fmt.Errorf("position %q is not a number", args[3])
		}
		req.Position = &pos
	}
	return req, nil
}

type outcome[T any] struct {
	value T
	err   error
}

// await waits for the request's callback. An interrupt cancels the request
// and still waits for its single outcome.
func await[T any](ctx context.Context, r *thumbnail.Request, ch <-chan outcome[T]) outcome[T] {
	select {
	case out := <-ch:
		return out
	case <-ctx.Done():
		r.Cancel()
		return <-ch
	}
}

func generateThumbnail(ctx context.Context, d *thumbnail.Dispatcher, req thumbnail.ThumbnailRequest, raw bool, stdout, stderr io.Writer) int {
	ch := make(chan outcome[string], 1)
	r := d.GenerateThumbnail(req, func(data string, err error) {
		ch <- outcome[string]{data, err}
	})

	out := await(ctx, r, ch)
	if out.err != nil {
		return reportError(stderr, out.err)
	}

	if !raw {
		fmt.Fprintln(stdout, out.value)
		return exitOK
	}

	jpeg, err := base64.StdEncoding.DecodeString(out.value)
	if err != nil {
		fmt.Fprintf(stderr, "Error: decode thumbnail: %v\n", err)
		return exitFailed
	}
	if _, err := stdout.Write(jpeg); err != nil {
		fmt.Fprintf(stderr, "Error: write thumbnail: %v\n", err)
		return exitFailed
	}
	return exitOK
}

func extractMetadata(ctx context.Context, d *thumbnail.Dispatcher, uri string, stdout, stderr io.Writer) int {
	ch := make(chan outcome[map[string]any], 1)
	r := d.ExtractMetadata(thumbnail.MetadataRequest{URI: uri}, func(meta map[string]any, err error) {
		ch <- outcome[map[string]any]{meta, err}
	})

	out := await(ctx, r, ch)
	if out.err != nil {
		return reportError(stderr, out.err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.value); err != nil {
		fmt.Fprintf(stderr, "Error: encode metadata: %v\n", err)
		return exitFailed
	}
	return exitOK
}

func reportError(stderr io.Writer, err error) int {
	var terr *thumbnail.Error
	if errors.As(err, &terr) {
		fmt.Fprintf(stderr, "Error: %s: %s\n", terr.Code(), terr.Message())
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitFailed
}

// listTiers prints every registered tier, marking the configured ones and
// whether each can be constructed on this host.
func listTiers(configured []string, opts decoder.Options, w io.Writer) {
	for _, name := range decoder.Registered() {
		marker := " "
		if i := slices.Index(configured, name); i >= 0 {
			marker = strconv.Itoa(i + 1)
		}

		status := "available"
		if _, unavailable := decoder.Build([]string{name}, opts); unavailable[name] != nil {
			status = "unavailable: " + unavailable[name].Error()
		}
		fmt.Fprintf(w, "%s %-10s %s\n", marker, name, status)
	}
}
