package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mzyy94/scanbridge/internal/acquire"
	"github.com/mzyy94/scanbridge/internal/bridge"
	"github.com/mzyy94/scanbridge/internal/escl"
	"github.com/mzyy94/scanbridge/internal/sane"
	"github.com/mzyy94/scanbridge/internal/twain"
)

// globals are the flags shared by every subcommand.
type globals struct {
	logLevel  *string
	logFile   *string
	dataDir   *string
	scanimage *string
	worker    *string
}

func main() {
	rootFlags := ff.NewFlagSet("scanbridge")
	g := &globals{
		logLevel:  rootFlags.StringLong("log-level", "info", "log level: debug, info, warn, error"),
		logFile:   rootFlags.StringLong("log-file", "", "also write logs to this file, rotated"),
		dataDir:   rootFlags.StringLong("data", defaultDataDir(), "directory for settings and caches"),
		scanimage: rootFlags.StringLong("scanimage", "", "path of the SANE scanimage binary"),
		worker:    rootFlags.StringLong("worker", "", "binary that serves 32-bit TWAIN scans with its worker subcommand"),
	}
	root := &ff.Command{
		Name:      "scanbridge",
		Usage:     "scanbridge [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "scan from SANE, TWAIN and eSCL devices and share them on the network",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			devicesCommand(g, rootFlags),
			scanCommand(g, rootFlags),
			serveCommand(g, rootFlags),
			serversCommand(g, rootFlags),
			workerCommand(g, rootFlags),
		},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := root.Parse(os.Args[1:], ff.WithEnvVarPrefix("SCANBRIDGE"))
	if err == nil {
		closeLog := setupLogging(*g.logLevel, *g.logFile)
		defer closeLog()
		err = root.Run(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "scanbridge")
	}
	return "."
}

// setupLogging installs the default slog logger. Logs go to stderr, which
// is also the log channel of worker processes.
func setupLogging(level, file string) func() {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = io.MultiWriter(os.Stderr, lj)
		closeFn = func() { lj.Close() }
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)})))
	return closeFn
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// stack is the scanning side shared by the subcommands.
type stack struct {
	drivers    bridge.Drivers
	controller *acquire.Controller
	close      func()
}

func newStack(g *globals) *stack {
	var cache twain.TimingCache = twain.NewMemoryTimingCache()
	closeFn := func() {}
	if err := os.MkdirAll(*g.dataDir, 0755); err != nil {
		slog.Warn("data directory unavailable, timing cache kept in memory", "err", err)
	} else if bolt, err := twain.OpenBoltTimingCache(filepath.Join(*g.dataDir, "timing.db")); err != nil {
		slog.Warn("timing cache unavailable, kept in memory", "err", err)
	} else {
		cache = bolt
		closeFn = func() { bolt.Close() }
	}

	// This build has no DSM binding, so TWAIN answers unsupported-capability
	// here and in the worker. A Windows build supplies a twain.SessionOpener
	// over TWAINDSM.dll (new DSM) and twain_32.dll (old DSM, 386 workers)
	// in place of twain.Unavailable.
	drivers := bridge.Drivers{
		Sane:  sane.NewDriver(&sane.CLI{Path: *g.scanimage}, sane.CLINames),
		Twain: twain.NewDriver(twain.Unavailable{}, cache),
		Escl:  escl.NewDriver(nil),
	}
	var worker *bridge.Worker
	if *g.worker != "" {
		worker = bridge.NewWorker(*g.worker, "worker")
	}
	factory := bridge.NewFactory(bridge.CurrentPlatform(), drivers, worker, &bridge.Network{})
	return &stack{
		drivers:    drivers,
		controller: acquire.NewController(factory),
		close:      closeFn,
	}
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
