package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/brightloom/waypoint/internal/app"
	"github.com/brightloom/waypoint/internal/config"
	"github.com/brightloom/waypoint/internal/logger"
	"github.com/brightloom/waypoint/internal/version"
	"github.com/brightloom/waypoint/pkg/format"
	"github.com/brightloom/waypoint/pkg/nerdstats"
	"github.com/brightloom/waypoint/pkg/profiler"
)

func main() {
	startTime := time.Now()

	var showVersion bool
	var configFile string
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.StringVar(&configFile, "config", "", "path to config.yaml (defaults to ./config.yaml)")
	pflag.Parse()

	vlog := log.New(log.Writer(), "", 0)
	if showVersion {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	if configFile != "" {
		os.Setenv("WAYPOINT_CONFIG_FILE", configFile)
	}

	var bal *app.Balancer

	cfg, err := config.Load(func(reloaded *config.Config) {
		if err := reloaded.Validate(); err != nil {
			slog.Error("rejected reloaded config", "error", err)
			return
		}
		if bal != nil {
			ports := make([]int, 0, len(reloaded.Workers))
			for _, w := range reloaded.Workers {
				ports = append(ports, w.Port)
			}
			bal.SetWorkers(ports)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		FileOutput: cfg.Logging.FileOutput,
		LogDir:     cfg.Logging.LogDir,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Theme:      cfg.Logging.Theme,
		PrettyLogs: cfg.Logging.PrettyLogs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid())

	if cfg.Engineering.EnableProfiler {
		profiler.InitialiseProfiler(cfg.Engineering.ProfilerAddress)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	bal, err = app.New(cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to create balancer", "error", err)
	}

	if err := bal.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "failed to start balancer", "error", err)
	}

	go func() {
		for err := range bal.Errors() {
			styledLogger.Error("balancer error", "error", err.Error())
		}
	}()

	<-ctx.Done()

	if err := bal.Stop(context.Background()); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	if cfg.Engineering.ShowNerdStats {
		reportProcessStats(styledLogger, startTime)
	}

	styledLogger.Info("waypoint has shutdown")
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("process allocation stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		log.Info("garbage collection stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	log.Info("goroutine stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	log.Info("runtime stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	log.Info("process health summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}
