package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"soundfield/internal/config"
	"soundfield/internal/logging"
	"soundfield/internal/metrics"
	"soundfield/internal/perform"
	"soundfield/internal/server"
	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

const version = "0.3.0"

const shutdownTimeout = 5 * time.Second

func printVersion() {
	fmt.Printf("soundfield-server v%s\n", version)
	fmt.Println("Gesture performance server for the soundfield installation")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  soundfield-server [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("ENDPOINTS:")
	fmt.Println("  /play     performer websocket (enter, touchstart, touchmove, touchend)")
	fmt.Println("  /room     room listener websocket (room_update)")
	fmt.Println("  /status   registry snapshot (JSON)")
	fmt.Println("  /metrics  Prometheus metrics")
	fmt.Println("  /healthz  liveness")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Precedence: defaults < config file < .env/SOUNDFIELD_* < flags")
	fmt.Println("  - Admin commands: soundfield-ctl solo|unsolo|status")
}

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		envFiles     = flag.String("env", ".env", "Comma-separated .env files to load (missing files are ignored)")
		listen       = flag.String("listen", "", "HTTP listen address (e.g. :8000)")
		areaWidth    = flag.Float64("area-width", 0, "Width of the performance area")
		areaHeight   = flag.Float64("area-height", 0, "Height of the performance area")
		fingerRadius = flag.Float64("finger-radius", 0, "Normalized radius beyond which a player hears nothing")
		soloists     = flag.Int("soloists", 0, "Number of soloist slots")
		ipcSocket    = flag.String("ipc-socket", "", "Unix domain socket path for admin IPC (empty string in config disables)")
		logLevel     = flag.String("log-level", "", "Log level: error, warn, info, debug")
		logFormat    = flag.String("log-format", "", "Log format: text, json")
		showVersion  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config.
	var ov config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			ov.Listen = listen
		case "area-width":
			ov.AreaWidth = areaWidth
		case "area-height":
			ov.AreaHeight = areaHeight
		case "finger-radius":
			ov.FingerRadius = fingerRadius
		case "soloists":
			ov.SoloistCount = soloists
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "log-level":
			ov.LogLevel = logLevel
		case "log-format":
			ov.LogFormat = logFormat
		}
	})

	cfg, err := config.Load(*configPath, splitList(*envFiles), ov)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New(level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	m := metrics.New()

	reg := session.NewRegistry(session.Config{
		Area:         session.Area{Width: cfg.Area.Width, Height: cfg.Area.Height},
		FingerRadius: cfg.Perform.FingerRadius,
		SoloistCount: cfg.Perform.SoloistCount,
	})
	ctrl := perform.NewController(reg, perform.Config{
		HistoryLimit:  cfg.Perform.HistoryLimit,
		VelocityScale: cfg.Perform.VelocityScale,
	}, m)

	// Central event bus: every socket and admin command feeds the
	// controller through this channel.
	events := make(chan perform.Event, cfg.Server.EventBuffer)

	srv := server.NewServer(logger, events, server.ServerConfig{
		Hub:       server.HubConfig{SendBuf: cfg.Server.SendBuffer, Recorder: m},
		Area:      wsproto.Area{Width: cfg.Area.Width, Height: cfg.Area.Height},
		ReadLimit: cfg.Server.ReadLimitBytes,
		WriteWait: cfg.WriteTimeout(),
	})
	httpSrv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: server.NewRouter(srv, m, server.RouterConfig{
			PlayPath: cfg.Server.PlayPath,
			RoomPath: cfg.Server.RoomPath,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Debug("configuration",
		"listen", cfg.Server.Listen,
		"play_path", cfg.Server.PlayPath,
		"room_path", cfg.Server.RoomPath,
		"area_width", cfg.Area.Width,
		"area_height", cfg.Area.Height,
		"finger_radius", reg.FingerRadius(),
		"soloist_slots", reg.SoloistSlots(),
		"ipc_socket", cfg.IPC.SocketPath,
		"send_buffer", cfg.Server.SendBuffer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.Hub().Run(ctx.Done())
		return nil
	})
	g.Go(func() error {
		perform.Run(ctx, events, ctrl, srv.Hub(), logger)
		return nil
	})
	if cfg.IPC.SocketPath != "" {
		g.Go(func() error {
			return server.RunIPCServer(ctx, config.ExpandPath(cfg.IPC.SocketPath), events, logger)
		})
	}
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Listen, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
