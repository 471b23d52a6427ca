package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"soundfield/internal/audio"
	"soundfield/internal/config"
	"soundfield/internal/logging"
	"soundfield/internal/player"
	"soundfield/internal/touch"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("soundfield-player v%s\n", version)
	fmt.Println("Headless soundfield player: spatial audio engine and server link")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  soundfield-player [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("SENSORS:")
	fmt.Println("  -sensors reads line-delimited JSON samples (\"-\" for stdin):")
	fmt.Println(`    {"type":"orientation","values":[azimuth,elevation,roll]}`)
	fmt.Println(`    {"type":"acceleration","values":[x,y,z]}`)
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the touch device (run as root or add user to 'input' group)")
	fmt.Println("  - Lifting the finger recalibrates the listener heading")
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		envFiles    = flag.String("env", ".env", "Comma-separated .env files to load (missing files are ignored)")
		serverURL   = flag.String("server", "", "Server performer websocket URL (e.g. ws://10.0.0.2:8000/play)")
		posX        = flag.Float64("x", 0, "This device's x position in the area")
		posY        = flag.Float64("y", 0, "This device's y position in the area")
		hrtfURL     = flag.String("hrtf-url", "", "HRTF set to load into the panner")
		touchDevice = flag.String("touch-device", "", "Linux input event device of the touchscreen (e.g. /dev/input/event2)")
		sensors     = flag.String("sensors", "", "Sensor feed file, or - for stdin")
		logLevel    = flag.String("log-level", "", "Log level: error, warn, info, debug")
		logFormat   = flag.String("log-format", "", "Log format: text, json")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	var ov config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			ov.ServerURL = serverURL
		case "x":
			ov.PositionX = posX
		case "y":
			ov.PositionY = posY
		case "hrtf-url":
			ov.HRTFURL = hrtfURL
		case "touch-device":
			ov.TouchDevice = touchDevice
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

	if err := run(ctx, cfg, *sensors, logger); err != nil {
		logger.Error("player stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func sound(s config.SoundConfig) player.Sound {
	return player.Sound{
		Buffer: audio.Clip{ClipName: s.Name, ClipLength: s.Duration()},
		Level:  s.Level,
	}
}

func run(ctx context.Context, cfg config.Config, sensorPath string, logger *slog.Logger) error {
	pc := cfg.Player

	session := audio.NewSession(audio.NewNullBackend())
	defer session.Close()

	graph := audio.NewGraph(session, logger)
	spatial := audio.NewSpatialManager(ctx, session, audio.NewLogPannerFactory(logger), audio.ManagerConfig{
		Slots:     pc.Slots,
		HRTFURL:   pc.HRTFURL,
		Crossfade: time.Duration(pc.CrossfadeMS) * time.Millisecond,
		Frames:    audio.TimerFrames{Interval: time.Second / time.Duration(pc.FrameHz)},
	}, logger)
	debounce := audio.NewDebouncer(pc.ShakeDebounceTicks)

	exp := player.NewExperience(graph, spatial, debounce, player.ExperienceConfig{
		Position:       pc.Position,
		Ambient:        sound(pc.Ambient),
		Event:          sound(pc.Event),
		Shake:          sound(pc.Shake),
		ShakeThreshold: pc.ShakeThreshold,
	}, logger)
	if err := exp.Start(); err != nil {
		return fmt.Errorf("start ambient: %w", err)
	}

	link, err := player.NewLink(player.LinkConfig{
		URL:       pc.ServerURL,
		Position:  pc.Position,
		Reconnect: time.Duration(pc.ReconnectMS) * time.Millisecond,
	}, exp, logger)
	if err != nil {
		return err
	}

	logger.Debug("configuration",
		"server_url", pc.ServerURL,
		"position_x", pc.Position.X,
		"position_y", pc.Position.Y,
		"slots", pc.Slots,
		"hrtf_url", pc.HRTFURL,
		"frame_hz", pc.FrameHz,
		"touch_device", pc.TouchDevice,
		"shake_threshold", pc.ShakeThreshold,
		"shake_debounce_ticks", pc.ShakeDebounceTicks)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		debounce.Run(ctx, time.Duration(pc.DebounceIntervalMS)*time.Millisecond)
		return nil
	})
	g.Go(func() error { return link.Run(ctx) })

	if pc.TouchDevice != "" {
		dev, err := touch.Open(config.ExpandPath(pc.TouchDevice), logger)
		if err != nil {
			logger.Error("failed to open touch device", "device", pc.TouchDevice, "error", err, "tip", "run as root or add user to 'input' group")
			return err
		}
		defer dev.Close()

		gestures := make(chan touch.Gesture, 64)
		g.Go(func() error {
			defer close(gestures)
			return dev.Run(ctx, gestures)
		})
		g.Go(func() error {
			for gs := range gestures {
				exp.OnLocalTouch(gs)
				link.SendTouch(gs)
			}
			return nil
		})
	}

	if sensorPath != "" {
		var r io.Reader = os.Stdin
		if sensorPath != "-" {
			f, err := os.Open(config.ExpandPath(sensorPath))
			if err != nil {
				return fmt.Errorf("open sensor feed: %w", err)
			}
			defer f.Close()
			r = f
		}
		// Not tied to ctx: a blocked stdin read is abandoned at exit.
		go func() {
			if err := player.ReadSensors(r, exp, logger); err != nil {
				logger.Warn("sensor feed stopped", "error", err)
			}
		}()
	}

	logger.Info("player running", "server_url", pc.ServerURL, "version", version)
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
