// Command capture records a live video device into an H.264 MP4 file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/capture"
)

const shutdownTimeout = 5 * time.Second

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "capture:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	var (
		envFiles    stringList
		listDevices = fs.Bool("list-devices", false, "list capture devices and exit")
	)
	fs.Var(&envFiles, "env", "dotenv file with CAPTURE_* settings (repeatable, default .env)")

	// Flags override the loaded configuration only when set.
	overrides := map[string]*string{}
	keys := map[string]string{}
	for _, f := range []struct{ name, key, usage string }{
		{"device", "device_url", "device path or name (default: first enumerated device)"},
		{"f", "input_format", "capture input format, e.g. v4l2, avfoundation, dshow, lavfi"},
		{"input-options", "input_options", "demuxer options as k=v,k2=v2"},
		{"o", "output_path", "output file"},
		{"codec", "output_codec", "output codec"},
		{"encoder", "encoder", "encoder provider, e.g. x264, openh264 or auto"},
		{"bitrate", "bit_rate", "output bit rate in bits/s"},
		{"gop", "gop_size", "keyframe interval in frames"},
		{"preset", "preset", "encoder preset"},
		{"frames", "max_frames", "stop after this many frames"},
		{"t", "duration", "stop after this much media time, e.g. 10s"},
		{"log-level", "log_level", "log level"},
		{"log-format", "log_format", "log format: auto, text or json"},
		{"metrics-addr", "metrics_addr", "serve /metrics and /healthz on this address"},
	} {
		overrides[f.name] = fs.String(f.name, "", f.usage)
		keys[f.name] = f.key
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := capture.LoadConfig(envFiles...)
	if err != nil {
		return err
	}
	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if v, ok := overrides[f.Name]; ok && setErr == nil {
			setErr = applyOverride(&cfg, keys[f.Name], *v)
		}
	})
	if setErr != nil {
		return setErr
	}

	log, err := capture.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	capture.BridgeFFmpegLogs(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listDevices {
		return printDevices(ctx)
	}
	return capturePipeline(ctx, cfg, log)
}

// applyOverride sets one configuration key from its flag value.
func applyOverride(cfg *capture.Config, key, value string) error {
	var err error
	switch key {
	case "device_url":
		cfg.DeviceURL = value
	case "input_format":
		cfg.InputFormat = value
	case "input_options":
		cfg.InputOptions, err = capture.ParseOptions(value)
	case "output_path":
		cfg.OutputPath = value
	case "output_codec":
		cfg.OutputCodec = value
	case "encoder":
		cfg.Encoder = value
	case "bit_rate":
		cfg.BitRate, err = strconv.ParseInt(value, 10, 64)
	case "gop_size":
		cfg.GOPSize, err = strconv.Atoi(value)
	case "preset":
		cfg.Preset = value
	case "max_frames":
		cfg.MaxFrames, err = strconv.ParseInt(value, 10, 64)
	case "duration":
		cfg.Duration, err = time.ParseDuration(value)
	case "log_level":
		cfg.LogLevel = value
	case "log_format":
		cfg.LogFormat = value
	case "metrics_addr":
		cfg.MetricsAddr = value
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", capture.ErrInvalidConfig, key, err)
	}
	return nil
}

func printDevices(ctx context.Context) error {
	devices, err := capture.ListVideoDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Printf("%-14s %-12s %-8s %s (%s)\n", d.DeviceID, d.InputFormat, d.Kind, d.Label, d.Driver)
	}
	return nil
}

func capturePipeline(ctx context.Context, cfg capture.Config, log *logrus.Logger) error {
	metrics := capture.NewMetrics()
	p, err := capture.NewPipeline(capture.PipelineConfig{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The capture ending stops the metrics server.
		defer cancel()
		return p.Run(ctx)
	})

	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Get("/metrics", metrics.Handler().ServeHTTP)
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			state := p.State()
			if state == capture.PipelineStateError {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintf(w, "%s %s\n", p.RunID(), state)
		})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: r}

		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
