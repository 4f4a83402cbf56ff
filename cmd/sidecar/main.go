package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"teamclaude/internal/config"
	"teamclaude/internal/sidecar"
)

const usage = `usage: teamclaude-sidecar <command> [flags]

commands:
  enqueue    read one hook or event payload from stdin and queue it
  flush      deliver queued events, then send a heartbeat
  heartbeat  send a heartbeat only
  watch      flush whenever the queue grows, heartbeat periodically
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		var integrity *sidecar.IntegrityError
		if errors.As(err, &integrity) {
			slog.Error("queue file is corrupt; fix or remove the bad line and retry", "path", integrity.Path, "line", integrity.Line, "err", integrity.Err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	command, args := args[0], args[1:]

	cfg := config.LoadSidecarConfig()
	var (
		deviceID string
		verbose  bool
		batch    bool
		debounce time.Duration
		interval time.Duration
	)
	hostname, _ := os.Hostname()

	flagSet := pflag.NewFlagSet("teamclaude-sidecar "+command, pflag.ContinueOnError)
	flagSet.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "ingest API base URL (env SIDECAR_API_BASE_URL)")
	flagSet.StringVar(&cfg.TenantID, "tenant", cfg.TenantID, "tenant id, sent only without --token (env SIDECAR_TENANT_ID)")
	flagSet.StringVar(&cfg.UserID, "user", cfg.UserID, "user id, sent only without --token (env SIDECAR_USER_ID)")
	flagSet.StringVar(&cfg.Token, "token", cfg.Token, "bearer token from /v1/auth/cli-token (env SIDECAR_TOKEN)")
	flagSet.StringVar(&cfg.QueueFile, "queue", cfg.QueueFile, "path of the local queue file (env SIDECAR_QUEUE_FILE)")
	flagSet.StringVar(&deviceID, "device", hostname, "device id attached to hook events")
	flagSet.DurationVar(&debounce, "debounce", 500*time.Millisecond, "watch: delay between an append and the flush")
	flagSet.DurationVar(&interval, "interval", time.Minute, "watch: heartbeat and retry interval")
	flagSet.BoolVar(&batch, "batch", false, "send the whole queue as one request")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.QueueFile == "" {
		return errors.New("--queue is required when HOME is not set")
	}
	sc := &sidecar.Sidecar{
		Queue:    sidecar.NewQueue(cfg.QueueFile),
		Identity: sidecar.Identity{TenantID: cfg.TenantID, UserID: cfg.UserID, Token: cfg.Token},
		DeviceID: deviceID,
		Batch:    batch,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == "enqueue" {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		queued, err := sc.EnqueuePayload(ctx, raw)
		if err != nil {
			return err
		}
		logger.Debug("enqueue", "queued", queued)
		return nil
	}

	if cfg.APIBaseURL == "" {
		return errors.New("--api is required")
	}
	if cfg.Token == "" && (cfg.TenantID == "" || cfg.UserID == "") {
		return errors.New("either --token or both --tenant and --user are required")
	}
	reporter, err := sidecar.NewReporter(cfg.APIBaseURL, nil)
	if err != nil {
		return err
	}
	sc.Reporter = reporter

	switch command {
	case "flush":
		res, err := sc.Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sent %d, remaining %d\n", res.Sent, res.Remaining)
		return nil
	case "heartbeat":
		return reporter.Heartbeat(ctx, sc.Identity)
	case "watch":
		return sc.Watch(ctx, sidecar.WatchOptions{Debounce: debounce, Interval: interval})
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
