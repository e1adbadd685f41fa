package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/runtime"
	httpserver "github.com/rzbill/relay/internal/server/http"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// Options configures a daemon run.
type Options struct {
	Config cfgpkg.Config
}

// Run boots the runtime, replays checkpointed streams, serves the HTTP
// API, and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	logger := buildLogger(cfg)
	logpkg.RedirectStdLog(logger)

	logger.Info("starting relay",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("consumer", cfg.ConsumerURL),
		logpkg.Duration("retry_min", cfg.RetryMin()),
		logpkg.Duration("retry_max", cfg.RetryMax()),
		logpkg.Bool("strict_recovery", cfg.StrictRecovery),
		logpkg.Bool("archive", cfg.Archive),
	)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := rt.RecoverAll(sctx)
	if err != nil {
		return err
	}
	logger.Info("recovered status update streams",
		logpkg.Int("streams", len(state.Streams)),
		logpkg.Int64("errors", int64(state.Errors)))

	hsrv := httpserver.New(rt)
	errCh := make(chan error, 1)
	go func() { errCh <- hsrv.ListenAndServe(sctx, cfg.HTTPAddr) }()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		if err != nil && sctx.Err() == nil {
			return err
		}
	}
	hsrv.Close()
	return nil
}

func buildLogger(cfg cfgpkg.Config) logpkg.Logger {
	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if cfg.LogFormat == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	return logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
}
