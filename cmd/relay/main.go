package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/PratikDhanave/call-relay-service/internal/alert"
	"github.com/PratikDhanave/call-relay-service/internal/carrier"
	"github.com/PratikDhanave/call-relay-service/internal/clock"
	"github.com/PratikDhanave/call-relay-service/internal/config"
	"github.com/PratikDhanave/call-relay-service/internal/httpserver"
	"github.com/PratikDhanave/call-relay-service/internal/janitor"
	"github.com/PratikDhanave/call-relay-service/internal/monitor"
	"github.com/PratikDhanave/call-relay-service/internal/pipeline"
	"github.com/PratikDhanave/call-relay-service/internal/socket"
	"github.com/PratikDhanave/call-relay-service/internal/store"
	"github.com/PratikDhanave/call-relay-service/internal/telegram"
	"github.com/PratikDhanave/call-relay-service/internal/transcribe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run boots the relay: config → ledger → collaborators → ops HTTP →
// monitor + janitor, then drains in-flight calls on SIGINT/SIGTERM.
func run() error {
	var (
		listen    string
		logLevel  string
		logFormat string
		drain     time.Duration
	)
	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", ":8080", "operator HTTP listen address")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.DurationVar(&drain, "drain-timeout", 2*time.Minute, "how long shutdown waits for in-flight calls")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}

	// Missing credentials or destinations are fatal.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable dedup ledger; the schema is created on open.
	ledger, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()

	bot, err := telegram.NewClient(telegram.Config{Token: cfg.BotToken, BaseURL: cfg.TelegramAPIURL})
	if err != nil {
		return err
	}
	alerter := alert.New(&telegram.Channel{Client: bot, ChatID: cfg.AdminID}, alert.Config{
		Logger: logger.With("component", "alert"),
	})

	calls, err := carrier.NewClient(carrier.Config{
		LoginURL:    cfg.LoginURL,
		CallsURL:    cfg.CallsURL,
		SoundURL:    cfg.SoundURL,
		Email:       cfg.Email,
		Password:    cfg.Password,
		InsecureTLS: cfg.InsecureTLS,
		Logger:      logger.With("component", "carrier"),
	})
	if err != nil {
		return err
	}

	transport, err := socket.NewTransport(socket.Config{
		Endpoint:    cfg.SocketURL,
		Room:        cfg.Room,
		InsecureTLS: cfg.InsecureTLS,
		Logger:      logger.With("component", "socket"),
	})
	if err != nil {
		return err
	}

	pipelineCfg := pipeline.Config{
		Ledger:      ledger,
		Calls:       calls,
		Notifier:    &telegram.Channel{Client: bot, ChatID: cfg.ChatID},
		Alerter:     alerter,
		Clock:       clock.Real(),
		SettleDelay: cfg.SettleDelay,
		DownloadDir: cfg.DownloadDir,
		Logger:      logger.With("component", "pipeline"),
	}
	if cfg.OpenAIKey != "" {
		stt, err := transcribe.New(transcribe.Config{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.TranscribeURL,
			Model:   cfg.TranscribeModel,
		})
		if err != nil {
			return err
		}
		pipelineCfg.Transcriber = stt
	} else {
		logger.Info("transcription disabled, OPENAI_API_KEY not set")
	}
	p, err := pipeline.New(pipelineCfg)
	if err != nil {
		return err
	}
	pool := pipeline.NewPool(p, pipeline.PoolConfig{
		MaxInFlight: cfg.MaxInFlight,
		Logger:      logger.With("component", "pool"),
	})

	mon, err := monitor.New(monitor.Config{
		Auth:           calls,
		Transport:      transport,
		Dispatcher:     pool,
		Alerter:        alerter,
		Clock:          clock.Real(),
		ReconnectDelay: cfg.ReconnectDelay,
		PollInterval:   cfg.PollInterval,
		Logger:         logger.With("component", "monitor"),
	})
	if err != nil {
		return err
	}

	jan, err := janitor.New(janitor.Config{
		Dir:      cfg.DownloadDir,
		MaxAge:   cfg.MaxFileAge,
		Interval: cfg.CleanupInterval,
		Logger:   logger.With("component", "janitor"),
	})
	if err != nil {
		return err
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Ledger:  ledger,
		Pool:    pool,
		Monitor: mon,
		APIKeys: cfg.APIKeys,
		Logger:  logger.With("component", "http"),
	})
	srv := &http.Server{Addr: listen, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 3)
	go func() {
		logger.Info("server started", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() { errc <- mon.Run(ctx) }()
	go func() { errc <- jan.Run(ctx) }()

	alerter.Alert(ctx, "✅ Relay started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
		logger.Error("component stopped", "error", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	// Dispatched calls run to completion; stop accepting new ones and wait.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("in-flight calls abandoned", "error", err, "in_flight", pool.Stats().InFlight)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
