package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/no-thanks-backend/internal/clock"
	"github.com/DoyleJ11/no-thanks-backend/internal/config"
	"github.com/DoyleJ11/no-thanks-backend/internal/eventlog"
	"github.com/DoyleJ11/no-thanks-backend/internal/httpapi"
	"github.com/DoyleJ11/no-thanks-backend/internal/hub"
	"github.com/DoyleJ11/no-thanks-backend/internal/store"
	"github.com/DoyleJ11/no-thanks-backend/internal/timers"
	"github.com/DoyleJ11/no-thanks-backend/internal/turn"
)

const shutdownGrace = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "no-thanks-server",
		Usage: "serve No Thanks! game sessions over HTTP, SSE and WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "optional dotenv file"},
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides HTTP_ADDR)"},
			&cli.DurationFlag{Name: "turn-timeout", Usage: "time a player has to act (overrides TURN_TIMEOUT)"},
			&cli.StringFlag{Name: "log-format", Usage: "json or console (overrides LOG_FORMAT)"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.HTTPAddr = c.String("addr")
	}
	if c.IsSet("turn-timeout") {
		cfg.TurnTimeout = c.Duration("turn-timeout")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st := store.New(log)
	h := hub.NewHub(ctx, hub.WithHistorySize(cfg.HistorySize), hub.WithLogger(log))
	sup := timers.NewSupervisor(clock.System{}, log)
	svc := turn.NewService(turn.Deps{
		Store:       st,
		Events:      eventlog.NewService(st, h, log),
		Broadcaster: h,
		Timers:      sup,
		Log:         log,
		TurnTimeout: cfg.TurnTimeout,
	})
	sup.SetTimeoutHandler(svc.HandleTimeout)
	sup.Restore(st)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Service:        svc,
			Hub:            h,
			Log:            log,
			KeepAlive:      cfg.SSEKeepAlive,
			ListenerBuffer: cfg.ListenerBuffer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Duration("turn_timeout", cfg.TurnTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sup.Stop()
		h.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
