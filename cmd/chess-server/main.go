package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/arena"
	"github.com/park285/cheese-chess-server/internal/gateway"
	"github.com/park285/cheese-chess-server/internal/httpapi"
	"github.com/park285/cheese-chess-server/internal/matchmaking"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/timectl"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	if err := run(); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := obslog.L()

	presets := timectl.Defaults()
	if cfg.TimeControlsFile != "" {
		if err := presets.ApplyFile(cfg.TimeControlsFile); err != nil {
			return fmt.Errorf("time controls: %w", err)
		}
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := openStore(ctx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = st.Close() }()

	hub := gateway.NewHub(gateway.DefaultSendBuffer, logger)
	reg := session.NewRegistry(
		session.Deps{Store: st, Rules: rules.NewChess(), Out: hub},
		session.Config{
			Grace:         cfg.DisconnectGrace,
			WaitingTTL:    cfg.InviteTTL,
			DefaultRating: cfg.DefaultRating,
			MaxRooms:      cfg.MaxRooms,
		},
	)
	ar := arena.New(arena.Options{
		Queue:    matchmaking.New(),
		Registry: reg,
		Presets:  presets,
		Store:    st,
		Messages: msgs,
		Out:      hub,
	})

	ws := gateway.NewServer(hub, ar, gateway.Config{AllowedOrigins: cfg.AllowedOrigins, Logger: logger})
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	wsSrv := &http.Server{Addr: cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	var pinger httpapi.Pinger
	if p, ok := st.(httpapi.Pinger); ok {
		pinger = p
	}
	api := httpapi.New(ar, pinger, logger, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ws_listen", zap.String("addr", cfg.WSAddr))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ws listener: %w", err)
		}
	}()
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := api.ListenAndServe(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()
	logger.Info("server_started",
		zap.String("store", cfg.StoreDriver),
		zap.Duration("grace", cfg.DisconnectGrace),
		zap.Strings("time_controls", presets.Names()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("server_signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
	}

	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer scancel()
	_ = wsSrv.Shutdown(sctx)
	if err := ws.Close(sctx); err != nil {
		logger.Warn("ws_close_timeout", zap.Error(err))
	}
	_ = api.Shutdown(sctx)
	if err := ar.Shutdown(sctx); err != nil {
		logger.Warn("sessions_close_timeout", zap.Error(err))
	}
	logger.Info("server_stopped")
	return runErr
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case appcfg.StoreRedis:
		return store.NewRedis(ctx, cfg.RedisURL, cfg.RedisFinishedTTL)
	case appcfg.StorePostgres:
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return store.NewMemory(), nil
	}
}
