package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/config"
	"nexuschat/internal/db"
	clog "nexuschat/internal/log"
	"nexuschat/internal/market"
	"nexuschat/internal/server"
	"nexuschat/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	root := &cobra.Command{
		Use:           "nexuschat",
		Short:         "Topic-based discussion rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, args []string) error { return serve(cmd.Context()) },
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return serve(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, _, err := bootstrap()
				return err
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("nexuschat")
		stop()
		os.Exit(1)
	}
}

// bootstrap 加载配置、初始化日志并完成数据库连接与迁移。
func bootstrap() (config.Config, *gorm.DB, error) {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return cfg, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return cfg, nil, fmt.Errorf("db migrate: %w", err)
	}
	return cfg, gdb, nil
}

// sessionStore 按配置选择数据库或 redis 会话存储，返回的函数用于释放资源。
func sessionStore(ctx context.Context, cfg config.Config, gdb *gorm.DB) (auth.SessionStore, func(), error) {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if cfg.SessionStore == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return auth.NewRedisSessionStore(rdb, ttl), func() { _ = rdb.Close() }, nil
	}
	store := auth.NewDBSessionStore(gdb, ttl)
	janitor, err := auth.StartSessionJanitor(store, cfg.SessionPurgeSchedule)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { <-janitor.Stop().Done() }, nil
}

func serve(ctx context.Context) error {
	cfg, gdb, err := bootstrap()
	if err != nil {
		return err
	}
	sessions, closeSessions, err := sessionStore(ctx, cfg, gdb)
	if err != nil {
		return err
	}
	defer closeSessions()

	r := server.SetupRouter(ctx, cfg, gdb, ws.NewHub(), sessions, market.NewGateway(cfg))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("session_store", cfg.SessionStore).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server run: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
