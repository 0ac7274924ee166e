package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sooly64/Confusion-Heatmap/internal/config"
	"github.com/Sooly64/Confusion-Heatmap/internal/handlers"
	httpx "github.com/Sooly64/Confusion-Heatmap/internal/http"
	"github.com/Sooly64/Confusion-Heatmap/internal/logging"
	"github.com/Sooly64/Confusion-Heatmap/internal/repo"
	"github.com/Sooly64/Confusion-Heatmap/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		PoolSize:     10,              // 接続プールサイズ
		MinIdleConns: 5,               // 最小アイドル接続数
		MaxRetries:   3,               // リトライ回数
		DialTimeout:  5 * time.Second, // 接続タイムアウト
		ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
		WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
		PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
	})
	defer rdb.Close()

	// Redis接続確認
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	rr := repo.NewRedisRoomRepo(rdb)
	persister := repo.NewPersister(rr, cfg.RoomTTL, logger.With("component", "persister"))
	tree := store.NewTree(store.WithPersister(persister))

	n, err := repo.Restore(context.Background(), rr, tree)
	if err != nil {
		logger.Error("failed to restore rooms", "error", err)
		os.Exit(1)
	}
	logger.Info("restored rooms", "count", n)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go persister.Run(ctx)

	api := tree.Connect("http")
	defer api.Close()

	h := handlers.NewRoomHandler(api, logger.With("component", "http"))
	gw := handlers.NewGatewayHandler(tree, cfg.AllowedOrigin, logger.With("component", "gateway"))
	router := httpx.NewRouter(h, gw, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// サーバーを別goroutineで起動
	go func() {
		logger.Info("listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	// シャットダウンシグナルを待つ
	<-ctx.Done()
	logger.Info("shutdown signal received, shutting down gracefully...")

	// 30秒のタイムアウトでGraceful Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	persister.Wait()

	logger.Info("server stopped")
}
