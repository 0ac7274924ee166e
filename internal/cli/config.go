// Package cli は classpulse コマンドの引数解析と各サブコマンドを実装します
package cli

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Sooly64/Confusion-Heatmap/internal/config"
)

const (
	defaultStoreURL = "ws://localhost:8080/api/v1/store/ws"
	defaultBaseURL  = "http://localhost:3000"
)

var ErrUsage = errors.New("usage: classpulse [flags] <rooms|reap|create|teacher|student|theme> [args]")

// Config はCLI全体の設定です
type Config struct {
	StoreURL string     // ゲートウェイのWebSocket URL
	DeviceDB string     // 端末ローカル設定のSQLiteファイル
	BaseURL  string     // 参加URLの基点
	LogLevel slog.Level // ログレベル
	Command  string
	Args     []string
}

// ParseFlags はグローバルフラグを解析し、環境変数で補完します
func ParseFlags(args []string, stderr io.Writer) (Config, error) {
	config.LoadDotEnv()

	var cfg Config
	var level string
	fs := flag.NewFlagSet("classpulse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.StoreURL, "url", "", "Store gateway websocket URL")
	fs.StringVar(&cfg.DeviceDB, "device", "", "Device-local settings file")
	fs.StringVar(&cfg.BaseURL, "base", "", "Base URL for student join links")
	fs.StringVar(&level, "log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.StoreURL == "" {
		cfg.StoreURL = config.EnvOr("CLASSPULSE_URL", defaultStoreURL)
	}
	if cfg.DeviceDB == "" {
		cfg.DeviceDB = config.EnvOr("CLASSPULSE_DEVICE_DB", defaultDeviceDB())
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.EnvOr("CLASSPULSE_BASE_URL", defaultBaseURL)
	}
	if level == "" {
		level = config.EnvOr("LOG_LEVEL", "warn")
	}
	cfg.LogLevel = config.ParseLevel(level)

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, ErrUsage
	}
	cfg.Command, cfg.Args = rest[0], rest[1:]
	return cfg, nil
}

func defaultDeviceDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "classpulse.db"
	}
	return filepath.Join(dir, "classpulse", "device.db")
}
