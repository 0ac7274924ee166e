// Package config はアプリケーションの設定を管理します
// 環境変数（.env があれば先に読み込む）から設定を読み込み、デフォルト値を提供します
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIAddr    = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr  = "localhost:6379" // Redisのデフォルト接続先
	defaultRoomTTLSec = 24 * 60 * 60     // 永続化したルームのTTL（1日）
	defaultLogLevel   = "info"
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// Config はゲートウェイサーバーの設定を保持します
type Config struct {
	APIAddr       string        // APIサーバーのリッスンアドレス
	RedisAddr     string        // Redisの接続先
	RedisPassword string        // Redisのパスワード
	RoomTTL       time.Duration // 永続化したルームのTTL
	AllowedOrigin []string      // CORSで許可するオリジン一覧
	LogLevel      slog.Level    // ログレベル
}

// Load は環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	LoadDotEnv()
	return Config{
		APIAddr:       envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:     envOr("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RoomTTL:       time.Duration(envInt("ROOM_TTL_SEC", defaultRoomTTLSec)) * time.Second,
		AllowedOrigin: envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		LogLevel:      ParseLevel(envOr("LOG_LEVEL", defaultLogLevel)),
	}
}

// LoadDotEnv はカレントディレクトリの .env を読み込みます（なければ何もしません）
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}
}

// ParseLevel はログレベル名を slog.Level に変換します
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// EnvOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func EnvOr(key, def string) string { return envOr(key, def) }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid env value, fallback to default", "key", key, "value", v, "default", def)
			return def
		}
		return i
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
