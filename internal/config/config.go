// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIAddr      = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr    = "localhost:6379" // Redisのデフォルト接続先
	defaultSocketURL    = "ws://localhost:8080/api/v1/ws" // クライアントのデフォルト接続先
	defaultRoomTTLSec   = 0                // ルームのTTL（秒、0は無期限）
	defaultHandshakeSec = 20               // WebSocketハンドシェイクのタイムアウト（秒）
	defaultTypingMs     = 1500             // 入力終了とみなすまでの無入力時間（ミリ秒）
	defaultReconnectMin = 1                // 再接続バックオフの下限（秒）
	defaultReconnectMax = 5                // 再接続バックオフの上限（秒）
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr          string        // APIサーバーのリッスンアドレス
	RedisAddr        string        // Redisの接続先
	SocketURL        string        // クライアントが接続するWebSocketのURL
	RoomTTL          int           // ルームのTTL（秒、0は無期限）
	AllowedOrigin    []string      // CORSで許可するオリジン一覧
	HandshakeTimeout time.Duration // WebSocketハンドシェイクのタイムアウト
	TypingDebounce   time.Duration // 入力終了とみなすまでの無入力時間
	ReconnectMin     time.Duration // 再接続バックオフの下限
	ReconnectMax     time.Duration // 再接続バックオフの上限
}

// Load は環境変数から設定を読み込みます
// .env ファイルがあれば先に読み込み、環境変数が未設定の場合はデフォルト値を使用します
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}
	return Config{
		APIAddr:          envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:        envOr("REDIS_ADDR", defaultRedisAddr),
		SocketURL:        envOr("SOCKET_URL", defaultSocketURL),
		RoomTTL:          envInt("ROOM_TTL_SEC", defaultRoomTTLSec),
		AllowedOrigin:    envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		HandshakeTimeout: time.Duration(envInt("WS_HANDSHAKE_SEC", defaultHandshakeSec)) * time.Second,
		TypingDebounce:   time.Duration(envInt("TYPING_DEBOUNCE_MS", defaultTypingMs)) * time.Millisecond,
		ReconnectMin:     time.Duration(envInt("RECONNECT_MIN_SEC", defaultReconnectMin)) * time.Second,
		ReconnectMax:     time.Duration(envInt("RECONNECT_MAX_SEC", defaultReconnectMax)) * time.Second,
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
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
			log.Printf("invalid %s=%s, fallback to default (%d)", key, v, def)
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
