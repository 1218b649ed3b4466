// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxUploadBytes int64 // 1リクエストあたりの合計サイズ上限（バイト）
	MaxFiles       int   // 1リクエストあたりのファイル数上限

	// 作業ディレクトリ
	WorkDir          string // ジョブ用ワークスペースのルート
	JobExpireMinutes int    // 非同期ジョブ成果物・ジョブ記録の有効期限（分）

	// 圧縮設定
	GhostscriptPath string // Ghostscript実行ファイルのパス
	CompressEngine  string // ghostscript または pdfcpu
	CompressWorkers int    // 1バッチ内で並列に処理するファイル数

	// WebSocket設定
	WSPingInterval time.Duration // ping 送信間隔
	WSPongTimeout  time.Duration // 応答が無い場合に切断するまでの時間
	WSWriteTimeout time.Duration // 1フレームの書き込みタイムアウト
	WSSendBuffer   int           // セッションごとの送信キュー長

	// ジョブ/キュー設定
	QueueRedisURL       string // ジョブ記録・Asynq用Redis接続URL（空ならメモリ上で管理）
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値（0で無効）
	JobResultBaseURL    string // 結果ファイル取得用のベースURL
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 50*1024*1024), // 50MiB
		MaxFiles:       getEnvAsInt("MAX_FILES", 20),

		WorkDir:          getEnv("WORK_DIR", filepath.Join(os.TempDir(), "pdf-squeeze")),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		CompressEngine:  strings.ToLower(getEnv("COMPRESS_ENGINE", "ghostscript")),
		CompressWorkers: getEnvAsInt("COMPRESS_WORKERS", 2),

		WSPingInterval: getEnvAsDuration("WS_PING_INTERVAL", 5*time.Second),
		WSPongTimeout:  getEnvAsDuration("WS_PONG_TIMEOUT", 10*time.Second),
		WSWriteTimeout: getEnvAsDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		WSSendBuffer:   getEnvAsInt("WS_SEND_BUFFER", 32),

		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", ""),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 0),
		JobResultBaseURL:    getEnv("JOB_RESULT_BASE_URL", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR is required")
	}
	switch c.CompressEngine {
	case "ghostscript", "pdfcpu":
	default:
		return fmt.Errorf("COMPRESS_ENGINE must be ghostscript or pdfcpu (received: %s)", c.CompressEngine)
	}
	if c.WSPingInterval <= 0 || c.WSPongTimeout <= c.WSPingInterval {
		return fmt.Errorf("WS_PONG_TIMEOUT must be longer than WS_PING_INTERVAL")
	}
	if c.AsyncThresholdBytes > 0 && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required when ASYNC_THRESHOLD_BYTES is set")
	}

	// 本番環境では外部コマンドのパスを必須にする
	if c.GinMode == "release" && c.CompressEngine == "ghostscript" && c.GhostscriptPath == "" {
		return fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode")
	}

	return nil
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// JobTTL はジョブ記録と非同期成果物の保持期間です。
func (c *Config) JobTTL() time.Duration {
	minutes := c.JobExpireMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "5s" のような期間指定を取得します。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
