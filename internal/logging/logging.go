// Package logging は zap ロガーの生成と Gin 用のリクエストログを提供します。
package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// New は Gin の実行モードに応じたロガーを返します。
// release では JSON 形式、それ以外では開発者向けのコンソール形式になります。
func New(mode string) (*zap.Logger, error) {
	if mode == gin.ReleaseMode {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// RequestLogger はメソッド・パス・ステータス・処理時間を記録するミドルウェアです。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if jobID := c.GetString(JobIDKey); jobID != "" {
			fields = append(fields, zap.String("job_id", jobID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// JobIDKey はハンドラーがジョブIDをリクエストログに残すためのコンテキストキーです。
const JobIDKey = "log.job_id"
