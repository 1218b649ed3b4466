package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

const redisPingTimeout = 5 * time.Second

type pdfJobScheduler struct {
	manager *jobs.Manager
}

func (s *pdfJobScheduler) Schedule(ctx context.Context, jobID, workspaceName string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:     jobID,
		Workspace: workspaceName,
	})
	return err
}

// newJobStore は QUEUE_REDIS_URL があれば Redis、無ければメモリ上のストアを返します。
func newJobStore(cfg *config.Config) (jobs.Store, func() error, error) {
	if cfg.QueueRedisURL == "" {
		return jobs.NewMemoryStore(cfg.JobTTL()), func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse QUEUE_REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return jobs.NewRedisStore(redisClient, cfg.JobTTL()), redisClient.Close, nil
}

func setupJobs(cfg *config.Config, pdfService *pdf.Service, store jobs.Store, logger *zap.Logger) (*jobs.Manager, error) {
	manager, err := jobs.NewManager(cfg, pdfService, store, logger)
	if err != nil {
		return nil, err
	}
	if err := manager.StartWorkers(); err != nil {
		_ = manager.Shutdown()
		return nil, err
	}
	return manager, nil
}

// recordReader はジョブ記録の参照に必要な部分です。
type recordReader interface {
	Get(ctx context.Context, jobID string) (*jobs.Record, error)
}

// resultOpener は非同期ジョブの成果物を開きます。
type resultOpener interface {
	OpenResultFile(workspaceName string) (*pdf.Result, *os.File, error)
}

func parseJobParam(c *gin.Context) (string, bool) {
	jobID, err := progress.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId の形式が正しくありません。",
		})
		return "", false
	}
	c.Set(logging.JobIDKey, jobID)
	return jobID, true
}

func jobStatusHandler(store recordReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := parseJobParam(c)
		if !ok {
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		files := record.Files
		if files == nil {
			files = []progress.FileTask{}
		}
		payload := gin.H{
			"jobId":  record.JobID,
			"status": record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"files":     files,
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobDownloadHandler(store recordReader, opener resultOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := parseJobParam(c)
		if !ok {
			return
		}

		record, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil || record.Workspace == "" {
			respondResultNotFound(c)
			return
		}
		if record.Status != jobs.StatusSucceeded {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_NOT_READY",
				"message": "ジョブはまだ完了していません。",
			})
			return
		}

		result, file, err := opener.OpenResultFile(record.Workspace)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				respondResultNotFound(c)
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		pdf.WriteResult(c, result, file)
	}
}

func respondResultNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "JOB_RESULT_NOT_FOUND",
		"message": "ジョブの成果物が見つかりませんでした。",
	})
}
