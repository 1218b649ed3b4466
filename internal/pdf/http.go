package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// CompressService は POST /compress が利用する処理です。*Service が実装します。
type CompressService interface {
	ReceiveUpload(ctx context.Context, reader *multipart.Reader) (*Upload, error)
	CompressBatch(ctx context.Context, jobID string, upload *Upload, level progress.CompressionLevel) (*Result, error)
	PrepareJob(ctx context.Context, jobID string, upload *Upload, level progress.CompressionLevel) (*JobManifest, error)
	DiscardJob(jobID, workspaceName string) error
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, jobID, workspaceName string) error
}

// HandlerOptions は同期/非同期切り替えとアップロード上限の設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	MaxUploadBytes      int64
	Logger              *zap.Logger
}

// CompressHandler は POST /compress のハンドラーを返します。
func CompressHandler(svc CompressService, opts HandlerOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		// クエリで指定された値は本文を読む前に検証する
		queryID := strings.TrimSpace(c.Query("id"))
		if queryID != "" {
			if _, err := progress.ParseJobID(queryID); err != nil {
				respondWithError(c, invalidJobID(queryID))
				return
			}
		}
		if raw, ok := c.GetQuery("level"); ok {
			if _, err := progress.ParseCompressionLevel(raw); err != nil {
				respondWithError(c, invalidLevel(raw))
				return
			}
		}

		if opts.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadBytes)
		}
		reader, err := c.Request.MultipartReader()
		if err != nil {
			respondWithError(c, newError(CodeInvalidInput, "multipart/form-data でPDFファイルを送信してください。", err))
			return
		}

		upload, err := svc.ReceiveUpload(c.Request.Context(), reader)
		if err != nil {
			respondWithError(c, err)
			return
		}

		jobID, level, err := resolveRequest(queryID, c.Query("level"), upload)
		if err != nil {
			_ = upload.Discard()
			respondWithError(c, err)
			return
		}
		c.Set(logging.JobIDKey, jobID)
		c.Header("X-Job-Id", jobID)

		if shouldProcessAsync(upload, opts) {
			manifest, err := svc.PrepareJob(c.Request.Context(), jobID, upload, level)
			if err != nil {
				respondWithError(c, err)
				return
			}
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.JobID, manifest.Workspace); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID, manifest.Workspace); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		result, err := svc.CompressBatch(c.Request.Context(), jobID, upload, level)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Warn("failed to remove workspace", zap.String("job_id", jobID), zap.Error(err))
			}
		}()

		if err := streamResult(c, result); err != nil {
			respondWithError(c, err)
		}
	}
}

// resolveRequest はクエリ、なければフォーム値からジョブIDと圧縮レベルを決めます。
func resolveRequest(queryID, queryLevel string, upload *Upload) (string, progress.CompressionLevel, error) {
	rawID := queryID
	if rawID == "" {
		rawID = upload.Field("id")
	}
	jobID := progress.NewJobID()
	if rawID != "" {
		parsed, err := progress.ParseJobID(rawID)
		if err != nil {
			return "", "", invalidJobID(rawID)
		}
		jobID = parsed
	}

	rawLevel := queryLevel
	if rawLevel == "" {
		rawLevel = upload.Field("level")
	}
	level, err := progress.ParseCompressionLevel(rawLevel)
	if err != nil {
		return "", "", invalidLevel(rawLevel)
	}
	return jobID, level, nil
}

func invalidJobID(raw string) error {
	return newError(CodeInvalidInput, fmt.Sprintf("ジョブIDの形式が正しくありません (received: %s)", raw), nil)
}

func invalidLevel(raw string) error {
	return newError(CodeInvalidInput, fmt.Sprintf("level には low, medium, high のいずれかを指定してください (received: %s)", raw), nil)
}

func shouldProcessAsync(upload *Upload, opts HandlerOptions) bool {
	if upload == nil || opts.Scheduler == nil || opts.AsyncThresholdBytes <= 0 {
		return false
	}
	return upload.TotalSize() > opts.AsyncThresholdBytes
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeJobInProgress:
		return http.StatusConflict
	case CodeCompressionFailed:
		return http.StatusUnprocessableEntity
	case CodeStorageFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func streamResult(c *gin.Context, result *Result) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("圧縮結果の読み込みに失敗しました: %w", err)
	}
	defer file.Close()
	WriteResult(c, result, file)
	return nil
}

// WriteResult は成果物をダウンロード用ヘッダー付きで書き出します。
func WriteResult(c *gin.Context, result *Result, file *os.File) {
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiFallback(result.OutputFilename), encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
}

func asciiFallback(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}
