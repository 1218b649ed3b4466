package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/pdf"
)

func (m *Manager) handleCompressTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return m.process(ctx, payload)
}

// process はジョブを実行し、結果を記録します。
// 失敗を記録できた場合は nil を返し、キュー側での再試行を避けます。
func (m *Manager) process(ctx context.Context, payload TaskPayload) error {
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	logger := m.logger.With(zap.String("job_id", payload.JobID))
	// 中断されても結果は記録する
	recordCtx := context.WithoutCancel(ctx)

	if err := m.store.Upsert(recordCtx, &Record{
		JobID:     payload.JobID,
		Status:    StatusRunning,
		Workspace: payload.Workspace,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   string(StatusRunning),
		},
	}); err != nil {
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, payload.Workspace)
	if err != nil {
		logger.Warn("job failed", zap.Error(err))
		return m.failJobWithError(recordCtx, payload.JobID, err)
	}
	logger.Info("job finished", zap.String("result_kind", string(result.ResultKind)), zap.Int64("output_size", result.OutputSize))
	return m.finishJob(recordCtx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *pdf.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, m.buildDownloadURL(jobID, result))
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) error {
	return m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	})
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		return m.failJob(ctx, jobID, apiErr.Code, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return m.failJob(ctx, jobID, "REQUEST_CANCELED", "ジョブが中断されました。")
	}
	return m.failJob(ctx, jobID, "INTERNAL_ERROR", err.Error())
}
