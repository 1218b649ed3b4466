// Package jobs はジョブ記録の保存と、大きなバッチの非同期実行を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
)

const (
	taskTypeCompress = "pdf:compress"
	queueName        = "pdf"
)

// JobRunner は準備済みのジョブを実行します。*pdf.Service が実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID, workspaceName string) (*pdf.Result, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  Store
	runner JobRunner
	logger *zap.Logger
}

// TaskPayload は圧縮ジョブのペイロードです。
type TaskPayload struct {
	JobID     string `json:"jobId"`
	Workspace string `json:"workspace"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner JobRunner, store Store, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	workers := cfg.CompressWorkers
	if workers <= 0 {
		workers = 1
	}
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: workers,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: logger.Named("asynq").Sugar(),
		},
	)

	manager := &Manager{
		cfg:    cfg,
		client: asynq.NewClient(opt),
		server: server,
		mux:    asynq.NewServeMux(),
		store:  store,
		runner: runner,
		logger: logger,
	}
	manager.mux.HandleFunc(taskTypeCompress, manager.handleCompressTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。実行中のジョブの終了を待ちます。
func (m *Manager) Shutdown() error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブを記録してからキューに投入します。
// ワークスペースは作り直されないため再試行はしません。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:     payload.JobID,
		Status:    StatusQueued,
		Workspace: payload.Workspace,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   string(StatusQueued),
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeCompress, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Timeout(m.cfg.JobTTL()))
	if err != nil {
		return "", err
	}
	m.logger.Info("job enqueued", zap.String("job_id", payload.JobID), zap.String("task_id", info.ID))
	return info.ID, nil
}

func (m *Manager) buildDownloadURL(jobID string, result *pdf.Result) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/jobs/%s/download", jobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), jobID, url.PathEscape(result.OutputFilename))
}
