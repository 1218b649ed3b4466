// Package pdf はアップロードされたPDFの受信・圧縮・進捗配信を提供します。
package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

const (
	defaultWorkers = 2
	recordTimeout  = 3 * time.Second
)

// SnapshotPublisher はスナップショットを接続中のクライアントへ届けます。
type SnapshotPublisher interface {
	Publish(jobID string, snapshot progress.JobSnapshot)
}

// JobTracker はジョブIDの占有とジョブ記録の保存を担います。
type JobTracker interface {
	Claim(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string) error
	Record(ctx context.Context, snapshot progress.JobSnapshot) error
}

// Service は圧縮パイプラインを実行します。
type Service struct {
	cfg       *config.Config
	engine    Compressor
	publisher SnapshotPublisher
	tracker   JobTracker
	logger    *zap.Logger
	now       func() time.Time
}

// NewService は Service を初期化します。tracker と logger は nil でも構いません。
func NewService(cfg *config.Config, engine Compressor, publisher SnapshotPublisher, tracker JobTracker, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if engine == nil {
		return nil, errors.New("engine is nil")
	}
	if publisher == nil {
		return nil, errors.New("publisher is nil")
	}
	if tracker == nil {
		tracker = noopTracker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return &Service{
		cfg:       cfg,
		engine:    engine,
		publisher: publisher,
		tracker:   tracker,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *Service) workers() int {
	if s.cfg.CompressWorkers > 0 {
		return s.cfg.CompressWorkers
	}
	return defaultWorkers
}

func (s *Service) claim(ctx context.Context, jobID string) error {
	ok, err := s.tracker.Claim(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ジョブIDの確保に失敗しました: %w", err)
	}
	if !ok {
		return newError(CodeJobInProgress, "同じジョブIDのバッチが処理中です。", nil)
	}
	return nil
}

func (s *Service) release(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.tracker.Release(ctx, jobID); err != nil {
		s.logger.Warn("failed to release job id", zap.String("job_id", jobID), zap.Error(err))
	}
}

type noopTracker struct{}

func (noopTracker) Claim(context.Context, string) (bool, error) { return true, nil }

func (noopTracker) Release(context.Context, string) error { return nil }

func (noopTracker) Record(context.Context, progress.JobSnapshot) error { return nil }

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
