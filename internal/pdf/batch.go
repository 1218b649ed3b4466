package pdf

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// batch は1回の圧縮バッチの進捗状態です。
// 変更と配信は同じロックの中で行うため、ジョブごとのスナップショットは変更順に届きます。
// ジョブ記録への保存は recordLoop が最新のスナップショットだけを非同期に書き込みます。
type batch struct {
	mu        sync.Mutex
	jobID     string
	tasks     []progress.FileTask
	status    progress.Status
	publisher SnapshotPublisher
	tracker   JobTracker
	logger    *zap.Logger

	pending      chan progress.JobSnapshot
	recorderDone chan struct{}
	closed       bool
}

func (s *Service) newBatch(jobID string, files []storedFile, level progress.CompressionLevel) *batch {
	tasks := make([]progress.FileTask, len(files))
	for i, f := range files {
		tasks[i] = progress.FileTask{
			TaskID:           uuid.NewString(),
			FileName:         f.originalName,
			Progress:         0,
			Status:           progress.StatusInProgress,
			Message:          "受信完了",
			CompressionLevel: level,
		}
	}
	b := &batch{
		jobID:        jobID,
		tasks:        tasks,
		status:       progress.StatusInProgress,
		publisher:    s.publisher,
		tracker:      s.tracker,
		logger:       s.logger.With(zap.String("job_id", jobID)),
		pending:      make(chan progress.JobSnapshot, 1),
		recorderDone: make(chan struct{}),
	}
	go b.recordLoop()
	return b
}

// start は受信完了時点のスナップショットを配信します。
func (b *batch) start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked()
}

func (b *batch) advance(i int, pct float64, message string) {
	b.update(i, func(t *progress.FileTask) {
		if pct > t.Progress {
			t.Progress = min(pct, 100)
		}
		t.Message = message
	})
}

func (b *batch) fail(i int, message string) {
	b.logger.Warn("file failed", zap.Int("index", i), zap.String("reason", message))
	b.update(i, func(t *progress.FileTask) {
		t.Status = progress.StatusFailed
		t.Message = message
	})
}

func (b *batch) complete(i int, message string) {
	b.update(i, func(t *progress.FileTask) {
		t.Progress = 100
		t.Status = progress.StatusCompleted
		t.Message = message
	})
}

// update は終了済みのタスクを変更しません。
func (b *batch) update(i int, mutate func(*progress.FileTask)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.tasks) || b.tasks[i].Status.Terminal() {
		return
	}
	mutate(&b.tasks[i])
	b.publishLocked()
}

// finish はジョブ全体の状態を確定し、最後のスナップショットを配信します。
// 最後のスナップショットがジョブ記録に書き込まれるまで待ちます。
func (b *batch) finish(status progress.Status) progress.JobSnapshot {
	b.mu.Lock()
	if !b.status.Terminal() {
		b.status = status
		b.publishLocked()
	}
	snap := b.snapshotLocked()
	first := !b.closed
	b.closed = true
	b.mu.Unlock()

	if first {
		close(b.pending)
	}
	<-b.recorderDone
	return snap
}

func (b *batch) snapshotLocked() progress.JobSnapshot {
	return progress.JobSnapshot{JobID: b.jobID, Files: b.tasks, Status: b.status}.Clone()
}

func (b *batch) publishLocked() {
	snap := b.snapshotLocked()
	b.publisher.Publish(b.jobID, snap)

	if b.closed {
		return
	}
	// 未保存の古いスナップショットは新しいもので置き換える
	select {
	case b.pending <- snap:
	default:
		select {
		case <-b.pending:
		default:
		}
		b.pending <- snap
	}
}

func (b *batch) recordLoop() {
	defer close(b.recorderDone)
	for snap := range b.pending {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := b.tracker.Record(ctx, snap); err != nil {
			b.logger.Warn("failed to record job snapshot", zap.Error(err))
		}
		cancel()
	}
}
