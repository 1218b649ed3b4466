package jobs

import (
	"context"
	"math"
	"time"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// ProgressInfo はバッチ全体の進捗です。Percent は各ファイルの進捗の平均です。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string              `json:"jobId"`
	Status      Status              `json:"status"`
	Progress    ProgressInfo        `json:"progress"`
	Files       []progress.FileTask `json:"files"`
	Workspace   string              `json:"workspace,omitempty"`
	DownloadURL string              `json:"downloadUrl,omitempty"`
	Error       *ErrorInfo          `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Store はジョブ記録とジョブIDの占有を保存します。pdf.JobTracker を満たします。
type Store interface {
	Claim(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string) error
	Record(ctx context.Context, snapshot progress.JobSnapshot) error
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	MarkDone(ctx context.Context, jobID, downloadURL string) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
}

// applySnapshot はスナップショットの内容を記録へ反映します。
// ワークスペースを持つ非同期ジョブは成果物の保存後に MarkDone で完了にするため、
// それまでは Completed のスナップショットでも実行中のままにします。
func applySnapshot(record *Record, snapshot progress.JobSnapshot) {
	record.Files = snapshot.Clone().Files
	switch {
	case record.Status == StatusSucceeded && record.DownloadURL != "":
		// MarkDone 済み
	case snapshot.Status == progress.StatusCompleted && record.Workspace != "":
		record.Status = StatusRunning
	case snapshot.Status == progress.StatusCompleted:
		record.Status = StatusSucceeded
	case snapshot.Status == progress.StatusFailed:
		record.Status = StatusFailed
	default:
		record.Status = StatusRunning
	}
	record.Progress = summarize(snapshot)
}

func summarize(snapshot progress.JobSnapshot) ProgressInfo {
	info := ProgressInfo{Stage: string(snapshot.Status)}
	if len(snapshot.Files) == 0 {
		return info
	}
	var total float64
	var failed int
	for _, f := range snapshot.Files {
		total += f.Progress
		if f.Status == progress.StatusFailed {
			failed++
		}
	}
	info.Percent = int(math.Round(total / float64(len(snapshot.Files))))
	if failed > 0 {
		info.Message = fmtFailed(failed, len(snapshot.Files))
	}
	return info
}
