package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

const resultMetaFilename = "meta.json"

// resultMeta は非同期ジョブの成果物情報で、ダウンロード時に読み込みます。
type resultMeta struct {
	JobID          string     `json:"jobId"`
	OutputFilename string     `json:"outputFilename"`
	StoredName     string     `json:"storedName"`
	OutputSize     int64      `json:"outputSize"`
	ResultKind     ResultKind `json:"resultKind"`
	ContentType    string     `json:"contentType"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// PrepareJob は非同期実行のためにジョブIDを確保し、マニフェストを保存します。
// 確保したジョブIDは RunJob か DiscardJob が解放します。
func (s *Service) PrepareJob(ctx context.Context, jobID string, upload *Upload, level progress.CompressionLevel) (_ *JobManifest, err error) {
	if upload == nil || len(upload.files) == 0 {
		_ = upload.Discard()
		return nil, newError(CodeInvalidInput, "アップロードされたPDFファイルが見つかりません。", nil)
	}
	defer func() {
		if err != nil {
			_ = upload.Discard()
		}
	}()

	if err := s.claim(ctx, jobID); err != nil {
		return nil, err
	}

	manifest := &JobManifest{
		JobID:     jobID,
		Workspace: upload.ws.name,
		Files:     toJobFiles(upload.files),
		Level:     level,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(upload.ws.dir, manifest); err != nil {
		s.release(jobID)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

// RunJob はマニフェストに従ってバッチを圧縮します。
// 成果物は JOB_EXPIRE_MINUTES の間ワークスペースに残り、OpenResultFile で取得できます。
func (s *Service) RunJob(ctx context.Context, jobID, workspaceName string) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	defer s.release(jobID)

	ws, err := s.workspaceFor(workspaceName)
	if err != nil {
		return nil, err
	}
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, multierr.Append(err, removeDir(ws.dir))
	}
	if manifest.JobID != jobID {
		return nil, multierr.Append(fmt.Errorf("manifest job id mismatch: %s", manifest.JobID), removeDir(ws.dir))
	}

	stored := storedFilesFromManifest(ws, manifest)
	if len(stored) == 0 {
		return nil, multierr.Append(fmt.Errorf("manifest has no input files"), removeDir(ws.dir))
	}

	result, err := s.runPipeline(ctx, jobID, ws, stored, manifest.Level)
	if err != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			err = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", err, cleanupErr)
		}
		return nil, err
	}

	meta := resultMeta{
		JobID:          jobID,
		OutputFilename: result.OutputFilename,
		StoredName:     filepath.Base(result.OutputPath),
		OutputSize:     result.OutputSize,
		ResultKind:     result.ResultKind,
		ContentType:    result.ContentType,
		CreatedAt:      s.now().UTC(),
	}
	if err := writeJSON(ws.resultMetaPath(), meta); err != nil {
		_ = result.Cleanup()
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	time.AfterFunc(s.cfg.JobTTL(), func() {
		if err := result.Cleanup(); err != nil {
			s.logger.Warn("failed to remove expired job", zap.String("job_id", jobID), zap.Error(err))
		}
	})
	return result, nil
}

// DiscardJob は投入に失敗したジョブのワークスペースとジョブIDを解放します。
func (s *Service) DiscardJob(jobID, workspaceName string) error {
	defer s.release(jobID)
	ws, err := s.workspaceFor(workspaceName)
	if err != nil {
		return err
	}
	return removeDir(ws.dir)
}
