package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// CompressBatch は受信済みのバッチを圧縮し、成果物を返します。
// upload のワークスペースはこの呼び出しが引き取り、エラー時は削除、成功時は Result.Cleanup で削除します。
func (s *Service) CompressBatch(ctx context.Context, jobID string, upload *Upload, level progress.CompressionLevel) (_ *Result, err error) {
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
	defer s.release(jobID)

	return s.runPipeline(ctx, jobID, upload.ws, upload.files, level)
}

func (s *Service) runPipeline(ctx context.Context, jobID string, ws workspace, files []storedFile, level progress.CompressionLevel) (*Result, error) {
	logger := s.logger.With(zap.String("job_id", jobID))
	started := s.now()

	b := s.newBatch(jobID, files, level)
	b.start()

	outputs := make([]string, len(files))
	var g errgroup.Group
	g.SetLimit(s.workers())
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			outputs[i] = s.processFile(ctx, b, ws, i, f, level)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		b.finish(progress.StatusFailed)
		return nil, err
	}

	var entries []archiveEntry
	for i, out := range outputs {
		if out != "" {
			entries = append(entries, archiveEntry{name: files[i].originalName, path: out})
		}
	}
	if len(entries) == 0 {
		b.finish(progress.StatusFailed)
		logger.Warn("batch failed", zap.Int("files", len(files)))
		return nil, newError(CodeCompressionFailed, "すべてのファイルの圧縮に失敗しました。", nil)
	}

	result, err := s.buildResult(jobID, ws, files, entries)
	if err != nil {
		b.finish(progress.StatusFailed)
		return nil, err
	}

	result.Snapshot = b.finish(progress.StatusCompleted)
	logger.Info("batch completed",
		zap.Int("files", len(files)),
		zap.Int("succeeded", len(entries)),
		zap.String("result_kind", string(result.ResultKind)),
		zap.Int64("output_size", result.OutputSize),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
	return result, nil
}

// processFile は1ファイルを処理し、成功時は出力パスを返します。失敗はタスクに記録します。
func (s *Service) processFile(ctx context.Context, b *batch, ws workspace, i int, f storedFile, level progress.CompressionLevel) string {
	if f.err != nil {
		b.fail(i, userMessage(f.err, "ファイルの保存に失敗しました"))
		return ""
	}
	if err := ctx.Err(); err != nil {
		b.fail(i, "処理がキャンセルされました")
		return ""
	}

	b.advance(i, 10, "圧縮中")

	if err := checkSignature(f.path); err != nil {
		b.fail(i, userMessage(err, "ファイルを検証できませんでした"))
		return ""
	}

	out := filepath.Join(ws.outDir, fmt.Sprintf("%03d.pdf", i))
	if err := s.engine.Compress(ctx, f.path, out, level); err != nil {
		_ = os.Remove(out)
		msg := userMessage(err, "圧縮に失敗しました")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			msg = "処理がキャンセルされました"
		}
		b.fail(i, msg)
		return ""
	}

	info, err := os.Stat(out)
	if err != nil {
		b.fail(i, userMessage(err, "圧縮後ファイルの確認に失敗しました"))
		return ""
	}

	b.complete(i, completionMessage(f.size, info.Size()))
	return out
}

func (s *Service) buildResult(jobID string, ws workspace, files []storedFile, entries []archiveEntry) (*Result, error) {
	result := &Result{JobID: jobID, jobDir: ws.dir}

	if len(files) == 1 {
		result.OutputPath = entries[0].path
		result.OutputFilename = entries[0].name
		result.ResultKind = ResultKindPDF
		result.ContentType = detectContentType(entries[0].path)
	} else {
		zipPath := filepath.Join(ws.outDir, archiveFilename)
		if err := createZip(zipPath, entries); err != nil {
			return nil, err
		}
		result.OutputPath = zipPath
		result.OutputFilename = archiveFilename
		result.ResultKind = ResultKindZIP
		result.ContentType = "application/zip"
	}

	info, err := os.Stat(result.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("成果物の確認に失敗しました: %w", err)
	}
	result.OutputSize = info.Size()
	return result, nil
}

func completionMessage(before, after int64) string {
	saved := computeSavedPercent(before, after)
	if saved <= 0 {
		return fmt.Sprintf("圧縮完了: %s (サイズは縮小されませんでした)", humanize.Bytes(uint64(max(after, 0))))
	}
	return fmt.Sprintf("圧縮完了: %s → %s (%.1f%%削減)",
		humanize.Bytes(uint64(max(before, 0))),
		humanize.Bytes(uint64(max(after, 0))),
		saved,
	)
}
