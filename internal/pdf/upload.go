package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultFilename = "unnamed.pdf"
	maxFieldBytes   = 4 << 10
)

// Upload は受信済みのバッチです。ワークスペースは CompressBatch か PrepareJob に引き渡すか、Discard で削除します。
type Upload struct {
	ws     workspace
	files  []storedFile
	fields map[string]string
}

// Field はファイル以外のフォーム値を返します。
func (u *Upload) Field(name string) string {
	if u == nil {
		return ""
	}
	return u.fields[name]
}

// FileCount は受信したファイル数です。
func (u *Upload) FileCount() int {
	if u == nil {
		return 0
	}
	return len(u.files)
}

// TotalSize は受信したファイルの合計バイト数です。
func (u *Upload) TotalSize() int64 {
	if u == nil {
		return 0
	}
	var total int64
	for _, f := range u.files {
		total += f.size
	}
	return total
}

// Discard はワークスペースを削除します。何度呼んでも構いません。
func (u *Upload) Discard() error {
	if u == nil {
		return nil
	}
	return removeDir(u.ws.dir)
}

// ReceiveUpload は multipart の各パートを到着順にワークスペースへ保存します。
// ファイルの書き込み失敗はそのファイルだけの失敗として記録し、読み込み失敗はリクエスト全体のエラーにします。
func (s *Service) ReceiveUpload(ctx context.Context, reader *multipart.Reader) (_ *Upload, err error) {
	if reader == nil {
		return nil, newError(CodeInvalidInput, "multipart/form-data でPDFファイルを送信してください。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, newError(CodeStorageFailed, "作業領域を確保できませんでした。", err)
	}
	upload := &Upload{ws: ws, fields: make(map[string]string)}
	defer func() {
		if err != nil {
			_ = upload.Discard()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyPartError(err)
		}

		if part.FileName() == "" {
			value, err := readField(part)
			part.Close()
			if err != nil {
				return nil, err
			}
			if name := part.FormName(); name != "" {
				upload.fields[name] = value
			}
			continue
		}

		if s.cfg.MaxFiles > 0 && len(upload.files) >= s.cfg.MaxFiles {
			part.Close()
			return nil, newError(CodeLimitExceeded, fmt.Sprintf("一度にアップロードできるファイルは%d件までです。", s.cfg.MaxFiles), nil)
		}

		stored, err := s.storePart(part, ws.inDir, len(upload.files))
		part.Close()
		if err != nil {
			return nil, err
		}
		upload.files = append(upload.files, stored)
	}

	if len(upload.files) == 0 {
		return nil, newError(CodeInvalidInput, "アップロードされたPDFファイルが見つかりません。", nil)
	}
	return upload, nil
}

func (s *Service) storePart(part *multipart.Part, dir string, index int) (storedFile, error) {
	stored := storedFile{
		path:         filepath.Join(dir, fmt.Sprintf("%03d.pdf", index)),
		originalName: sanitizeFilename(part.FileName()),
	}

	file, err := os.OpenFile(stored.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		stored.err = err
		return stored, drainPart(part)
	}

	n, copyErr := io.Copy(fileWriter{file}, part)
	closeErr := file.Close()
	stored.size = n

	var werr *writeError
	switch {
	case errors.As(copyErr, &werr):
		stored.err = werr.err
		return stored, drainPart(part)
	case copyErr != nil:
		return stored, classifyReadError(copyErr)
	case closeErr != nil:
		stored.err = closeErr
	}
	return stored, nil
}

// fileWriter は書き込み側のエラーを読み込み側と区別できるように包みます。
type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return e.err.Error()
}

func (e *writeError) Unwrap() error {
	return e.err
}

func drainPart(part *multipart.Part) error {
	if _, err := io.Copy(io.Discard, part); err != nil {
		return classifyReadError(err)
	}
	return nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", classifyReadError(err)
	}
	if len(data) > maxFieldBytes {
		return "", newError(CodeInvalidInput, fmt.Sprintf("フォーム値 %s が長すぎます。", part.FormName()), nil)
	}
	return strings.TrimSpace(string(data)), nil
}

func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return newError(CodeLimitExceeded, fmt.Sprintf("アップロードサイズが上限(%dバイト)を超えています。", maxErr.Limit), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("アップロードの受信に失敗しました: %w", err)
}

// classifyPartError はパート境界の解析失敗を入力エラーとして扱います。
func classifyPartError(err error) error {
	classified := classifyReadError(err)
	var apiErr *Error
	if errors.As(classified, &apiErr) || errors.Is(classified, context.Canceled) || errors.Is(classified, context.DeadlineExceeded) {
		return classified
	}
	return newError(CodeInvalidInput, "multipart/form-data の形式が正しくありません。", err)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return defaultFilename
	}
	return name
}
