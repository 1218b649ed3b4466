package pdf

import (
	"sync"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// Result は圧縮バッチの成果物です。Cleanup を呼ぶまでファイルは残ります。
type Result struct {
	JobID          string               `json:"jobId"`
	OutputPath     string               `json:"-"`
	OutputFilename string               `json:"outputFilename"`
	OutputSize     int64                `json:"outputSize"`
	ResultKind     ResultKind           `json:"resultKind"`
	ContentType    string               `json:"contentType"`
	Snapshot       progress.JobSnapshot `json:"-"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}
