package progress

import "encoding/json"

// FileTask はバッチ内の1ファイル分の処理状況です。
type FileTask struct {
	TaskID           string           `json:"id"`
	FileName         string           `json:"file_name"`
	Progress         float64          `json:"progress"`
	Status           Status           `json:"status"`
	Message          string           `json:"message"`
	CompressionLevel CompressionLevel `json:"compression_level"`
}

// JobSnapshot はクライアントへ送るジョブ全体の現在状態です。
// Files は常に到着順の全件で、差分ではありません。
type JobSnapshot struct {
	JobID  string     `json:"id"`
	Files  []FileTask `json:"files"`
	Status Status     `json:"status"`
}

// Clone は Files を複製したスナップショットを返します。
func (s JobSnapshot) Clone() JobSnapshot {
	files := make([]FileTask, len(s.Files))
	copy(files, s.Files)
	s.Files = files
	return s
}

type wireFile struct {
	ID               string           `json:"id"`
	Progress         float64          `json:"progress"`
	FileName         *string          `json:"file_name"`
	Message          string           `json:"message"`
	CompressionLevel CompressionLevel `json:"compression_level"`
	Status           Status           `json:"status"`
}

type wireMessage struct {
	ID     string     `json:"id"`
	Files  []wireFile `json:"files"`
	Status Status     `json:"status"`
}

// Encode はスナップショットを1イベント分の JSON に変換します。
func Encode(jobID string, snapshot JobSnapshot) ([]byte, error) {
	msg := wireMessage{
		ID:     jobID,
		Files:  make([]wireFile, len(snapshot.Files)),
		Status: snapshot.Status,
	}
	for i, f := range snapshot.Files {
		wf := wireFile{
			ID:               f.TaskID,
			Progress:         f.Progress,
			Message:          f.Message,
			CompressionLevel: f.CompressionLevel,
			Status:           f.Status,
		}
		if f.FileName != "" {
			name := f.FileName
			wf.FileName = &name
		}
		msg.Files[i] = wf
	}
	return json.Marshal(msg)
}
