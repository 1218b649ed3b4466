package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// OpenResultFile は非同期ジョブの成果物を開き、Result 情報とファイルハンドルを返します。
// 返した Result の Cleanup は呼ばないでください。期限切れ時に削除されます。
func (s *Service) OpenResultFile(workspaceName string) (*Result, *os.File, error) {
	ws, err := s.workspaceFor(workspaceName)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(ws.resultMetaPath())
	if err != nil {
		return nil, nil, err
	}
	var meta resultMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil, fmt.Errorf("failed to parse result meta: %w", err)
	}
	if meta.StoredName == "" || filepath.Base(meta.StoredName) != meta.StoredName {
		return nil, nil, fmt.Errorf("invalid result meta for workspace %s", ws.name)
	}

	outputPath := filepath.Join(ws.outDir, meta.StoredName)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          meta.JobID,
		OutputPath:     outputPath,
		OutputFilename: meta.OutputFilename,
		OutputSize:     info.Size(),
		ResultKind:     meta.ResultKind,
		ContentType:    meta.ContentType,
	}
	return result, file, nil
}
