package pdf

import (
	"errors"
	"path/filepath"
)

// storedFile は受信済みの入力ファイルです。err は保存時の I/O 失敗で、そのファイルだけを失敗にします。
type storedFile struct {
	path         string
	originalName string
	size         int64
	err          error
}

func toJobFiles(stored []storedFile) []JobFile {
	files := make([]JobFile, len(stored))
	for i, sf := range stored {
		files[i] = JobFile{
			StoredName:   filepath.Base(sf.path),
			OriginalName: sf.originalName,
			Size:         sf.size,
		}
		if sf.err != nil {
			files[i].Error = sf.err.Error()
		}
	}
	return files
}

func storedFilesFromManifest(ws workspace, manifest *JobManifest) []storedFile {
	if manifest == nil {
		return nil
	}
	stored := make([]storedFile, len(manifest.Files))
	for i, f := range manifest.Files {
		stored[i] = storedFile{
			path:         filepath.Join(ws.inDir, f.StoredName),
			originalName: f.OriginalName,
			size:         f.Size,
		}
		if f.Error != "" {
			stored[i].err = errors.New(f.Error)
		}
	}
	return stored
}
