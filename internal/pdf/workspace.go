package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const workspacePrefix = "job-"

// workspace は1バッチ分の一時ディレクトリです（<WORK_DIR>/job-xxxx/in|out）。
// 作成したバッチ処理だけが所有し、どの終了経路でも削除します。
type workspace struct {
	name   string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) resultMetaPath() string {
	return filepath.Join(w.dir, resultMetaFilename)
}

func (s *Service) createWorkspace() (workspace, error) {
	if err := os.MkdirAll(s.cfg.WorkDir, 0o750); err != nil {
		return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	dir, err := os.MkdirTemp(s.cfg.WorkDir, workspacePrefix+"*")
	if err != nil {
		return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	ws := newWorkspace(dir)
	for _, d := range []string{ws.inDir, ws.outDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			_ = removeDir(dir)
			return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// workspaceFor は名前から既存のワークスペースを組み立てます。パスの混入は拒否します。
func (s *Service) workspaceFor(name string) (workspace, error) {
	if !strings.HasPrefix(name, workspacePrefix) || filepath.Base(name) != name {
		return workspace{}, fmt.Errorf("invalid workspace name: %q", name)
	}
	return newWorkspace(filepath.Join(s.cfg.WorkDir, name)), nil
}

func newWorkspace(dir string) workspace {
	return workspace{
		name:   filepath.Base(dir),
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}
