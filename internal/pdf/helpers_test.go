package pdf

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

var samplePDF = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// stubEngine は入力をそのまま出力へ複製します。failNames に含まれる入力は失敗させます。
type stubEngine struct {
	mu        sync.Mutex
	calls     int
	failNames map[string]bool
	levels    []progress.CompressionLevel
}

func (e *stubEngine) Compress(ctx context.Context, inputPath, outputPath string, level progress.CompressionLevel) error {
	e.mu.Lock()
	e.calls++
	e.levels = append(e.levels, level)
	fail := e.failNames[filepath.Base(inputPath)]
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail {
		return newError(CodeCompressionFailed, "stub failure", nil)
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o640)
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []progress.JobSnapshot
}

func (p *recordingPublisher) Publish(jobID string, snapshot progress.JobSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snapshot.Clone())
}

func (p *recordingPublisher) all() []progress.JobSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]progress.JobSnapshot, len(p.snapshots))
	copy(out, p.snapshots)
	return out
}

// memoryTracker はジョブIDの占有だけを記録します。
type memoryTracker struct {
	mu      sync.Mutex
	claimed map[string]bool
	records int
	err     error
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{claimed: make(map[string]bool)}
}

func (m *memoryTracker) Claim(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.claimed[jobID] {
		return false, nil
	}
	m.claimed[jobID] = true
	return true, nil
}

func (m *memoryTracker) Release(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, jobID)
	return nil
}

func (m *memoryTracker) Record(context.Context, progress.JobSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records++
	return errors.New("record store unavailable")
}

func (m *memoryTracker) isClaimed(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed[jobID]
}

type testEnv struct {
	svc       *Service
	cfg       *config.Config
	engine    *stubEngine
	publisher *recordingPublisher
	tracker   *memoryTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		WorkDir:          t.TempDir(),
		MaxFiles:         5,
		MaxUploadBytes:   1 << 20,
		CompressWorkers:  2,
		JobExpireMinutes: 1,
	}
	env := &testEnv{
		cfg:       cfg,
		engine:    &stubEngine{failNames: map[string]bool{}},
		publisher: &recordingPublisher{},
		tracker:   newMemoryTracker(),
	}
	svc, err := NewService(cfg, env.engine, env.publisher, env.tracker, zap.NewNop())
	require.NoError(t, err)
	env.svc = svc
	return env
}

// workspaces は WORK_DIR 直下に残っているワークスペース名を返します。
func (e *testEnv) workspaces(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.cfg.WorkDir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

type formFile struct {
	field string
	name  string
	data  []byte
}

type formValue struct {
	name  string
	value string
}

func buildMultipart(t *testing.T, files []formFile, values ...formValue) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, v := range values {
		require.NoError(t, writer.WriteField(v.name, v.value))
	}
	for _, f := range files {
		field := f.field
		if field == "" {
			field = "files"
		}
		part, err := writer.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func receive(t *testing.T, env *testEnv, files []formFile, values ...formValue) (*Upload, error) {
	t.Helper()
	body, contentType := buildMultipart(t, files, values...)
	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	return env.svc.ReceiveUpload(context.Background(), multipart.NewReader(body, params["boundary"]))
}
