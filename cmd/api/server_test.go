package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

const testJobID = "9b2f1c4e-58a6-4f1d-9e7a-3c2d1b0a9f8e"

func newTestApplication(t *testing.T) *application {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "http://localhost:5173",
		MaxUploadBytes:     1 << 20,
		MaxFiles:           5,
		WorkDir:            t.TempDir(),
		JobExpireMinutes:   1,
		CompressEngine:     "pdfcpu",
		CompressWorkers:    1,
		WSPingInterval:     time.Second,
		WSPongTimeout:      2 * time.Second,
		WSWriteTimeout:     time.Second,
		WSSendBuffer:       8,
	}
	app, err := newApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.close() })
	return app
}

func serve(app *application, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRoot(t *testing.T) {
	app := newTestApplication(t)

	rec := serve(app, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, serviceName, health["service"])

	rec = serve(app, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, apiName, info["api"])
	assert.Equal(t, version, info["version"])
	_, err := time.Parse("02-01-2006", info["date_created"])
	assert.NoError(t, err)
}

func TestJobStatus(t *testing.T) {
	app := newTestApplication(t)

	rec := serve(app, http.MethodGet, "/jobs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(app, http.MethodGet, "/jobs/"+testJobID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, app.store.Record(context.Background(), progress.JobSnapshot{
		JobID:  testJobID,
		Status: progress.StatusCompleted,
		Files: []progress.FileTask{
			{TaskID: "t1", FileName: "a.pdf", Progress: 100, Status: progress.StatusCompleted, CompressionLevel: progress.LevelMedium},
		},
	}))

	rec = serve(app, http.MethodGet, "/jobs/"+testJobID)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		JobID    string `json:"jobId"`
		Status   string `json:"status"`
		Progress struct {
			Percent int `json:"percent"`
		} `json:"progress"`
		Files []map[string]any `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, testJobID, payload.JobID)
	assert.Equal(t, string(jobs.StatusSucceeded), payload.Status)
	assert.Equal(t, 100, payload.Progress.Percent)
	require.Len(t, payload.Files, 1)
	assert.Equal(t, "a.pdf", payload.Files[0]["file_name"])
	assert.Equal(t, "Medium", payload.Files[0]["compression_level"])
}

func TestCompressRouteRejectsEmptyUpload(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodPost, "/compress", bytes.NewBufferString("--x--\r\n"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubOpener struct {
	path string
	err  error
}

func (s *stubOpener) OpenResultFile(workspaceName string) (*pdf.Result, *os.File, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, nil, err
	}
	info, _ := file.Stat()
	return &pdf.Result{
		JobID:          testJobID,
		OutputFilename: "compressed.zip",
		OutputSize:     info.Size(),
		ResultKind:     pdf.ResultKindZIP,
		ContentType:    "application/zip",
	}, file, nil
}

func TestJobDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := jobs.NewMemoryStore(time.Minute)
	path := filepath.Join(t.TempDir(), "compressed.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04payload"), 0o640))

	router := gin.New()
	router.GET("/jobs/:id/download", jobDownloadHandler(store, &stubOpener{path: path}))
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID+"/download", nil))
		return rec
	}

	assert.Equal(t, http.StatusNotFound, get().Code)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, &jobs.Record{JobID: testJobID, Status: jobs.StatusRunning, Workspace: "job-1"}))
	assert.Equal(t, http.StatusConflict, get().Code)

	// パイプラインの完了スナップショットだけでは成果物はまだ取得できない
	require.NoError(t, store.Record(ctx, progress.JobSnapshot{JobID: testJobID, Status: progress.StatusCompleted}))
	assert.Equal(t, http.StatusConflict, get().Code)

	require.NoError(t, store.MarkDone(ctx, testJobID, "/jobs/"+testJobID+"/download"))
	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, testJobID, rec.Header().Get("X-Job-Id"))
	assert.Equal(t, "PK\x03\x04payload", rec.Body.String())
}

func TestJobDownloadMissingArtifact(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := jobs.NewMemoryStore(time.Minute)
	require.NoError(t, store.Upsert(context.Background(), &jobs.Record{JobID: testJobID, Status: jobs.StatusSucceeded, Workspace: "job-1"}))

	router := gin.New()
	router.GET("/jobs/:id/download", jobDownloadHandler(store, &stubOpener{err: os.ErrNotExist}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID+"/download", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, apiName+" "+version+"\n", out.String())
}
