package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdf-squeeze/internal/progress"
)

type stubScheduler struct {
	jobID     string
	workspace string
	err       error
}

func (s *stubScheduler) Schedule(_ context.Context, jobID, workspaceName string) error {
	s.jobID = jobID
	s.workspace = workspaceName
	return s.err
}

func newCompressRouter(svc CompressService, opts HandlerOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/compress", CompressHandler(svc, opts))
	return router
}

func postCompress(t *testing.T, router *gin.Engine, target string, files []formFile, values ...formValue) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipart(t, files, values...)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestCompressHandlerSingleFile(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{MaxUploadBytes: env.cfg.MaxUploadBytes})

	rec := postCompress(t, router, "/compress?id="+testJobID+"&level=low", []formFile{{name: "doc.pdf", data: samplePDF}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, testJobID, rec.Header().Get("X-Job-Id"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "doc.pdf")
	assert.Equal(t, samplePDF, rec.Body.Bytes())
	assert.Equal(t, []progress.CompressionLevel{progress.LevelLow}, env.engine.levels)
	assert.Empty(t, env.workspaces(t))
}

func TestCompressHandlerMultipleFilesReturnsZip(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{})

	rec := postCompress(t, router, "/compress", []formFile{
		{name: "same.pdf", data: samplePDF},
		{name: "same.pdf", data: samplePDF},
	}, formValue{name: "id", value: testJobID})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "same.pdf", zr.File[0].Name)
	assert.Equal(t, "same (1).pdf", zr.File[1].Name)

	snaps := env.publisher.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, progress.StatusCompleted, snaps[len(snaps)-1].Status)
	assert.Empty(t, env.workspaces(t))
}

func TestCompressHandlerGeneratesJobID(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{})

	rec := postCompress(t, router, "/compress", []formFile{{name: "doc.pdf", data: samplePDF}})

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := progress.ParseJobID(rec.Header().Get("X-Job-Id"))
	assert.NoError(t, err)
}

func TestCompressHandlerInputErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		files  []formFile
		values []formValue
		code   string
	}{
		{name: "no files", target: "/compress", code: CodeInvalidInput},
		{name: "malformed query id", target: "/compress?id=not-a-uuid", files: []formFile{{name: "a.pdf", data: samplePDF}}, code: CodeInvalidInput},
		{name: "malformed form id", target: "/compress", files: []formFile{{name: "a.pdf", data: samplePDF}}, values: []formValue{{name: "id", value: "123"}}, code: CodeInvalidInput},
		{name: "unknown level", target: "/compress?level=extreme", files: []formFile{{name: "a.pdf", data: samplePDF}}, code: CodeInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			router := newCompressRouter(env.svc, HandlerOptions{})

			rec := postCompress(t, router, tc.target, tc.files, tc.values...)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec)["code"])
			assert.Empty(t, env.publisher.all())
			assert.Zero(t, env.engine.callCount())
			assert.Empty(t, env.workspaces(t))
		})
	}
}

func TestCompressHandlerRejectsNonMultipart(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/compress", bytes.NewBufferString(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompressHandlerPayloadTooLarge(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{MaxUploadBytes: 256})

	rec := postCompress(t, router, "/compress", []formFile{{name: "big.pdf", data: bytes.Repeat(samplePDF, 20)}})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeLimitExceeded, decodeError(t, rec)["code"])
	assert.Empty(t, env.workspaces(t))
}

func TestCompressHandlerAllFilesFailed(t *testing.T) {
	env := newTestEnv(t)
	router := newCompressRouter(env.svc, HandlerOptions{})

	rec := postCompress(t, router, "/compress?id="+testJobID, []formFile{
		{name: "a.pdf", data: []byte("nope")},
		{name: "b.pdf", data: []byte("still nope")},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeCompressionFailed, decodeError(t, rec)["code"])
	snaps := env.publisher.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, progress.StatusFailed, snaps[len(snaps)-1].Status)
}

func TestCompressHandlerJobInProgress(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.tracker.Claim(context.Background(), testJobID)
	require.NoError(t, err)
	router := newCompressRouter(env.svc, HandlerOptions{})

	rec := postCompress(t, router, "/compress?id="+testJobID, []formFile{{name: "a.pdf", data: samplePDF}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeJobInProgress, decodeError(t, rec)["code"])
}

func TestCompressHandlerDefersLargeBatches(t *testing.T) {
	env := newTestEnv(t)
	scheduler := &stubScheduler{}
	router := newCompressRouter(env.svc, HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 10})

	rec := postCompress(t, router, "/compress?id="+testJobID+"&level=high", []formFile{{name: "a.pdf", data: samplePDF}})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, testJobID, payload["jobId"])
	assert.Equal(t, testJobID, scheduler.jobID)
	assert.Zero(t, env.engine.callCount())
	assert.True(t, env.tracker.isClaimed(testJobID))

	manifest, err := loadManifest(filepath.Join(env.cfg.WorkDir, scheduler.workspace))
	require.NoError(t, err)
	assert.Equal(t, testJobID, manifest.JobID)
	assert.Equal(t, progress.LevelHigh, manifest.Level)
	require.Len(t, manifest.Files, 1)
	assert.Equal(t, "a.pdf", manifest.Files[0].OriginalName)
}

func TestCompressHandlerScheduleFailureDiscardsJob(t *testing.T) {
	env := newTestEnv(t)
	scheduler := &stubScheduler{err: errors.New("queue down")}
	router := newCompressRouter(env.svc, HandlerOptions{Scheduler: scheduler, AsyncThresholdBytes: 10})

	rec := postCompress(t, router, "/compress?id="+testJobID, []formFile{{name: "a.pdf", data: samplePDF}})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, env.workspaces(t))
	assert.False(t, env.tracker.isClaimed(testJobID))
}

func TestRunJobKeepsResultForDownload(t *testing.T) {
	env := newTestEnv(t)
	upload, err := receive(t, env, []formFile{
		{name: "a.pdf", data: samplePDF},
		{name: "b.pdf", data: samplePDF},
	})
	require.NoError(t, err)

	manifest, err := env.svc.PrepareJob(context.Background(), testJobID, upload, progress.LevelMedium)
	require.NoError(t, err)

	result, err := env.svc.RunJob(context.Background(), testJobID, manifest.Workspace)
	require.NoError(t, err)
	assert.Equal(t, ResultKindZIP, result.ResultKind)
	assert.False(t, env.tracker.isClaimed(testJobID))

	opened, file, err := env.svc.OpenResultFile(manifest.Workspace)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, testJobID, opened.JobID)
	assert.Equal(t, archiveFilename, opened.OutputFilename)
	assert.Equal(t, result.OutputSize, opened.OutputSize)
	assert.Equal(t, "application/zip", opened.ContentType)

	require.NoError(t, result.Cleanup())
	_, _, err = env.svc.OpenResultFile(manifest.Workspace)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenResultFileRejectsTraversal(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.svc.OpenResultFile("../etc")
	assert.Error(t, err)
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForCode(CodeInvalidInput))
	assert.Equal(t, http.StatusBadRequest, statusForCode(CodeUnsupportedPDF))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusForCode(CodeLimitExceeded))
	assert.Equal(t, http.StatusConflict, statusForCode(CodeJobInProgress))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForCode(CodeCompressionFailed))
	assert.Equal(t, http.StatusInternalServerError, statusForCode(CodeStorageFailed))
}
