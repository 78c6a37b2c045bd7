package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RishiKendai/plagcode/internal/apperr"
	"github.com/RishiKendai/plagcode/internal/blobstore"
	"github.com/RishiKendai/plagcode/internal/history"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/RishiKendai/plagcode/internal/repository"
	"github.com/RishiKendai/plagcode/internal/scan"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const pySource = `def area(w, h):
    # rectangle
    result = w * h
    return result
`

type testServer struct {
	router     *gin.Engine
	dispatcher *scan.InlineDispatcher
}

func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, RouterConfig{RateLimitRPS: rps, MaxUploadSize: 8 << 20})
}

func newTestServerWithConfig(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	ctx := context.Background()
	pool := plagiarism.NewWorkerPool(ctx, 2)
	t.Cleanup(pool.Close)

	store := repository.NewMemoryStore()
	hist := history.NewService(store.Scans, store.Alerts)
	orch := scan.NewOrchestrator(scan.Deps{
		Store:  store,
		Blobs:  blobstore.NewMemoryStore(),
		Alerts: hist,
		Engine: plagiarism.NewEngine(),
		Pool:   pool,
	}, scan.Config{})
	d := scan.NewInlineDispatcher(ctx, orch, 2)
	orch.SetDispatcher(d)

	handler := NewHandler(orch, hist, 1<<20)
	return &testServer{
		router:     SetupRoutes(cfg, handler),
		dispatcher: d,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func uploadRequest(t *testing.T, field string, options string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if options != "" {
		require.NoError(t, mw.WriteField("options", options))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)
	w := s.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestScanFlow(t *testing.T) {
	s := newTestServer(t, 100)

	w := s.do(uploadRequest(t, "files[]", `{"ignoreComments":true,"autoDetectLanguage":true}`, map[string]string{
		"one.py":  pySource,
		"copy.py": pySource,
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	created := decode[models.CreateScanResponse](t, w)
	require.NotEmpty(t, created.ScanID)

	s.dispatcher.Wait()

	w = s.get("/api/scan/" + created.ScanID + "/status")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.StatusResponse](t, w)
	assert.Equal(t, models.StatusComplete, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.True(t, status.Complete)

	w = s.get("/api/scan/" + created.ScanID + "/results")
	require.Equal(t, http.StatusOK, w.Code)
	results := decode[models.ResultsResponse](t, w)
	assert.Equal(t, 2, results.Meta.NFiles)
	require.Len(t, results.Pairs, 1)
	assert.Equal(t, "copy.py", results.Pairs[0].FileA)
	assert.Equal(t, "one.py", results.Pairs[0].FileB)
	assert.Equal(t, 100.0, results.Pairs[0].Similarity)
	assert.Equal(t, models.LabelHigh, results.Pairs[0].Label)

	w = s.get("/api/files/" + created.ScanID + "/copy.py")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pySource, decode[models.FileContentResponse](t, w).Content)

	w = s.get("/api/scans?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	scans := decode[models.ScansResponse](t, w)
	require.Len(t, scans.Scans, 1)
	assert.Equal(t, created.ScanID, scans.Scans[0].ScanID)
	assert.Equal(t, 1, scans.Scans[0].HighRiskCount)

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/scan/"+created.ScanID+"/cancel", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.CodeAlreadyTerminal), decode[models.ErrorResponse](t, w).Code)
}

func TestCreateScanAcceptsPlainFilesField(t *testing.T) {
	s := newTestServer(t, 100)
	w := s.do(uploadRequest(t, "files", "", map[string]string{"a.py": pySource, "b.py": "print(1)\n"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s.dispatcher.Wait()
}

func TestCreateScanRejectsBadInput(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name    string
		options string
		files   map[string]string
	}{
		{"malformed options", `{"ignoreComments":`, map[string]string{"a.py": "x", "b.py": "y"}},
		{"unknown option", `{"fuzzy":true}`, map[string]string{"a.py": "x", "b.py": "y"}},
		{"single file", "", map[string]string{"a.py": "x"}},
		{"binary file", "", map[string]string{"a.py": "x", "b.exe": "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(uploadRequest(t, "files[]", tt.options, tt.files))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(apperr.CodeInvalidInput), decode[models.ErrorResponse](t, w).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
}

func TestCreateScanRejectsOversizedBody(t *testing.T) {
	s := newTestServerWithConfig(t, RouterConfig{RateLimitRPS: 100, MaxUploadSize: 1 << 10, MaxBodyBytes: 4 << 10})

	big := strings.Repeat("x = 1\n", 2<<10)
	w := s.do(uploadRequest(t, "files[]", "", map[string]string{"a.py": big, "b.py": big}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.CodeInvalidInput), decode[models.ErrorResponse](t, w).Code)

	w = s.get("/api/scans")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.ScansResponse](t, w).Scans)

	// small uploads still pass under the same limit
	w = s.do(uploadRequest(t, "files[]", "", map[string]string{"a.py": pySource, "b.py": "print(1)\n"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s.dispatcher.Wait()
}

func TestUnknownScanIsNotFound(t *testing.T) {
	s := newTestServer(t, 100)
	for _, path := range []string{
		"/api/scan/missing/status",
		"/api/scan/missing/results",
		"/api/files/missing/a.py",
	} {
		w := s.get(path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, string(apperr.CodeNotFound), decode[models.ErrorResponse](t, w).Code)
	}
}

type stubScans struct {
	ScanService
	err error
}

func (s stubScans) Results(context.Context, string) (*models.ResultsResponse, error) {
	return nil, s.err
}

type stubHistory struct{ HistoryService }

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   apperr.Code
	}{
		{apperr.New(apperr.CodeNotReady, "scan is not complete"), http.StatusConflict, apperr.CodeNotReady},
		{apperr.Wrap(context.DeadlineExceeded, apperr.CodeStorageFailure, "failed to load results"), http.StatusInternalServerError, apperr.CodeStorageFailure},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, apperr.CodeTimeout},
	}
	for _, tt := range tests {
		router := SetupRoutes(RouterConfig{RateLimitRPS: 100}, NewHandler(stubScans{err: tt.err}, stubHistory{}, 0))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/scan/x/results", nil))

		assert.Equal(t, tt.status, w.Code)
		assert.Equal(t, string(tt.code), decode[models.ErrorResponse](t, w).Code)
	}
}

func TestListAlerts(t *testing.T) {
	s := newTestServer(t, 100)

	w := s.do(uploadRequest(t, "files[]", "", map[string]string{"a.py": pySource, "blob.txt": "\x00\x01"}))
	require.Equal(t, http.StatusAccepted, w.Code)
	s.dispatcher.Wait()

	w = s.get("/api/alerts?q=unreadable")
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decode[models.AlertsResponse](t, w)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, models.AlertFileUnreadable, alerts.Alerts[0].ErrorCode)
	assert.NotNil(t, alerts.Alerts[0].ScanID)

	w = s.get("/api/alerts?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 1)

	assert.Equal(t, http.StatusOK, s.get("/api/scans").Code)
	assert.Equal(t, http.StatusOK, s.get("/api/scans").Code)
	w := s.get("/api/scans")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode[models.ErrorResponse](t, w).Code)

	// health is not limited
	assert.Equal(t, http.StatusOK, s.get("/health").Code)
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.GetLimiter("10.0.0.1").Allow())
	assert.False(t, rl.GetLimiter("10.0.0.1").Allow())
	assert.True(t, rl.GetLimiter("10.0.0.2").Allow())
}
