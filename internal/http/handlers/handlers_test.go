package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/reqstat/backend/internal/cache"
	"github.com/reqstat/backend/internal/db"
	"github.com/reqstat/backend/internal/http/middleware"
	"github.com/reqstat/backend/internal/models"
	"github.com/reqstat/backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRuns struct {
	mu       sync.Mutex
	runs     []models.Run
	pingErr  error
	createFn func() error
}

func (f *fakeRuns) Ping(context.Context) error { return f.pingErr }

func (f *fakeRuns) CreateRun(_ context.Context, source, hash string) (string, error) {
	if f.createFn != nil {
		if err := f.createFn(); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "run-" + string(rune('a'+len(f.runs)))
	f.runs = append(f.runs, models.Run{ID: id, Source: source, ContentHash: hash, Status: db.RunStatusRunning, StartedAt: time.Now()})
	return id, nil
}

func (f *fakeRuns) FinishRun(_ context.Context, id, status string, summary []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.runs {
		if f.runs[i].ID == id {
			now := time.Now()
			f.runs[i].Status = status
			f.runs[i].FinishedAt = &now
			f.runs[i].Summary = summary
		}
	}
	return nil
}

func (f *fakeRuns) GetLatestRun(context.Context) (models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return models.Run{}, pgx.ErrNoRows
	}
	return f.runs[len(f.runs)-1], nil
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.runs) {
		limit = len(f.runs)
	}
	return append([]models.Run(nil), f.runs[:limit]...), nil
}

func newHandler(runs RunStore) *Handler {
	h := &Handler{
		Processor: &service.ProcessingService{
			Cache:    cache.NewMemory(),
			CacheTTL: time.Minute,
			Logger:   zerolog.Nop(),
		},
		Validator:         validator.New(),
		Logger:            zerolog.Nop(),
		SpectrumMaxPoints: 1024,
		Runs:              runs,
	}
	return h
}

func newEngine(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.POST("/api/aggregate", h.Aggregate)
	r.GET("/api/spectrum", h.Spectrum)
	r.GET("/api/runs", h.RunsList)
	r.GET("/api/runs/latest", h.RunsLatest)
	return r
}

func workbookBytes(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := make([]any, len(r))
		for j, v := range r {
			values[j] = v
		}
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func requestRow(ts, status, dept string) []string {
	return []string{"1", "title", status, "requester", "owner", "kind", "normal", dept, "", ts}
}

func exampleWorkbook(t *testing.T) []byte {
	return workbookBytes(t, [][]string{
		{"번호", "제목", "상태", "요청자", "담당자", "분류", "우선순위", "부서", "완료일시", "요청일시"},
		requestRow("2024-01 10:00", "종료", "A"),
		requestRow("2024-01 11:00", "진행", "B"),
		requestRow("2024-02 09:00", "종료", "A"),
		requestRow("", "종료", "C"),
	})
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func TestAggregateReturnsResult(t *testing.T) {
	runs := &fakeRuns{}
	r := newEngine(newHandler(runs))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/aggregate", "requests.xlsx", exampleWorkbook(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.JSONEq(t, `{
		"monthlyStats": [
			{"month": "2024-01", "requests": 2, "closed": 1, "closureRate": 50},
			{"month": "2024-02", "requests": 1, "closed": 1, "closureRate": 100}
		],
		"departmentStats": [
			{"department": "A", "status": "종료", "month": "2024-01", "count": 1},
			{"department": "B", "status": "진행", "month": "2024-01", "count": 1},
			{"department": "A", "status": "종료", "month": "2024-02", "count": 1}
		]
	}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Skipped-Rows"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.NotEmpty(t, w.Header().Get("X-Content-Hash"))

	require.Len(t, runs.runs, 1)
	assert.Equal(t, db.RunStatusSuccess, runs.runs[0].Status)
	assert.Equal(t, "requests.xlsx", runs.runs[0].Source)

	var summary RunSummary
	require.NoError(t, json.Unmarshal(runs.runs[0].Summary, &summary))
	assert.Equal(t, 4, summary.RowsRead)
	assert.Equal(t, 1, summary.RowsSkipped)
	assert.Equal(t, 2, summary.Months)
}

func TestAggregateVerboseAndCached(t *testing.T) {
	r := newEngine(newHandler(nil))
	data := exampleWorkbook(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/aggregate?verbose=1", "requests.xlsx", data))
	require.Equal(t, http.StatusOK, w.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 4, report.RowsRead)
	assert.Equal(t, 1, report.RowsSkipped)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.RowIssue{Row: 5, Kind: "MalformedDate", Reason: "no date token"}, report.Issues[0])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/aggregate?verbose=true", "requests.xlsx", data))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestAggregateStrictRejectsMalformedRow(t *testing.T) {
	runs := &fakeRuns{}
	r := newEngine(newHandler(runs))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/aggregate?strict=1", "requests.xlsx", exampleWorkbook(t)))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "MALFORMED_DATE", body.Error.Code)

	var issue models.RowIssue
	require.NoError(t, json.Unmarshal(body.Error.Details, &issue))
	assert.Equal(t, 5, issue.Row)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, db.RunStatusFailed, runs.runs[0].Status)
}

func TestAggregateBadInput(t *testing.T) {
	r := newEngine(newHandler(nil))

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{
			name:   "missing file",
			req:    httptest.NewRequest(http.MethodPost, "/api/aggregate", nil),
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "wrong extension",
			req:    uploadRequest(t, "/api/aggregate", "requests.csv", []byte("a,b,c")),
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "not a workbook",
			req:    uploadRequest(t, "/api/aggregate", "requests.xlsx", []byte("garbage")),
			status: http.StatusUnprocessableEntity,
			code:   "SOURCE_UNREADABLE",
		},
		{
			name:   "invalid flag",
			req:    uploadRequest(t, "/api/aggregate?strict=maybe", "requests.xlsx", []byte("garbage")),
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tc.req)
			assert.Equal(t, tc.status, w.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestAggregateUploadTooLarge(t *testing.T) {
	h := newHandler(nil)
	r := gin.New()
	r.POST("/api/aggregate", middleware.MaxBody(512), h.Aggregate)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/api/aggregate", "requests.xlsx", exampleWorkbook(t)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", body.Error.Code)
	assert.JSONEq(t, `{"limitBytes":512}`, string(body.Error.Details))
}

func TestSpectrum(t *testing.T) {
	r := newEngine(newHandler(nil))

	t.Run("single point", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/spectrum?n=1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[{"x":0,"y":0}]`, w.Body.String())
	})

	t.Run("default size", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/spectrum", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var points []models.DataPoint
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
		assert.Len(t, points, 64)
	})

	t.Run("zero", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/spectrum?n=0", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	for _, q := range []string{"n=-1", "n=2048", "n=abc"} {
		t.Run("rejects "+q, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/spectrum?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRuns(t *testing.T) {
	t.Run("disabled store", func(t *testing.T) {
		r := newEngine(newHandler(nil))
		for _, path := range []string{"/api/runs", "/api/runs/latest"} {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		}
	})

	t.Run("no runs yet", func(t *testing.T) {
		r := newEngine(newHandler(&fakeRuns{}))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("after upload", func(t *testing.T) {
		runs := &fakeRuns{}
		r := newEngine(newHandler(runs))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/api/aggregate", "requests.xlsx", exampleWorkbook(t)))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/latest", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var run models.Run
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		assert.Equal(t, db.RunStatusSuccess, run.Status)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"limit":5`)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"limit":50`)
	})

	t.Run("invalid limit", func(t *testing.T) {
		r := newEngine(newHandler(&fakeRuns{}))
		tests := map[string]string{
			"limit=0":   "VALIDATION_ERROR",
			"limit=-3":  "VALIDATION_ERROR",
			"limit=201": "VALIDATION_ERROR",
			"limit=ten": "INVALID_REQUEST",
		}
		for q, code := range tests {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, q)

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, code, body.Error.Code, q)
		}
	})

	t.Run("run store failure does not fail upload", func(t *testing.T) {
		runs := &fakeRuns{createFn: func() error { return errors.New("db down") }}
		r := newEngine(newHandler(runs))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/api/aggregate", "requests.xlsx", exampleWorkbook(t)))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine(newHandler(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newEngine(newHandler(&fakeRuns{pingErr: errors.New("down")})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DB_UNAVAILABLE", body.Error.Code)
}
