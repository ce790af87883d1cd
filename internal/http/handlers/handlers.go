package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/reqstat/backend/internal/db"
	"github.com/reqstat/backend/internal/models"
	"github.com/reqstat/backend/internal/service"
	"github.com/reqstat/backend/internal/spectrum"
)

// RunStore records aggregation runs. Handler.Runs may be nil.
type RunStore interface {
	Ping(ctx context.Context) error
	CreateRun(ctx context.Context, source, contentHash string) (string, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
	GetLatestRun(ctx context.Context) (models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}

type Handler struct {
	Processor         *service.ProcessingService
	Runs              RunStore
	Validator         *validator.Validate
	Logger            zerolog.Logger
	SpectrumMaxPoints int
}

type AggregateQuery struct {
	Strict  bool `form:"strict"`
	Verbose bool `form:"verbose"`
}

type SpectrumQuery struct {
	N int `form:"n,default=64" validate:"min=0"`
}

type RunsQuery struct {
	Limit int `form:"limit,default=50" validate:"min=1,max=200"`
}

type RunSummary struct {
	RowsRead    int    `json:"rowsRead"`
	RowsSkipped int    `json:"rowsSkipped"`
	Months      int    `json:"months"`
	Groups      int    `json:"groups"`
	Strict      bool   `json:"strict"`
	Cached      bool   `json:"cached"`
	DurationMs  int64  `json:"durationMs"`
	Error       string `json:"error,omitempty"`
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Runs != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Runs.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Aggregate request workbook
// @Description Upload an .xlsx request export and get monthly closure rates and department/status/month counts
// @Tags aggregate
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "requests.xlsx"
// @Param strict query bool false "fail on the first malformed row"
// @Param verbose query bool false "return the report envelope with skipped rows"
// @Success 200 {object} models.AggregationResult
// @Failure 400 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/aggregate [post]
func (h *Handler) Aggregate(c *gin.Context) {
	var q AggregateQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query", err.Error())
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Upload exceeds the size limit", gin.H{"limitBytes": tooLarge.Limit})
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file required", nil)
		return
	}
	if !validateExt(fh.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file must be .xlsx", nil)
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read upload", err.Error())
		return
	}

	ctx := c.Request.Context()
	opts := service.Options{Strict: q.Strict}
	res, procErr := h.Processor.Process(ctx, data, opts)

	h.recordRun(ctx, fh.Filename, res, opts, procErr)

	if procErr != nil {
		var rowErr *service.RowError
		switch {
		case errors.Is(procErr, service.ErrSourceUnreadable):
			writeError(c, http.StatusUnprocessableEntity, "SOURCE_UNREADABLE", "Workbook could not be read", procErr.Error())
		case errors.As(procErr, &rowErr) && errors.Is(procErr, service.ErrMalformedDate):
			writeError(c, http.StatusUnprocessableEntity, "MALFORMED_DATE", "Row has no usable request date", rowErr.Issue())
		case errors.As(procErr, &rowErr):
			writeError(c, http.StatusUnprocessableEntity, "MALFORMED_ROW", "Row is missing a required column", rowErr.Issue())
		default:
			h.Logger.Error().Err(procErr).Msg("aggregation failed")
			writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Aggregation failed", procErr.Error())
		}
		return
	}

	c.Header("X-Skipped-Rows", strconv.Itoa(res.Report.RowsSkipped))
	c.Header("X-Content-Hash", res.ContentHash)
	if res.Cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}

	if q.Verbose {
		c.JSON(http.StatusOK, res.Report)
		return
	}
	c.JSON(http.StatusOK, res.Report.Result)
}

// recordRun persists the outcome of an upload. Failures only get logged.
func (h *Handler) recordRun(ctx context.Context, source string, res service.ProcessResult, opts service.Options, procErr error) {
	if h.Runs == nil {
		return
	}
	runID, err := h.Runs.CreateRun(ctx, source, res.ContentHash)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to create run")
		return
	}

	status := db.RunStatusSuccess
	summary := RunSummary{
		RowsRead:    res.Report.RowsRead,
		RowsSkipped: res.Report.RowsSkipped,
		Months:      len(res.Report.Result.MonthlyStats),
		Groups:      len(res.Report.Result.DepartmentStats),
		Strict:      opts.Strict,
		Cached:      res.Cached,
		DurationMs:  res.Duration.Milliseconds(),
	}
	if procErr != nil {
		status = db.RunStatusFailed
		summary.Error = procErr.Error()
	}
	b, _ := json.Marshal(summary)
	if err := h.Runs.FinishRun(ctx, runID, status, b); err != nil {
		h.Logger.Error().Err(err).Str("run_id", runID).Msg("failed to finish run")
	}
}

// @Summary Sine spectrum
// @Description Magnitude of the forward DFT of sin(0..n-1)
// @Tags spectrum
// @Produce json
// @Param n query int false "number of points" default(64)
// @Success 200 {array} models.DataPoint
// @Failure 400 {object} map[string]any
// @Router /api/spectrum [get]
func (h *Handler) Spectrum(c *gin.Context) {
	var q SpectrumQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "n must be an integer", err.Error())
		return
	}
	if err := h.Validator.Struct(q); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if h.SpectrumMaxPoints > 0 && q.N > h.SpectrumMaxPoints {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "n exceeds the configured maximum", gin.H{"max": h.SpectrumMaxPoints})
		return
	}

	points, err := spectrum.Compute(q.N)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid size", err.Error())
		return
	}
	c.JSON(http.StatusOK, points)
}

// @Summary Latest run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	if h.Runs == nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_DISABLED", "Run history is not configured", nil)
		return
	}
	run, err := h.Runs.GetLatestRun(c.Request.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Summary List runs
// @Tags runs
// @Produce json
// @Param limit query int false "max runs (1-200)" default(50)
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/runs [get]
func (h *Handler) RunsList(c *gin.Context) {
	if h.Runs == nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_DISABLED", "Run history is not configured", nil)
		return
	}
	var q RunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", err.Error())
		return
	}
	if err := h.Validator.Struct(q); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	runs, err := h.Runs.ListRuns(c.Request.Context(), q.Limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list runs", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs, "limit": q.Limit})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func validateExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".xlsx"
}
