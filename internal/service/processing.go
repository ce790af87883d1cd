package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/reqstat/backend/internal/cache"
	"github.com/reqstat/backend/internal/models"
	"github.com/reqstat/backend/internal/utils"
)

const cacheKeyPrefix = "reqstat:aggregate:"

// ProcessingService runs uploads through the aggregation pipeline, reusing
// the cached report for content it has already seen.
type ProcessingService struct {
	Cache    cache.Cacher
	CacheTTL time.Duration
	Logger   zerolog.Logger

	flight singleflight.Group
}

type ProcessResult struct {
	Report      models.Report
	ContentHash string
	Cached      bool
	Duration    time.Duration
}

func (s *ProcessingService) Process(ctx context.Context, fileBytes []byte, opts Options) (ProcessResult, error) {
	start := time.Now()
	hash := utils.ContentHash(fileBytes)

	compute := func(context.Context) (models.Report, error) {
		return AggregateWorkbook(fileBytes, opts)
	}

	var (
		report models.Report
		cached bool
		err    error
	)
	if s.Cache == nil {
		report, err = compute(ctx)
	} else {
		report, cached, err = cache.FindOrCompute(ctx, s.Cache, &s.flight, cacheKey(hash, opts), s.CacheTTL, s.Logger, compute)
	}
	if err != nil {
		s.Logger.Warn().Err(err).Str("content_hash", hash).Bool("strict", opts.Strict).Msg("aggregation failed")
		return ProcessResult{ContentHash: hash}, err
	}

	res := ProcessResult{
		Report:      report,
		ContentHash: hash,
		Cached:      cached,
		Duration:    time.Since(start),
	}
	ev := s.Logger.Info()
	if report.RowsSkipped > 0 {
		ev = s.Logger.Warn()
	}
	ev.Str("content_hash", hash).
		Int("rows_read", report.RowsRead).
		Int("rows_skipped", report.RowsSkipped).
		Int("months", len(report.Result.MonthlyStats)).
		Int("groups", len(report.Result.DepartmentStats)).
		Bool("cached", cached).
		Dur("duration", res.Duration).
		Msg("aggregation complete")
	return res, nil
}

func cacheKey(hash string, opts Options) string {
	mode := "lenient"
	if opts.Strict {
		mode = "strict"
	}
	return cacheKeyPrefix + mode + ":" + hash
}
