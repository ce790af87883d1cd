package service

import (
	"errors"
	"fmt"
	"sort"

	"github.com/reqstat/backend/internal/models"
	"github.com/reqstat/backend/internal/workbook"
)

type Options struct {
	// Strict aborts on the first malformed row instead of skipping it.
	Strict bool
}

type monthCounts struct {
	total  uint32
	closed uint32
}

type groupKey struct {
	department string
	status     string
	month      string
}

// Aggregator folds request records into per-month and per-group counters.
// The zero value is not usable; call NewAggregator.
type Aggregator struct {
	months map[string]*monthCounts
	groups map[groupKey]uint32
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		months: map[string]*monthCounts{},
		groups: map[groupKey]uint32{},
	}
}

// Add counts one record under the given month.
func (a *Aggregator) Add(rec models.RequestRecord, month string) {
	mc, ok := a.months[month]
	if !ok {
		mc = &monthCounts{}
		a.months[month] = mc
	}
	mc.total++
	if rec.Status == ClosedStatus {
		mc.closed++
	}
	a.groups[groupKey{department: rec.Department, status: rec.Status, month: month}]++
}

// MonthlyStats returns one stat per month, ascending by month.
func (a *Aggregator) MonthlyStats() []models.MonthlyStat {
	out := make([]models.MonthlyStat, 0, len(a.months))
	for month, mc := range a.months {
		out = append(out, models.MonthlyStat{
			Month:       month,
			Requests:    mc.total,
			Closed:      mc.closed,
			ClosureRate: closureRate(mc.closed, mc.total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Month < out[j].Month
	})
	return out
}

// DepartmentStats returns one stat per (department, status, month) group,
// ordered by month, then department, then status.
func (a *Aggregator) DepartmentStats() []models.DepartmentStat {
	out := make([]models.DepartmentStat, 0, len(a.groups))
	for k, count := range a.groups {
		out = append(out, models.DepartmentStat{
			Department: k.department,
			Status:     k.status,
			Month:      k.month,
			Count:      count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// Result packages both collections.
func (a *Aggregator) Result() models.AggregationResult {
	return models.AggregationResult{
		MonthlyStats:    a.MonthlyStats(),
		DepartmentStats: a.DepartmentStats(),
	}
}

func closureRate(closed, total uint32) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(closed) / float64(total) * 100.0
}

// AggregateRows runs the pipeline over rows; the first row is the header and
// sits on sheet row 1.
func AggregateRows(rows []workbook.Row, opts Options) (models.Report, error) {
	return aggregateRows(rows, 1, opts)
}

// aggregateRows numbers issues from firstRow, the sheet row of the header.
func aggregateRows(rows []workbook.Row, firstRow int, opts Options) (models.Report, error) {
	agg := NewAggregator()
	report := models.Report{Issues: []models.RowIssue{}}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		rowNum := firstRow + i
		report.RowsRead++

		rec, err := ExtractRecord(row, rowNum)
		if err == nil {
			var month string
			month, err = MonthKey(rec.Timestamp, rowNum)
			if err == nil {
				agg.Add(rec, month)
				continue
			}
		}

		if opts.Strict {
			return models.Report{}, err
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			report.Issues = append(report.Issues, rowErr.Issue())
		}
		report.RowsSkipped++
	}

	report.Result = agg.Result()
	return report, nil
}

// AggregateWorkbook decodes the workbook and aggregates its first sheet.
func AggregateWorkbook(fileBytes []byte, opts Options) (models.Report, error) {
	sheet, err := workbook.Open(fileBytes)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return aggregateRows(sheet.Rows(), sheet.FirstRow, opts)
}

// Aggregate turns workbook bytes into monthly and department statistics.
// Malformed rows are skipped.
func Aggregate(fileBytes []byte) (models.AggregationResult, error) {
	report, err := AggregateWorkbook(fileBytes, Options{})
	if err != nil {
		return models.AggregationResult{}, err
	}
	return report.Result, nil
}
