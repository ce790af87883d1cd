package models

import (
	"encoding/json"
	"time"
)

// RequestRecord is the three fields read from one workbook row.
type RequestRecord struct {
	Row        int    `json:"row"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	Department string `json:"department"`
}

type MonthlyStat struct {
	Month       string  `json:"month"`
	Requests    uint32  `json:"requests"`
	Closed      uint32  `json:"closed"`
	ClosureRate float64 `json:"closureRate"`
}

type DepartmentStat struct {
	Department string `json:"department"`
	Status     string `json:"status"`
	Month      string `json:"month"`
	Count      uint32 `json:"count"`
}

type AggregationResult struct {
	MonthlyStats    []MonthlyStat    `json:"monthlyStats"`
	DepartmentStats []DepartmentStat `json:"departmentStats"`
}

// RowIssue describes a row that was left out of the aggregates.
type RowIssue struct {
	Row    int    `json:"row"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
	Value  string `json:"value,omitempty"`
}

type Report struct {
	Result      AggregationResult `json:"result"`
	RowsRead    int               `json:"rowsRead"`
	RowsSkipped int               `json:"rowsSkipped"`
	Issues      []RowIssue        `json:"issues"`
}

type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Run struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	ContentHash string          `json:"contentHash"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt"`
	Summary     json.RawMessage `json:"summary,omitempty"`
}
