package service

import (
	"strings"
	"unicode/utf8"

	"github.com/reqstat/backend/internal/models"
	"github.com/reqstat/backend/internal/workbook"
)

// Fixed column layout of the request export.
const (
	colStatus     = 2
	colDepartment = 7
	colTimestamp  = 9

	minColumns = colTimestamp + 1
	monthLen   = len("2006-01")
)

// ClosedStatus marks a request as closed. Matched literally.
const ClosedStatus = "종료"

// ExtractRecord reads timestamp, status and department from a row.
func ExtractRecord(row workbook.Row, rowNum int) (models.RequestRecord, error) {
	if len(row) < minColumns {
		return models.RequestRecord{}, &RowError{Kind: ErrMalformedRow, Row: rowNum, Reason: "missing column"}
	}
	ts, _ := row.Cell(colTimestamp)
	status, _ := row.Cell(colStatus)
	dept, _ := row.Cell(colDepartment)
	return models.RequestRecord{
		Row:        rowNum,
		Timestamp:  ts,
		Status:     status,
		Department: dept,
	}, nil
}

// MonthKey returns the first seven characters of the timestamp's date token,
// e.g. "2024-03" for "2024-03-11 09:30". The prefix is not validated as a date.
func MonthKey(timestamp string, rowNum int) (string, error) {
	fields := strings.FieldsFunc(timestamp, isASCIISpace)
	if len(fields) == 0 {
		return "", &RowError{Kind: ErrMalformedDate, Row: rowNum, Reason: "no date token", Value: timestamp}
	}
	token := fields[0]
	if utf8.RuneCountInString(token) < monthLen {
		return "", &RowError{Kind: ErrMalformedDate, Row: rowNum, Reason: "date token too short", Value: timestamp}
	}

	n := 0
	for i := range token {
		if n == monthLen {
			return token[:i], nil
		}
		n++
	}
	return token, nil
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
