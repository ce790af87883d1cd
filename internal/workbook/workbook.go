package workbook

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var ErrUnreadable = errors.New("workbook unreadable")

// Row holds the display form of every cell, indexed from column A = 0.
type Row []string

// Cell returns the value at position i and whether the row has that position.
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

type Sheet struct {
	Name string
	// FirstRow is the 1-based sheet row number of Rows()[0].
	FirstRow int
	rows     []Row
}

// Rows returns the sheet rows in order, header first.
func (s *Sheet) Rows() []Row {
	return s.rows
}

// Open decodes an xlsx workbook and reads its first worksheet.
// Leading blank rows are dropped so the first row returned is the first used
// row. Rows are padded to the widest row so trailing empty cells keep their
// positions.
func Open(data []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no worksheets", ErrUnreadable)
	}
	name := sheets[0]

	raw, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	skip := 0
	for skip < len(raw) && blank(raw[skip]) {
		skip++
	}
	raw = raw[skip:]

	width := 0
	for _, r := range raw {
		if len(r) > width {
			width = len(r)
		}
	}

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		row := make(Row, width)
		copy(row, r)
		rows = append(rows, row)
	}
	return &Sheet{Name: name, FirstRow: skip + 1, rows: rows}, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
