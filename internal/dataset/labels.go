// Package dataset reads the grading spreadsheets, lays labeled images out
// as one folder per class, and feeds those folders back as batches.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	DefaultIDColumn    = "Image name"
	DefaultGradeColumn = "Retinopathy grade"
)

// LabeledImage is one spreadsheet row.
type LabeledImage struct {
	ID    string
	Grade int
}

// Columns names the spreadsheet headers holding the image id and grade.
type Columns struct {
	ID    string
	Grade string
}

func (c Columns) withDefaults() Columns {
	if c.ID == "" {
		c.ID = DefaultIDColumn
	}
	if c.Grade == "" {
		c.Grade = DefaultGradeColumn
	}
	return c
}

// ReadLabels reads a .csv or .xlsx label sheet. Only the first worksheet
// of a workbook is used.
func ReadLabels(path string, cols Columns) ([]LabeledImage, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows, cols.withDefaults())
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read labels: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func parseRows(rows [][]string, cols Columns) ([]LabeledImage, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("label sheet is empty")
	}

	idCol, gradeCol := -1, -1
	for i, h := range rows[0] {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case cols.ID:
			idCol = i
		case cols.Grade:
			gradeCol = i
		}
	}
	if idCol < 0 || gradeCol < 0 {
		return nil, fmt.Errorf("label sheet needs columns %q and %q, got %v", cols.ID, cols.Grade, rows[0])
	}

	var labels []LabeledImage
	for n, row := range rows[1:] {
		if idCol >= len(row) || strings.TrimSpace(row[idCol]) == "" {
			continue
		}
		if gradeCol >= len(row) {
			return nil, fmt.Errorf("row %d: missing grade", n+2)
		}
		grade, err := strconv.Atoi(strings.TrimSpace(row[gradeCol]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid grade %q", n+2, row[gradeCol])
		}
		labels = append(labels, LabeledImage{ID: strings.TrimSpace(row[idCol]), Grade: grade})
	}
	return labels, nil
}
