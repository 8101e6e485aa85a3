package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/photomaster/internal/models"
)

const (
	columnLinks = "links"
	columnName  = "name"
	columnNames = "names"
)

// SheetResult holds the link items of a spreadsheet and the sheets that were rejected.
type SheetResult struct {
	Items  []models.BatchItem
	Errors []error
}

// ParseSheet reads a CSV or XLSX file with "name"/"names" and "links" columns.
// A sheet that lacks a column is reported in Errors and the other sheets are still read.
func ParseSheet(filename string, data []byte) (SheetResult, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err := readCSV(data)
		if err != nil {
			return SheetResult{}, fmt.Errorf("%w: %s: %v", models.ErrUndecodable, filename, err)
		}
		return collect(filename, []sheetRows{{rows: rows}}), nil
	case ".xlsx":
		sheets, err := readXLSX(data)
		if err != nil {
			return SheetResult{}, fmt.Errorf("%w: %s: %v", models.ErrUndecodable, filename, err)
		}
		return collect(filename, sheets), nil
	default:
		return SheetResult{}, fmt.Errorf("%w: %s", models.ErrUnsupportedType, filename)
	}
}

type sheetRows struct {
	name string
	rows [][]string
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(data []byte) ([]sheetRows, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []sheetRows
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		sheets = append(sheets, sheetRows{name: name, rows: rows})
	}
	return sheets, nil
}

func collect(filename string, sheets []sheetRows) SheetResult {
	var res SheetResult
	for _, s := range sheets {
		items, err := linkItems(s.rows)
		if err != nil {
			var se *models.SchemaError
			if errors.As(err, &se) {
				se.File = filename
				se.Sheet = s.name
			}
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Items = append(res.Items, items...)
	}
	return res
}

func linkItems(rows [][]string) ([]models.BatchItem, error) {
	linksCol, nameCol := -1, -1
	if len(rows) > 0 {
		for i, h := range rows[0] {
			switch strings.ToLower(strings.TrimSpace(h)) {
			case columnLinks:
				if linksCol < 0 {
					linksCol = i
				}
			case columnName:
				nameCol = i
			case columnNames:
				if nameCol < 0 {
					nameCol = i
				}
			}
		}
	}

	var missing []string
	if linksCol < 0 {
		missing = append(missing, columnLinks)
	}
	if nameCol < 0 {
		missing = append(missing, columnName)
	}
	if len(missing) > 0 {
		return nil, &models.SchemaError{Missing: missing}
	}

	var items []models.BatchItem
	for _, row := range rows[1:] {
		link := strings.TrimSpace(cell(row, linksCol))
		if link == "" {
			continue
		}
		items = append(items, models.LinkItem(strings.TrimSpace(cell(row, nameCol)), link))
	}
	return items, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
