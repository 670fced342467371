package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/trialops/dqi-engine/internal/model"
)

// sheetOptions selects which sheet of a workbook to read.
type sheetOptions struct {
	index int    // default 0
	name  string // if set, overrides index
}

// readSheet reads one sheet into raw rows keyed by normalized header name.
// The first row is the header; fully empty rows are skipped.
func readSheet(path string, opts sheetOptions) ([]model.RawRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open workbook")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	return sheetRows(sheet), nil
}

func getSheet(f *xlsx.File, opts sheetOptions) (*xlsx.Sheet, error) {
	if opts.name != "" {
		sheet, ok := f.Sheet[opts.name]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.name)
		}
		return sheet, nil
	}
	if opts.index >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: sheet index %d out of range (file has %d sheets)", opts.index, len(f.Sheets))
	}
	return f.Sheets[opts.index], nil
}

func sheetRows(sheet *xlsx.Sheet) []model.RawRow {
	if len(sheet.Rows) == 0 {
		return nil
	}

	header := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, normalizeHeader(cell.String()))
	}

	var rows []model.RawRow
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if allEmpty(cells) {
			continue
		}
		rec := make(model.RawRow, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(cells) {
				rec[name] = cells[i]
			} else {
				rec[name] = ""
			}
		}
		rows = append(rows, rec)
	}
	return rows
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

// normalizeHeader folds a spreadsheet column label to the canonical form
// used by the alias tables: trimmed, lowercased, separators collapsed to
// underscores.
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
