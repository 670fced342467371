package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
)

// LoadStudy reads every matched file of a study folder into raw tables.
// A file that fails to parse drops its category from the input rather
// than failing the study; the engine records the gap as a warning.
func LoadStudy(sf StudyFolder) (model.StudyInput, error) {
	input := model.StudyInput{
		StudyID: sf.StudyID,
		Tables:  make(map[model.Category]model.RawSourceTable),
	}

	load := func(cat model.Category, path string, read func(string) ([]model.RawRow, error)) {
		if path == "" {
			return
		}
		rows, err := read(path)
		if err != nil {
			zap.S().Warnw("skipping unreadable source file",
				"study", sf.StudyID, "category", string(cat), "path", path, "error", err)
			return
		}
		input.Tables[cat] = model.RawSourceTable{Category: cat, Rows: rows}
	}

	firstSheet := func(path string) ([]model.RawRow, error) {
		return readSheet(path, sheetOptions{})
	}

	load(model.CategoryCPIDMetrics, sf.CPID, firstSheet)
	load(model.CategoryVisitProjection, sf.Visits, firstSheet)
	load(model.CategoryMissingPages, sf.MissingPages, firstSheet)
	load(model.CategorySAE, sf.SAE, readSAE)
	load(model.CategoryEDRR, sf.EDRR, firstSheet)

	if rows := readCoding(sf); rows != nil {
		input.Tables[model.CategoryCoding] = model.RawSourceTable{Category: model.CategoryCoding, Rows: rows}
	}

	return input, nil
}

// LoadAll discovers and loads every study under root.
func LoadAll(root string) ([]model.StudyInput, []model.SourceFile, error) {
	folders, err := DiscoverStudies(root)
	if err != nil {
		return nil, nil, err
	}
	if len(folders) == 0 {
		return nil, nil, eris.Errorf("ingest: no study folders under %s", root)
	}

	sources, err := Sources(folders)
	if err != nil {
		return nil, nil, err
	}

	inputs := make([]model.StudyInput, 0, len(folders))
	for _, sf := range folders {
		input, err := LoadStudy(sf)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, input)
	}
	return inputs, sources, nil
}

// readSAE handles the per-study layout drift of SAE dashboards: a "DM"
// sheet and a "Safety" sheet, identified by name when possible, by
// position otherwise. Rows from both sheets are concatenated.
func readSAE(path string) ([]model.RawRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open SAE workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: SAE workbook %s has no sheets", path)
	}

	var dm, safety *xlsx.Sheet
	for _, sheet := range f.Sheets {
		low := strings.ToLower(sheet.Name)
		switch {
		case dm == nil && strings.Contains(low, "dm"):
			dm = sheet
		case safety == nil && strings.Contains(low, "safety"):
			safety = sheet
		}
	}
	if dm == nil {
		dm = f.Sheets[0]
	}
	if safety == nil && len(f.Sheets) > 1 {
		safety = f.Sheets[1]
	}

	rows := sheetRows(dm)
	if safety != nil && safety != dm {
		rows = append(rows, sheetRows(safety)...)
	}
	return rows, nil
}

// readCoding concatenates the MedDRA and WHODrug listings into one
// coding table. Either file alone is enough; nil means neither matched
// or parsed.
func readCoding(sf StudyFolder) []model.RawRow {
	var rows []model.RawRow
	for _, path := range []string{sf.MedDRA, sf.WHODrug} {
		if path == "" {
			continue
		}
		r, err := readSheet(path, sheetOptions{})
		if err != nil {
			zap.S().Warnw("skipping unreadable coding file",
				"study", sf.StudyID, "path", path, "error", err)
			continue
		}
		rows = append(rows, r...)
	}
	return rows
}
