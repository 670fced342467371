package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/trialops/dqi-engine/internal/model"
)

// writeWorkbook writes an xlsx file with one sheet per entry. Each sheet
// is a header row followed by data rows.
func writeWorkbook(t *testing.T, path string, sheets map[string][][]string, order []string) {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range order {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range sheets[name] {
			row := sheet.AddRow()
			for _, cell := range rowData {
				row.AddCell().SetString(cell)
			}
		}
	}
	require.NoError(t, f.Save(path))
}

func studyDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	return dir
}

func TestStudyID(t *testing.T) {
	assert.Equal(t, "1", studyID("Study 1_CPID_Input Files - Anonymization"))
	assert.Equal(t, "20", studyID("STUDY 20_CPID_Input Files"))
	assert.Equal(t, "7", studyID("study7_cpid_input files"))
	assert.Equal(t, "no digits here", studyID("no digits here"))
}

func TestDiscoverStudies(t *testing.T) {
	root := t.TempDir()

	dir1 := studyDir(t, root, "Study 3_CPID_Input Files - Anonymization")
	writeWorkbook(t, filepath.Join(dir1, "CPID_EDC_Metrics.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})
	writeWorkbook(t, filepath.Join(dir1, "Visit Projection Report.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})
	writeWorkbook(t, filepath.Join(dir1, "SAE Dashboard.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})
	writeWorkbook(t, filepath.Join(dir1, "WHO Drug Report.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})

	dir2 := studyDir(t, root, "Study 12_CPID_Input Files")
	writeWorkbook(t, filepath.Join(dir2, "Global Missing Pages.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})

	// Not a study folder.
	studyDir(t, root, "scratch")

	folders, err := DiscoverStudies(root)
	require.NoError(t, err)
	require.Len(t, folders, 2)

	// Sorted by study id string.
	assert.Equal(t, "12", folders[0].StudyID)
	assert.NotEmpty(t, folders[0].MissingPages)
	assert.Empty(t, folders[0].CPID)

	assert.Equal(t, "3", folders[1].StudyID)
	assert.NotEmpty(t, folders[1].CPID)
	assert.NotEmpty(t, folders[1].Visits)
	assert.NotEmpty(t, folders[1].SAE)
	assert.NotEmpty(t, folders[1].WHODrug)
	assert.Empty(t, folders[1].EDRR)
}

func TestSources(t *testing.T) {
	root := t.TempDir()
	dir := studyDir(t, root, "Study 1_CPID_Input Files")
	writeWorkbook(t, filepath.Join(dir, "CPID_EDC_Metrics.xlsx"),
		map[string][][]string{"Sheet1": {{"Subject ID"}}}, []string{"Sheet1"})

	folders, err := DiscoverStudies(root)
	require.NoError(t, err)

	sources, err := Sources(folders)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Contains(t, sources[0].Path, "CPID_EDC_Metrics.xlsx")
	assert.Positive(t, sources[0].Size)
	assert.False(t, sources[0].ModTime.IsZero())
}

func TestReadSheet_NormalizesHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.xlsx")
	writeWorkbook(t, path, map[string][][]string{
		"Sheet1": {
			{"Subject ID", "Site Number", "Open-Queries"},
			{"S-001", "1001", "4"},
			{"", "", ""},
			{"S-002", "1002", "7"},
		},
	}, []string{"Sheet1"})

	rows, err := readSheet(path, sheetOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2, "fully empty rows are skipped")

	assert.Equal(t, "S-001", rows[0]["subject_id"])
	assert.Equal(t, "1001", rows[0]["site_number"])
	assert.Equal(t, "4", rows[0]["open_queries"])
	assert.Equal(t, "7", rows[1]["open_queries"])
}

func TestReadSAE_SheetHeuristics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sae.xlsx")
	writeWorkbook(t, path, map[string][][]string{
		"Summary": {
			{"Subject ID", "Action Status"},
			{"S-001", "Pending"},
		},
		"DM Review": {
			{"Subject ID", "Action Status"},
			{"S-002", "Closed"},
		},
		"Safety Review": {
			{"Subject ID", "Action Status"},
			{"S-003", "Pending"},
		},
	}, []string{"Summary", "DM Review", "Safety Review"})

	rows, err := readSAE(path)
	require.NoError(t, err)

	// The DM and Safety sheets are selected by name; "Summary" is skipped.
	require.Len(t, rows, 2)
	assert.Equal(t, "S-002", rows[0]["subject_id"])
	assert.Equal(t, "S-003", rows[1]["subject_id"])
}

func TestReadSAE_PositionalFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sae.xlsx")
	writeWorkbook(t, path, map[string][][]string{
		"First": {
			{"Subject ID"},
			{"S-001"},
		},
		"Second": {
			{"Subject ID"},
			{"S-002"},
		},
	}, []string{"First", "Second"})

	rows, err := readSAE(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "S-001", rows[0]["subject_id"])
	assert.Equal(t, "S-002", rows[1]["subject_id"])
}

func TestLoadStudy_CodingConcatenation(t *testing.T) {
	root := t.TempDir()
	dir := studyDir(t, root, "Study 5_CPID_Input Files")

	writeWorkbook(t, filepath.Join(dir, "MedDRA Coding Report.xlsx"), map[string][][]string{
		"Sheet1": {
			{"Subject ID", "Coding Status"},
			{"S-001", "Uncoded"},
		},
	}, []string{"Sheet1"})
	writeWorkbook(t, filepath.Join(dir, "WHODD Coding Report.xlsx"), map[string][][]string{
		"Sheet1": {
			{"Subject ID", "Coding Status"},
			{"S-001", "Coded"},
			{"S-002", "Coded"},
		},
	}, []string{"Sheet1"})

	folders, err := DiscoverStudies(root)
	require.NoError(t, err)
	require.Len(t, folders, 1)

	input, err := LoadStudy(folders[0])
	require.NoError(t, err)
	assert.Equal(t, "5", input.StudyID)

	coding, ok := input.Tables[model.CategoryCoding]
	require.True(t, ok)
	assert.Len(t, coding.Rows, 3, "MedDRA and WHODrug rows concatenate")

	_, hasCPID := input.Tables[model.CategoryCPIDMetrics]
	assert.False(t, hasCPID)
}

func TestLoadAll(t *testing.T) {
	root := t.TempDir()
	dir := studyDir(t, root, "Study 8_CPID_Input Files")
	writeWorkbook(t, filepath.Join(dir, "CPID_EDC_Metrics.xlsx"), map[string][][]string{
		"Sheet1": {
			{"Subject ID", "Open Queries"},
			{"S-001", "3"},
		},
	}, []string{"Sheet1"})

	inputs, sources, err := LoadAll(root)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "8", inputs[0].StudyID)
	require.Len(t, sources, 1)
	assert.Positive(t, sources[0].Size)

	_, _, err = LoadAll(t.TempDir())
	assert.Error(t, err, "a root with no study folders is an error")
}

func TestMatchFirst(t *testing.T) {
	files := []string{
		"/x/Study 1/CPID_EDC_Metrics_report.xlsx",
		"/x/Study 1/Visit Projection.xlsx",
	}
	assert.Equal(t, files[0], matchFirst(files, "cpid", "edc", "metrics"))
	assert.Equal(t, files[1], matchFirst(files, "visit", "projection"))
	assert.Equal(t, "", matchFirst(files, "sae", "dashboard"))
}
