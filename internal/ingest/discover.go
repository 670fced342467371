// Package ingest discovers study folders under a raw-data root and loads
// their spreadsheets into raw tables. File matching is by case-insensitive
// substring, tolerant of the naming drift across sponsor exports.
package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
)

// StudyFolder is one discovered study directory with its matched source
// files. An empty path means no file matched that source.
type StudyFolder struct {
	StudyID string
	Dir     string

	CPID         string
	Visits       string
	MissingPages string
	SAE          string
	EDRR         string
	MedDRA       string
	WHODrug      string
}

// paths returns the matched files in a fixed order, empties skipped.
func (sf StudyFolder) paths() []string {
	var out []string
	for _, p := range []string{sf.CPID, sf.Visits, sf.MissingPages, sf.SAE, sf.EDRR, sf.MedDRA, sf.WHODrug} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DiscoverStudies scans the immediate children of root for study folders.
// A folder qualifies when its name contains both "study" and "cpid_input
// files"; the study ID is the first run of digits in the name, falling
// back to the full folder name.
func DiscoverStudies(root string) ([]StudyFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read root %s", root)
	}

	var folders []StudyFolder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.Contains(name, "study") || !strings.Contains(name, "cpid_input files") {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		files, err := excelFiles(dir)
		if err != nil {
			return nil, err
		}

		sf := StudyFolder{
			StudyID: studyID(entry.Name()),
			Dir:     dir,

			CPID:         matchFirst(files, "cpid", "edc", "metrics"),
			Visits:       matchFirst(files, "visit", "projection"),
			SAE:          matchFirst(files, "sae", "dashboard"),
			EDRR:         matchFirst(files, "compiled", "edrr"),
			MedDRA:       matchFirst(files, "meddra"),
			MissingPages: matchFirst(files, "missing", "page"),
		}
		if sf.WHODrug = matchFirst(files, "whodd"); sf.WHODrug == "" {
			sf.WHODrug = matchFirst(files, "who", "drug")
		}
		folders = append(folders, sf)
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].StudyID < folders[j].StudyID })
	zap.S().Debugw("discovered study folders", "root", root, "count", len(folders))
	return folders, nil
}

// Sources stats every matched file across the given folders, producing
// the file list the snapshot fingerprint is computed over.
func Sources(folders []StudyFolder) ([]model.SourceFile, error) {
	var out []model.SourceFile
	for _, sf := range folders {
		for _, p := range sf.paths() {
			info, err := os.Stat(p)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: stat %s", p)
			}
			out = append(out, model.SourceFile{
				Path:    p,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}
	return out, nil
}

func excelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read folder %s", dir)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if strings.HasPrefix(ext, ".xls") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// matchFirst returns the first file whose base name contains every
// pattern, case-insensitive.
func matchFirst(files []string, patterns ...string) string {
	for _, f := range files {
		name := strings.ToLower(filepath.Base(f))
		ok := true
		for _, p := range patterns {
			if !strings.Contains(name, p) {
				ok = false
				break
			}
		}
		if ok {
			return f
		}
	}
	return ""
}

// studyID extracts the first run of digits from a folder name.
func studyID(name string) string {
	start := -1
	for i, r := range name {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return name[start:i]
		}
	}
	if start >= 0 {
		return name[start:]
	}
	return name
}
