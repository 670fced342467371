package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/trialops/dqi-engine/internal/model"
)

// Fingerprint derives a content identity for a raw-data root from the
// discovered source files' paths, sizes, and modification times. Equal
// fingerprints make "reuse the stored snapshot" a safe decision; the
// input order of files does not matter.
func Fingerprint(files []model.SourceFile) string {
	sorted := make([]model.SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		fmt.Fprintf(h, "%s|%d|%d\n", f.Path, f.Size, f.ModTime.UTC().Unix())
	}
	return hex.EncodeToString(h.Sum(nil))
}
