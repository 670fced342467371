package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trialops/dqi-engine/internal/model"
)

func TestFingerprint_OrderInvariant(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := model.SourceFile{Path: "a.xlsx", Size: 100, ModTime: now}
	b := model.SourceFile{Path: "b.xlsx", Size: 200, ModTime: now}
	c := model.SourceFile{Path: "c.xlsx", Size: 300, ModTime: now}

	fp1 := Fingerprint([]model.SourceFile{a, b, c})
	fp2 := Fingerprint([]model.SourceFile{c, a, b})
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprint_SensitiveToChanges(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	base := []model.SourceFile{{Path: "a.xlsx", Size: 100, ModTime: now}}
	fp := Fingerprint(base)

	assert.NotEqual(t, fp, Fingerprint([]model.SourceFile{{Path: "a.xlsx", Size: 101, ModTime: now}}))
	assert.NotEqual(t, fp, Fingerprint([]model.SourceFile{{Path: "a.xlsx", Size: 100, ModTime: now.Add(time.Second)}}))
	assert.NotEqual(t, fp, Fingerprint([]model.SourceFile{{Path: "b.xlsx", Size: 100, ModTime: now}}))
	assert.NotEqual(t, fp, Fingerprint(append(base, model.SourceFile{Path: "b.xlsx", Size: 1, ModTime: now})))
}

func TestFingerprint_Idempotent(t *testing.T) {
	files := []model.SourceFile{
		{Path: "study1/cpid.xlsx", Size: 4096, ModTime: time.Unix(1754000000, 0)},
		{Path: "study1/sae.xlsx", Size: 2048, ModTime: time.Unix(1754000500, 0)},
	}
	assert.Equal(t, Fingerprint(files), Fingerprint(files))
}

func TestFingerprint_Empty(t *testing.T) {
	assert.Len(t, Fingerprint(nil), 64)
}
