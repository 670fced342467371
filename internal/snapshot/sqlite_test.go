package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialops/dqi-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func ptr[T any](v T) *T { return &v }

func testSnapshot() *model.Snapshot {
	dqi := 87.5
	clean := true
	return &model.Snapshot{
		Manifest: model.Manifest{
			BuildID:       "b-001",
			Fingerprint:   "abc123",
			ConfigVersion: "2026.1",
			BuiltAt:       time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		},
		Subjects: []model.SubjectRecord{
			{
				StudyID:   "12",
				SiteID:    "1001",
				SubjectID: "S-001",
				Present: map[model.Category]bool{
					model.CategoryCPIDMetrics: true,
					model.CategorySAE:         true,
				},
				Features: map[string]model.Feature{
					model.FeatOpenQueries: {Name: model.FeatOpenQueries, Source: model.CategoryCPIDMetrics, Value: 4},
					model.FeatSAEPending:  {Name: model.FeatSAEPending, Source: model.CategorySAE, Value: 0},
				},
				Components: map[string]float64{
					model.CompCompleteness: 100 * 2.0 / 6,
					model.CompQueryBurden:  60,
					model.CompSafety:       100,
				},
				DQI:          &dqi,
				Band:         "Green",
				CleanPatient: &clean,
			},
			{
				StudyID:      "12",
				SiteID:       "1002",
				SubjectID:    "S-002",
				Present:      map[model.Category]bool{model.CategoryEDRR: true},
				SiteConflict: true,
				Features:     map[string]model.Feature{},
				Components:   map[string]float64{model.CompCompleteness: 100.0 / 6},
				DQI:          nil,
				CleanPatient: nil,
			},
		},
		Sites: []model.SiteRecord{
			{
				StudyID: "12", SiteID: "1001", Subjects: 1,
				MeanDQI: ptr(87.5), PctClean: ptr(1.0),
				CleanEligible: 1, CleanCount: 1,
				Coverage: map[model.Category]float64{model.CategoryCPIDMetrics: 1},
			},
			{
				StudyID: "12", SiteID: "1002", Subjects: 1,
				ConflictCount: 1,
				Coverage:      map[model.Category]float64{model.CategoryEDRR: 1},
			},
		},
		Studies: []model.StudyRecord{
			{
				StudyID: "12", Subjects: 2, Sites: 2,
				MeanDQI: ptr(87.5), PctClean: ptr(1.0),
				CleanEligible: 1, CleanCount: 1, ConflictCount: 1,
				Coverage:      map[model.Category]float64{model.CategoryCPIDMetrics: 0.5},
				WarningCounts: map[model.WarningKind]int{model.WarnSiteConflict: 1},
				SiteIDs:       []string{"1001", "1002"},
			},
		},
		Warnings: []model.Warning{
			{Kind: model.WarnSiteConflict, StudyID: "12", SubjectID: "S-002", Detail: "site_id disagrees"},
		},
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	snap := testSnapshot()

	require.NoError(t, store.Replace(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, snap.Manifest.BuildID, got.Manifest.BuildID)
	assert.Equal(t, snap.Manifest.Fingerprint, got.Manifest.Fingerprint)
	assert.Equal(t, snap.Manifest.ConfigVersion, got.Manifest.ConfigVersion)
	assert.True(t, snap.Manifest.BuiltAt.Equal(got.Manifest.BuiltAt))

	require.Len(t, got.Subjects, 2)
	s1 := got.Subjects[0]
	assert.Equal(t, "S-001", s1.SubjectID)
	assert.Equal(t, "1001", s1.SiteID)
	assert.True(t, s1.Present[model.CategoryCPIDMetrics])
	assert.Equal(t, 4.0, s1.Features[model.FeatOpenQueries].Value)
	assert.Equal(t, model.CategoryCPIDMetrics, s1.Features[model.FeatOpenQueries].Source)
	assert.InDelta(t, 60, s1.Components[model.CompQueryBurden], 1e-9)
	require.NotNil(t, s1.DQI)
	assert.InDelta(t, 87.5, *s1.DQI, 1e-9)
	assert.Equal(t, "Green", s1.Band)
	require.NotNil(t, s1.CleanPatient)
	assert.True(t, *s1.CleanPatient)

	// Undefined stays undefined after the round trip.
	s2 := got.Subjects[1]
	assert.True(t, s2.SiteConflict)
	assert.Nil(t, s2.DQI)
	assert.Nil(t, s2.CleanPatient)
	_, ok := s2.Features[model.FeatOpenQueries]
	assert.False(t, ok)

	require.Len(t, got.Sites, 2)
	assert.InDelta(t, 87.5, *got.Sites[0].MeanDQI, 1e-9)
	assert.Nil(t, got.Sites[1].MeanDQI)

	require.Len(t, got.Studies, 1)
	assert.Equal(t, 1, got.Studies[0].WarningCounts[model.WarnSiteConflict])
	assert.Equal(t, []string{"1001", "1002"}, got.Studies[0].SiteIDs)

	require.Len(t, got.Warnings, 1)
	assert.Equal(t, model.WarnSiteConflict, got.Warnings[0].Kind)
}

func TestSQLite_ManifestNilWhenEmpty(t *testing.T) {
	store := newTestStore(t)
	m, err := store.Manifest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSQLite_LoadFailsWhenEmpty(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestSQLite_ReplaceSwapsWholesale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Replace(ctx, testSnapshot()))

	second := testSnapshot()
	second.Manifest.BuildID = "b-002"
	second.Subjects = second.Subjects[:1]
	second.Warnings = nil
	require.NoError(t, store.Replace(ctx, second))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b-002", got.Manifest.BuildID)
	assert.Len(t, got.Subjects, 1)
	assert.Empty(t, got.Warnings)
}
