package rollup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialops/dqi-engine/internal/model"
)

func subj(site, id string, dqi *float64, band string, clean *bool, present ...model.Category) model.SubjectRecord {
	rec := model.SubjectRecord{
		StudyID:      "12",
		SiteID:       site,
		SubjectID:    id,
		Present:      make(map[model.Category]bool),
		DQI:          dqi,
		Band:         band,
		CleanPatient: clean,
	}
	for _, cat := range present {
		rec.Present[cat] = true
	}
	return rec
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

func TestSites_GroupingAndAggregates(t *testing.T) {
	subjects := []model.SubjectRecord{
		subj("1001", "S-001", f(90), "Green", b(true), model.CategoryCPIDMetrics),
		subj("1001", "S-002", f(50), "Red", b(false), model.CategoryCPIDMetrics, model.CategorySAE),
		subj("1002", "S-003", nil, "", nil),
	}

	sites := Sites("12", subjects, nil)
	require.Len(t, sites, 2)

	s1 := sites[0]
	assert.Equal(t, "1001", s1.SiteID)
	assert.Equal(t, 2, s1.Subjects)
	require.NotNil(t, s1.MeanDQI)
	assert.InDelta(t, 70, *s1.MeanDQI, 1e-9)
	assert.Equal(t, 2, s1.CleanEligible)
	assert.Equal(t, 1, s1.CleanCount)
	require.NotNil(t, s1.PctClean)
	assert.InDelta(t, 0.5, *s1.PctClean, 1e-9)
	assert.Equal(t, 1, s1.RedCount)
	assert.InDelta(t, 1.0, s1.Coverage[model.CategoryCPIDMetrics], 1e-9)
	assert.InDelta(t, 0.5, s1.Coverage[model.CategorySAE], 1e-9)

	// A site whose only subject has no DQI and a null clean flag.
	s2 := sites[1]
	assert.Nil(t, s2.MeanDQI)
	assert.Nil(t, s2.PctClean)
	assert.Equal(t, 0, s2.CleanEligible)
}

func TestSites_SiteOnlyRowsCreateEmptySites(t *testing.T) {
	siteOnly := []model.NormalizedRecord{
		{Category: model.CategoryVisitProjection, StudyID: "12", SiteID: "1003"},
		{Category: model.CategoryVisitProjection, StudyID: "12", SiteID: ""},
	}

	sites := Sites("12", nil, siteOnly)
	require.Len(t, sites, 1)
	assert.Equal(t, "1003", sites[0].SiteID)
	assert.Equal(t, 0, sites[0].Subjects)
	assert.Nil(t, sites[0].MeanDQI)

	// Site-only rows force the site's existence but never enter coverage;
	// that denominator is subjects only.
	assert.Equal(t, 0.0, sites[0].Coverage[model.CategoryVisitProjection])
}

func TestSites_SortedBySiteID(t *testing.T) {
	subjects := []model.SubjectRecord{
		subj("200", "S-002", nil, "", nil),
		subj("100", "S-001", nil, "", nil),
		subj("150", "S-003", nil, "", nil),
	}

	sites := Sites("12", subjects, nil)
	require.Len(t, sites, 3)
	assert.Equal(t, "100", sites[0].SiteID)
	assert.Equal(t, "150", sites[1].SiteID)
	assert.Equal(t, "200", sites[2].SiteID)
}

func TestStudy_Aggregates(t *testing.T) {
	subjects := []model.SubjectRecord{
		subj("1001", "S-001", f(80), "Amber", b(true), model.CategoryCPIDMetrics),
		subj("1002", "S-002", f(40), "Red", nil, model.CategoryCPIDMetrics),
	}
	subjects[1].SiteConflict = true
	sites := Sites("12", subjects, nil)
	warnings := []model.Warning{
		{Kind: model.WarnSiteConflict, StudyID: "12", SubjectID: "S-002"},
		{Kind: model.WarnRowCoercion, StudyID: "12"},
		{Kind: model.WarnRowCoercion, StudyID: "12"},
	}

	study := Study("12", subjects, sites, warnings)

	assert.Equal(t, 2, study.Subjects)
	assert.Equal(t, 2, study.Sites)
	require.NotNil(t, study.MeanDQI)
	assert.InDelta(t, 60, *study.MeanDQI, 1e-9)

	// Conflicted subject is excluded from the clean denominator.
	assert.Equal(t, 1, study.CleanEligible)
	assert.Equal(t, 1, study.CleanCount)
	require.NotNil(t, study.PctClean)
	assert.InDelta(t, 1.0, *study.PctClean, 1e-9)

	assert.Equal(t, 1, study.ConflictCount)
	assert.Equal(t, 1, study.RedCount)
	assert.Equal(t, 1, study.WarningCounts[model.WarnSiteConflict])
	assert.Equal(t, 2, study.WarningCounts[model.WarnRowCoercion])
	assert.Equal(t, []string{"1001", "1002"}, study.SiteIDs)
}

func TestStudy_EmptyStudy(t *testing.T) {
	study := Study("12", nil, nil, nil)
	assert.Equal(t, 0, study.Subjects)
	assert.Nil(t, study.MeanDQI)
	assert.Nil(t, study.PctClean)
	for _, cat := range model.Categories {
		assert.Equal(t, 0.0, study.Coverage[cat])
	}
}
