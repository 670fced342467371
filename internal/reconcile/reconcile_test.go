package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/normalize"
)

func numRec(cat model.Category, subject, site string, fields map[string]float64) model.NormalizedRecord {
	f := make(map[string]model.Value, len(fields))
	for name, v := range fields {
		f[name] = model.NumberValue(v)
	}
	return model.NormalizedRecord{
		Category:  cat,
		StudyID:   "12",
		SiteID:    site,
		SubjectID: subject,
		Fields:    f,
	}
}

func TestReconcile_GroupsAndSorts(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryCPIDMetrics, "S-002", "1001", map[string]float64{normalize.FieldOpenQueries: 2}),
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", map[string]float64{normalize.FieldOpenQueries: 4}),
		numRec(model.CategorySAE, "S-001", "1001", map[string]float64{normalize.FieldSAEIssues: 1}),
	})

	require.Len(t, res.Subjects, 2)
	assert.Equal(t, "S-001", res.Subjects[0].SubjectID)
	assert.Equal(t, "S-002", res.Subjects[1].SubjectID)

	s1 := res.Subjects[0]
	assert.True(t, s1.Present[model.CategoryCPIDMetrics])
	assert.True(t, s1.Present[model.CategorySAE])
	assert.Equal(t, 2, s1.CategoriesPresent())
	assert.Equal(t, 4.0, s1.Fields[model.CategoryCPIDMetrics][normalize.FieldOpenQueries].Num)
}

func TestReconcile_SiteOnlyRows(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryVisitProjection, "", "1002", map[string]float64{normalize.FieldMissingVisits: 1}),
		numRec(model.CategoryVisitProjection, "S-001", "1001", map[string]float64{normalize.FieldMissingVisits: 1}),
	})

	require.Len(t, res.Subjects, 1)
	require.Len(t, res.SiteOnly, 1)
	assert.Equal(t, "1002", res.SiteOnly[0].SiteID)
}

func TestReconcile_AccumulativeAndMaxMerge(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryVisitProjection, "S-001", "1001", map[string]float64{
			normalize.FieldMissingVisits:   1,
			normalize.FieldDaysOutstanding: 7,
		}),
		numRec(model.CategoryVisitProjection, "S-001", "1001", map[string]float64{
			normalize.FieldMissingVisits:   1,
			normalize.FieldDaysOutstanding: 21,
		}),
		numRec(model.CategoryVisitProjection, "S-001", "1001", map[string]float64{
			normalize.FieldMissingVisits:   1,
			normalize.FieldDaysOutstanding: 3,
		}),
	})

	require.Len(t, res.Subjects, 1)
	fields := res.Subjects[0].Fields[model.CategoryVisitProjection]
	assert.Equal(t, 3.0, fields[normalize.FieldMissingVisits].Num, "per-row counts accumulate")
	assert.Equal(t, 21.0, fields[normalize.FieldDaysOutstanding].Num, "durations keep the worst case")
}

func TestReconcile_LatestWinsWithinCategory(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", map[string]float64{normalize.FieldOpenQueries: 4}),
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", map[string]float64{normalize.FieldOpenQueries: 6}),
	})

	require.Len(t, res.Subjects, 1)
	assert.Equal(t, 6.0, res.Subjects[0].Fields[model.CategoryCPIDMetrics][normalize.FieldOpenQueries].Num)
}

func TestReconcile_SiteMajorityVote(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", nil),
		numRec(model.CategorySAE, "S-001", "1002", nil),
		numRec(model.CategoryCoding, "S-001", "1002", nil),
	})

	require.Len(t, res.Subjects, 1)
	rec := res.Subjects[0]
	assert.Equal(t, "1002", rec.SiteID)
	assert.True(t, rec.SiteConflict)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, model.WarnSiteConflict, res.Warnings[0].Kind)
}

func TestReconcile_SiteTieBreakByPrecedence(t *testing.T) {
	// One vote each: CPIDMetrics outranks MissingPages.
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryMissingPages, "S-001", "2002", nil),
		numRec(model.CategoryCPIDMetrics, "S-001", "2001", nil),
	})

	require.Len(t, res.Subjects, 1)
	assert.Equal(t, "2001", res.Subjects[0].SiteID)
	assert.True(t, res.Subjects[0].SiteConflict)
}

func TestReconcile_NoConflictOnAgreement(t *testing.T) {
	res := Reconcile("12", []model.NormalizedRecord{
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", nil),
		numRec(model.CategorySAE, "S-001", "1001", nil),
	})

	require.Len(t, res.Subjects, 1)
	assert.False(t, res.Subjects[0].SiteConflict)
	assert.Empty(t, res.Warnings)
}

func TestReconcile_OrderInvariance(t *testing.T) {
	base := []model.NormalizedRecord{
		numRec(model.CategoryCPIDMetrics, "S-001", "1001", map[string]float64{normalize.FieldOpenQueries: 4}),
		numRec(model.CategorySAE, "S-001", "1001", map[string]float64{normalize.FieldSAEIssues: 2}),
		numRec(model.CategoryVisitProjection, "S-002", "1002", map[string]float64{normalize.FieldMissingVisits: 1}),
		numRec(model.CategoryCoding, "S-002", "1002", map[string]float64{normalize.FieldUncodedTerms: 1}),
	}

	want := Reconcile("12", base)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := make([]model.NormalizedRecord, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Reconcile("12", shuffled)
		require.Len(t, got.Subjects, len(want.Subjects))
		for j := range want.Subjects {
			assert.Equal(t, want.Subjects[j].SubjectID, got.Subjects[j].SubjectID)
			assert.Equal(t, want.Subjects[j].SiteID, got.Subjects[j].SiteID)
			assert.Equal(t, want.Subjects[j].Fields, got.Subjects[j].Fields)
		}
	}
}
