package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecedenceRank(t *testing.T) {
	assert.Equal(t, 0, PrecedenceRank(CategoryCPIDMetrics))
	assert.Less(t, PrecedenceRank(CategorySAE), PrecedenceRank(CategoryMissingPages))
	assert.Equal(t, len(CategoryPrecedence), PrecedenceRank("unknown"))
}

func TestFeatureColumnsHaveSources(t *testing.T) {
	for _, name := range FeatureColumns {
		_, ok := FeatureSource[name]
		assert.True(t, ok, "feature %s has no source category", name)
	}
	assert.Len(t, FeatureSource, len(FeatureColumns))
}

func TestCategoriesPresent(t *testing.T) {
	rec := &SubjectRecord{Present: map[Category]bool{
		CategoryCPIDMetrics: true,
		CategorySAE:         true,
		CategoryEDRR:        false,
	}}
	assert.Equal(t, 2, rec.CategoriesPresent())
}

func TestCountWarnings(t *testing.T) {
	counts := CountWarnings([]Warning{
		{Kind: WarnRowCoercion},
		{Kind: WarnRowCoercion},
		{Kind: WarnSiteConflict},
	})
	assert.Equal(t, 2, counts[WarnRowCoercion])
	assert.Equal(t, 1, counts[WarnSiteConflict])
	assert.Equal(t, 0, counts[WarnNegativeLag])
}

func TestSubjectRecordJSON_NullSemantics(t *testing.T) {
	rec := SubjectRecord{
		StudyID:   "12",
		SubjectID: "S-001",
		Fields: map[Category]map[string]Value{
			CategoryCPIDMetrics: {"open_queries": NumberValue(4)},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	// Undefined composite values serialize as null.
	v, ok := body["dqi"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Nil(t, body["clean_patient"])

	// Internal canonical fields never leak into API payloads.
	_, ok = body["Fields"]
	assert.False(t, ok)
}

func TestSnapshotAccessors(t *testing.T) {
	snap := &Snapshot{
		Subjects: []SubjectRecord{
			{StudyID: "12", SubjectID: "S-001"},
			{StudyID: "7", SubjectID: "S-010"},
		},
		Sites: []SiteRecord{
			{StudyID: "12", SiteID: "1001"},
			{StudyID: "7", SiteID: "2001"},
		},
		Studies: []StudyRecord{{StudyID: "12"}, {StudyID: "7"}},
	}

	require.NotNil(t, snap.Study("12"))
	assert.Nil(t, snap.Study("99"))
	assert.Len(t, snap.SitesForStudy("12"), 1)
	assert.Len(t, snap.SubjectsForStudy("7"), 1)
}
