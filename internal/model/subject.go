package model

// Feature names. Each feature is derived from exactly one category's
// canonical fields.
const (
	FeatOpenQueries        = "n_open_queries"
	FeatTotalQueries       = "n_total_queries"
	FeatCRFsTotal          = "n_crfs_total"
	FeatNonconformantPages = "n_nonconformant_pages"
	FeatPctCRFsVerified    = "pct_crfs_verified"
	FeatPctCRFsSigned      = "pct_crfs_signed"
	FeatPctCRFsOverdue     = "pct_crfs_overdue"
	FeatMissingVisits      = "n_missing_visits"
	FeatVisitDaysMax       = "days_visit_outstanding_max"
	FeatMissingPages       = "n_missing_pages"
	FeatPageDaysMax        = "days_page_missing_max"
	FeatMissingPageRate    = "missing_page_rate"
	FeatSAEIssues          = "n_sae_issues"
	FeatSAEPending         = "n_sae_pending_actions"
	FeatSAELagDays         = "sae_reporting_lag_days"
	FeatCodingTerms        = "n_coding_terms"
	FeatUncodedTerms       = "n_uncoded_terms"
	FeatCodingErrorRate    = "coding_error_rate"
	FeatOpenEDRRIssues     = "n_open_edrr_issues"
)

// FeatureColumns is the fixed column order for every feature persisted in
// the snapshot's subject table.
var FeatureColumns = []string{
	FeatOpenQueries,
	FeatTotalQueries,
	FeatCRFsTotal,
	FeatNonconformantPages,
	FeatPctCRFsVerified,
	FeatPctCRFsSigned,
	FeatPctCRFsOverdue,
	FeatMissingVisits,
	FeatVisitDaysMax,
	FeatMissingPages,
	FeatPageDaysMax,
	FeatMissingPageRate,
	FeatSAEIssues,
	FeatSAEPending,
	FeatSAELagDays,
	FeatCodingTerms,
	FeatUncodedTerms,
	FeatCodingErrorRate,
	FeatOpenEDRRIssues,
}

// FeatureSource maps each feature to the category that produces it.
var FeatureSource = map[string]Category{
	FeatOpenQueries:        CategoryCPIDMetrics,
	FeatTotalQueries:       CategoryCPIDMetrics,
	FeatCRFsTotal:          CategoryCPIDMetrics,
	FeatNonconformantPages: CategoryCPIDMetrics,
	FeatPctCRFsVerified:    CategoryCPIDMetrics,
	FeatPctCRFsSigned:      CategoryCPIDMetrics,
	FeatPctCRFsOverdue:     CategoryCPIDMetrics,
	FeatMissingVisits:      CategoryVisitProjection,
	FeatVisitDaysMax:       CategoryVisitProjection,
	FeatMissingPages:       CategoryMissingPages,
	FeatPageDaysMax:        CategoryMissingPages,
	FeatMissingPageRate:    CategoryMissingPages,
	FeatSAEIssues:          CategorySAE,
	FeatSAEPending:         CategorySAE,
	FeatSAELagDays:         CategorySAE,
	FeatCodingTerms:        CategoryCoding,
	FeatUncodedTerms:       CategoryCoding,
	FeatCodingErrorRate:    CategoryCoding,
	FeatOpenEDRRIssues:     CategoryEDRR,
}

// DQI component names.
const (
	CompCompleteness = "completeness"
	CompMissingItems = "missing_items"
	CompQueryBurden  = "query_burden"
	CompVerification = "verification"
	CompCoding       = "coding_accuracy"
	CompSafety       = "safety_timeliness"
)

// ComponentColumns is the fixed column order for every DQI component
// persisted in the snapshot's subject table.
var ComponentColumns = []string{
	CompCompleteness,
	CompMissingItems,
	CompQueryBurden,
	CompVerification,
	CompCoding,
	CompSafety,
}

// Feature is one named quantity derived for a subject. A feature absent
// from a SubjectRecord's Features map is undefined, which must propagate
// as null downstream, never as zero.
type Feature struct {
	Name   string   `json:"name"`
	Source Category `json:"source"`
	Value  float64  `json:"value"`
}

// SubjectKey uniquely identifies one subject within a processing run.
type SubjectKey struct {
	StudyID   string `json:"study_id"`
	SubjectID string `json:"subject_id"`
}

// SubjectRecord is the reconciled, scored record for one subject.
// Constructed once per build and never mutated afterwards; a rebuild
// supersedes it wholesale.
type SubjectRecord struct {
	StudyID   string `json:"study_id"`
	SiteID    string `json:"site_id"`
	SubjectID string `json:"subject_id"`

	Present      map[Category]bool             `json:"present"`
	SiteConflict bool                          `json:"site_conflict"`
	Fields       map[Category]map[string]Value `json:"-"`

	Features   map[string]Feature `json:"features"`
	Components map[string]float64 `json:"components"`

	DQI          *float64 `json:"dqi"`
	Band         string   `json:"band,omitempty"`
	CleanPatient *bool    `json:"clean_patient"`
}

// Key returns the record's SubjectKey.
func (r *SubjectRecord) Key() SubjectKey {
	return SubjectKey{StudyID: r.StudyID, SubjectID: r.SubjectID}
}

// CategoriesPresent counts categories with data for this subject.
func (r *SubjectRecord) CategoriesPresent() int {
	n := 0
	for _, c := range Categories {
		if r.Present[c] {
			n++
		}
	}
	return n
}

// SiteRecord aggregates the subjects belonging to one site. Recomputed
// fully on every rollup.
type SiteRecord struct {
	StudyID  string `json:"study_id"`
	SiteID   string `json:"site_id"`
	Subjects int    `json:"subjects"`

	MeanDQI  *float64 `json:"mean_dqi"`
	PctClean *float64 `json:"pct_clean"`

	CleanEligible int `json:"clean_eligible"`
	CleanCount    int `json:"clean_count"`
	ConflictCount int `json:"conflict_count"`
	RedCount      int `json:"red_count"`

	Coverage map[Category]float64 `json:"coverage"`
}

// StudyRecord aggregates a whole study, with its per-site breakdown.
type StudyRecord struct {
	StudyID  string `json:"study_id"`
	Subjects int    `json:"subjects"`
	Sites    int    `json:"sites"`

	MeanDQI  *float64 `json:"mean_dqi"`
	PctClean *float64 `json:"pct_clean"`

	CleanEligible int `json:"clean_eligible"`
	CleanCount    int `json:"clean_count"`
	ConflictCount int `json:"conflict_count"`
	RedCount      int `json:"red_count"`

	Coverage map[Category]float64 `json:"coverage"`

	WarningCounts map[WarningKind]int `json:"warning_counts"`

	SiteIDs []string `json:"site_ids"`
}
