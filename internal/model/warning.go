package model

// WarningKind classifies recoverable data issues recorded during a build.
type WarningKind string

const (
	// WarnRowCoercion marks a row dropped because a key field failed coercion.
	WarnRowCoercion WarningKind = "row_coercion"
	// WarnSiteConflict marks a subject whose site_id disagrees across categories.
	WarnSiteConflict WarningKind = "site_conflict"
	// WarnNegativeLag marks an SAE reported date earlier than its event date.
	WarnNegativeLag WarningKind = "negative_lag"
	// WarnCategoryMissing marks a category treated as wholly absent for a
	// study after a schema mismatch.
	WarnCategoryMissing WarningKind = "category_missing"
)

// Warning is one recoverable issue, surfaced to readers only as per-study
// aggregate counts.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	StudyID   string      `json:"study_id"`
	SiteID    string      `json:"site_id,omitempty"`
	SubjectID string      `json:"subject_id,omitempty"`
	Category  Category    `json:"category,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// CountWarnings tallies warnings by kind.
func CountWarnings(ws []Warning) map[WarningKind]int {
	counts := make(map[WarningKind]int, len(ws))
	for _, w := range ws {
		counts[w.Kind]++
	}
	return counts
}
