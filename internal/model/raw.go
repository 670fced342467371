package model

// RawRow is one spreadsheet row keyed by normalized column name
// (trimmed, lowercased, spaces and dashes replaced with underscores).
// Cell values are the raw strings from the sheet; empty string means the
// cell was blank.
type RawRow map[string]string

// RawSourceTable is one category's raw table for a study, as handed over
// by the ingestion layer. Immutable once constructed.
type RawSourceTable struct {
	Category Category `json:"category"`
	Rows     []RawRow `json:"rows"`
}

// StudyInput is the engine's sole input contract for one study: a mapping
// from category to its raw table. A missing key means that category's file
// was not found or not parseable for the study.
type StudyInput struct {
	StudyID string                      `json:"study_id"`
	Tables  map[Category]RawSourceTable `json:"tables"`
}

// NormalizedRecord is one row of a raw table mapped onto the canonical
// per-category schema. SubjectID is empty when the source row carries no
// subject identifier (site-level aggregate rows); such records contribute
// to site coverage only, never to subject-level features.
type NormalizedRecord struct {
	Category  Category         `json:"category"`
	StudyID   string           `json:"study_id"`
	SiteID    string           `json:"site_id"`
	SubjectID string           `json:"subject_id"`
	Fields    map[string]Value `json:"fields"`
}
