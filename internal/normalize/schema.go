package normalize

import "github.com/trialops/dqi-engine/internal/model"

// MergePolicy declares how a canonical field combines when multiple rows
// in one category map to the same subject.
type MergePolicy string

const (
	// MergeLatest keeps the last value written (state fields).
	MergeLatest MergePolicy = "latest"
	// MergeSum accumulates values across rows (event counts).
	MergeSum MergePolicy = "sum"
	// MergeMax keeps the largest value seen (worst-case durations).
	MergeMax MergePolicy = "max"
)

// FieldSpec describes one canonical field of a category schema.
type FieldSpec struct {
	Name    string
	Kind    model.ValueKind
	Merge   MergePolicy
	Aliases []string
}

// CategorySchema maps a raw table's columns onto canonical fields.
type CategorySchema struct {
	Category model.Category

	// SubjectRequired makes an unresolvable subject column fatal for the
	// whole table (SchemaMismatch) instead of demoting rows to site level.
	SubjectRequired bool

	SubjectAliases []string
	SiteAliases    []string
	StudyAliases   []string

	Fields []FieldSpec

	// finalize post-processes one row's coerced fields, deriving flag
	// counts that have no single source column.
	finalize func(row model.RawRow, cols map[string]string, fields map[string]model.Value)
}

var (
	subjectAliases = []string{"subject_id", "subject", "subjectname", "subject_name", "patient_id", "patient"}
	siteAliases    = []string{"site_id", "site", "site_number", "sitenumber", "study_site_number", "siteid"}
	studyAliases   = []string{"study_id", "study", "study_name"}
)

// Canonical field names. Reconciled fields are stored per category, so
// names only need to be unique within their schema.
const (
	FieldOpenQueries     = "open_queries"
	FieldTotalQueries    = "total_queries"
	FieldPagesEntered    = "pages_entered"
	FieldNonconformant   = "nonconformant_pages"
	FieldFormsVerified   = "forms_verified"
	FieldCRFsSigned      = "crfs_signed"
	FieldCRFsOverdue     = "crfs_overdue"
	FieldMissingVisits   = "missing_visits"
	FieldDaysOutstanding = "days_outstanding"
	FieldMissingPages    = "missing_pages"
	FieldDaysMissing     = "days_missing"
	FieldExpectedPages   = "expected_pages"
	FieldSAEIssues       = "sae_issues"
	FieldPendingActions  = "pending_actions"
	FieldEventDate       = "event_date"
	FieldReportedDate    = "reported_date"
	FieldCodingTerms     = "terms"
	FieldUncodedTerms    = "uncoded"
	FieldRequiresCoding  = "requires_coding"
	FieldOpenIssues      = "open_issues"
)

// queryBreakdownCols are summed into total_queries when the export lacks
// an explicit total column.
var queryBreakdownCols = []string{
	"dm_queries", "clinical_queries", "medical_queries", "site_queries",
	"field_monitor_queries", "coding_queries", "safety_queries",
}

var schemas = map[model.Category]*CategorySchema{
	model.CategoryCPIDMetrics: {
		Category:        model.CategoryCPIDMetrics,
		SubjectRequired: true,
		SubjectAliases:  subjectAliases,
		SiteAliases:     siteAliases,
		StudyAliases:    studyAliases,
		Fields: []FieldSpec{
			{Name: FieldOpenQueries, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"open_queries", "n_open_queries", "queries_open"}},
			{Name: FieldTotalQueries, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"total_queries", "n_total_queries"}},
			{Name: FieldPagesEntered, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"pages_entered", "crfs_entered", "forms_entered"}},
			{Name: FieldNonconformant, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"pages_with_non_conformant_data", "nonconformant_pages", "non_conformant_pages"}},
			{Name: FieldFormsVerified, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"forms_verified", "crfs_verified", "pages_verified"}},
			{Name: FieldCRFsSigned, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"crfs_signed", "forms_signed", "pages_signed"}},
			{Name: FieldCRFsOverdue, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{"crfs_overdue_for_signs", "crfs_overdue", "overdue_for_signs", "forms_overdue"}},
		},
		finalize: finalizeCPID,
	},

	model.CategoryVisitProjection: {
		Category:       model.CategoryVisitProjection,
		SubjectAliases: subjectAliases,
		SiteAliases:    siteAliases,
		StudyAliases:   studyAliases,
		Fields: []FieldSpec{
			{Name: FieldDaysOutstanding, Kind: model.KindNumber, Merge: MergeMax, Aliases: []string{
				"#_days_outstanding",
				"#_days_outstanding_(today___projected_date)",
				"days_outstanding",
			}},
		},
		// Every row in a visit projection export is one outstanding visit.
		finalize: func(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
			fields[FieldMissingVisits] = model.NumberValue(1)
		},
	},

	model.CategoryMissingPages: {
		Category:       model.CategoryMissingPages,
		SubjectAliases: subjectAliases,
		SiteAliases:    siteAliases,
		StudyAliases:   studyAliases,
		Fields: []FieldSpec{
			{Name: FieldDaysMissing, Kind: model.KindNumber, Merge: MergeMax, Aliases: []string{
				"no._#days_page_missing", "#_of_days_missing", "days_missing", "days_page_missing",
			}},
			{Name: FieldExpectedPages, Kind: model.KindNumber, Merge: MergeLatest, Aliases: []string{
				"expected_pages", "pages_expected", "total_pages",
			}},
		},
		// Every row is one missing page/form.
		finalize: func(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
			fields[FieldMissingPages] = model.NumberValue(1)
		},
	},

	model.CategorySAE: {
		Category:       model.CategorySAE,
		SubjectAliases: subjectAliases,
		SiteAliases:    siteAliases,
		StudyAliases:   studyAliases,
		Fields: []FieldSpec{
			{Name: FieldSAEIssues, Kind: model.KindNumber, Merge: MergeSum, Aliases: []string{"sae_count", "n_sae", "event_count", "events"}},
			{Name: FieldEventDate, Kind: model.KindDate, Merge: MergeLatest, Aliases: []string{"sae_event_date", "event_date", "onset_date", "event_onset_date"}},
			{Name: FieldReportedDate, Kind: model.KindDate, Merge: MergeLatest, Aliases: []string{"sae_reported_date", "reported_date", "report_date", "date_reported"}},
		},
		finalize: finalizeSAE,
	},

	model.CategoryCoding: {
		Category:       model.CategoryCoding,
		SubjectAliases: subjectAliases,
		SiteAliases:    siteAliases,
		StudyAliases:   studyAliases,
		Fields:         nil, // all fields derived per row
		finalize:       finalizeCoding,
	},

	model.CategoryEDRR: {
		Category:       model.CategoryEDRR,
		SubjectAliases: subjectAliases,
		SiteAliases:    siteAliases,
		StudyAliases:   studyAliases,
		Fields: []FieldSpec{
			{Name: FieldOpenIssues, Kind: model.KindNumber, Merge: MergeSum, Aliases: []string{
				"total_open_issue_count_per_subject", "open_issue_count", "open_issues", "issue_count",
			}},
		},
		finalize: func(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
			// No resolvable count column: the compiled report carried no
			// numeric issue count, so the row contributes zero open issues.
			if _, ok := fields[FieldOpenIssues]; !ok {
				fields[FieldOpenIssues] = model.NumberValue(0)
			}
		},
	},
}

// SchemaFor returns the canonical schema for a category, or nil.
func SchemaFor(c model.Category) *CategorySchema {
	return schemas[c]
}

func finalizeCPID(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
	// Derive total queries from the per-role breakdown when absent.
	if _, ok := fields[FieldTotalQueries]; !ok {
		var sum float64
		var found bool
		for _, col := range queryBreakdownCols {
			if orig, ok := cols[col]; ok {
				if v, ok := parseNumber(row[orig]); ok {
					sum += v
					found = true
				}
			}
		}
		if found {
			fields[FieldTotalQueries] = model.NumberValue(sum)
		}
	}
	// Open queries fall back to the total when not reported separately.
	if _, ok := fields[FieldOpenQueries]; !ok {
		if total, ok := fields[FieldTotalQueries]; ok {
			fields[FieldOpenQueries] = total
		}
	}
}

func finalizeSAE(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
	// A row with no explicit event count is one SAE discrepancy.
	if _, ok := fields[FieldSAEIssues]; !ok {
		fields[FieldSAEIssues] = model.NumberValue(1)
	}
	pending := 0.0
	if orig, ok := cols["action_status"]; ok {
		if containsFold(row[orig], "pending") {
			pending = 1
		}
	}
	fields[FieldPendingActions] = model.NumberValue(pending)
}

func finalizeCoding(row model.RawRow, cols map[string]string, fields map[string]model.Value) {
	fields[FieldCodingTerms] = model.NumberValue(1)

	requires := 1.0
	if orig, ok := cols["require_coding"]; ok {
		if !parseBoolYN(row[orig]) {
			requires = 0
		}
	}
	fields[FieldRequiresCoding] = model.NumberValue(requires)

	uncoded := 0.0
	if orig, ok := cols["coding_status"]; ok {
		if containsFold(row[orig], "uncoded") {
			uncoded = 1
		}
	}
	fields[FieldUncodedTerms] = model.NumberValue(uncoded)
}
