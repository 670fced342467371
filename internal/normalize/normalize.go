// Package normalize maps raw, heterogeneously-shaped study tables onto
// canonical per-category schemas. All downstream stages operate on the
// typed NormalizedRecord fields produced here; no business logic ever
// guesses column names again.
package normalize

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
)

// SchemaMismatchError reports that a required key column could not be
// resolved for a whole source table. The caller treats the category as
// wholly absent for that study.
type SchemaMismatchError struct {
	Category model.Category
	Missing  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("normalize: %s: required key column %q not resolvable", e.Category, e.Missing)
}

// Normalize maps one raw table onto its category's canonical schema.
// Rows whose subject key fails coercion are dropped with a warning; rows
// with a blank subject cell are kept with an empty SubjectID and feed
// site-level aggregates only. Non-key coercion failures degrade the single
// field to undefined.
func Normalize(table model.RawSourceTable, studyID string) ([]model.NormalizedRecord, []model.Warning, error) {
	schema := SchemaFor(table.Category)
	if schema == nil {
		return nil, nil, fmt.Errorf("normalize: unknown category %q", table.Category)
	}
	if len(table.Rows) == 0 {
		return nil, nil, nil
	}

	cols := columnSet(table.Rows[0])

	subjCol, subjOK := resolveColumn(cols, schema.SubjectAliases)
	if !subjOK && schema.SubjectRequired {
		return nil, nil, &SchemaMismatchError{Category: table.Category, Missing: "subject_id"}
	}
	siteCol, siteOK := resolveColumn(cols, schema.SiteAliases)
	studyCol, studyOK := resolveColumn(cols, schema.StudyAliases)

	records := make([]model.NormalizedRecord, 0, len(table.Rows))
	var warnings []model.Warning

	for _, row := range table.Rows {
		subjectID := ""
		if subjOK {
			cell := strings.TrimSpace(row[subjCol])
			switch {
			case cell == "":
				// site-level aggregate row
			case isNullCell(cell):
				warnings = append(warnings, model.Warning{
					Kind:     model.WarnRowCoercion,
					StudyID:  studyID,
					Category: table.Category,
					Detail:   fmt.Sprintf("unparseable subject id %q", cell),
				})
				continue
			default:
				subjectID = cell
			}
		}

		siteID := ""
		if siteOK {
			if cell := strings.TrimSpace(row[siteCol]); !isNullCell(cell) {
				siteID = cell
			}
		}

		recStudy := studyID
		if studyOK {
			if cell := strings.TrimSpace(row[studyCol]); !isNullCell(cell) && cell != "" {
				recStudy = cell
			}
		}

		fields := make(map[string]model.Value, len(schema.Fields)+2)
		for _, spec := range schema.Fields {
			orig, ok := resolveColumn(cols, spec.Aliases)
			if !ok {
				continue
			}
			if v, ok := coerce(row[orig], spec.Kind); ok {
				fields[spec.Name] = v
			}
		}
		if schema.finalize != nil {
			schema.finalize(row, cols, fields)
		}

		records = append(records, model.NormalizedRecord{
			Category:  table.Category,
			StudyID:   recStudy,
			SiteID:    siteID,
			SubjectID: subjectID,
			Fields:    fields,
		})
	}

	if len(warnings) > 0 {
		zap.L().Debug("normalize: rows dropped",
			zap.String("study", studyID),
			zap.String("category", string(table.Category)),
			zap.Int("dropped", len(warnings)),
		)
	}

	return records, warnings, nil
}

// coerce converts a raw cell into a typed Value. A false return means the
// field is undefined for this row.
func coerce(cell string, kind model.ValueKind) (model.Value, bool) {
	switch kind {
	case model.KindNumber:
		if v, ok := parseNumber(cell); ok {
			return model.NumberValue(v), true
		}
	case model.KindDate:
		if t, ok := parseDate(cell); ok {
			return model.DateValue(t), true
		}
	case model.KindBool:
		if !isNullCell(cell) {
			return model.BoolValue(parseBoolYN(cell)), true
		}
	case model.KindText:
		if s := strings.TrimSpace(cell); s != "" && !isNullCell(s) {
			return model.TextValue(s), true
		}
	}
	return model.Value{}, false
}

// MergePolicyFor returns the declared merge policy for a canonical field
// of a category. Unknown fields merge latest-wins.
func MergePolicyFor(c model.Category, field string) MergePolicy {
	schema := SchemaFor(c)
	if schema == nil {
		return MergeLatest
	}
	for _, spec := range schema.Fields {
		if spec.Name == field {
			return spec.Merge
		}
	}
	// Derived per-row counts accumulate; everything else is state.
	switch field {
	case FieldMissingVisits, FieldMissingPages, FieldSAEIssues,
		FieldPendingActions, FieldCodingTerms, FieldUncodedTerms,
		FieldRequiresCoding, FieldOpenIssues:
		return MergeSum
	}
	return MergeLatest
}
