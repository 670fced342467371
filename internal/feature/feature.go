// Package feature derives per-subject quantitative features from the
// reconciled canonical fields. Every feature is a pure function of one
// category's fields; missing operands yield an undefined feature, never a
// fabricated zero.
package feature

import (
	"fmt"
	"time"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/normalize"
)

// Aggregate computes the declared feature set for one subject record and
// returns any data-integrity warnings encountered. The record's Features
// map is populated in place; a feature absent from the map is undefined.
func Aggregate(rec *model.SubjectRecord) []model.Warning {
	rec.Features = make(map[string]model.Feature)
	var warnings []model.Warning

	if rec.Present[model.CategoryCPIDMetrics] {
		aggregateCPID(rec)
	}
	if rec.Present[model.CategoryVisitProjection] {
		set(rec, model.FeatMissingVisits, model.CategoryVisitProjection, num(rec, model.CategoryVisitProjection, normalize.FieldMissingVisits))
		set(rec, model.FeatVisitDaysMax, model.CategoryVisitProjection, num(rec, model.CategoryVisitProjection, normalize.FieldDaysOutstanding))
	}
	if rec.Present[model.CategoryMissingPages] {
		aggregateMissingPages(rec)
	}
	if rec.Present[model.CategorySAE] {
		warnings = append(warnings, aggregateSAE(rec)...)
	}
	if rec.Present[model.CategoryCoding] {
		aggregateCoding(rec)
	}
	if rec.Present[model.CategoryEDRR] {
		set(rec, model.FeatOpenEDRRIssues, model.CategoryEDRR, num(rec, model.CategoryEDRR, normalize.FieldOpenIssues))
	}

	return warnings
}

func aggregateCPID(rec *model.SubjectRecord) {
	cat := model.CategoryCPIDMetrics
	set(rec, model.FeatOpenQueries, cat, num(rec, cat, normalize.FieldOpenQueries))
	set(rec, model.FeatTotalQueries, cat, num(rec, cat, normalize.FieldTotalQueries))
	set(rec, model.FeatNonconformantPages, cat, num(rec, cat, normalize.FieldNonconformant))

	total := num(rec, cat, normalize.FieldPagesEntered)
	set(rec, model.FeatCRFsTotal, cat, total)

	// CRF rates are undefined on a zero or missing page denominator.
	set(rec, model.FeatPctCRFsVerified, cat, ratio(num(rec, cat, normalize.FieldFormsVerified), total))
	set(rec, model.FeatPctCRFsSigned, cat, ratio(num(rec, cat, normalize.FieldCRFsSigned), total))
	set(rec, model.FeatPctCRFsOverdue, cat, ratio(num(rec, cat, normalize.FieldCRFsOverdue), total))
}

func aggregateMissingPages(rec *model.SubjectRecord) {
	cat := model.CategoryMissingPages
	missing := num(rec, cat, normalize.FieldMissingPages)
	set(rec, model.FeatMissingPages, cat, missing)
	set(rec, model.FeatPageDaysMax, cat, num(rec, cat, normalize.FieldDaysMissing))
	set(rec, model.FeatMissingPageRate, cat, ratio(missing, num(rec, cat, normalize.FieldExpectedPages)))
}

func aggregateSAE(rec *model.SubjectRecord) []model.Warning {
	cat := model.CategorySAE
	set(rec, model.FeatSAEIssues, cat, num(rec, cat, normalize.FieldSAEIssues))
	set(rec, model.FeatSAEPending, cat, num(rec, cat, normalize.FieldPendingActions))

	event, eventOK := date(rec, cat, normalize.FieldEventDate)
	reported, reportedOK := date(rec, cat, normalize.FieldReportedDate)
	if !eventOK || !reportedOK {
		return nil
	}

	lag := reported.Sub(event).Hours() / 24
	var warnings []model.Warning
	if lag < 0 {
		// Reported before the event happened: the clamped value feeds
		// scoring, the anomaly stays on record for audit.
		warnings = append(warnings, model.Warning{
			Kind:      model.WarnNegativeLag,
			StudyID:   rec.StudyID,
			SiteID:    rec.SiteID,
			SubjectID: rec.SubjectID,
			Category:  cat,
			Detail:    fmt.Sprintf("SAE reported %.0f days before event date", -lag),
		})
		lag = 0
	}
	set(rec, model.FeatSAELagDays, cat, operand{lag, true})
	return warnings
}

func aggregateCoding(rec *model.SubjectRecord) {
	cat := model.CategoryCoding
	terms := num(rec, cat, normalize.FieldCodingTerms)
	uncoded := num(rec, cat, normalize.FieldUncodedTerms)
	set(rec, model.FeatCodingTerms, cat, terms)
	set(rec, model.FeatUncodedTerms, cat, uncoded)
	set(rec, model.FeatCodingErrorRate, cat, ratio(uncoded, terms))
}

// operand is an intermediate tri-state numeric value.
type operand struct {
	value   float64
	defined bool
}

// num reads a canonical numeric field as an operand.
func num(rec *model.SubjectRecord, cat model.Category, field string) operand {
	v, ok := rec.Fields[cat][field]
	if !ok || v.Kind != model.KindNumber {
		return operand{}
	}
	return operand{v.Num, true}
}

// date reads a canonical date field.
func date(rec *model.SubjectRecord, cat model.Category, field string) (time.Time, bool) {
	v, ok := rec.Fields[cat][field]
	if !ok || v.Kind != model.KindDate {
		return time.Time{}, false
	}
	return v.Date, true
}

// ratio divides two operands, clamped to [0,1]. Undefined operands or a
// zero denominator yield undefined, never zero and never a panic.
func ratio(nom, den operand) operand {
	if !nom.defined || !den.defined || den.value == 0 {
		return operand{}
	}
	r := nom.value / den.value
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return operand{r, true}
}

// set records a feature when its operand is defined.
func set(rec *model.SubjectRecord, name string, source model.Category, op operand) {
	if !op.defined {
		return
	}
	rec.Features[name] = model.Feature{Name: name, Source: source, Value: op.value}
}
