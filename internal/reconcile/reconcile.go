// Package reconcile merges normalized per-category records into one
// record per (study, subject), resolving identifier disagreements and
// duplicate rows.
package reconcile

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/normalize"
)

// Result is the reconciler's output for one study.
type Result struct {
	// Subjects has exactly one entry per subject_id observed anywhere in
	// the study's inputs, sorted by subject id.
	Subjects []*model.SubjectRecord

	// SiteOnly holds records with no subject identifier; they feed
	// site-level coverage only.
	SiteOnly []model.NormalizedRecord

	Warnings []model.Warning
}

// Reconcile groups a study's normalized records by subject and merges
// each group into a single SubjectRecord. Output order is keyed, never
// positional, so results are invariant to input row order.
func Reconcile(studyID string, records []model.NormalizedRecord) *Result {
	res := &Result{}

	groups := make(map[string][]model.NormalizedRecord)
	for _, rec := range records {
		if rec.SubjectID == "" {
			res.SiteOnly = append(res.SiteOnly, rec)
			continue
		}
		groups[rec.SubjectID] = append(groups[rec.SubjectID], rec)
	}

	subjectIDs := make([]string, 0, len(groups))
	for id := range groups {
		subjectIDs = append(subjectIDs, id)
	}
	sort.Strings(subjectIDs)

	for _, id := range subjectIDs {
		rec, warns := mergeSubject(studyID, id, groups[id])
		res.Subjects = append(res.Subjects, rec)
		res.Warnings = append(res.Warnings, warns...)
	}

	zap.L().Debug("reconcile: study merged",
		zap.String("study", studyID),
		zap.Int("subjects", len(res.Subjects)),
		zap.Int("site_only_rows", len(res.SiteOnly)),
	)

	return res
}

// mergeSubject combines all category records for one subject.
func mergeSubject(studyID, subjectID string, recs []model.NormalizedRecord) (*model.SubjectRecord, []model.Warning) {
	// Stable order: category precedence first, then input order within a
	// category. Last-writer-wins fields then resolve deterministically.
	sort.SliceStable(recs, func(i, j int) bool {
		return model.PrecedenceRank(recs[i].Category) < model.PrecedenceRank(recs[j].Category)
	})

	out := &model.SubjectRecord{
		StudyID:   studyID,
		SubjectID: subjectID,
		Present:   make(map[model.Category]bool),
		Fields:    make(map[model.Category]map[string]model.Value),
	}

	siteID, conflict := resolveSite(recs)
	out.SiteID = siteID
	out.SiteConflict = conflict

	var warnings []model.Warning
	if conflict {
		warnings = append(warnings, model.Warning{
			Kind:      model.WarnSiteConflict,
			StudyID:   studyID,
			SiteID:    siteID,
			SubjectID: subjectID,
			Detail:    fmt.Sprintf("site_id disagrees across categories, kept %q", siteID),
		})
	}

	for _, rec := range recs {
		out.Present[rec.Category] = true
		merged := out.Fields[rec.Category]
		if merged == nil {
			merged = make(map[string]model.Value, len(rec.Fields))
			out.Fields[rec.Category] = merged
		}
		mergeFields(rec.Category, merged, rec.Fields)
	}

	return out, warnings
}

// resolveSite picks the subject's site by majority vote over non-empty
// site values; ties fall to the value seen first in category precedence
// order. The second return reports whether distinct values disagreed.
func resolveSite(recs []model.NormalizedRecord) (string, bool) {
	votes := make(map[string]int)
	var order []string // first-seen order over precedence-sorted records
	for _, rec := range recs {
		if rec.SiteID == "" {
			continue
		}
		if _, seen := votes[rec.SiteID]; !seen {
			order = append(order, rec.SiteID)
		}
		votes[rec.SiteID]++
	}
	if len(votes) == 0 {
		return "", false
	}

	best := order[0]
	for _, site := range order {
		if votes[site] > votes[best] {
			best = site
		}
	}
	return best, len(votes) > 1
}

// mergeFields folds src into dst under each field's declared policy:
// accumulation fields sum, worst-case durations keep their max, state
// fields keep the last value written.
func mergeFields(cat model.Category, dst, src map[string]model.Value) {
	// Deterministic field iteration.
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		val := src[name]
		cur, exists := dst[name]
		if !exists {
			dst[name] = val
			continue
		}
		switch normalize.MergePolicyFor(cat, name) {
		case normalize.MergeSum:
			if cur.Kind == model.KindNumber && val.Kind == model.KindNumber {
				cur.Num += val.Num
				dst[name] = cur
			} else {
				dst[name] = val
			}
		case normalize.MergeMax:
			if cur.Kind == model.KindNumber && val.Kind == model.KindNumber {
				if val.Num > cur.Num {
					dst[name] = val
				}
			} else {
				dst[name] = val
			}
		default: // MergeLatest
			dst[name] = val
		}
	}
}
