// Package rollup aggregates scored subject records to site and study
// level. Aggregates are recomputed fully on every build, never patched
// incrementally.
package rollup

import (
	"sort"

	"github.com/trialops/dqi-engine/internal/model"
)

// Sites groups a study's subjects by site and computes each site's
// aggregates. Site-level-only records (rows with no subject identifier)
// ensure their site appears even when no subject resolved to it.
func Sites(studyID string, subjects []model.SubjectRecord, siteOnly []model.NormalizedRecord) []model.SiteRecord {
	bySite := make(map[string][]model.SubjectRecord)
	for _, rec := range subjects {
		bySite[rec.SiteID] = append(bySite[rec.SiteID], rec)
	}
	for _, rec := range siteOnly {
		if rec.SiteID == "" {
			continue
		}
		if _, ok := bySite[rec.SiteID]; !ok {
			bySite[rec.SiteID] = nil
		}
	}

	siteIDs := make([]string, 0, len(bySite))
	for id := range bySite {
		siteIDs = append(siteIDs, id)
	}
	sort.Strings(siteIDs)

	records := make([]model.SiteRecord, 0, len(siteIDs))
	for _, siteID := range siteIDs {
		group := bySite[siteID]
		site := model.SiteRecord{
			StudyID:  studyID,
			SiteID:   siteID,
			Subjects: len(group),
			Coverage: coverage(group),
		}
		site.MeanDQI = meanDQI(group)
		site.CleanEligible, site.CleanCount, site.PctClean = cleanStats(group)
		site.ConflictCount, site.RedCount = flagCounts(group)
		records = append(records, site)
	}
	return records
}

// Study computes the whole-study aggregate over its subjects and sites.
func Study(studyID string, subjects []model.SubjectRecord, sites []model.SiteRecord, warnings []model.Warning) model.StudyRecord {
	rec := model.StudyRecord{
		StudyID:       studyID,
		Subjects:      len(subjects),
		Sites:         len(sites),
		Coverage:      coverage(subjects),
		WarningCounts: model.CountWarnings(warnings),
	}
	rec.MeanDQI = meanDQI(subjects)
	rec.CleanEligible, rec.CleanCount, rec.PctClean = cleanStats(subjects)
	rec.ConflictCount, rec.RedCount = flagCounts(subjects)
	for _, site := range sites {
		rec.SiteIDs = append(rec.SiteIDs, site.SiteID)
	}
	return rec
}

// coverage returns the fraction of subjects carrying each category.
// An empty group yields zero coverage across the board.
func coverage(subjects []model.SubjectRecord) map[model.Category]float64 {
	cov := make(map[model.Category]float64, len(model.Categories))
	for _, c := range model.Categories {
		cov[c] = 0
	}
	if len(subjects) == 0 {
		return cov
	}
	for _, rec := range subjects {
		for _, c := range model.Categories {
			if rec.Present[c] {
				cov[c]++
			}
		}
	}
	n := float64(len(subjects))
	for _, c := range model.Categories {
		cov[c] /= n
	}
	return cov
}

// meanDQI averages the defined DQIs; nil when no subject has one.
func meanDQI(subjects []model.SubjectRecord) *float64 {
	var sum float64
	var n int
	for _, rec := range subjects {
		if rec.DQI != nil {
			sum += *rec.DQI
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// cleanStats counts the clean-eligible pool (conflicted subjects carry a
// null flag and are excluded from the denominator) and the clean share.
func cleanStats(subjects []model.SubjectRecord) (eligible, clean int, pct *float64) {
	for _, rec := range subjects {
		if rec.CleanPatient == nil {
			continue
		}
		eligible++
		if *rec.CleanPatient {
			clean++
		}
	}
	if eligible == 0 {
		return 0, 0, nil
	}
	p := float64(clean) / float64(eligible)
	return eligible, clean, &p
}

func flagCounts(subjects []model.SubjectRecord) (conflicts, red int) {
	for _, rec := range subjects {
		if rec.SiteConflict {
			conflicts++
		}
		if rec.Band == "Red" {
			red++
		}
	}
	return conflicts, red
}
