// Package scorer maps a subject's features to DQI component sub-scores,
// the composite DQI, and the clean-patient flag. Scoring is deterministic:
// identical records and config produce bit-identical results.
package scorer

import (
	"math"

	"github.com/trialops/dqi-engine/internal/model"
)

// Scorer computes DQI components and composites under one Config.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Config returns the scoring configuration in use.
func (s *Scorer) Config() Config { return s.cfg }

// Score fills in the record's Components, DQI, Band, and CleanPatient.
// Undefined components are excluded from the weighted average with the
// remaining weights renormalized; a subject with no defined component gets
// a null DQI rather than zero.
func (s *Scorer) Score(rec *model.SubjectRecord) {
	rec.Components = s.components(rec)

	var weightSum, total float64
	for _, name := range model.ComponentColumns {
		score, defined := rec.Components[name]
		if !defined {
			continue
		}
		w := s.cfg.Weights[name]
		weightSum += w
		total += w * score
	}

	if weightSum > 0 {
		dqi := total / weightSum
		rec.DQI = &dqi
		rec.Band = s.band(dqi)
	}

	rec.CleanPatient = s.cleanFlag(rec)
}

// components evaluates every configured sub-score. A component missing
// from the returned map is undefined for this subject.
func (s *Scorer) components(rec *model.SubjectRecord) map[string]float64 {
	comps := make(map[string]float64, len(model.ComponentColumns))
	t := s.cfg.Thresholds

	// Completeness is defined for every subject: the share of source
	// categories that supplied data.
	comps[model.CompCompleteness] = 100 * float64(rec.CategoriesPresent()) / float64(len(model.Categories))

	// Missing items: outstanding visits plus missing pages, inverse-rated
	// against the missing-items threshold. Defined when either source
	// feature is.
	if v, ok := sumDefined(rec, model.FeatMissingVisits, model.FeatMissingPages); ok {
		comps[model.CompMissingItems] = invRate(v, t.MissingItems)
	}

	if f, ok := rec.Features[model.FeatOpenQueries]; ok {
		comps[model.CompQueryBurden] = invRate(f.Value, t.OpenQueries)
	}

	if v, ok := verification(rec); ok {
		comps[model.CompVerification] = v
	}

	if f, ok := rec.Features[model.FeatUncodedTerms]; ok {
		comps[model.CompCoding] = invRate(f.Value, t.UncodedTerms)
	}

	if f, ok := rec.Features[model.FeatSAEPending]; ok {
		score := invRate(f.Value, t.PendingSAE)
		if lag, ok := rec.Features[model.FeatSAELagDays]; ok && t.SAELagDays > 0 {
			score = math.Min(score, 100*clip01(1-lag.Value/t.SAELagDays))
		}
		comps[model.CompSafety] = score
	}

	return comps
}

// verification blends the signed/verified/overdue CRF rates with fixed
// sub-weights, renormalized over whichever rates are defined.
func verification(rec *model.SubjectRecord) (float64, bool) {
	type term struct {
		feat   string
		weight float64
		invert bool
	}
	terms := []term{
		{model.FeatPctCRFsSigned, 0.4, false},
		{model.FeatPctCRFsVerified, 0.4, false},
		{model.FeatPctCRFsOverdue, 0.2, true},
	}

	var total, weightSum float64
	for _, tm := range terms {
		f, ok := rec.Features[tm.feat]
		if !ok {
			continue
		}
		v := clip01(f.Value)
		if tm.invert {
			v = 1 - v
		}
		total += tm.weight * v
		weightSum += tm.weight
	}
	if weightSum == 0 {
		return 0, false
	}
	return 100 * total / weightSum, true
}

// cleanFlag derives the clean-patient status. A site-conflicted subject
// is null (ineligible, not merely unclean); otherwise the flag requires
// every critical component defined at or above its threshold and the
// composite at or above the floor.
func (s *Scorer) cleanFlag(rec *model.SubjectRecord) *bool {
	if rec.SiteConflict {
		return nil
	}

	clean := true
	for _, name := range s.cfg.Critical {
		score, defined := rec.Components[name]
		if !defined || score < s.cfg.criticalThreshold(name) {
			clean = false
			break
		}
	}
	if clean {
		if rec.DQI == nil || *rec.DQI < s.cfg.CleanFloor {
			clean = false
		}
	}
	return &clean
}

// band maps a composite DQI onto its traffic-light band.
func (s *Scorer) band(dqi float64) string {
	switch {
	case dqi < s.cfg.Bands.RedBelow:
		return "Red"
	case dqi < s.cfg.Bands.AmberBelow:
		return "Amber"
	default:
		return "Green"
	}
}

// invRate is the bounded inverse rate on the 0-100 scale: 100 at zero
// drivers, 0 at or beyond the threshold.
func invRate(value, threshold float64) float64 {
	if threshold <= 0 {
		if value > 0 {
			return 0
		}
		return 100
	}
	return 100 * (1 - clip01(value/threshold))
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sumDefined adds the named features that are defined; ok is false when
// none are.
func sumDefined(rec *model.SubjectRecord, names ...string) (float64, bool) {
	var sum float64
	var any bool
	for _, name := range names {
		if f, ok := rec.Features[name]; ok {
			sum += f.Value
			any = true
		}
	}
	return sum, any
}
