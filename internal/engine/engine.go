// Package engine runs the full build pipeline: normalize each study's
// raw tables, reconcile subjects, derive features, score, roll up, and
// assemble the versioned snapshot. Studies are independent and processed
// in parallel; assembly order is deterministic regardless of scheduling.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trialops/dqi-engine/internal/feature"
	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/normalize"
	"github.com/trialops/dqi-engine/internal/reconcile"
	"github.com/trialops/dqi-engine/internal/rollup"
	"github.com/trialops/dqi-engine/internal/scorer"
	"github.com/trialops/dqi-engine/internal/snapshot"
)

// Engine builds snapshots from study inputs.
type Engine struct {
	scorer  *scorer.Scorer
	workers int
}

// New creates an engine. workers caps the number of studies processed
// concurrently; values below 1 mean no limit.
func New(sc *scorer.Scorer, workers int) *Engine {
	return &Engine{scorer: sc, workers: workers}
}

// studyResult is the complete build output for one study.
type studyResult struct {
	subjects []model.SubjectRecord
	sites    []model.SiteRecord
	study    model.StudyRecord
	warnings []model.Warning
}

// Build processes every study input and assembles a snapshot. The
// fingerprint is computed over sources so an unchanged raw-data root can
// be detected without rebuilding.
func (e *Engine) Build(ctx context.Context, inputs []model.StudyInput, sources []model.SourceFile) (*model.Snapshot, error) {
	results := make([]*studyResult, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}
	for i, input := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "engine: build cancelled")
			}
			res, err := e.buildStudy(input)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].study.StudyID < results[j].study.StudyID })

	snap := &model.Snapshot{
		Manifest: model.Manifest{
			BuildID:       uuid.NewString(),
			Fingerprint:   snapshot.Fingerprint(sources),
			ConfigVersion: e.scorer.Config().Version,
			BuiltAt:       time.Now().UTC(),
		},
	}
	for _, res := range results {
		snap.Subjects = append(snap.Subjects, res.subjects...)
		snap.Sites = append(snap.Sites, res.sites...)
		snap.Studies = append(snap.Studies, res.study)
		snap.Warnings = append(snap.Warnings, res.warnings...)
	}

	zap.L().Info("engine: snapshot built",
		zap.String("build_id", snap.Manifest.BuildID),
		zap.String("fingerprint", snap.Manifest.Fingerprint[:12]),
		zap.Int("studies", len(snap.Studies)),
		zap.Int("subjects", len(snap.Subjects)),
		zap.Int("warnings", len(snap.Warnings)),
	)
	return snap, nil
}

// buildStudy runs the per-study pipeline. A category whose table fails
// schema resolution is treated as absent for the whole study and
// recorded as a warning; it never contributes partial data.
func (e *Engine) buildStudy(input model.StudyInput) (*studyResult, error) {
	res := &studyResult{}

	var records []model.NormalizedRecord
	for _, cat := range model.Categories {
		table, ok := input.Tables[cat]
		if !ok {
			continue
		}
		recs, warns, err := normalize.Normalize(table, input.StudyID)
		if err != nil {
			var mismatch *normalize.SchemaMismatchError
			if eris.As(err, &mismatch) {
				zap.L().Warn("engine: category dropped on schema mismatch",
					zap.String("study", input.StudyID),
					zap.String("category", string(cat)),
					zap.String("missing", mismatch.Missing),
				)
				res.warnings = append(res.warnings, model.Warning{
					Kind:     model.WarnCategoryMissing,
					StudyID:  input.StudyID,
					Category: cat,
					Detail:   mismatch.Error(),
				})
				continue
			}
			return nil, eris.Wrapf(err, "engine: normalize study %s category %s", input.StudyID, cat)
		}
		records = append(records, recs...)
		res.warnings = append(res.warnings, warns...)
	}

	merged := reconcile.Reconcile(input.StudyID, records)
	res.warnings = append(res.warnings, merged.Warnings...)

	for _, rec := range merged.Subjects {
		res.warnings = append(res.warnings, feature.Aggregate(rec)...)
		e.scorer.Score(rec)
		res.subjects = append(res.subjects, *rec)
	}

	res.sites = rollup.Sites(input.StudyID, res.subjects, merged.SiteOnly)
	res.study = rollup.Study(input.StudyID, res.subjects, res.sites, res.warnings)
	return res, nil
}

// NeedsBuild reports whether a stored manifest is stale relative to the
// current source fingerprint and scoring config version. A nil manifest
// always needs a build.
func NeedsBuild(m *model.Manifest, fingerprint, configVersion string) bool {
	if m == nil {
		return true
	}
	return m.Fingerprint != fingerprint || m.ConfigVersion != configVersion
}
