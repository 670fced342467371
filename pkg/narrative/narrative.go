// Package narrative turns snapshot aggregates into short operational
// write-ups for study teams, using the Anthropic API. Prompts carry only
// aggregate numbers, never subject identifiers.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/pkg/anthropic"
)

const systemPrompt = "You are an operations co-pilot for clinical trial data management. " +
	"Answer with concise, concrete, action-oriented prose. No equations, no code."

// Options configures a Generator.
type Options struct {
	Model     string
	MaxTokens int64
	RPS       float64
}

// Generator produces narratives from snapshot data.
type Generator struct {
	client  anthropic.Client
	limiter *rate.Limiter
	opts    Options
}

// New creates a Generator. RPS bounds the request rate against the API;
// values at or below zero disable limiting.
func New(client anthropic.Client, opts Options) *Generator {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return &Generator{client: client, limiter: limiter, opts: opts}
}

// siteBrief is the compact per-site context embedded in prompts.
type siteBrief struct {
	SiteID   string   `json:"site_id"`
	Subjects int      `json:"n_subjects"`
	MeanDQI  *float64 `json:"mean_dqi"`
	PctClean *float64 `json:"pct_clean"`
	Red      int      `json:"n_red"`
}

// StudySummary writes a short narrative for one study: overall status,
// the most concerning sites, and suggested operational actions.
func (g *Generator) StudySummary(ctx context.Context, study *model.StudyRecord, sites []model.SiteRecord) (string, error) {
	if study == nil || study.Subjects == 0 {
		return "", eris.New("narrative: study has no subjects to summarize")
	}

	worst := worstSites(sites, 5)
	worstJSON, err := json.Marshal(worst)
	if err != nil {
		return "", eris.Wrap(err, "narrative: marshal site context")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary metrics for Study %s:\n\n", study.StudyID)
	fmt.Fprintf(&b, "- Subjects: %d across %d sites\n", study.Subjects, study.Sites)
	fmt.Fprintf(&b, "- Mean Data Quality Index (DQI, 0-100): %s\n", fmtScore(study.MeanDQI))
	fmt.Fprintf(&b, "- Percent clean patients: %s\n", fmtPct(study.PctClean))
	fmt.Fprintf(&b, "- Red-band subjects: %d\n", study.RedCount)
	fmt.Fprintf(&b, "- Subjects with unresolved site conflicts: %d\n\n", study.ConflictCount)
	fmt.Fprintf(&b, "The lowest-DQI sites (JSON):\n%s\n\n", worstJSON)
	b.WriteString("Write a SHORT, action-oriented narrative for the study team:\n" +
		"- Start with one sentence on overall data-quality status.\n" +
		"- Then 4-6 bullet points.\n" +
		"- Highlight which sites or patterns are most concerning.\n" +
		"- Propose concrete operational actions such as query resolution, SDV focus, or coding clean-up.\n")

	return g.complete(ctx, b.String(), "study_summary")
}

// SiteActions writes risk classification and next actions for one site,
// grounded in its aggregate issue counts.
func (g *Generator) SiteActions(ctx context.Context, site *model.SiteRecord, subjects []model.SubjectRecord) (string, error) {
	if site == nil {
		return "", eris.New("narrative: site not found")
	}

	totals := issueTotals(subjects, site.SiteID)
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return "", eris.Wrap(err, "narrative: marshal issue totals")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Aggregated data for Study %s, Site %s:\n\n", site.StudyID, site.SiteID)
	fmt.Fprintf(&b, "- Subjects: %d\n", site.Subjects)
	fmt.Fprintf(&b, "- Mean DQI (0-100): %s\n", fmtScore(site.MeanDQI))
	fmt.Fprintf(&b, "- Red-band subjects: %d\n\n", site.RedCount)
	fmt.Fprintf(&b, "Aggregate issue counts for this site (JSON):\n%s\n\n", totalsJSON)
	b.WriteString("Using this information:\n" +
		"1. Briefly classify this site's risk level (Low/Medium/High) and why.\n" +
		"2. Suggest 3-6 specific next actions for the site CRA or data manager.\n" +
		"3. Be concrete but concise, at most 10 sentences total.\n")

	return g.complete(ctx, b.String(), "site_actions")
}

func (g *Generator) complete(ctx context.Context, prompt, phase string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "narrative: rate limit wait")
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.opts.Model,
		MaxTokens: g.opts.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(g.opts.Model, phase)

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", eris.New("narrative: empty model response")
	}
	return text, nil
}

// worstSites returns up to n sites ordered by ascending mean DQI, sites
// without a DQI last.
func worstSites(sites []model.SiteRecord, n int) []siteBrief {
	sorted := make([]model.SiteRecord, len(sites))
	copy(sorted, sites)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].MeanDQI, sorted[j].MeanDQI
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]siteBrief, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, siteBrief{
			SiteID:   s.SiteID,
			Subjects: s.Subjects,
			MeanDQI:  s.MeanDQI,
			PctClean: s.PctClean,
			Red:      s.RedCount,
		})
	}
	return out
}

// issueTotals sums the count-like features across a site's subjects.
// Undefined features simply do not contribute.
func issueTotals(subjects []model.SubjectRecord, siteID string) map[string]float64 {
	counted := []string{
		model.FeatMissingVisits,
		model.FeatMissingPages,
		model.FeatOpenQueries,
		model.FeatUncodedTerms,
		model.FeatOpenEDRRIssues,
		model.FeatSAEPending,
	}
	totals := make(map[string]float64, len(counted))
	for _, rec := range subjects {
		if rec.SiteID != siteID {
			continue
		}
		for _, name := range counted {
			if f, ok := rec.Features[name]; ok {
				totals[name] += f.Value
			}
		}
	}
	return totals
}

func fmtScore(v *float64) string {
	if v == nil {
		return "not computable"
	}
	return fmt.Sprintf("%.1f", *v)
}

func fmtPct(v *float64) string {
	if v == nil {
		return "not computable"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
