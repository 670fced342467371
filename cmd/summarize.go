package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/pkg/anthropic"
	"github.com/trialops/dqi-engine/pkg/narrative"
)

var (
	summarizeStudy string
	summarizeSite  string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate an operational narrative for a study or site",
	Long: `Generates a short action-oriented narrative from the stored
snapshot's aggregates. With --site, produces risk classification and next
actions for that site instead of the study-level summary.

Requires an Anthropic API key (DQI_NARRATIVE_KEY or narrative.key).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Narrative.Key == "" {
			return eris.New("narrative.key is not configured")
		}
		generator := narrative.New(anthropic.NewClient(cfg.Narrative.Key), narrative.Options{
			Model:     cfg.Narrative.Model,
			MaxTokens: cfg.Narrative.MaxTokens,
			RPS:       cfg.Narrative.RPS,
		})

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		snap, err := store.Load(ctx)
		if err != nil {
			return err
		}
		study := snap.Study(summarizeStudy)
		if study == nil {
			return eris.Errorf("study %s not in snapshot", summarizeStudy)
		}

		var text string
		if summarizeSite == "" {
			text, err = generator.StudySummary(ctx, study, snap.SitesForStudy(summarizeStudy))
		} else {
			var site *model.SiteRecord
			for _, rec := range snap.SitesForStudy(summarizeStudy) {
				if rec.SiteID == summarizeSite {
					site = &rec
					break
				}
			}
			if site == nil {
				return eris.Errorf("site %s not in study %s", summarizeSite, summarizeStudy)
			}
			text, err = generator.SiteActions(ctx, site, snap.SubjectsForStudy(summarizeStudy))
		}
		if err != nil {
			return err
		}

		fmt.Println(text)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeStudy, "study", "", "study id (required)")
	summarizeCmd.Flags().StringVar(&summarizeSite, "site", "", "site id for site-level actions")
	_ = summarizeCmd.MarkFlagRequired("study")
	rootCmd.AddCommand(summarizeCmd)
}
