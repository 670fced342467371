package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored snapshot's manifest and per-study summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		manifest, err := store.Manifest(ctx)
		if err != nil {
			return err
		}
		if manifest == nil {
			fmt.Println("No snapshot stored. Run `dqi-engine build` first.")
			return nil
		}

		fmt.Printf("Build:          %s\n", manifest.BuildID)
		fmt.Printf("Built at:       %s\n", manifest.BuiltAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("Fingerprint:    %s\n", manifest.Fingerprint)
		fmt.Printf("Config version: %s\n\n", manifest.ConfigVersion)

		snap, err := store.Load(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STUDY\tSUBJECTS\tSITES\tMEAN DQI\t%CLEAN\tRED\tCONFLICTS\tWARNINGS")
		for _, study := range snap.Studies {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%d\t%d\t%d\n",
				study.StudyID, study.Subjects, study.Sites,
				fmtOptional(study.MeanDQI, "%.1f"),
				fmtOptionalPct(study.PctClean),
				study.RedCount, study.ConflictCount,
				totalWarnings(study.WarningCounts),
			)
		}
		if err := w.Flush(); err != nil {
			zap.L().Warn("status: flush table", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func fmtOptional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func fmtOptionalPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func totalWarnings(counts map[model.WarningKind]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
