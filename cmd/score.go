package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/trialops/dqi-engine/internal/model"
)

var (
	scoreStudy  string
	scoreSite   string
	scoreFormat string
	scoreOutput string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "List subject DQI scores from the stored snapshot",
	Long: `Reads the stored snapshot and prints per-subject DQI scores,
bands, and clean-patient flags for one study, optionally filtered to a
single site.

Examples:
  # All subjects of study 12
  score --study 12

  # One site, exported as CSV
  score --study 12 --site 1001 --format csv --output site1001.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		snap, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if snap.Study(scoreStudy) == nil {
			return eris.Errorf("study %s not in snapshot", scoreStudy)
		}

		var subjects []model.SubjectRecord
		for _, rec := range snap.SubjectsForStudy(scoreStudy) {
			if scoreSite != "" && rec.SiteID != scoreSite {
				continue
			}
			subjects = append(subjects, rec)
		}

		if scoreFormat == "csv" {
			return writeScoresCSV(subjects, scoreOutput)
		}
		return writeScoresTable(subjects)
	},
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreStudy, "study", "", "study id (required)")
	f.StringVar(&scoreSite, "site", "", "restrict to one site id")
	f.StringVar(&scoreFormat, "format", "table", "output format (table or csv)")
	f.StringVar(&scoreOutput, "output", "", "write CSV to this file instead of stdout")
	_ = scoreCmd.MarkFlagRequired("study")
	rootCmd.AddCommand(scoreCmd)
}

func writeScoresTable(subjects []model.SubjectRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tSITE\tDQI\tBAND\tCLEAN\tCATEGORIES\tCONFLICT")
	for _, rec := range subjects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%v\n",
			rec.SubjectID, rec.SiteID,
			fmtOptional(rec.DQI, "%.1f"),
			orDash(rec.Band),
			fmtOptionalBool(rec.CleanPatient),
			rec.CategoriesPresent(), len(model.Categories),
			rec.SiteConflict,
		)
	}
	return w.Flush()
}

func writeScoresCSV(subjects []model.SubjectRecord, path string) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	header := []string{"study_id", "site_id", "subject_id", "dqi", "band", "clean_patient", "site_conflict"}
	header = append(header, model.FeatureColumns...)
	header = append(header, model.ComponentColumns...)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "write csv header")
	}

	for _, rec := range subjects {
		row := []string{
			rec.StudyID, rec.SiteID, rec.SubjectID,
			csvOptional(rec.DQI), rec.Band, csvOptionalBool(rec.CleanPatient),
			fmt.Sprintf("%v", rec.SiteConflict),
		}
		for _, name := range model.FeatureColumns {
			if f, ok := rec.Features[name]; ok {
				row = append(row, fmt.Sprintf("%g", f.Value))
			} else {
				row = append(row, "")
			}
		}
		for _, name := range model.ComponentColumns {
			if v, ok := rec.Components[name]; ok {
				row = append(row, fmt.Sprintf("%g", v))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "write csv row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "flush csv")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtOptionalBool(v *bool) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%v", *v)
}

func csvOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}

func csvOptionalBool(v *bool) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", *v)
}
