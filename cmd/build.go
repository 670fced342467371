package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/engine"
	"github.com/trialops/dqi-engine/internal/ingest"
	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/scorer"
	"github.com/trialops/dqi-engine/internal/snapshot"
)

var (
	buildRoot    string
	buildRebuild bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a snapshot from the raw-data root",
	Long: `Discovers study folders under the raw-data root, normalizes their
spreadsheets, scores every subject, and atomically replaces the stored
snapshot.

When the source fingerprint and scoring config version match the stored
snapshot, the build is skipped; use --rebuild to force one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		scoringCfg, err := scorer.LoadConfig(cfg.Scoring.ConfigPath)
		if err != nil {
			return err
		}

		root := buildRoot
		if root == "" {
			root = cfg.Ingest.Root
		}

		folders, err := ingest.DiscoverStudies(root)
		if err != nil {
			return err
		}
		if len(folders) == 0 {
			return eris.Errorf("no study folders under %s", root)
		}
		sources, err := ingest.Sources(folders)
		if err != nil {
			return err
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if !buildRebuild {
			manifest, err := store.Manifest(ctx)
			if err != nil {
				return err
			}
			if !engine.NeedsBuild(manifest, snapshot.Fingerprint(sources), scoringCfg.Version) {
				zap.L().Info("snapshot up to date, skipping build",
					zap.String("build_id", manifest.BuildID),
					zap.Time("built_at", manifest.BuiltAt),
				)
				return nil
			}
		}

		inputs := make([]model.StudyInput, 0, len(folders))
		for _, sf := range folders {
			input, err := ingest.LoadStudy(sf)
			if err != nil {
				return err
			}
			inputs = append(inputs, input)
		}

		eng := engine.New(scorer.New(scoringCfg), cfg.Engine.Workers)
		snap, err := eng.Build(ctx, inputs, sources)
		if err != nil {
			return err
		}

		if err := store.Replace(ctx, snap); err != nil {
			return err
		}
		zap.L().Info("snapshot stored", zap.String("build_id", snap.Manifest.BuildID))
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildRoot, "root", "", "raw-data root (overrides config)")
	buildCmd.Flags().BoolVar(&buildRebuild, "rebuild", false, "build even when sources are unchanged")
	rootCmd.AddCommand(buildCmd)
}
