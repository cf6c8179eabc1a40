package cmd

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/pipeline"
	"github.com/wegman-software/osmingest-go/internal/proj"
)

var projectionStr string

var ingestCmd = &cobra.Command{
	Use:   "ingest <input.osm.pbf|->",
	Short: "Run both passes (denormalize → write)",
	Long: `Run the complete two-pass pipeline:

  1. Pass 1: resolve nodes, ways and relations into the id-indexed stores
  2. Pass 2: insert every entity with a bounding box into the spatial sink

Use - to read PBF data from standard input. Pass 2 only starts when pass 1
succeeded; per-entity faults are counted and do not fail the run unless
--halt-on-error is set.`,
	Args: cobra.ExactArgs(1),
	Run:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	addPass1Flags(ingestCmd)
	addPass2Flags(ingestCmd)
}

// applyProjection parses --projection into the configuration.
func applyProjection() {
	srid, err := proj.ParseSRID(projectionStr)
	if err != nil {
		exitWithError("invalid projection", err)
	}
	cfg.Projection = srid
}

func runIngest(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	applyProjection()

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	logger.Get().Info("Starting osmingest",
		zap.String("input", cfg.InputFile),
		zap.String("store", cfg.StorePath()),
		zap.String("sink", cfg.Sink),
		zap.Int("workers", cfg.Workers),
		zap.String("payload", cfg.Payload),
		zap.Int("projection", cfg.Projection))

	ctx, cancel := signalContext()
	defer cancel()

	res := pipeline.NewCoordinator(cfg).Run(ctx)
	finish(res, "ingest")
}
