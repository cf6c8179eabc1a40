package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/osmingest-go/internal/pipeline"
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"process"},
	Short:   "Pass 2: index the stored entities in a spatial sink",
	Long: `Scan the finalized stores in ascending id order and insert every entity
with a bounding box into the spatial sink. Inserts are upserts, so running
write twice leaves the same set of entries.`,
	Args: cobra.NoArgs,
	Run:  runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addPass2Flags(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) {
	applyProjection()
	if err := cfg.ValidatePass2(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res := pipeline.NewCoordinator(cfg).RunSpatial(ctx)
	finish(res, "write")
}
