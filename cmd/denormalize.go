package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/osmingest-go/internal/pipeline"
)

var denormalizeCmd = &cobra.Command{
	Use:     "denormalize <input.osm.pbf|->",
	Aliases: []string{"pbf"},
	Short:   "Pass 1: resolve an OSM extract into the id-indexed stores",
	Long: `Read nodes, then ways, then relations and write every valid entity to its
store under <outdir>/store (or --store-dir):

  nodes/      node coordinates and tags
  ways/       resolved way geometry and bounding box
  relations/  member points, lines and bounding boxes

The stores are finalized at the end, also after a failed run, so that every
record written so far can be read back.`,
	Args: cobra.ExactArgs(1),
	Run:  runDenormalize,
}

func init() {
	rootCmd.AddCommand(denormalizeCmd)
	addPass1Flags(denormalizeCmd)
}

func runDenormalize(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	if err := cfg.ValidatePass1(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res := pipeline.NewCoordinator(cfg).RunDenormalize(ctx)
	finish(res, "denormalize")
}
