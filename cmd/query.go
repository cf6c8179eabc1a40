package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"github.com/wegman-software/osmingest-go/internal/config"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/spatial"
)

var (
	queryBBox  string
	queryKind  string
	queryLimit int
)

var queryCmd = &cobra.Command{
	Use:   "query --bbox minlon,minlat,maxlon,maxlat",
	Short: "Search the bolt index by bounding box",
	Long: `Print the entries of the bolt index whose bounding box intersects --bbox
as a GeoJSON feature collection of their bounding boxes.`,
	Args: cobra.NoArgs,
	Run:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVarP(&queryBBox, "bbox", "b", "", "Bounding box: minlon,minlat,maxlon,maxlat")
	queryCmd.Flags().StringVar(&queryKind, "kind", "", "Only entries of this kind (node, way or relation)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum entries to print (0 = all)")
	queryCmd.Flags().IntVar(&cfg.MaxZoom, "max-zoom", cfg.MaxZoom, "Deepest tile zoom the index was built with")
	_ = queryCmd.MarkFlagRequired("bbox")
}

func runQuery(cmd *cobra.Command, args []string) {
	bound, err := config.ParseBBox(queryBBox)
	if err != nil {
		exitWithError("invalid bbox", err)
	}

	var kind middle.Kind
	if queryKind != "" {
		if kind, err = middle.ParseKind(queryKind); err != nil {
			exitWithError("invalid kind", err)
		}
	}

	if err := printMatches(cmd.OutOrStdout(), cfg.IndexFile(), cfg.MaxZoom, bound, kind, queryLimit); err != nil {
		exitWithError("query failed", err)
	}
}

// printMatches writes the index entries intersecting bound as a GeoJSON
// feature collection. kind 0 matches every kind and limit 0 means no limit.
func printMatches(w io.Writer, path string, maxZoom int, bound orb.Bound, kind middle.Kind, limit int) (err error) {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("spatial index not found: %w", err)
	}
	idx, err := spatial.OpenBolt(path, maxZoom)
	if err != nil {
		return fmt.Errorf("failed to open spatial index: %w", err)
	}
	defer func() { err = multierr.Append(err, idx.Close()) }()

	fc := geojson.NewFeatureCollection()
	err = idx.Search(context.Background(), bound, func(e spatial.Entry) error {
		if kind != 0 && e.Kind != kind {
			return nil
		}
		fc.Append(spatial.EntryFeature(e))
		if limit > 0 && len(fc.Features) >= limit {
			return spatial.ErrStop
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}
