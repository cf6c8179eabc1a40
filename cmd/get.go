package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/spatial"
)

var getCmd = &cobra.Command{
	Use:   "get <node|way|relation> <id>",
	Short: "Print a stored entity as a GeoJSON feature",
	Args:  cobra.ExactArgs(2),
	Run:   runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) {
	kind, err := middle.ParseKind(args[0])
	if err != nil {
		exitWithError("invalid kind", err)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		exitWithError("invalid id", err)
	}

	if err := printRecord(cmd.OutOrStdout(), cfg.StorePath(), kind, id); err != nil {
		exitWithError("get failed", err)
	}
}

// printRecord writes one stored entity as an indented GeoJSON feature. The
// stores are closed before it returns.
func printRecord(w io.Writer, storeDir string, kind middle.Kind, id int64) (err error) {
	stores, err := middle.OpenStores(storeDir)
	if err != nil {
		return fmt.Errorf("failed to open stores: %w", err)
	}
	defer func() { err = multierr.Append(err, stores.Close()) }()

	rec, ok, err := stores.Get(kind, id)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s %d not found", kind, id)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(spatial.Feature(rec))
}
