package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmingest-go/internal/config"
	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/pipeline"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "osmingest",
	Short: "Two-pass OSM denormalizer and spatial indexer",
	Long: `osmingest turns an OSM PBF extract into self-contained records and a
bounding-box index.

  1. Pass 1 (denormalize): nodes, ways and relations are written to three
     id-indexed stores; way and relation references are resolved to
     coordinates and bounding boxes along the way.
  2. Pass 2 (write): every stored entity with a bounding box is inserted into
     a spatial sink (bbolt index, PostGIS table or Parquet file).

Both passes can run on their own against the persisted stores.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			if err := config.ApplyFile(configFile, cmd.Flags()); err != nil {
				exitWithError("invalid config file", err)
			}
		}

		// Initialize logger with optional file output
		if cfg.LogFile != "" {
			logger.InitWithFile(cfg.Verbose, cfg.LogFile)
		} else {
			logger.Init(cfg.Verbose)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML file with option defaults (command line wins)")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputDir, "outdir", "o", cfg.OutputDir, "Directory for the stores and the spatial index")
	rootCmd.PersistentFlags().StringVar(&cfg.StoreDir, "store-dir", "", "Store directory (default <outdir>/store)")
	rootCmd.PersistentFlags().StringVar(&cfg.IndexPath, "index", "", "Bolt or Parquet index file (default <outdir>/spatial.db)")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")
	rootCmd.PersistentFlags().BoolVar(&cfg.Progress, "progress", false, "Show a progress bar on stderr")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m; 0 disables)")
}

// addPass1Flags registers the denormalization options on cmd.
func addPass1Flags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&cfg.Buffer, "buffer", cfg.Buffer, "Source objects queued ahead of the workers")
	cmd.Flags().BoolVar(&cfg.SkipMissing, "skip-missing", false, "Leave missing references out of the geometry instead of dropping the entity")
	cmd.Flags().BoolVar(&cfg.HaltOnError, "halt-on-error", false, "Stop at the first unresolved or malformed entity")
	cmd.Flags().BoolVar(&cfg.RelationSweep, "relation-sweep", false, "Retry relations referencing later relations after the relation phase")
	cmd.Flags().IntVar(&cfg.MaxDeferred, "max-deferred", cfg.MaxDeferred, "Maximum relations held for the sweep")
	cmd.Flags().BoolVar(&cfg.DropMetadata, "drop-metadata", false, "Do not store version, changeset, timestamp and user")
	cmd.Flags().StringVar(&cfg.FlatNodesFile, "flat-nodes", "", "Path to flat nodes file (faster for large imports)")
	cmd.Flags().Int64Var(&cfg.FlatNodesMaxID, "flat-nodes-max-id", cfg.FlatNodesMaxID, "Largest node id the flat nodes file can hold")
}

// addPass2Flags registers the spatial sink options on cmd.
func addPass2Flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Sink, "sink", cfg.Sink, "Spatial sink: bolt, postgis or parquet")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Entries per sink insert")
	cmd.Flags().StringVar(&cfg.Payload, "payload", cfg.Payload, "Entry payload: record, wkb or none")
	cmd.Flags().StringVarP(&projectionStr, "projection", "E", "4326", "Projection SRID of wkb payloads (4326 or 3857)")
	cmd.Flags().StringVarP(&cfg.StyleFile, "style", "S", "", "Style YAML file selecting which entities are indexed")
	cmd.Flags().IntVar(&cfg.MaxZoom, "max-zoom", cfg.MaxZoom, "Deepest tile zoom of the bolt index")

	// Database flags
	cmd.Flags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	cmd.Flags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	cmd.Flags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	cmd.Flags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	cmd.Flags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	cmd.Flags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
	cmd.Flags().StringVar(&cfg.DBTable, "db-table", cfg.DBTable, "PostgreSQL table")
	cmd.Flags().IntVar(&cfg.DBMaxConns, "db-max-conns", cfg.DBMaxConns, "Maximum PostgreSQL connections")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// finish exits non-zero unless the run succeeded.
func finish(res *pipeline.Result, what string) {
	if res.Status != pipeline.StatusSucceeded {
		exitWithError(what+" "+res.Status.String(), res.Err)
	}
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
