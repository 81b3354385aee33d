// Package cli implements searchctl, the operator tool for a segdex index:
// bulk loading, ad-hoc queries, deletes, compaction, inspection and stale
// lock recovery.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
)

type options struct {
	configPath string
	indexDir   string
	logLevel   string
	cfg        *config.Config
}

// NewRootCmd builds the searchctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "searchctl",
		Short:         "Manage and query a segdex full-text index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.indexDir != "" {
				cfg.Index.DataDir = opts.indexDir
			}
			opts.cfg = cfg
			slog.SetDefault(slog.New(logger.NewHandler(cmd.ErrOrStderr(), opts.logLevel, "text")))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file")
	root.PersistentFlags().StringVarP(&opts.indexDir, "index", "i", "", "index directory (overrides index.dataDir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newIndexCmd(opts),
		newQueryCmd(opts),
		newGetCmd(opts),
		newDeleteCmd(opts),
		newCompactCmd(opts),
		newStatsCmd(opts),
		newUnlockCmd(opts),
		newBenchCmd(opts),
	)
	return root
}
