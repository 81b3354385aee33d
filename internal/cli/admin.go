package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
)

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete documents by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := indexer.Open(opts.cfg.Index)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := w.DeleteDocument(id); err != nil {
					w.Close()
					return err
				}
			}
			if err := w.Close(); err != nil {
				return err
			}
			cmd.Printf("deleted %d ids\n", len(args))
			return nil
		},
	}
}

func newCompactCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Merge all segments into one and drop deleted documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := indexer.Open(opts.cfg.Index)
			if err != nil {
				return err
			}
			stats, err := w.Compact(cmd.Context())
			if err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			if stats.Merged == 0 {
				cmd.Println("nothing to compact")
				return nil
			}
			cmd.Printf("merged %d segments into %q (%d live documents)\n", stats.Merged, stats.Segment, stats.LiveDocs)
			return nil
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index generation, segments and document counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := searcher.Open(opts.cfg.Index.DataDir)
			if err != nil {
				return err
			}
			defer s.Close()
			stats := s.Stats()
			if asJSON {
				data, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Printf("index:      %s\ngeneration: %d\nanalyzer:   %s\nlive docs:  %d\n\n",
				stats.Path, stats.Generation, stats.Analyzer, stats.LiveDocs)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEGMENT\tDOCS\tDELETED\tTERMS\tBYTES")
			for _, seg := range stats.Segments {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", seg.Name, seg.Docs, seg.Deleted, seg.Terms, seg.SizeBytes)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newUnlockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale write lock",
		Long: `Removes write.lock left behind by a writer that crashed. Only run this when
no writer process is alive: removing a live writer's lock allows two writers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.cfg.Index.DataDir
			info, err := segment.ReadLock(dir)
			if errors.Is(err, fs.ErrNotExist) {
				cmd.Println("index is not locked")
				return nil
			}
			if err != nil {
				return err
			}
			removed, err := segment.ForceUnlock(dir)
			if err != nil {
				return err
			}
			if removed {
				cmd.Printf("removed lock held by pid %d on %s since %s\n", info.PID, info.Host, info.AcquiredAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
