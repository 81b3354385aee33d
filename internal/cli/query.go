package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
)

func newQueryCmd(opts *options) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		explain bool
	)
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run a query against the index",
		Long: `Runs a boolean query. Terms are OR-ed by default; AND, OR, NOT, +term,
-term, parentheses, field:term and "quoted phrases" are supported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := searcher.Open(opts.cfg.Index.DataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			if explain {
				cmd.Printf("query: %s\n", res.Query)
				terms := make([]string, 0, len(res.TermStats))
				for t := range res.TermStats {
					terms = append(terms, t)
				}
				sort.Strings(terms)
				for _, t := range terms {
					cmd.Printf("  %s df=%d\n", t, res.TermStats[t])
				}
			}
			if len(res.Results) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, r := range res.Results {
				cmd.Printf("%3d. %s (%.4f)\n", i+1, r.DocID, r.Score)
			}
			cmd.Printf("%d of %d hits\n", len(res.Results), res.TotalHits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the parsed query and term statistics")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Print a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := searcher.Open(opts.cfg.Index.DataDir)
			if err != nil {
				return err
			}
			defer s.Close()
			fields, ok := s.Document(args[0])
			if !ok {
				return fmt.Errorf("document %q not found", args[0])
			}
			data, err := json.MarshalIndent(fields, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}
