package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/document"
)

const maxLineBytes = 16 << 20

func newIndexCmd(opts *options) *cobra.Command {
	var (
		analyzer string
		replace  bool
	)
	cmd := &cobra.Command{
		Use:   "index [file.jsonl]",
		Short: "Add documents from a JSON Lines file",
		Long: `Reads one JSON object of string fields per line and adds it to the index.
Every object needs an "id". Reads standard input when no file or "-" is given.
All documents are published together when the input has been read. A bad
line stops the load; documents read before it are still published.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()
				in = f
			}
			cfg := opts.cfg.Index
			if analyzer != "" {
				cfg.Analyzer = analyzer
			}
			w, err := indexer.Open(cfg)
			if err != nil {
				return err
			}
			added, err := load(w, in, replace)
			if err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			cmd.Printf("indexed %d documents into %s\n", added, w.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&analyzer, "analyzer", "", "analyzer for a new index (standard, english, keyword)")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace documents whose id already exists instead of failing")
	return cmd
}

func load(w *indexer.Writer, in io.Reader, replace bool) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	added, line := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fields map[string]string
		if err := json.Unmarshal(raw, &fields); err != nil {
			return added, fmt.Errorf("line %d: %w", line, err)
		}
		doc, err := document.FromMap(fields)
		if err != nil {
			return added, fmt.Errorf("line %d: %w", line, err)
		}
		if replace {
			err = w.UpdateDocument(doc)
		} else {
			err = w.AddDocument(doc)
		}
		if err != nil {
			return added, fmt.Errorf("line %d: %w", line, err)
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("reading input: %w", err)
	}
	return added, nil
}
