package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
)

var defaultBenchQueries = []string{
	"search engine",
	"inverted index",
	"segment AND merge",
	"query OR ranking",
	"document -deleted",
	"full text search",
}

// queryFunc runs one query and reports the HTTP-style status of the outcome.
type queryFunc func(ctx context.Context, query string) (int, error)

type benchStats struct {
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int
	errors    int
}

func (s *benchStats) record(d time.Duration, code int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.codes[code]++
	if code < 200 || code >= 300 {
		s.errors++
		return
	}
	s.latencies = append(s.latencies, d)
}

func newBenchCmd(opts *options) *cobra.Command {
	var (
		target      string
		queriesPath string
		concurrency int
		duration    time.Duration
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure query throughput and latency",
		Long: `Runs queries concurrently for a fixed duration and reports latency
percentiles. Queries run in-process against --index unless --url points at a
running searchd.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := defaultBenchQueries
			if queriesPath != "" {
				loaded, err := readQueries(queriesPath)
				if err != nil {
					return err
				}
				queries = loaded
			}

			var run queryFunc
			if target != "" {
				run = httpQuery(target, limit, concurrency)
			} else {
				s, err := searcher.Open(opts.cfg.Index.DataDir)
				if err != nil {
					return err
				}
				defer s.Close()
				run = func(ctx context.Context, q string) (int, error) {
					if _, err := s.Search(ctx, q, limit); err != nil {
						return 0, err
					}
					return http.StatusOK, nil
				}
			}

			stats, err := runBench(cmd.Context(), run, queries, concurrency, duration)
			if err != nil {
				return err
			}
			printBench(cmd, stats, duration)
			if len(stats.latencies) == 0 {
				return fmt.Errorf("no query succeeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "base URL of a searchd instance")
	cmd.Flags().StringVar(&queriesPath, "queries", "", "file with one query per line")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of concurrent workers")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "results per query")
	return cmd
}

func runBench(ctx context.Context, run queryFunc, queries []string, workers int, d time.Duration) (*benchStats, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries to run")
	}
	if workers < 1 {
		workers = 1
	}
	stats := &benchStats{codes: make(map[int]int)}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		next := w
		g.Go(func() error {
			for ctx.Err() == nil {
				q := queries[next%len(queries)]
				next++
				start := time.Now()
				code, err := run(ctx, q)
				if ctx.Err() != nil {
					return nil
				}
				stats.record(time.Since(start), code, err)
			}
			return nil
		})
	}
	return stats, g.Wait()
}

func httpQuery(base string, limit, workers int) queryFunc {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        workers * 2,
			MaxIdleConnsPerHost: workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	base = strings.TrimRight(base, "/")
	return func(ctx context.Context, q string) (int, error) {
		u := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", base, url.QueryEscape(q), limit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode, nil
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening queries: %w", err)
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

func printBench(cmd *cobra.Command, s *benchStats, d time.Duration) {
	lat := append([]time.Duration(nil), s.latencies...)
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	total := len(lat) + s.errors

	cmd.Printf("requests:     %d\n", total)
	cmd.Printf("errors:       %d\n", s.errors)
	cmd.Printf("requests/sec: %.2f\n", float64(total)/d.Seconds())
	if len(lat) > 0 {
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		cmd.Printf("latency:      min %s  avg %s  p50 %s  p90 %s  p99 %s  max %s\n",
			lat[0], sum/time.Duration(len(lat)),
			percentile(lat, 50), percentile(lat, 90), percentile(lat, 99), lat[len(lat)-1])
	}
	codes := make([]int, 0, len(s.codes))
	for c := range s.codes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		cmd.Printf("  %d: %d\n", c, s.codes[c])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
