// Package loadtest drives a running notes search server with a mix of
// searches and ingests and reports throughput and latency percentiles.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	// WriteRatio is the fraction of requests that are ingests, in [0, 1].
	WriteRatio float64
	Queries    []string
}

// DefaultQueries exercise terms, boolean operators and phrases.
var DefaultQueries = []string{
	"search",
	"inverted index",
	"snapshot AND generation",
	"markdown OR notes",
	"ranking NOT stale",
	`"full text search"`,
	"(tokenizer OR stemming) AND unicode",
	"compaction",
}

var words = []string{
	"search", "inverted", "index", "snapshot", "generation", "markdown", "notes",
	"ranking", "tokenizer", "stemming", "unicode", "compaction", "phrase", "query",
	"full", "text", "version", "history", "document", "stale",
}

// Report summarises one run. Latencies cover completed requests only.
type Report struct {
	Duration    time.Duration
	Requests    map[string]int
	Errors      int
	StatusCodes map[int]int
	Min         time.Duration
	Mean        time.Duration
	P50         time.Duration
	P90         time.Duration
	P99         time.Duration
	Max         time.Duration
	StdDev      time.Duration
}

func (r *Report) Total() int {
	n := 0
	for _, c := range r.Requests {
		n += c
	}
	return n
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	requests  map[string]int
	codes     map[int]int
	errors    int
}

func (rec *recorder) record(kind string, d time.Duration, status int, err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.requests[kind]++
	if err != nil {
		rec.errors++
		return
	}
	rec.codes[status]++
	if status >= 300 {
		rec.errors++
	}
	rec.latencies = append(rec.latencies, d)
}

// Run issues requests from cfg.Concurrency workers until cfg.Duration has
// passed or ctx is cancelled.
func Run(ctx context.Context, cfg Config, client *http.Client) (*Report, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries
	}
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Concurrency * 2,
				MaxIdleConnsPerHost: cfg.Concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	rec := &recorder{requests: make(map[string]int), codes: make(map[int]int)}
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), uint64(start.UnixNano())))
			for i := w; gctx.Err() == nil; i++ {
				kind, req, err := nextRequest(gctx, cfg, rng, w, i)
				if err != nil {
					return err
				}
				t := time.Now()
				resp, err := client.Do(req)
				if gctx.Err() != nil {
					return nil
				}
				if err != nil {
					rec.record(kind, time.Since(t), 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				rec.record(kind, time.Since(t), resp.StatusCode, nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rec.report(time.Since(start)), nil
}

func nextRequest(ctx context.Context, cfg Config, rng *rand.Rand, worker, i int) (string, *http.Request, error) {
	if rng.Float64() < cfg.WriteRatio {
		body, err := json.Marshal(ingestion.IngestRequest{
			ID:      fmt.Sprintf("loadtest-%d-%d", worker, i%100),
			Content: randomText(rng, 40),
		})
		if err != nil {
			return "", nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/ingest", bytes.NewReader(body))
		if err != nil {
			return "", nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return "ingest", req, nil
	}
	q := cfg.Queries[i%len(cfg.Queries)]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		cfg.BaseURL+"/search?limit=10&q="+url.QueryEscape(q), nil)
	return "search", req, err
}

func randomText(rng *rand.Rand, n int) string {
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[rng.IntN(len(words))])
	}
	return b.String()
}

func (rec *recorder) report(elapsed time.Duration) *Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	r := &Report{
		Duration:    elapsed,
		Requests:    rec.requests,
		Errors:      rec.errors,
		StatusCodes: rec.codes,
	}
	lat := rec.latencies
	if len(lat) == 0 {
		return r
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	r.Min, r.Max = lat[0], lat[len(lat)-1]
	r.Mean = sum / time.Duration(len(lat))
	r.P50 = percentile(lat, 50)
	r.P90 = percentile(lat, 90)
	r.P99 = percentile(lat, 99)

	var sq float64
	for _, l := range lat {
		d := float64(l - r.Mean)
		sq += d * d
	}
	r.StdDev = time.Duration(math.Sqrt(sq / float64(len(lat))))
	return r
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	total := r.Total()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Requests:      %d (search %d, ingest %d)\n", total, r.Requests["search"], r.Requests["ingest"])
	fmt.Fprintf(w, "Errors:        %d\n", r.Errors)
	if total > 0 {
		fmt.Fprintf(w, "Error rate:    %.2f%%\n", float64(r.Errors)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:  %.2f\n", float64(total)/r.Duration.Seconds())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Latency ===")
	fmt.Fprintf(w, "Min %s  Mean %s  P50 %s  P90 %s  P99 %s  Max %s  StdDev %s\n",
		r.Min, r.Mean, r.P50, r.P90, r.P99, r.Max, r.StdDev)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status codes ===")
	codes := make([]int, 0, len(r.StatusCodes))
	for c := range r.StatusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, r.StatusCodes[c])
	}
}
