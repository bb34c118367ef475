package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/monadchat/internal/observability"
)

type perfOptions struct {
	baseURL        string
	address        string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	reset          bool
	verbose        bool
}

type turnTiming struct {
	firstByte time.Duration
	total     time.Duration
	bytes     int
}

type latencySummary struct {
	Samples int
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

var defaultPrompts = []string{
	"Reply in three words: what is Monad?",
	"Reply in three words: Monad block time?",
	"Reply in three words: EVM compatible?",
	"Reply in three words: testnet chain id?",
}

var (
	perfOpts     perfOptions
	perfTextsRaw string
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Replay chat turns against a running server and report latency",
	Long: `Creates a conversation on a running server and sends --turns messages
through /v1/conversations/{id}/messages, timing the first streamed byte and
the full reply of each. Every turn counts against the address's daily quota,
so use a premium or throwaway address for long runs.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := perfOpts
		opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
		if opts.baseURL == "" {
			return errors.New("--base-url is required")
		}
		if opts.turns <= 0 {
			return errors.New("--turns must be > 0")
		}
		opts.texts = splitPrompts(perfTextsRaw)
		return runPerf(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	perfCmd.Flags().StringVar(&perfOpts.baseURL, "base-url", "http://127.0.0.1:8080", "monadchat base URL")
	perfCmd.Flags().StringVar(&perfOpts.address, "address", "", "wallet address to send as (required)")
	perfCmd.Flags().IntVar(&perfOpts.turns, "turns", 5, "number of messages to send")
	perfCmd.Flags().DurationVar(&perfOpts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	perfCmd.Flags().DurationVar(&perfOpts.turnTimeout, "turn-timeout", 60*time.Second, "timeout per turn")
	perfCmd.Flags().StringVar(&perfTextsRaw, "texts", "", "prompts separated by '|' (optional)")
	perfCmd.Flags().BoolVar(&perfOpts.reset, "reset", true, "clear the server latency window before the run")
	perfCmd.Flags().BoolVar(&perfOpts.verbose, "verbose", true, "print progress")
	_ = perfCmd.MarkFlagRequired("address")
}

func runPerf(ctx context.Context, out io.Writer, opts perfOptions) error {
	client := &http.Client{}
	if opts.reset {
		if err := resetServerLatency(ctx, client, opts.baseURL); err != nil {
			return fmt.Errorf("reset server latency: %w", err)
		}
	}
	convID, err := createConversation(ctx, client, opts)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if opts.verbose {
		fmt.Fprintf(out, "perf: conversation=%s turns=%d\n", convID, opts.turns)
	}

	var timings []turnTiming
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		timing, err := sendTurn(ctx, client, opts, convID, text)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		timings = append(timings, timing)
		if opts.verbose {
			fmt.Fprintf(out, "perf: turn %d/%d first_byte=%s total=%s bytes=%d\n", i+1, opts.turns,
				timing.firstByte.Round(time.Millisecond), timing.total.Round(time.Millisecond), timing.bytes)
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	first := make([]time.Duration, 0, len(timings))
	total := make([]time.Duration, 0, len(timings))
	for _, t := range timings {
		first = append(first, t.firstByte)
		total = append(total, t.total)
	}
	printSummary(out, "first_byte", summarize(first))
	printSummary(out, "total", summarize(total))

	snap, err := fetchServerLatency(ctx, client, opts.baseURL)
	if err != nil {
		return fmt.Errorf("fetch server latency: %w", err)
	}
	for _, st := range snap.Stages {
		fmt.Fprintf(out, "server %-24s samples=%d p50=%.1fms p95=%.1fms\n", st.Stage, st.Samples, st.P50MS, st.P95MS)
	}
	return nil
}

func createConversation(ctx context.Context, client *http.Client, opts perfOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/conversations?address="+url.QueryEscape(opts.address), nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("missing id in response")
	}
	return out.ID, nil
}

func sendTurn(ctx context.Context, client *http.Client, opts perfOptions, convID, text string) (turnTiming, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.turnTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return turnTiming{}, err
	}
	endpoint := opts.baseURL + "/v1/conversations/" + url.PathEscape(convID) + "/messages?address=" + url.QueryEscape(opts.address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return turnTiming{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return turnTiming{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return turnTiming{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var timing turnTiming
	buf := make([]byte, 4<<10)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if timing.bytes == 0 {
				timing.firstByte = time.Since(started)
			}
			timing.bytes += n
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return turnTiming{}, err
		}
	}
	timing.total = time.Since(started)
	if state := res.Trailer.Get("X-Reply-State"); state == "failed" {
		return timing, errors.New("server reported a failed reply")
	}
	return timing, nil
}

func fetchServerLatency(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, err
	}
	return snap, nil
}

func resetServerLatency(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return nil
}

func splitPrompts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultPrompts
	}
	return out
}

// summarize uses nearest-rank percentiles.
func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := func(q float64) time.Duration {
		idx := int(q*float64(len(sorted))+0.999999) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return latencySummary{
		Samples: len(sorted),
		P50:     rank(0.50),
		P95:     rank(0.95),
		Max:     sorted[len(sorted)-1],
	}
}

func printSummary(out io.Writer, name string, s latencySummary) {
	fmt.Fprintf(out, "client %-24s samples=%d p50=%s p95=%s max=%s\n", name, s.Samples,
		s.P50.Round(time.Millisecond), s.P95.Round(time.Millisecond), s.Max.Round(time.Millisecond))
}
