package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/peerprep/matcher/loadtest/client"
	"github.com/peerprep/matcher/loadtest/stats"
)

// matchOutcome is how one simulated user's run ended.
type matchOutcome int

const (
	outcomeRedirected matchOutcome = iota
	outcomeNoMatch
	outcomeFailed
)

// runMatch implements the matching flow load test. It creates pairs of
// simulated users who connect, request a match with the same preferences,
// find each other, and are redirected into a collaboration session. The
// owner of each room readies up and starts the collaboration.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	pairs := fs.Int("pairs", 500, "Number of user pairs to match")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	matchTimeout := fs.Duration("match-timeout", 90*time.Second, "Timeout waiting for redirect_collaboration")
	languages := fs.String("languages", "python", "Comma-separated languages every user selects")
	difficulties := fs.String("difficulties", "easy", "Comma-separated difficulties every user selects")
	topics := fs.String("topics", "array", "Comma-separated topics every user selects")
	questionID := fs.String("question", "loadtest-q1", "Question id sent with start_collaboration")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	totalClients := *pairs * 2
	preferences := map[string][]string{
		"languages":    splitList(*languages),
		"difficulties": splitList(*difficulties),
		"topics":       splitList(*topics),
	}

	fmt.Printf("Match test: %d pairs (%d clients) to %s (ramp=%s, match-timeout=%s, concurrency=%d)\n",
		*pairs, totalClients, *url, *rampUp, *matchTimeout, *concurrency)
	fmt.Printf("Preferences: %v\n", preferences)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// -----------------------------------------------------------------------
	// Phase 1 — Connect all users
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")

	clients, interrupted := connectAll(ctx, *url, totalClients, *rampUp, *concurrency, collector)

	if interrupted {
		fmt.Println("Interrupted — skipping matching phases.")
		cleanup(clients)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 — Register handlers and send request_match from all clients
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 2: Start matching ---")

	var (
		matchedCount    atomic.Int64
		redirectedCount atomic.Int64
		noMatchCount    atomic.Int64
		matchWg         sync.WaitGroup
	)

	matchStart := time.Now()

	for i, c := range clients {
		c := c
		userID := fmt.Sprintf("loadtest-%d-%s", i, c.SessionID()[:8])

		var (
			once      sync.Once
			outcome   = make(chan matchOutcome, 1)
			matchedAt atomic.Int64
		)
		// Set before the handlers are registered so they observe it.
		requested := time.Now()
		finish := func(o matchOutcome) {
			once.Do(func() { outcome <- o })
		}

		c.On(client.TypeMatched, func(raw json.RawMessage) {
			now := time.Now()
			matchedAt.Store(now.UnixNano())
			collector.AddMatchLatency(now.Sub(requested))
			matchedCount.Add(1)

			var msg struct {
				Owner string `json:"owner"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				finish(outcomeFailed)
				return
			}
			if msg.Owner != userID {
				return
			}
			// The owner drives the room into a collaboration session.
			_ = c.Send(map[string]interface{}{"type": client.TypeUserUpdateReady, "ready": true})
			_ = c.Send(map[string]interface{}{"type": client.TypeStartCollaboration, "questionId": *questionID})
		})

		c.On(client.TypeRedirectCollaboration, func(raw json.RawMessage) {
			if at := matchedAt.Load(); at != 0 {
				collector.AddRedirectLatency(time.Since(time.Unix(0, at)))
			}
			redirectedCount.Add(1)
			finish(outcomeRedirected)
		})

		c.On(client.TypeNoMatch, func(json.RawMessage) {
			noMatchCount.Add(1)
			collector.AddNoMatch()
			finish(outcomeNoMatch)
		})

		for _, t := range []string{client.TypeRateLimited, client.TypeError, client.TypeRoomClosed} {
			c.On(t, func(json.RawMessage) { finish(outcomeFailed) })
		}

		matchWg.Add(1)
		go func() {
			defer matchWg.Done()

			timer := time.NewTimer(*matchTimeout)
			defer timer.Stop()

			select {
			case o := <-outcome:
				if o == outcomeFailed {
					collector.AddError()
				}
			case <-timer.C:
				collector.AddError()
			case <-ctx.Done():
			}
		}()

		err := c.Send(map[string]interface{}{
			"type":        client.TypeRequestMatch,
			"user":        map[string]string{"id": userID},
			"preferences": preferences,
		})
		if err != nil {
			finish(outcomeFailed)
		}
	}

	// -----------------------------------------------------------------------
	// Phase 3 — Wait for redirects with progress reporting
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 3: Waiting for matches ---")

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastMatched := int64(0)
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentMatched := matchedCount.Load()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentMatched-lastMatched) / dt
				fmt.Printf("  [match] pairs: %d/%d  matched: %d  redirected: %d  no_match: %d  errors: %d  rate: %.1f match/s\n",
					redirectedCount.Load()/2, *pairs, currentMatched, redirectedCount.Load(),
					noMatchCount.Load(), collector.ErrorCount(), rate)
				lastMatched = currentMatched
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	allDone := make(chan struct{})
	go func() {
		matchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-ctx.Done():
		fmt.Println("\nInterrupted during matching phase.")
	}

	close(progressStop)
	progressWg.Wait()

	matchElapsed := time.Since(matchStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	successfulPairs := redirectedCount.Load() / 2

	fmt.Printf("\n--- Match Results ---\n")
	fmt.Printf("Successful pairs:   %d / %d\n", successfulPairs, *pairs)
	fmt.Printf("Clients matched:    %d / %d\n", matchedCount.Load(), len(clients))
	fmt.Printf("Clients redirected: %d / %d\n", redirectedCount.Load(), len(clients))
	fmt.Printf("Clients no_match:   %d\n", noMatchCount.Load())
	fmt.Printf("Match duration:     %s\n", matchElapsed.Round(time.Millisecond))
	if matchElapsed.Seconds() > 0 {
		fmt.Printf("Match throughput:   %.1f pairs/s\n", float64(successfulPairs)/matchElapsed.Seconds())
	}

	cleanup(clients)
	scraper.Stop()
	collector.Report()
}

// connectAll opens total connections spread over rampUp and waits for each
// one's session_created. It reports whether ctx was cancelled during ramp-up.
func connectAll(ctx context.Context, url string, total int, rampUp time.Duration, concurrency int, collector *stats.Collector) ([]*client.Client, bool) {
	var mu sync.Mutex
	clients := make([]*client.Client, 0, total)

	interval := rampUp / time.Duration(total)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.ConnectionCount()
				rate := float64(current-lastCount) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					current, total, collector.ErrorCount(), rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)
	defer rampTicker.Stop()

	interrupted := false
ramp:
	for launched := 0; launched < total; launched++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			break ramp
		case <-rampTicker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
			defer connCancel()

			c, err := client.New(connCtx, url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nPhase 1 complete: %d/%d connections in %s (%d errors)\n",
		len(clients), total, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())
	return clients, interrupted
}

// cleanup closes all client connections.
func cleanup(clients []*client.Client) {
	fmt.Println("\n--- Cleanup ---")
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	fmt.Println("All connections closed.")
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
