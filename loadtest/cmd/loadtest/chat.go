package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/whisper/lobby/loadtest/client"
	"github.com/whisper/lobby/loadtest/stats"
)

// probePrefix marks load test lines: lt:<sender index>:<unix nanos>:<padding>.
const probePrefix = "lt:"

// runChat joins N users, has each one talk at a fixed interval and measures
// how long lines take to reach every other user.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 50, "Number of simulated users")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration for joins")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long users keep talking")
	msgInterval := fs.Duration("msg-interval", 2500*time.Millisecond, "Interval between messages per user; keep above the server spam interval")
	msgSize := fs.Int("msg-size", 64, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous join attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d users to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d)\n",
		*users, *url, *rampUp, *chatDuration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer scraper.Stop()

	var (
		mu        sync.Mutex
		clients   []*client.Client
		delivered atomic.Int64
		sent      atomic.Int64
	)

	// --- Phase 1: connect and join ---
	fmt.Println("\n--- Phase 1: Connect and join ---")

	interval := *rampUp / time.Duration(*users)
	if interval <= 0 {
		interval = time.Millisecond
	}
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	for i := 0; i < *users; i++ {
		if ctx.Err() != nil {
			break
		}
		time.Sleep(interval)

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			c, err := joinUser(ctx, *url, i, collector)
			if err != nil {
				fmt.Printf("  [join] user %d: %v\n", i, err)
				collector.AddError()
				return
			}

			self := strconv.Itoa(i)
			c.OnLine(func(l client.Line) {
				from, at, ok := parseProbe(l.Body)
				if !ok || from == self {
					return
				}
				delivered.Add(1)
				collector.AddMsgLatency(time.Since(time.Unix(0, at)))
			})
			c.OnNotice(func(n client.Notice) {
				if n.Severity == "error" {
					collector.AddRejected()
				}
			})

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	mu.Lock()
	joined := append([]*client.Client(nil), clients...)
	mu.Unlock()
	fmt.Printf("Joined %d/%d users (%d errors)\n", len(joined), *users, collector.ErrorCount())

	// --- Phase 2: talk ---
	if ctx.Err() == nil && len(joined) > 0 {
		fmt.Println("\n--- Phase 2: Exchange messages ---")
		talkCtx, cancel := context.WithTimeout(ctx, *chatDuration)
		padding := strings.Repeat("x", *msgSize)

		for i, c := range joined {
			wg.Add(1)
			go func(i int, c *client.Client) {
				defer wg.Done()
				ticker := time.NewTicker(*msgInterval)
				defer ticker.Stop()
				for {
					select {
					case <-talkCtx.Done():
						return
					case <-c.Done():
						return
					case <-ticker.C:
						body := fmt.Sprintf("%s%d:%d:%s", probePrefix, i, time.Now().UnixNano(), padding)
						if err := c.Say(body); err != nil {
							collector.AddError()
							return
						}
						sent.Add(1)
					}
				}
			}(i, c)
		}
		wg.Wait()
		cancel()

		// Let the last catch-up ticks drain.
		time.Sleep(2 * time.Second)
	}

	// --- Phase 3: leave ---
	fmt.Println("\n--- Phase 3: Leave ---")
	left := 0
	for _, c := range joined {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := c.Leave(leaveCtx); err == nil {
			left++
		}
		cancel()
		c.Close()
	}
	fmt.Printf("%d/%d users left cleanly\n", left, len(joined))

	expected := sent.Load() * int64(len(joined)-1)
	fmt.Printf("\nMessages sent: %d  fan-out delivered: %d/%d", sent.Load(), delivered.Load(), expected)
	if expected > 0 {
		fmt.Printf(" (%.1f%%)", float64(delivered.Load())/float64(expected)*100)
	}
	fmt.Println()

	collector.Report()
}

// joinUser connects user i and claims nickname load-NNNN.
func joinUser(ctx context.Context, url string, i int, collector *stats.Collector) (*client.Client, error) {
	joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(joinCtx, url, fakeIP(i))
	if err != nil {
		return nil, err
	}
	if err := c.WaitConnected(joinCtx); err != nil {
		c.Close()
		return nil, err
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	if err := c.Join(joinCtx, fmt.Sprintf("load-%04d", i)); err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			collector.AddRejected()
		}
		c.Close()
		return nil, err
	}
	collector.AddJoin(c.GetMetrics().JoinLatency)
	return c, nil
}

// parseProbe extracts the sender index and send time from a load test line.
func parseProbe(body string) (from string, at int64, ok bool) {
	rest, found := strings.CutPrefix(body, probePrefix)
	if !found {
		return "", 0, false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) < 2 {
		return "", 0, false
	}
	at, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], at, true
}
