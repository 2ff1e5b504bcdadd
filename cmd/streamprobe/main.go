// streamprobe connects to a relayd stream endpoint and prints ticks to the
// console.
//
// Usage: go run ./cmd/streamprobe --url http://localhost:8188 --symbols HPG,VNM --token sesame
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hieudt/vnrelay/internal/tick"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8188", "relayd base URL")
	symbols := flag.String("symbols", "", "comma-separated symbols (required)")
	token := flag.String("token", "", "access token")
	raw := flag.Bool("raw", false, "print raw SSE frames instead of parsed ticks")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *symbols == "" {
		logger.Error("--symbols is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	q := url.Values{}
	q.Set("symbols", *symbols)
	if *token != "" {
		q.Set("token", *token)
	}
	streamURL := strings.TrimRight(*baseURL, "/") + "/stream?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		logger.Error("build request failed", "error", err)
		os.Exit(1)
	}
	req.Header.Set("Accept", "text/event-stream")

	logger.Info("connecting", "url", streamURL)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := make([]byte, 256)
		n, _ := resp.Body.Read(body)
		logger.Error("stream rejected", "status", resp.StatusCode, "body", strings.TrimSpace(string(body[:n])))
		os.Exit(1)
	}

	logger.Info("streaming", "symbols", *symbols)

	scanner := bufio.NewScanner(resp.Body)
	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		count++

		if *raw {
			fmt.Println(payload)
			continue
		}

		var tk tick.Tick
		if err := json.Unmarshal([]byte(payload), &tk); err != nil {
			logger.Warn("unparseable frame", "payload", payload, "error", err)
			continue
		}
		fmt.Printf("[%5d] %-10s %10.2f x%-8d %s %s\n", count, tk.Symbol, tk.Price, tk.Quantity, tk.Side, tk.Time)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Error("stream read error", "error", err)
		os.Exit(1)
	}
	logger.Info("stream ended", "ticks", count)
}
