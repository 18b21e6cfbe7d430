// Command sseload holds many concurrent /api/stream connections open against
// a gateway and reports how many state events arrived.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

type loadConfig struct {
	StreamURL   string
	Connections int
	Duration    time.Duration
	Tokens      []string
	MaxBackoff  time.Duration
}

type loadStats struct {
	Attempts uint64
	Failures uint64
	Events   uint64
}

func (s loadStats) FailureRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Attempts)
}

func main() {
	var (
		cfg        loadConfig
		tokensFile = flag.String("tokens", "", "JSON array of bearer tokens, as written by gentoken -output")
		maxFailure = flag.Float64("max-failure-rate", 0.01, "exit non-zero above this connection failure rate")
	)
	flag.StringVar(&cfg.StreamURL, "url", "http://localhost:8080/api/stream", "gateway stream URL")
	flag.IntVar(&cfg.Connections, "connections", 200, "concurrent stream connections")
	flag.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "test duration")
	flag.DurationVar(&cfg.MaxBackoff, "max-backoff", 5*time.Second, "reconnect backoff ceiling")
	flag.Parse()

	if *tokensFile != "" {
		tokens, err := readTokens(*tokensFile)
		if err != nil {
			log.Fatalf("tokens: %v", err)
		}
		cfg.Tokens = tokens
	} else if bearer := os.Getenv("TEST_BEARER"); bearer != "" {
		cfg.Tokens = []string{bearer}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	stats := runLoad(ctx, http.DefaultClient, cfg)
	log.WithFields(log.Fields{
		"connections":         cfg.Connections,
		"duration_sec":        int(cfg.Duration.Seconds()),
		"events_received":     stats.Events,
		"connection_attempts": stats.Attempts,
		"connection_failures": stats.Failures,
	}).Info("sseload.finished")
	if stats.Events == 0 || stats.FailureRate() > *maxFailure {
		os.Exit(1)
	}
}

func readTokens(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := sonic.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("no tokens in file")
	}
	return tokens, nil
}

// runLoad keeps cfg.Connections streams open until ctx ends, reconnecting
// with exponential backoff. Connection i uses token i modulo len(Tokens).
func runLoad(ctx context.Context, client *http.Client, cfg loadConfig) loadStats {
	var stats loadStats
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	var wg sync.WaitGroup
	wg.Add(cfg.Connections)
	for i := range cfg.Connections {
		token := ""
		if len(cfg.Tokens) > 0 {
			token = cfg.Tokens[i%len(cfg.Tokens)]
		}
		go func() {
			defer wg.Done()
			backoff := time.Second
			for ctx.Err() == nil {
				atomic.AddUint64(&stats.Attempts, 1)
				if err := consume(ctx, client, cfg.StreamURL, token, &stats.Events); err != nil && ctx.Err() == nil {
					atomic.AddUint64(&stats.Failures, 1)
					log.WithError(err).Debug("sseload.connection.failed")
					select {
					case <-ctx.Done():
					case <-time.After(backoff):
					}
					backoff = min(backoff*2, cfg.MaxBackoff)
					continue
				}
				backoff = time.Second
			}
		}()
	}
	wg.Wait()
	return loadStats{
		Attempts: atomic.LoadUint64(&stats.Attempts),
		Failures: atomic.LoadUint64(&stats.Failures),
		Events:   atomic.LoadUint64(&stats.Events),
	}
}

var errStreamEnded = errors.New("stream ended")

func consume(ctx context.Context, client *http.Client, url, token string, events *uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(resp.Status)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data:") {
			atomic.AddUint64(events, 1)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errStreamEnded
}
