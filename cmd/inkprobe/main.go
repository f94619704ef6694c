package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/okempf/inkstream/internal/observability"
	"github.com/okempf/inkstream/internal/protocol"
	"github.com/okempf/inkstream/internal/reliability"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	dialAttempts   int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	prompts        []string
	serverStats    bool
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// wsEnvelope is the superset of fields the probe cares about across all
// server message types.
type wsEnvelope struct {
	Type             string `json:"type"`
	TurnID           string `json:"turn_id,omitempty"`
	Seq              int    `json:"seq,omitempty"`
	Stage            string `json:"stage,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Reason           string `json:"reason,omitempty"`
	FlushCount       int    `json:"flush_count,omitempty"`
	Chars            int    `json:"chars,omitempty"`
	ElapsedMs        int64  `json:"elapsed_ms,omitempty"`
	Code             string `json:"code,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

type turnStats struct {
	firstDelta time.Duration
	total      time.Duration
	deltas     int
	chars      int
	seqGaps    int
	flushes    int
	reason     string
}

var defaultPrompts = []string{
	"Write a short status update about the streaming pipeline.",
	"Draft a checklist for rolling out a new cache layer.",
	"Summarize the tradeoffs of coalescing deltas before transport.",
	"Outline a runbook for a websocket gateway incident.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inkprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "inkprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var promptsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "inkstream base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-probe", "user_id used for the synthetic session")
	flag.IntVar(&cfg.turns, "turns", 10, "number of prompt turns to run")
	flag.IntVar(&cfg.dialAttempts, "dial-attempts", 5, "websocket dial attempts before giving up")
	flag.IntVar(&startDelayMS, "start-delay-ms", 200, "delay before the first turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for turn_completed per turn in milliseconds")
	flag.StringVar(&promptsRaw, "prompts", "", "prompts separated by '|' (optional)")
	flag.BoolVar(&cfg.serverStats, "server-stats", true, "fetch /v1/perf/stream after the run")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.dialAttempts <= 0 {
		cfg.dialAttempts = 1
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.prompts = parsePrompts(promptsRaw)
	if len(cfg.prompts) == 0 {
		return options{}, fmt.Errorf("prompts produced no non-empty entries")
	}
	return cfg, nil
}

func parsePrompts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultPrompts...)
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("inkprobe: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, err := dialWithRetry(ctx, wsURL, cfg.dialAttempts, cfg.verbose)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	eventCh := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, eventCh, readErrCh)

	all := make([]turnStats, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		prompt := cfg.prompts[i%len(cfg.prompts)]
		stats, err := runTurn(conn, sessionID, prompt, eventCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		all = append(all, stats)
		if cfg.verbose {
			fmt.Printf("inkprobe: turn %d/%d reason=%s first_delta=%s total=%s deltas=%d chars=%d seq_gaps=%d\n",
				i+1, cfg.turns, stats.reason, stats.firstDelta.Round(time.Millisecond), stats.total.Round(time.Millisecond), stats.deltas, stats.chars, stats.seqGaps)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(all)
	if cfg.serverStats {
		if err := printServerStages(ctx, httpClient, cfg.baseURL); err != nil {
			fmt.Fprintf(os.Stderr, "inkprobe: server stats unavailable: %v\n", err)
		}
	}
	return nil
}

func runTurn(conn *websocket.Conn, sessionID, prompt string, eventCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (turnStats, error) {
	start := time.Now()
	msg := protocol.ClientPrompt{
		Type:      protocol.TypeClientPrompt,
		SessionID: sessionID,
		Prompt:    prompt,
		TSMs:      start.UnixMilli(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		return turnStats{}, fmt.Errorf("send prompt: %w", err)
	}

	var stats turnStats
	nextSeq := 0
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case env := <-eventCh:
			switch env.Type {
			case string(protocol.TypeDocumentDelta):
				if stats.deltas == 0 {
					stats.firstDelta = time.Since(start)
				}
				stats.deltas++
				stats.chars += utf8.RuneCountInString(env.Content) + utf8.RuneCountInString(env.ReasoningContent)
				if env.Seq > nextSeq {
					stats.seqGaps++
				}
				nextSeq = env.Seq + 1
			case string(protocol.TypeTurnCompleted):
				stats.total = time.Since(start)
				stats.flushes = env.FlushCount
				stats.reason = env.Reason
				return stats, nil
			case string(protocol.TypeErrorEvent):
				fmt.Fprintf(os.Stderr, "inkprobe: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		case err := <-readErrCh:
			return turnStats{}, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return turnStats{}, fmt.Errorf("timeout after %s waiting for turn_completed", timeout)
		}
	}
}

func dialWithRetry(ctx context.Context, wsURL string, attempts int, verbose bool) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 3*time.Second)
			if verbose {
				fmt.Printf("inkprobe: websocket dial retry in %s\n", delay)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return conn, nil
		}
		if res != nil {
			res.Body.Close()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("websocket dial failed after %d attempts: %w", attempts, lastErr)
}

func readLoop(conn *websocket.Conn, eventCh chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case eventCh <- env:
		default:
			// A stalled consumer should not wedge the read loop.
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{
		UserID: cfg.userID,
		Title:  "perf probe",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

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

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printSummary(all []turnStats) {
	if len(all) == 0 {
		return
	}
	firstDeltas := make([]time.Duration, 0, len(all))
	totals := make([]time.Duration, 0, len(all))
	deltas, chars, gaps := 0, 0, 0
	for _, s := range all {
		firstDeltas = append(firstDeltas, s.firstDelta)
		totals = append(totals, s.total)
		deltas += s.deltas
		chars += s.chars
		gaps += s.seqGaps
	}
	fdMin, fdAvg, fdMax := summarize(firstDeltas)
	totMin, totAvg, totMax := summarize(totals)
	fmt.Printf("inkprobe: %d turns, %d deltas, %d chars, %d seq gaps\n", len(all), deltas, chars, gaps)
	fmt.Printf("inkprobe: first_delta min=%s avg=%s max=%s\n", fdMin.Round(time.Millisecond), fdAvg.Round(time.Millisecond), fdMax.Round(time.Millisecond))
	fmt.Printf("inkprobe: turn_total  min=%s avg=%s max=%s\n", totMin.Round(time.Millisecond), totAvg.Round(time.Millisecond), totMax.Round(time.Millisecond))
}

func summarize(values []time.Duration) (min, avg, max time.Duration) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	min, max = values[0], values[0]
	var sum time.Duration
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return min, sum / time.Duration(len(values)), max
}

func printServerStages(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/stream", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}

	var snapshot observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snapshot); err != nil {
		return err
	}
	fmt.Printf("inkprobe: server stages (window %d)\n", snapshot.WindowSize)
	for _, st := range snapshot.Stages {
		fmt.Printf("inkprobe:   %-22s n=%-4d p50=%.1fms p95=%.1fms p99=%.1fms avg=%.1fms\n",
			st.Stage, st.Samples, st.P50MS, st.P95MS, st.P99MS, st.AvgMS)
	}
	for _, ind := range snapshot.Indicators {
		fmt.Printf("inkprobe:   indicator %-20s count=%d\n", ind.Name, ind.Count)
	}
	return nil
}
