package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/curator/internal/observability"
	"github.com/ent0n29/curator/internal/protocol"
)

type replayOptions struct {
	baseURL        string
	userID         string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Text    string `json:"text,omitempty"`
}

// replayResult is the outcome of one replayed turn.
type replayResult struct {
	Text    string
	Reply   string
	Code    string
	Latency time.Duration
}

var defaultUtterances = []string{
	"Có sách nào của Nguyễn Nhật Ánh không?",
	"Gợi ý cho mình một cuốn sách tiếng Anh về lịch sử.",
	"Sách đó nói về điều gì?",
	"Cảm ơn bạn!",
}

var (
	replayFlags     replayOptions
	replayTextsRaw  string
	replayInterMS   int
	replayTimeoutMS int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay scripted turns against a running server",
	Long: `Open one chat session on a running server, send scripted messages over
the websocket one at a time and print per-turn latency followed by the
server's stage latency snapshot.`,
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	f.StringVar(&replayFlags.userID, "user-id", "perf-replay", "user_id used for the replay session")
	f.IntVar(&replayFlags.turns, "turns", 4, "number of turns to replay")
	f.IntVar(&replayInterMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	f.IntVar(&replayTimeoutMS, "turn-timeout-ms", 90000, "timeout waiting for a reply per turn in milliseconds")
	f.StringVar(&replayTextsRaw, "texts", "", "messages separated by '|' (optional)")
	f.BoolVar(&replayFlags.verbose, "verbose", true, "print replay progress")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	opts, err := normalizeReplayOptions(replayFlags, replayTextsRaw, replayInterMS, replayTimeoutMS)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	out := cmd.OutOrStdout()
	results, err := replay(ctx, opts, out)
	if err != nil {
		return err
	}
	printReplaySummary(out, results)

	snap, err := fetchLatency(ctx, &http.Client{Timeout: 10 * time.Second}, opts.baseURL)
	if err != nil {
		fmt.Fprintf(out, "replay: latency snapshot unavailable: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "server: fulfilled=%d failed=%d\n", snap.Fulfilled, snap.Failed)
	for _, st := range snap.Stages {
		fmt.Fprintf(out, "%-18s n=%-4d p50=%7.1fms p95=%7.1fms max=%7.1fms budget=%7.1fms over=%d\n",
			st.Stage, st.Samples, st.P50MS, st.P95MS, st.MaxMS, st.BudgetMS, st.OverBudget)
	}
	for _, f := range snap.Failures {
		fmt.Fprintf(out, "%-18s count=%d retryable=%t\n", f.Code, f.Count, f.Retryable)
	}
	return nil
}

func normalizeReplayOptions(cfg replayOptions, textsRaw string, interTurnMS, turnTimeoutMS int) (replayOptions, error) {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return replayOptions{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return replayOptions{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = nil
	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
		return cfg, nil
	}
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if len(cfg.texts) == 0 {
		return replayOptions{}, fmt.Errorf("texts produced no non-empty messages")
	}
	return cfg, nil
}

func replay(ctx context.Context, opts replayOptions, out io.Writer) ([]replayResult, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, opts.baseURL, opts.userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, opts.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if opts.verbose {
		fmt.Fprintf(out, "replay: session=%s turns=%d\n", sessionID, opts.turns)
	}

	endCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, endCh, readErrCh, out, opts.verbose)

	results := make([]replayResult, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		if opts.verbose {
			fmt.Fprintf(out, "replay: turn %d/%d text=%q\n", i+1, opts.turns, text)
		}

		started := time.Now()
		msg := protocol.ClientMessage{Type: protocol.TypeClientMessage, SessionID: sessionID, Text: text}
		if err := conn.WriteJSON(msg); err != nil {
			return results, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		env, err := awaitTurnEnd(ctx, endCh, readErrCh, opts.turnTimeout)
		if err != nil {
			return results, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		res := replayResult{Text: text, Latency: time.Since(started)}
		if env.Type == string(protocol.TypeAssistantReply) {
			res.Reply = env.Text
		} else {
			res.Code = env.Code
		}
		results = append(results, res)

		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	if opts.verbose {
		fmt.Fprintln(out, "replay: completed")
	}
	return results, nil
}

func createSession(ctx context.Context, client *http.Client, baseURL, userID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/session", bytes.NewReader(payload))
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

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return created.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/session/"+url.PathEscape(sessionID)+"/end", nil)
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

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) (observability.LatencySnapshot, error) {
	var snap observability.LatencySnapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return snap, err
	}
	res, err := client.Do(req)
	if err != nil {
		return snap, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	err = json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&snap)
	return snap, err
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
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop forwards the terminal event of each turn. dispatch_pending and
// system events are progress only.
func readLoop(conn *websocket.Conn, endCh chan<- wsEnvelope, readErrCh chan<- error, out io.Writer, verbose bool) {
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
		switch env.Type {
		case string(protocol.TypeAssistantReply), string(protocol.TypeTurnFailed):
			select {
			case endCh <- env:
			default:
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(out, "replay: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
			select {
			case endCh <- env:
			default:
			}
		}
	}
}

func awaitTurnEnd(ctx context.Context, endCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-endCh:
		return env, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return wsEnvelope{}, ctx.Err()
	}
}

func printReplaySummary(out io.Writer, results []replayResult) {
	var total time.Duration
	failed := 0
	for i, r := range results {
		total += r.Latency
		status := "ok"
		if r.Code != "" {
			status = r.Code
			failed++
		}
		fmt.Fprintf(out, "turn %d: %s latency=%dms\n", i+1, status, r.Latency.Milliseconds())
	}
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(out, "turns=%d failed=%d avg=%dms\n", len(results), failed, (total / time.Duration(len(results))).Milliseconds())
}
