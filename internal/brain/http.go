package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/curator/internal/reliability"
)

// HTTPClient forwards turns to a JSON endpoint that fronts a model, e.g. a
// self-hosted proxy. Replies may be a JSON object, plain text, SSE or NDJSON.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

type httpRequest struct {
	SystemInstruction string    `json:"system_instruction"`
	History           []Message `json:"history"`
	Message           string    `json:"message"`
}

func NewHTTPClient(url, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return "http" }

func (c *HTTPClient) NewSession(_ context.Context, instruction string) (Handle, error) {
	return &httpHandle{client: c, instruction: instruction}, nil
}

type httpHandle struct {
	client      *HTTPClient
	instruction string
}

func (h *httpHandle) Send(ctx context.Context, history []Message, text string) (string, error) {
	if history == nil {
		history = []Message{}
	}
	payload, err := json.Marshal(httpRequest{
		SystemInstruction: h.instruction,
		History:           history,
		Message:           text,
	})
	if err != nil {
		return "", &UpstreamError{Provider: "http", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.client.url, bytes.NewReader(payload))
	if err != nil {
		return "", &UpstreamError{Provider: "http", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.client.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.client.token)
	}

	res, err := h.client.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: "http", Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &UpstreamError{Provider: "http", Status: res.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	var reply string
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		reply, err = consumeStream(res.Body)
	} else {
		reply, err = consumeBody(res.Body)
	}
	if err != nil {
		return "", &UpstreamError{Provider: "http", Err: err}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &UpstreamError{Provider: "http", Err: fmt.Errorf("%w: empty reply", reliability.ErrMalformedResponse)}
	}
	return reply, nil
}

func consumeBody(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw), nil
	}
	text, ok := extractText(obj)
	if !ok {
		return "", fmt.Errorf("%w: no text field in response", reliability.ErrMalformedResponse)
	}
	return text, nil
}

// consumeStream concatenates SSE `data:` lines or NDJSON objects.
func consumeStream(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta, _ = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) (string, bool) {
	for _, k := range []string{"text", "reply", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}
