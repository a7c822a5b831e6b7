package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/curator/internal/reliability"
)

func TestHTTPHandlePostsInstructionHistoryAndMessage(t *testing.T) {
	var got httpRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Dế Mèn hay lắm"}`))
	}))
	defer ts.Close()

	h, err := NewHTTPClient(ts.URL, "secret", 0).NewSession(context.Background(), "persona")
	require.NoError(t, err)
	reply, err := h.Send(context.Background(), []Message{{Role: RoleModel, Text: "g"}}, "q")
	require.NoError(t, err)

	assert.Equal(t, "Dế Mèn hay lắm", reply)
	assert.Equal(t, "persona", got.SystemInstruction)
	assert.Equal(t, []Message{{Role: RoleModel, Text: "g"}}, got.History)
	assert.Equal(t, "q", got.Message)
}

func TestHTTPHandleStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	h, _ := NewHTTPClient(ts.URL, "", 0).NewSession(context.Background(), "p")
	_, err := h.Send(context.Background(), nil, "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamCall))
	assert.Equal(t, reliability.ClassRateLimited, reliability.Classify(err))
}

func TestHTTPHandleJSONWithoutText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer ts.Close()

	h, _ := NewHTTPClient(ts.URL, "", 0).NewSession(context.Background(), "p")
	_, err := h.Send(context.Background(), nil, "q")
	assert.Equal(t, reliability.ClassBadResponse, reliability.Classify(err))
}

func TestConsumeStreamSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))

	text, err := consumeStream(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestConsumeStreamNDJSON(t *testing.T) {
	stream := strings.NewReader("{\"delta\":\"Hi\"}\n{\"delta\":\" there\"}\n")
	text, err := consumeStream(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestConsumeBodyPlainText(t *testing.T) {
	text, err := consumeBody(strings.NewReader("just text"))
	require.NoError(t, err)
	assert.Equal(t, "just text", text)
}
