package brain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	builds int
	err    error
}

func (c *countingClient) Name() string { return "counting" }

func (c *countingClient) NewSession(ctx context.Context, instruction string) (Handle, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.builds++
	return &mockHandle{instruction: instruction}, nil
}

func TestManagerReusesHandleForSameInstruction(t *testing.T) {
	client := &countingClient{}
	m := NewManager(client, nil)

	h1, err := m.Session(context.Background(), "instr")
	require.NoError(t, err)
	h2, err := m.Session(context.Background(), "instr")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, client.builds)
	assert.Equal(t, 1, m.Builds())
}

func TestManagerRebuildsWhenInstructionChanges(t *testing.T) {
	client := &countingClient{}
	m := NewManager(client, nil)

	h1, _ := m.Session(context.Background(), "a")
	h2, _ := m.Session(context.Background(), "b")
	assert.NotSame(t, h1, h2)
	assert.Equal(t, 2, client.builds)
}

func TestManagerConstructionFailureIsNotRetried(t *testing.T) {
	client := &countingClient{err: errors.New("dial failed")}
	m := NewManager(client, nil)

	_, err := m.Session(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelConstruction), "err = %v", err)
	assert.Equal(t, 0, client.builds)
}

func TestManagerPassesFatalErrorsThrough(t *testing.T) {
	m := NewManager(&countingClient{err: ErrCredentialInvalid}, nil)
	_, err := m.Session(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrCredentialInvalid))
}

func TestManagerDiscardOnlyOnCredentialFailure(t *testing.T) {
	client := &countingClient{}
	m := NewManager(client, nil)
	h, _ := m.Session(context.Background(), "a")

	assert.False(t, m.Discard(h, &UpstreamError{Provider: "x", Status: 503, Err: errors.New("busy")}))
	assert.True(t, m.Discard(h, &UpstreamError{Provider: "x", Status: 403, Err: errors.New("denied")}))

	_, _ = m.Session(context.Background(), "a")
	assert.Equal(t, 2, client.builds)
}

func TestManagerWithoutClient(t *testing.T) {
	_, err := NewManager(nil, nil).Session(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrModelConstruction))
}
