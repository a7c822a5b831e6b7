package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/ent0n29/curator/internal/reliability"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// generator is the subset of genai.Models the client needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// GeminiClient sends turns to the Gemini API through google.golang.org/genai.
type GeminiClient struct {
	models generator
	model  string
}

func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrCredentialMissing)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ErrModelConstruction, err)
	}

	g := newGeminiClient(client.Models, cfg.Model)
	if cfg.VerifyOnStart {
		if err := g.Verify(ctx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func newGeminiClient(models generator, model string) *GeminiClient {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{models: models, model: model}
}

func (c *GeminiClient) Name() string { return "gemini:" + c.model }

// Verify probes the model metadata endpoint so a rejected key fails startup
// instead of the first turn.
func (c *GeminiClient) Verify(ctx context.Context) error {
	_, err := c.models.Get(ctx, c.model, nil)
	if err == nil {
		return nil
	}
	status, msg := apiErrorDetails(err)
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %s", ErrCredentialInvalid, msg)
	case status == 400 && strings.Contains(strings.ToLower(msg), "api key"):
		return fmt.Errorf("%w: %s", ErrCredentialInvalid, msg)
	default:
		return fmt.Errorf("%w: verify model %s: %v", ErrModelConstruction, c.model, err)
	}
}

func (c *GeminiClient) NewSession(_ context.Context, instruction string) (Handle, error) {
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(instruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	return &geminiHandle{models: c.models, model: c.model, config: cfg}, nil
}

type geminiHandle struct {
	models generator
	model  string
	config *genai.GenerateContentConfig
}

func (h *geminiHandle) Send(ctx context.Context, history []Message, text string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if m.Role == RoleModel {
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleModel))
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	resp, err := h.models.GenerateContent(ctx, h.model, contents, h.config)
	if err != nil {
		status, _ := apiErrorDetails(err)
		return "", &UpstreamError{Provider: "gemini", Status: status, Err: err}
	}
	if resp == nil {
		return "", &UpstreamError{Provider: "gemini", Err: fmt.Errorf("%w: nil response", reliability.ErrMalformedResponse)}
	}
	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", &UpstreamError{Provider: "gemini", Err: fmt.Errorf("%w: no text in response", reliability.ErrMalformedResponse)}
	}
	return reply, nil
}

func apiErrorDetails(err error) (int, string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}
	return 0, err.Error()
}
