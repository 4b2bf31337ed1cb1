package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"imagereader/internal/logger"
)

// OllamaChatClient talks to a local Ollama server through /api/chat with
// streaming disabled, so each call returns the whole reply at once.
type OllamaChatClient struct {
	id          string
	baseURL     string
	model       string
	temperature *float64
	client      *http.Client
}

type OllamaOptions struct {
	ID          string
	BaseURL     string
	Model       string
	Temperature *float64
	// HTTPClient overrides the default client; per-call deadlines come from ctx.
	HTTPClient *http.Client
}

func NewOllamaChatClient(opts OllamaOptions) *OllamaChatClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	id := opts.ID
	if id == "" {
		id = "ollama:" + opts.Model
	}
	return &OllamaChatClient{
		id:          id,
		baseURL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		model:       opts.Model,
		temperature: opts.Temperature,
		client:      client,
	}
}

func (c *OllamaChatClient) ID() string    { return c.id }
func (c *OllamaChatClient) Model() string { return c.model }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

func (c *OllamaChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	var messages []ollamaMessage
	if payload.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: payload.System})
	}
	user := ollamaMessage{Role: "user", Content: payload.User}
	for _, img := range payload.Images {
		user.Images = append(user.Images, img.Base64)
	}
	messages = append(messages, user)

	reqBody := ollamaRequest{Model: c.model, Messages: messages}
	opts := map[string]any{}
	if c.temperature != nil {
		opts["temperature"] = *c.temperature
	}
	if payload.MaxTokens > 0 {
		opts["num_predict"] = payload.MaxTokens
	}
	if len(opts) > 0 {
		reqBody.Options = opts
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", rejected(c.id, "encode request", err)
	}

	url := c.baseURL + "/api/chat"
	logger.LogLLMRequest(c.id, payload.Purpose, payload.User, imageSummaries(payload.Images), string(body))
	start := time.Now()
	raw, err := post(ctx, c.client, httpCall{provider: c.id, url: url, body: body})
	if err != nil {
		logger.LogLLMError(c.id, payload.Purpose, err)
		return "", err
	}
	logger.LogLLMResponse(c.id, payload.Purpose, string(raw))
	text, err := extractText(c.id, raw, "message.content")
	if err != nil {
		return "", err
	}
	logger.Debugf("ollama %s %s done in %s (%d chars)", c.model, payload.Purpose, time.Since(start).Truncate(time.Millisecond), len(text))
	return text, nil
}
