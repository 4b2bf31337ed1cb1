package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"imagereader/internal/logger"
)

// OpenAIChatClient：兼容 OpenAI / vLLM / LM Studio 等 /chat/completions 接口，图片以 data URI 传入。
type OpenAIChatClient struct {
	id           string
	baseURL      string
	apiKey       string
	model        string
	temperature  *float64
	extraHeaders map[string]string
	client       *http.Client
}

type OpenAIOptions struct {
	ID           string
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  *float64
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

func NewOpenAIChatClient(opts OpenAIOptions) *OpenAIChatClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	id := opts.ID
	if id == "" {
		id = "openai:" + opts.Model
	}
	// 规范化 BaseURL，避免配置里已经带上 /chat/completions 导致重复路径
	url := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return &OpenAIChatClient{
		id:           id,
		baseURL:      url,
		apiKey:       opts.APIKey,
		model:        opts.Model,
		temperature:  opts.Temperature,
		extraHeaders: opts.ExtraHeaders,
		client:       client,
	}
}

func (c *OpenAIChatClient) ID() string    { return c.id }
func (c *OpenAIChatClient) Model() string { return c.model }

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	messages := []map[string]any{}
	if payload.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": payload.System})
	}
	parts := []map[string]any{{"type": "text", "text": payload.User}}
	for _, img := range payload.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": img.DataURI()},
		})
	}
	messages = append(messages, map[string]any{"role": "user", "content": parts})

	body := map[string]any{"model": c.model, "messages": messages}
	if c.temperature != nil {
		body["temperature"] = *c.temperature
	}
	if payload.MaxTokens > 0 {
		body["max_tokens"] = payload.MaxTokens
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", rejected(c.id, "encode request", err)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", c.apiKey)
	}
	for k, v := range c.extraHeaders {
		headers[k] = v
	}
	logger.Debugf("[AI] POST %s/chat/completions headers=%v", c.baseURL, maskHeaders(headers))
	logger.LogLLMRequest(c.id, payload.Purpose, payload.User, imageSummaries(payload.Images), string(b))

	raw, err := post(ctx, c.client, httpCall{
		provider: c.id,
		url:      c.baseURL + "/chat/completions",
		headers:  headers,
		body:     b,
	})
	if err != nil {
		logger.LogLLMError(c.id, payload.Purpose, err)
		return "", err
	}
	logger.LogLLMResponse(c.id, payload.Purpose, string(raw))
	return extractText(c.id, raw, "choices.0.message.content")
}

// maskHeaders 对可能包含敏感信息的头做掩码，仅保留后 4 位。
func maskHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			tail := v
			if len(v) > 4 {
				tail = v[len(v)-4:]
			}
			out[k] = "****" + tail
			continue
		}
		out[k] = v
	}
	return out
}
