package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"imagereader/internal/pkg/text"
)

// maxResponseBytes caps how much of a reply is read; generated text for a
// single image is far below this.
const maxResponseBytes = 16 << 20

type httpCall struct {
	provider string
	url      string
	headers  map[string]string
	body     []byte
}

// post sends the JSON body and returns the raw 2xx reply, classifying every
// failure into a *ModelError.
func post(ctx context.Context, client *http.Client, call httpCall) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.url, bytes.NewReader(call.body))
	if err != nil {
		return nil, rejected(call.provider, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, call.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(ctx, call.provider, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, classifyStatus(call.provider, resp.StatusCode, errorMessage(raw, resp.Status))
	}
	return raw, nil
}

// errorMessage pulls a readable message out of an error body. Ollama replies
// {"error":"..."}, OpenAI-compatible servers {"error":{"message":"..."}}.
func errorMessage(raw []byte, fallback string) string {
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() && strings.TrimSpace(msg.String()) != "" {
			return strings.TrimSpace(msg.String())
		}
		if msg := gjson.GetBytes(raw, "error"); msg.Type == gjson.String && strings.TrimSpace(msg.String()) != "" {
			return strings.TrimSpace(msg.String())
		}
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fallback
	}
	return text.Truncate(body, 256)
}

// extractText reads the generated text at path.
func extractText(provider string, raw []byte, path string) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", malformed(provider, "reply is not valid JSON", nil)
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return "", malformed(provider, fmt.Sprintf("reply has no %s field", path), nil)
	}
	text := strings.TrimSpace(res.String())
	if text == "" {
		return "", malformed(provider, fmt.Sprintf("reply %s is empty", path), nil)
	}
	return text, nil
}

func imageSummaries(images []ImagePayload) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		desc := img.Description
		if desc == "" {
			desc = fmt.Sprintf("%s, %d base64 chars", img.MIMEType, len(img.Base64))
		}
		out = append(out, desc)
	}
	return out
}
