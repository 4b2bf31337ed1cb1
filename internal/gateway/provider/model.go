package provider

import "context"

// ImagePayload is one image attached to a chat call, already transport
// encoded (standard base64 of the image bytes).
type ImagePayload struct {
	Base64      string
	MIMEType    string
	Description string
}

func (p ImagePayload) DataURI() string {
	mime := p.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + p.Base64
}

// ChatPayload is a single-turn chat request. Purpose only labels log lines.
type ChatPayload struct {
	System    string
	User      string
	Images    []ImagePayload
	MaxTokens int
	Purpose   string
}

// ModelProvider is a blocking request/response call to one configured model.
// Call returns the full generated text or a *ModelError.
type ModelProvider interface {
	ID() string
	Model() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
