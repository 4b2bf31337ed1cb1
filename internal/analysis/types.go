// Package analysis runs the three-prompt analysis of one uploaded image and
// owns the per-session state the result is published into.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imagereader/internal/gateway/provider"
	"imagereader/internal/imagecodec"
	"imagereader/internal/prompt"
)

// UploadedImage is what the presentation layer hands over: raw bytes plus the
// format declared by the file name.
type UploadedImage struct {
	Filename string
	Format   string
	Data     []byte
}

// Result holds all three texts. It is never published partially filled.
type Result struct {
	ID           string
	Model        string
	SourceFormat string
	Width        int
	Height       int
	Texts        map[prompt.Label]string
	CreatedAt    time.Time
	Elapsed      time.Duration
}

func (r Result) Text(label prompt.Label) string {
	return r.Texts[label]
}

func (r Result) clone() Result {
	out := r
	out.Texts = make(map[prompt.Label]string, len(r.Texts))
	for k, v := range r.Texts {
		out.Texts[k] = v
	}
	return out
}

type Reason string

const (
	ReasonDecode    Reason = "decode"
	ReasonInference Reason = "inference"
)

// FailureKind is what the user is told about a failed analysis.
type FailureKind string

const (
	KindDecode           FailureKind = "decode"
	KindModelUnavailable FailureKind = FailureKind(provider.KindUnavailable)
	KindModelRequest     FailureKind = FailureKind(provider.KindRequest)
	KindModelResponse    FailureKind = FailureKind(provider.KindResponse)
)

// Failure is the AnalysisFailed outcome. Label is set for inference failures
// and names the prompt whose call failed.
type Failure struct {
	Reason Reason
	Kind   FailureKind
	Label  prompt.Label
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Label != "" {
		return fmt.Sprintf("analysis failed (%s, %s): %s", f.Kind, f.Label, f.Detail)
	}
	return fmt.Sprintf("analysis failed (%s): %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// Message is the user-facing line for the error banner.
func (f *Failure) Message() string {
	switch f.Kind {
	case KindDecode:
		return "The uploaded file could not be read as a png or jpeg image."
	case KindModelUnavailable:
		return "The model service is not reachable or did not answer in time."
	case KindModelRequest:
		return "The model service rejected the request."
	case KindModelResponse:
		return "The model service returned an unusable reply."
	}
	return "The analysis failed."
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func decodeFailure(err error) *Failure {
	return &Failure{Reason: ReasonDecode, Kind: KindDecode, Detail: err.Error(), Err: err}
}

func inferenceFailure(label prompt.Label, err error) *Failure {
	kind := KindModelUnavailable
	if k, ok := provider.KindOf(err); ok {
		kind = FailureKind(k)
	}
	return &Failure{Reason: ReasonInference, Kind: kind, Label: label, Detail: err.Error(), Err: err}
}

// Outcome is reported to recorders and observers once per analysis.
type Outcome struct {
	SessionID    string
	Filename     string
	SourceFormat string
	Width        int
	Height       int
	Model        string
	Result       *Result
	Failure      *Failure
	Elapsed      time.Duration
	At           time.Time
}

func (o Outcome) Status() string {
	if o.Failure != nil {
		return string(o.Failure.Kind)
	}
	return "complete"
}

// Recorder persists outcomes, e.g. the history store.
type Recorder interface {
	Record(ctx context.Context, out Outcome) error
}

// Observer receives timing for metrics.
type Observer interface {
	ObserveCall(label prompt.Label, err error, d time.Duration)
	ObserveAnalysis(out Outcome)
}

// Encoder is the codec seam.
type Encoder interface {
	Encode(raw []byte, declaredFormat string) (imagecodec.EncodedPayload, error)
}

// PromptSource yields the prompts in analysis order.
type PromptSource interface {
	Specs() []prompt.Spec
}

type sessionKey struct{}

// WithSessionID tags ctx with the session the analysis belongs to.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
