package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"imagereader/internal/gateway/provider"
	"imagereader/internal/imagecodec"
	"imagereader/internal/prompt"
)

type mockModel struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockModel) ID() string    { return "mock:llava" }
func (m *mockModel) Model() string { return "llava" }

func (m *mockModel) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	m.mu.Lock()
	args := m.Called(ctx, payload)
	m.mu.Unlock()
	return args.String(0), args.Error(1)
}

func purpose(label prompt.Label) interface{} {
	return mock.MatchedBy(func(p provider.ChatPayload) bool { return p.Purpose == string(label) })
}

func pngUpload(t *testing.T) UploadedImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		img.Set(x, 1, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return UploadedImage{Filename: "sample.png", Format: "png", Data: buf.Bytes()}
}

func newOrchestrator(m provider.ModelProvider, opts Options) *Orchestrator {
	return NewOrchestrator(imagecodec.NewCodec(imagecodec.Options{}), m, prompt.NewStatic(), opts)
}

type recorderStub struct {
	outcomes []Outcome
	err      error
}

func (r *recorderStub) Record(_ context.Context, out Outcome) error {
	r.outcomes = append(r.outcomes, out)
	return r.err
}

type observerStub struct {
	mu       sync.Mutex
	calls    map[prompt.Label]error
	analyses []string
}

func (o *observerStub) ObserveCall(label prompt.Label, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[prompt.Label]error{}
	}
	o.calls[label] = err
}

func (o *observerStub) ObserveAnalysis(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyses = append(o.analyses, out.Status())
}

func TestAnalyzeSuccessPublishesAllThreeTexts(t *testing.T) {
	m := &mockModel{}
	m.On("Call", mock.Anything, purpose(prompt.LabelDescribe)).Return("desc-text", nil).Once()
	m.On("Call", mock.Anything, purpose(prompt.LabelExtract)).Return("extract-text", nil).Once()
	m.On("Call", mock.Anything, purpose(prompt.LabelSummarize)).Return("summary-text", nil).Once()

	rec := &recorderStub{}
	obs := &observerStub{}
	o := newOrchestrator(m, Options{Recorder: rec, Observer: obs})
	state := NewState()

	res, err := o.Analyze(WithSessionID(context.Background(), "sess-1"), state, pngUpload(t))
	require.NoError(t, err)
	m.AssertExpectations(t)

	want := map[prompt.Label]string{
		prompt.LabelDescribe:  "desc-text",
		prompt.LabelExtract:   "extract-text",
		prompt.LabelSummarize: "summary-text",
	}
	assert.Equal(t, want, res.Texts)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "mock:llava", res.Model)
	assert.Equal(t, 4, res.Width)

	snap := state.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, want, snap.Result.Texts)
	assert.Nil(t, snap.Failure)
	assert.Contains(t, snap.Preview, "data:image/png;base64,")

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "sess-1", rec.outcomes[0].SessionID)
	assert.Equal(t, "complete", rec.outcomes[0].Status())
	assert.Equal(t, []string{"complete"}, obs.analyses)
	assert.Len(t, obs.calls, 3)
}

func TestAnalyzeSendsSamePayloadInOrder(t *testing.T) {
	m := &mockModel{}
	m.On("Call", mock.Anything, mock.Anything).Return("text", nil)
	o := newOrchestrator(m, Options{})

	_, err := o.Analyze(context.Background(), NewState(), pngUpload(t))
	require.NoError(t, err)
	require.Len(t, m.Calls, 3)

	var images []string
	for i, label := range prompt.Labels {
		p := m.Calls[i].Arguments.Get(1).(provider.ChatPayload)
		assert.Equal(t, string(label), p.Purpose)
		require.Len(t, p.Images, 1)
		images = append(images, p.Images[0].Base64)
	}
	assert.Equal(t, images[0], images[1])
	assert.Equal(t, images[1], images[2])
	assert.Equal(t, prompt.Defaults()[0].Instruction, m.Calls[0].Arguments.Get(1).(provider.ChatPayload).User)
}

func TestAnalyzeFailureOnAnyCallIsAllOrNothing(t *testing.T) {
	modelErr := &provider.ModelError{Kind: provider.KindUnavailable, Provider: "mock:llava", Msg: "endpoint not reachable"}
	for i, failing := range prompt.Labels {
		for _, parallel := range []bool{false, true} {
			name := string(failing)
			if parallel {
				name += "/parallel"
			}
			t.Run(name, func(t *testing.T) {
				m := &mockModel{}
				for _, label := range prompt.Labels {
					if label == failing {
						m.On("Call", mock.Anything, purpose(label)).Return("", modelErr)
					} else {
						m.On("Call", mock.Anything, purpose(label)).Return(string(label)+"-text", nil).Maybe()
					}
				}
				rec := &recorderStub{}
				o := newOrchestrator(m, Options{Parallel: parallel, Recorder: rec})
				state := NewState()

				res, err := o.Analyze(context.Background(), state, pngUpload(t))
				require.Error(t, err)
				assert.Nil(t, res.Texts)

				f, ok := AsFailure(err)
				require.True(t, ok)
				assert.Equal(t, ReasonInference, f.Reason)
				assert.Equal(t, KindModelUnavailable, f.Kind)
				assert.Equal(t, failing, f.Label)
				assert.True(t, errors.Is(err, provider.ErrModelUnavailable))

				snap := state.Snapshot()
				assert.Equal(t, StatusFailed, snap.Status)
				assert.Nil(t, snap.Result)
				require.NotNil(t, snap.Failure)
				assert.Equal(t, KindModelUnavailable, snap.Failure.Kind)

				if !parallel {
					// later prompts are never sent
					assert.Len(t, m.Calls, i+1)
				}
				require.Len(t, rec.outcomes, 1)
				assert.Nil(t, rec.outcomes[0].Result)
			})
		}
	}
}

func TestAnalyzeKeepsModelErrorKind(t *testing.T) {
	m := &mockModel{}
	m.On("Call", mock.Anything, mock.Anything).Return("", &provider.ModelError{Kind: provider.KindResponse, Provider: "mock:llava", Msg: "reply message.content is empty"})
	o := newOrchestrator(m, Options{})

	_, err := o.Analyze(context.Background(), NewState(), pngUpload(t))
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, KindModelResponse, f.Kind)
	assert.Contains(t, f.Detail, "empty")
	assert.NotEmpty(t, f.Message())
}

func TestAnalyzeDecodeFailureMakesNoModelCalls(t *testing.T) {
	cases := map[string]UploadedImage{
		"gif":     {Filename: "a.gif", Format: "gif", Data: []byte("GIF89a")},
		"bmp":     {Filename: "a.bmp", Format: "bmp", Data: []byte("BM")},
		"empty":   {Filename: "a.png", Format: "png", Data: nil},
		"garbage": {Filename: "a.jpg", Format: "jpg", Data: []byte("not an image at all")},
	}
	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			m := &mockModel{}
			obs := &observerStub{}
			o := newOrchestrator(m, Options{Observer: obs})
			state := NewState()

			_, err := o.Analyze(context.Background(), state, img)
			require.Error(t, err)
			assert.True(t, imagecodec.IsDecodeError(err))
			f, ok := AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, ReasonDecode, f.Reason)
			assert.Equal(t, KindDecode, f.Kind)

			m.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
			snap := state.Snapshot()
			assert.Equal(t, StatusFailed, snap.Status)
			assert.Nil(t, snap.Result)
			assert.Empty(t, snap.Preview)
			assert.Equal(t, []string{"decode"}, obs.analyses)
		})
	}
}

func TestNewAnalysisClearsStaleResult(t *testing.T) {
	m := &mockModel{}
	m.On("Call", mock.Anything, mock.Anything).Return("text", nil)
	o := newOrchestrator(m, Options{})
	state := NewState()

	_, err := o.Analyze(context.Background(), state, pngUpload(t))
	require.NoError(t, err)
	require.NotNil(t, state.Snapshot().Result)

	_, err = o.Analyze(context.Background(), state, UploadedImage{Filename: "x.gif", Format: "gif", Data: []byte("x")})
	require.Error(t, err)
	snap := state.Snapshot()
	assert.Nil(t, snap.Result)
	assert.Equal(t, "x.gif", snap.Filename)
}

func TestRecorderErrorDoesNotChangeOutcome(t *testing.T) {
	m := &mockModel{}
	m.On("Call", mock.Anything, mock.Anything).Return("text", nil)
	o := newOrchestrator(m, Options{Recorder: &recorderStub{err: errors.New("disk full")}})

	_, err := o.Analyze(context.Background(), NewState(), pngUpload(t))
	assert.NoError(t, err)
}

func TestParallelCancelsSiblingsOnFailure(t *testing.T) {
	blocked := &blockingModel{failLabel: prompt.LabelDescribe}
	o := newOrchestrator(blocked, Options{Parallel: true})

	_, err := o.Analyze(context.Background(), NewState(), pngUpload(t))
	require.Error(t, err)
	f, _ := AsFailure(err)
	assert.Equal(t, prompt.LabelDescribe, f.Label)
	assert.Equal(t, KindModelRequest, f.Kind)
}

// blockingModel fails one label and blocks the others until their context ends.
type blockingModel struct {
	failLabel prompt.Label
}

func (b *blockingModel) ID() string    { return "block:model" }
func (b *blockingModel) Model() string { return "model" }
func (b *blockingModel) Call(ctx context.Context, p provider.ChatPayload) (string, error) {
	if p.Purpose == string(b.failLabel) {
		return "", &provider.ModelError{Kind: provider.KindRequest, Provider: "block:model", Status: 400}
	}
	<-ctx.Done()
	return "", &provider.ModelError{Kind: provider.KindUnavailable, Provider: "block:model", Msg: "canceled", Err: ctx.Err()}
}
