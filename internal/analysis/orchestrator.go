package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imagereader/internal/gateway/provider"
	"imagereader/internal/imagecodec"
	"imagereader/internal/logger"
	"imagereader/internal/prompt"
)

type Options struct {
	// Parallel issues the three model calls concurrently.
	Parallel bool
	Recorder Recorder
	Observer Observer
	Now      func() time.Time
}

// Orchestrator turns one upload into a Result: encode once, ask the model
// once per prompt, publish all three texts or none.
type Orchestrator struct {
	codec    Encoder
	model    provider.ModelProvider
	prompts  PromptSource
	parallel bool
	recorder Recorder
	observer Observer
	now      func() time.Time
}

func NewOrchestrator(codec Encoder, model provider.ModelProvider, prompts PromptSource, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		codec:    codec,
		model:    model,
		prompts:  prompts,
		parallel: opts.Parallel,
		recorder: opts.Recorder,
		observer: opts.Observer,
		now:      now,
	}
}

// Analyze runs a full analysis into state. On error the returned error is a
// *Failure and state holds no result.
func (o *Orchestrator) Analyze(ctx context.Context, state *State, img UploadedImage) (Result, error) {
	start := o.now()
	ticket := state.Begin(img.Filename)
	out := Outcome{
		SessionID: SessionIDFrom(ctx),
		Filename:  img.Filename,
		Model:     o.model.ID(),
	}

	payload, err := o.codec.Encode(img.Data, img.Format)
	if err != nil {
		f := decodeFailure(err)
		state.Fail(ticket, f)
		logger.Warnf("analysis of %q rejected: %v", img.Filename, err)
		o.finish(ctx, out, nil, f, start)
		return Result{}, f
	}
	out.SourceFormat = payload.SourceFormat
	out.Width, out.Height = payload.Width, payload.Height
	state.attachPreview(ticket, payload.DataURI())
	logger.Debugf("analysis of %q: %s", img.Filename, payload.Summary())

	specs := o.prompts.Specs()
	var texts map[prompt.Label]string
	if o.parallel {
		texts, err = o.inferParallel(ctx, payload, specs)
	} else {
		texts, err = o.inferSequential(ctx, payload, specs)
	}
	if err != nil {
		f, ok := AsFailure(err)
		if !ok {
			f = inferenceFailure("", err)
		}
		state.Fail(ticket, f)
		logger.Errorf("analysis of %q failed: %v", img.Filename, f)
		o.finish(ctx, out, nil, f, start)
		return Result{}, f
	}

	result := Result{
		ID:           uuid.NewString(),
		Model:        o.model.ID(),
		SourceFormat: payload.SourceFormat,
		Width:        payload.Width,
		Height:       payload.Height,
		Texts:        texts,
		CreatedAt:    o.now(),
	}
	result.Elapsed = result.CreatedAt.Sub(start)
	if !state.Complete(ticket, result) {
		logger.Warnf("analysis %s finished after a newer upload, result dropped", result.ID)
	}
	logger.Infof("analysis %s of %q complete in %s", result.ID, img.Filename, result.Elapsed.Round(time.Millisecond))
	o.finish(ctx, out, &result, nil, start)
	return result, nil
}

func (o *Orchestrator) inferSequential(ctx context.Context, payload imagecodec.EncodedPayload, specs []prompt.Spec) (map[prompt.Label]string, error) {
	texts := make(map[prompt.Label]string, len(specs))
	for _, spec := range specs {
		text, err := o.infer(ctx, payload, spec)
		if err != nil {
			return nil, err
		}
		texts[spec.Label] = text
	}
	return texts, nil
}

// inferParallel cancels the remaining calls on the first failure.
func (o *Orchestrator) inferParallel(ctx context.Context, payload imagecodec.EncodedPayload, specs []prompt.Spec) (map[prompt.Label]string, error) {
	outs := make([]string, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			text, err := o.infer(gctx, payload, spec)
			if err != nil {
				return err
			}
			outs[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	texts := make(map[prompt.Label]string, len(specs))
	for i, spec := range specs {
		texts[spec.Label] = outs[i]
	}
	return texts, nil
}

// infer is one model call for one prompt.
func (o *Orchestrator) infer(ctx context.Context, payload imagecodec.EncodedPayload, spec prompt.Spec) (string, error) {
	start := o.now()
	text, err := o.model.Call(ctx, provider.ChatPayload{
		User: spec.Instruction,
		Images: []provider.ImagePayload{{
			Base64:      payload.Base64,
			MIMEType:    "image/png",
			Description: payload.Summary(),
		}},
		Purpose: string(spec.Label),
	})
	if o.observer != nil {
		o.observer.ObserveCall(spec.Label, err, o.now().Sub(start))
	}
	if err != nil {
		return "", inferenceFailure(spec.Label, err)
	}
	return text, nil
}

func (o *Orchestrator) finish(ctx context.Context, out Outcome, result *Result, failure *Failure, start time.Time) {
	out.Result = result
	out.Failure = failure
	out.At = o.now()
	out.Elapsed = out.At.Sub(start)
	if o.observer != nil {
		o.observer.ObserveAnalysis(out)
	}
	if o.recorder == nil {
		return
	}
	// 记录失败只打日志，不影响本次结果
	if err := o.recorder.Record(context.WithoutCancel(ctx), out); err != nil {
		logger.Warnf("record analysis outcome failed: %v", err)
	}
}
