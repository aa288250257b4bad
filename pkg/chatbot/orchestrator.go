package chatbot

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"chat-gateway-be/pkg/llm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reply is a finished generation, successful or not.
type Reply struct {
	Text         string
	Model        string
	Kind         llm.Kind
	FallbackUsed bool
	Latency      time.Duration
}

// Fragment is one piece of streamed output. Error fragments carry failure
// text that still belongs to the reply.
type Fragment struct {
	Text    string
	IsError bool
}

// Orchestrator selects a backend, applies the fallback policy and never
// returns an error: failures become reply text.
type Orchestrator struct {
	local  llm.Backend
	cloud  llm.Backend
	tracer trace.Tracer
}

// NewOrchestrator takes the configured backends. cloud may be nil.
func NewOrchestrator(local, cloud llm.Backend) *Orchestrator {
	return &Orchestrator{
		local:  local,
		cloud:  cloud,
		tracer: otel.Tracer("chat-gateway/chatbot"),
	}
}

func (o *Orchestrator) HasLocal() bool {
	return o.local != nil
}

func (o *Orchestrator) HasCloud() bool {
	return o.cloud != nil
}

// CloudModel is the model that answers fallback requests.
func (o *Orchestrator) CloudModel() string {
	if o.cloud == nil {
		return ""
	}
	return o.cloud.Model("")
}

func (o *Orchestrator) backend(kind llm.Kind) llm.Backend {
	if kind == llm.KindLocal {
		return o.local
	}
	return o.cloud
}

func (o *Orchestrator) complete(ctx context.Context, kind llm.Kind, req *llm.Request) llm.Outcome {
	b := o.backend(kind)
	if b == nil {
		return llm.Outcome{Kind: kind, Model: req.Model, Err: llm.ErrNotConfigured}
	}

	ctx, span := o.tracer.Start(ctx, "backend.complete", trace.WithAttributes(
		attribute.String("backend.kind", string(kind)),
		attribute.String("backend.model", b.Model(req.Model)),
	))
	defer span.End()

	out := b.Complete(ctx, req)
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	return out
}

// Generate runs req synchronously on the selected backend.
func (o *Orchestrator) Generate(ctx context.Context, kind llm.Kind, req *llm.Request) Reply {
	outcome := o.complete(ctx, kind, req)

	switch DecideFallback(kind, outcome.Err, o.HasCloud()) {
	case Accept:
		text := outcome.Text
		if text == "" {
			text = noReply
		}
		return Reply{Text: text, Model: outcome.Model, Kind: outcome.Kind, Latency: outcome.Latency}

	case RetryOnCloud:
		retry := *req
		retry.Model = ""
		fb := o.complete(ctx, llm.KindCloud, &retry)
		return Reply{
			Text:         fallbackText(outcome.Err, fb),
			Model:        fb.Model,
			Kind:         llm.KindCloud,
			FallbackUsed: true,
			Latency:      fb.Latency,
		}

	default:
		return Reply{Text: failureText(kind, outcome.Err), Model: outcome.Model, Kind: kind, Latency: outcome.Latency}
	}
}

// Stream is a single-use streamed generation. Range over Fragments, then
// read Reply: it holds exactly the text of the fragments the consumer
// accepted, even when iteration was stopped early.
type Stream struct {
	o     *Orchestrator
	ctx   context.Context
	kind  llm.Kind
	req   *llm.Request
	reply Reply
}

func (o *Orchestrator) Stream(ctx context.Context, kind llm.Kind, req *llm.Request) *Stream {
	return &Stream{o: o, ctx: ctx, kind: kind, req: req, reply: Reply{Kind: kind, Model: req.Model}}
}

func (s *Stream) Reply() Reply {
	return s.reply
}

func (s *Stream) Fragments() iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		ctx, span := s.o.tracer.Start(s.ctx, "backend.stream", trace.WithAttributes(
			attribute.String("backend.kind", string(s.kind)),
		))
		defer span.End()

		start := time.Now()
		var sb strings.Builder
		defer func() {
			s.reply.Text = sb.String()
			s.reply.Latency = time.Since(start)
		}()

		send := func(f Fragment) bool {
			if !yield(f) {
				return false
			}
			sb.WriteString(f.Text)
			return true
		}

		var primaryErr error
		primary := s.o.backend(s.kind)
		if primary == nil {
			primaryErr = llm.ErrNotConfigured
		} else {
			s.reply.Model = primary.Model(s.req.Model)
			for text, err := range primary.Stream(ctx, s.req) {
				if err != nil {
					primaryErr = err
					break
				}
				if !send(Fragment{Text: text}) {
					return
				}
			}
		}
		if primaryErr != nil {
			span.RecordError(primaryErr)
		}

		switch DecideFallback(s.kind, primaryErr, s.o.HasCloud()) {
		case Accept:
			return

		case GiveUp:
			send(Fragment{Text: streamFailureText(s.kind, primaryErr), IsError: true})
			return

		case RetryOnCloud:
			cloudModel := s.o.CloudModel()
			s.reply.Kind = llm.KindCloud
			s.reply.Model = cloudModel
			s.reply.FallbackUsed = true
			span.SetAttributes(attribute.Bool("backend.fallback", true))

			if !send(Fragment{Text: fmt.Sprintf("[Local model failed, switching to %s: %v]\n", cloudModel, primaryErr)}) {
				return
			}

			retry := *s.req
			retry.Model = ""
			for text, err := range s.o.cloud.Stream(ctx, &retry) {
				if err != nil {
					span.RecordError(err)
					send(Fragment{Text: fmt.Sprintf("[Fallback %s error: %v]", cloudModel, err), IsError: true})
					return
				}
				if !send(Fragment{Text: text}) {
					return
				}
			}
		}
	}
}
