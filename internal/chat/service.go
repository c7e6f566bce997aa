package chat

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
	"github.com/vnmchuo/bedrock-gateway/internal/telemetry"
)

// Augmenter looks up extra context for a query. An empty result means
// nothing relevant was found.
type Augmenter interface {
	Augment(ctx context.Context, query string) (string, error)
}

type Service struct {
	streamer  *Streamer
	augmenter Augmenter
	tracer    trace.Tracer
}

type Option func(*Service)

// WithAugmenter enables knowledge-base augmentation.
func WithAugmenter(a Augmenter) Option {
	return func(s *Service) {
		s.augmenter = a
	}
}

func NewService(upstream Upstream, tracer trace.Tracer, opts ...Option) *Service {
	s := &Service{
		streamer: NewStreamer(upstream),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare validates req and builds the vendor request.
func (s *Service) Prepare(ctx context.Context, req *CompletionRequest, requestID string) (*provider.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	turns, system, err := Normalize(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, &ValidationError{Msg: "at least one user or assistant message is required"}
	}

	if s.augmenter != nil {
		s.augment(ctx, req.Messages, turns, requestID)
	}

	return &provider.Request{
		Messages:  turns,
		System:    system,
		Settings:  req.Settings(),
		RequestID: requestID,
	}, nil
}

// augment never fails the request; retrieval problems are logged and the
// conversation goes out unchanged.
func (s *Service) augment(ctx context.Context, msgs []ChatMessage, turns []provider.Message, requestID string) {
	query, ok := LastUserText(msgs)
	if !ok {
		return
	}

	ctx, span := s.tracer.Start(ctx, "chat.augment")
	defer span.End()

	text, err := s.augmenter.Augment(ctx, query)
	if err != nil {
		telemetry.KnowledgeBaseFailures.Inc()
		span.RecordError(err)
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Warn("knowledge base augmentation failed, continuing without it")
		return
	}
	if text == "" {
		return
	}

	AttachContext(turns, text)
	span.SetAttributes(attribute.Int("context_chars", len(text)))
}

// Start prepares req and opens the vendor call. The chat.start span stays
// open until the last fragment is delivered or ctx is cancelled.
func (s *Service) Start(ctx context.Context, req *CompletionRequest, requestID string) (<-chan Fragment, error) {
	ctx, span := s.tracer.Start(ctx, "chat.start")
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Bool("stream", req.Stream),
		attribute.Int("messages", len(req.Messages)),
	)

	preq, err := s.Prepare(ctx, req, requestID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	fragments, err := s.streamer.Run(ctx, preq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		span.End()
		return nil, err
	}

	out := make(chan Fragment)
	go func() {
		defer span.End()
		defer close(out)
		for f := range fragments {
			switch {
			case f.Err != nil:
				span.RecordError(f.Err)
				span.SetStatus(codes.Error, "stream failed")
			case f.Done:
				span.SetAttributes(
					attribute.Int("response_chars", len(f.Full)),
					attribute.Int("output_tokens", f.OutputTokens),
				)
			}
			select {
			case out <- f:
			case <-ctx.Done():
				span.SetStatus(codes.Error, "canceled")
				return
			}
		}
	}()
	return out, nil
}
