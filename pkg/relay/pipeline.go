package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/harun/pagerelay/internal/tracing"
	"github.com/harun/pagerelay/pkg/completion"
	"github.com/harun/pagerelay/pkg/messenger"
	"github.com/harun/pagerelay/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// NoContentReply is sent, and recorded, when the provider answers without text.
	NoContentReply = "Sorry, I couldn't generate a response."
	// FallbackReply is sent when the provider call fails. It is not recorded.
	FallbackReply = "Oops! Something went wrong."

	DefaultCompletionTimeout = 30 * time.Second
	DefaultDeliveryTimeout   = 10 * time.Second
)

// Event is a normalised inbound message.
type Event struct {
	UserID     string
	Text       string
	MessageID  string
	ReceivedAt time.Time
}

// Result describes how an event was handled.
type Result string

const (
	ResultSkipped   Result = "skipped"
	ResultReplied   Result = "replied"
	ResultNoContent Result = "no_content"
	ResultFallback  Result = "fallback"
)

// Config tunes a Pipeline.
type Config struct {
	SystemPrompt      string
	MaxOutputTokens   int
	CompletionTimeout time.Duration
	DeliveryTimeout   time.Duration
}

// Pipeline handles one event at a time; callers serialise events per user.
type Pipeline struct {
	store      *session.Store
	completion completion.Client
	sender     messenger.Sender
	cfg        Config
	logger     zerolog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(store *session.Store, client completion.Client, sender messenger.Sender, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Pipeline{
		store:      store,
		completion: client,
		sender:     sender,
		cfg:        cfg,
		logger:     logger.With().Str("component", "relay").Logger(),
	}
}

// Handle runs the pipeline for ev. The returned error is non-nil only when
// delivery failed; completion failures are answered with a fallback reply.
// Cancellation of ctx does not interrupt a started pipeline.
func (p *Pipeline) Handle(ctx context.Context, ev Event) (Result, error) {
	if ev.UserID == "" || ev.Text == "" {
		observability.RecordRelayEvent(string(ResultSkipped))
		return ResultSkipped, nil
	}

	ctx = context.WithoutCancel(ctx)
	ctx = tracing.WithUserID(ctx, ev.UserID)
	if ev.MessageID != "" && tracing.GetEventID(ctx) == "" {
		ctx = tracing.WithEventID(ctx, ev.MessageID)
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}

	ctx, span := tracing.StartSpan(ctx, "pagerelay.relay", "relay.handle",
		attribute.String("user_id", ev.UserID),
		attribute.String("message_id", ev.MessageID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, p.logger)

	now := ev.ReceivedAt
	if now.IsZero() {
		now = p.store.Now()
	}

	s := p.store.Resolve(ev.UserID, now)
	p.store.Append(s, session.RoleUser, ev.Text)

	reply, result := p.complete(ctx, s, logger)
	if result != ResultFallback {
		p.store.Append(s, session.RoleModel, reply)
	}
	span.SetAttributes(attribute.String("result", string(result)))

	if err := p.deliver(ctx, ev.UserID, reply); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("result", string(result)).Msg("Failed to deliver reply")
		observability.RecordRelayEvent("delivery_failed")
		return result, fmt.Errorf("deliver reply: %w", err)
	}

	logger.Debug().Str("result", string(result)).Int("turns", s.Len()).Msg("Event handled")
	observability.RecordRelayEvent(string(result))
	return result, nil
}

func (p *Pipeline) complete(ctx context.Context, s *session.Session, logger zerolog.Logger) (string, Result) {
	provider := p.completion.Provider()
	ctx, span := tracing.StartSpan(ctx, "pagerelay.relay", "relay.complete",
		attribute.String("provider", provider),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CompletionTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.completion.Complete(ctx, completion.Request{
		History:         s.History(),
		SystemPrompt:    p.cfg.SystemPrompt,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		observability.RecordCompletion(provider, "success", duration)
		return text, ResultReplied
	case errors.Is(err, completion.ErrNoContent):
		observability.RecordCompletion(provider, "no_content", duration)
		logger.Warn().Str("provider", provider).Msg("Completion returned no content")
		return NoContentReply, ResultNoContent
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordCompletion(provider, "error", duration)
		logger.Warn().Err(err).Str("provider", provider).Dur("duration", duration).Msg("Completion failed")
		return FallbackReply, ResultFallback
	}
}

func (p *Pipeline) deliver(ctx context.Context, userID, text string) error {
	ctx, span := tracing.StartSpan(ctx, "pagerelay.relay", "relay.deliver")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := p.sender.Send(ctx, userID, text)
	observability.RecordDelivery(time.Since(start), err == nil)
	return err
}
