package reaction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskConfig holds the collaborators of a Task.
type TaskConfig struct {
	Groups   GroupResolver
	Messages MessageResolver
	Emoji    EmojiValidator
	Applier  Applier
	Recorder Recorder // optional
	Logger   zerolog.Logger
}

// Task processes incoming group reactions. It holds no mutable state; every
// effect goes through its collaborators, so one Task may serve all groups as
// long as the caller serializes work within a group.
type Task struct {
	groups   GroupResolver
	messages MessageResolver
	emoji    EmojiValidator
	applier  Applier
	recorder Recorder
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewTask creates a Task.
func NewTask(cfg TaskConfig) *Task {
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Task{
		groups:   cfg.Groups,
		messages: cfg.Messages,
		emoji:    cfg.Emoji,
		applier:  cfg.Applier,
		recorder: rec,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("github.com/gwillem/signal-reactions/internal/reaction"),
	}
}

// groupStrategy is the origin-specific part of the pipeline.
type groupStrategy struct {
	origin  Origin
	trigger Trigger
	resolve func(ctx context.Context, t *Task, p Payload) (*Group, error)
	unknown func(log zerolog.Logger)
}

var networkStrategy = groupStrategy{
	origin:  FromNetwork,
	trigger: TriggerRemote,
	resolve: func(ctx context.Context, t *Task, p Payload) (*Group, error) {
		return t.groups.ResolveForNetwork(ctx, p.Group, p.Sender)
	},
	unknown: func(log zerolog.Logger) {
		log.Debug().Msg("reaction for unknown group")
	},
}

var reflectionStrategy = groupStrategy{
	origin:  FromReflection,
	trigger: TriggerSync,
	resolve: func(ctx context.Context, t *Task, p Payload) (*Group, error) {
		return t.groups.ResolveLocal(ctx, p.Group)
	},
	unknown: func(log zerolog.Logger) {
		log.Error().Msg("reflected group reaction references an unknown group")
	},
}

// ProcessFromNetwork handles a reaction received from the reacting peer.
func (t *Task) ProcessFromNetwork(ctx context.Context, p Payload) (Outcome, error) {
	return t.process(ctx, networkStrategy, p)
}

// ProcessFromReflection handles a reaction reflected by one of our devices.
func (t *Task) ProcessFromReflection(ctx context.Context, p Payload) (Outcome, error) {
	return t.process(ctx, reflectionStrategy, p)
}

// Process dispatches on origin. When err is non-nil the outcome is
// meaningless and the unit of work has not been consumed.
func (t *Task) Process(ctx context.Context, origin Origin, p Payload) (Outcome, error) {
	switch origin {
	case FromNetwork:
		return t.ProcessFromNetwork(ctx, p)
	case FromReflection:
		return t.ProcessFromReflection(ctx, p)
	default:
		return 0, fmt.Errorf("reaction: unknown origin %d", origin)
	}
}

func (t *Task) process(ctx context.Context, s groupStrategy, p Payload) (Outcome, error) {
	ctx, span := t.tracer.Start(ctx, "reaction.process", trace.WithAttributes(
		attribute.String("reaction.origin", s.origin.String()),
		attribute.String("reaction.action", p.Action.String()),
		attribute.String("reaction.sender", p.Sender),
		attribute.Int64("reaction.target_sent_at", int64(p.Target.SentAt)),
	))
	defer span.End()

	log := t.logger.With().
		Str("origin", s.origin.String()).
		Str("sender", p.Sender).
		Str("target_author", p.Target.Author).
		Uint64("target_sent_at", p.Target.SentAt).
		Logger()

	outcome, reason, err := t.run(ctx, s, p, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reaction failed")
		t.recorder.Failure(s.origin)
		log.Warn().Err(err).Msg("reaction processing failed")
		return 0, err
	}
	span.SetAttributes(attribute.String("reaction.outcome", outcome.String()))
	if reason != ReasonNone {
		span.SetAttributes(attribute.String("reaction.discard_reason", string(reason)))
	}
	t.recorder.Outcome(s.origin, outcome, reason)
	return outcome, nil
}

func (t *Task) run(ctx context.Context, s groupStrategy, p Payload, log zerolog.Logger) (Outcome, Reason, error) {
	if p.Action != Apply && p.Action != Withdraw {
		log.Debug().Int("action", int(p.Action)).Msg("discarding reaction with invalid action")
		return Discard, ReasonInvalidPayload, nil
	}

	group, err := s.resolve(ctx, t, p)
	if err != nil {
		return 0, ReasonNone, fmt.Errorf("reaction: resolve group: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, ReasonNone, err
	}
	if group == nil {
		s.unknown(log)
		return Discard, ReasonUnknownGroup, nil
	}

	return t.converge(ctx, s, *group, p, log.With().Str("group", group.ID).Logger())
}

// converge is shared by both origins, so the same group yields the same
// decision and the same stored state regardless of delivery path.
func (t *Task) converge(ctx context.Context, s groupStrategy, group Group, p Payload, log zerolog.Logger) (Outcome, Reason, error) {
	conv := Conversation{Group: group}

	msg, rejection, err := t.messages.Resolve(ctx, conv, p.Target, p.Sender)
	if err != nil {
		return 0, ReasonNone, fmt.Errorf("reaction: resolve target message: %w", err)
	}
	if msg == nil {
		log.Debug().Str("rejection", string(rejection)).Msg("discarding reaction, target message unavailable")
		return Discard, ReasonUnknownMessage, nil
	}

	seq, err := t.emoji.Validate(p.RawEmoji)
	if err != nil {
		log.Debug().Err(err).Msg("discarding reaction with malformed emoji sequence")
		return Discard, ReasonMalformedEmoji, nil
	}

	// Last point at which the task can stop without a stored mutation.
	if err := ctx.Err(); err != nil {
		return 0, ReasonNone, err
	}

	effect, err := t.applier.Apply(ctx, Change{
		Message:  *msg,
		Sender:   p.Sender,
		Action:   p.Action,
		Sequence: seq,
		Trigger:  s.trigger,
	})
	if err != nil {
		return 0, ReasonNone, fmt.Errorf("reaction: apply: %w", err)
	}
	t.recorder.Effect(s.origin, effect)
	log.Debug().
		Int64("message_id", msg.ID).
		Str("emoji", seq.String()).
		Str("action", p.Action.String()).
		Str("effect", effect.String()).
		Msg("reaction applied")
	return Success, ReasonNone, nil
}
