package signalservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/groups"
	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/store"
	"github.com/gwillem/signal-reactions/internal/wire"
)

// ErrNotGroupMessage is returned for envelopes without a group context.
var ErrNotGroupMessage = errors.New("signalservice: not a group message")

// ResultKind is what a handled envelope carried.
type ResultKind int

const (
	ResultText ResultKind = iota + 1
	ResultReaction
	ResultDelete
	ResultIgnored
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultReaction:
		return "reaction"
	case ResultDelete:
		return "delete"
	default:
		return "ignored"
	}
}

// Result describes one handled envelope.
type Result struct {
	Kind      ResultKind
	GroupID   string
	Origin    reaction.Origin
	Sender    string
	Timestamp uint64
	MessageID int64            // stored row for ResultText
	Payload   reaction.Payload // for ResultReaction
	Outcome   reaction.Outcome // Success or Discard
}

// Handler turns decoded envelopes into stored messages and reaction tasks.
type Handler struct {
	messages  messageStore
	groups    reaction.GroupResolver
	reactions reactionProcessor
	log       zerolog.Logger
}

// NewHandler creates a Handler. Text and deletes are only accepted in groups
// that resolver resolves for the sender.
func NewHandler(messages messageStore, resolver reaction.GroupResolver, reactions reactionProcessor, logger zerolog.Logger) *Handler {
	return &Handler{messages: messages, groups: resolver, reactions: reactions, log: logger}
}

// Decode parses an envelope and returns the group key that work for it must
// be serialized on.
func (h *Handler) Decode(data []byte) (*wire.Envelope, string, error) {
	env, err := wire.UnmarshalEnvelope(data)
	if err != nil {
		return nil, "", err
	}
	if env.Group == nil {
		return env, "", ErrNotGroupMessage
	}
	id, err := groups.ID(env.Group.MasterKey)
	if err != nil {
		return env, "", fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}
	return env, id, nil
}

// Handle processes a decoded group envelope. Callers must not run two
// Handle calls for the same group concurrently. Errors are hard failures;
// the envelope must not be acknowledged.
func (h *Handler) Handle(ctx context.Context, env *wire.Envelope, groupID string) (Result, error) {
	res := Result{
		GroupID:   groupID,
		Origin:    env.Origin(),
		Sender:    env.Source,
		Timestamp: env.Timestamp,
	}
	log := h.log.With().
		Str("group", groupID).
		Str("sender", env.Source).
		Str("type", env.Type.String()).
		Uint64("ts", env.Timestamp).
		Logger()

	if p, ok := env.ReactionPayload(); ok {
		res.Kind = ResultReaction
		res.Payload = p
		outcome, err := h.reactions.Process(ctx, res.Origin, p)
		if err != nil {
			return res, err
		}
		res.Outcome = outcome
		return res, nil
	}

	switch {
	case env.Delete != nil:
		res.Kind = ResultDelete
	case env.Body != "":
		res.Kind = ResultText
	default:
		res.Kind = ResultIgnored
		res.Outcome = reaction.Discard
		log.Debug().Msg("envelope carries nothing to handle")
		return res, nil
	}

	g, err := h.resolveGroup(ctx, env)
	if err != nil {
		return res, err
	}
	if g == nil {
		res.Outcome = reaction.Discard
		log.Debug().Str("kind", res.Kind.String()).Msg("unknown group or sender, discarding")
		return res, nil
	}

	if res.Kind == ResultDelete {
		ok, err := h.messages.MarkMessageDeleted(ctx, groupID, env.Source, env.Delete.TargetSentAt)
		if err != nil {
			return res, fmt.Errorf("%w: delete message: %w", reaction.ErrPersistence, err)
		}
		if !ok {
			res.Outcome = reaction.Discard
			log.Debug().Uint64("target", env.Delete.TargetSentAt).Msg("delete for unknown message")
			return res, nil
		}
		res.Outcome = reaction.Success
		log.Debug().Uint64("target", env.Delete.TargetSentAt).Msg("message deleted for everyone")
		return res, nil
	}

	id, err := h.messages.SaveMessage(ctx, &store.Message{
		GroupID:    groupID,
		Author:     env.Source,
		SentAt:     env.Timestamp,
		Kind:       store.KindText,
		Body:       env.Body,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return res, fmt.Errorf("%w: save message: %w", reaction.ErrPersistence, err)
	}
	res.MessageID = id
	res.Outcome = reaction.Success
	log.Debug().Int64("message_id", id).Msg("stored group message")
	return res, nil
}

// resolveGroup applies the same group rules reactions get: full receive
// steps for peers, local lookup for our own devices.
func (h *Handler) resolveGroup(ctx context.Context, env *wire.Envelope) (*reaction.Group, error) {
	if env.Origin() == reaction.FromReflection {
		return h.groups.ResolveLocal(ctx, env.GroupRef())
	}
	return h.groups.ResolveForNetwork(ctx, env.GroupRef(), env.Source)
}
