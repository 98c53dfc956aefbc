package reaction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ReactionStore persists reaction records. Add and Remove report whether the
// stored set changed.
type ReactionStore interface {
	AddReaction(ctx context.Context, messageID int64, sender, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID int64, sender, emoji string) (bool, error)
}

// Notifier is told about every change to a conversation's reactions.
type Notifier interface {
	ReactionChanged(Event)
}

// StoreApplier is the convergence function: at most one record per
// (message, sender, emoji), so repeated deliveries of the same event leave
// the set unchanged.
type StoreApplier struct {
	store    ReactionStore
	notifier Notifier
	logger   zerolog.Logger
}

// NewApplier returns an Applier backed by st. notifier may be nil.
func NewApplier(st ReactionStore, notifier Notifier, logger zerolog.Logger) *StoreApplier {
	return &StoreApplier{store: st, notifier: notifier, logger: logger}
}

// Apply adds or removes the reaction described by c.
func (a *StoreApplier) Apply(ctx context.Context, c Change) (Effect, error) {
	var (
		changed bool
		err     error
		effect  Effect
	)
	switch c.Action {
	case Apply:
		changed, err = a.store.AddReaction(ctx, c.Message.ID, c.Sender, c.Sequence.String())
		effect = Added
	case Withdraw:
		changed, err = a.store.RemoveReaction(ctx, c.Message.ID, c.Sender, c.Sequence.String())
		effect = Removed
	default:
		return Unchanged, fmt.Errorf("reaction: apply: invalid action %d", c.Action)
	}
	if err != nil {
		return Unchanged, fmt.Errorf("%w: %s %s: %w", ErrPersistence, c.Action, c.Sequence, err)
	}
	if !changed {
		a.logger.Debug().
			Int64("message_id", c.Message.ID).
			Str("sender", c.Sender).
			Str("action", c.Action.String()).
			Msg("reaction already in requested state")
		return Unchanged, nil
	}

	if a.notifier != nil {
		a.notifier.ReactionChanged(Event{
			GroupID:      c.Message.GroupID,
			MessageID:    c.Message.ID,
			TargetAuthor: c.Message.Author,
			TargetSentAt: c.Message.SentAt,
			Sender:       c.Sender,
			Emoji:        c.Sequence,
			Action:       c.Action,
			Trigger:      c.Trigger,
		})
	}
	return effect, nil
}
