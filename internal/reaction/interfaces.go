package reaction

import (
	"context"

	"github.com/gwillem/signal-reactions/internal/emoji"
)

// GroupResolver finds the group a reaction belongs to. A nil group with a
// nil error means the group is unknown.
type GroupResolver interface {
	// ResolveForNetwork applies the full membership rules for an untrusted
	// origin. It may perform network I/O and must report its own timeouts as
	// an unknown group.
	ResolveForNetwork(ctx context.Context, ref GroupRef, sender string) (*Group, error)
	// ResolveLocal only looks up an existing local group.
	ResolveLocal(ctx context.Context, ref GroupRef) (*Group, error)
}

// MessageResolver finds the target message and checks that sender may react
// to it. Absent and unauthorized both yield a nil message; the Rejection only
// feeds diagnostics.
type MessageResolver interface {
	Resolve(ctx context.Context, conv Conversation, ref MessageRef, sender string) (*Message, Rejection, error)
}

// EmojiValidator converts raw bytes into a canonical sequence.
type EmojiValidator interface {
	Validate(raw []byte) (emoji.Sequence, error)
}

// Applier mutates the stored reaction set. Errors are storage failures.
type Applier interface {
	Apply(ctx context.Context, c Change) (Effect, error)
}

// Recorder receives task telemetry.
type Recorder interface {
	Outcome(origin Origin, outcome Outcome, reason Reason)
	Effect(origin Origin, effect Effect)
	Failure(origin Origin)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(Origin, Outcome, Reason) {}
func (nopRecorder) Effect(Origin, Effect)           {}
func (nopRecorder) Failure(Origin)                  {}
