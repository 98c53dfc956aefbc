// Package reaction applies incoming group emoji reactions so that a reaction
// delivered directly from the network and the same reaction reflected from
// one of the user's own devices converge on the same stored state.
package reaction

import (
	"errors"

	"github.com/gwillem/signal-reactions/internal/emoji"
)

// ErrPersistence marks storage-layer failures. They are never turned into a
// Discard; the scheduler redrives the unit of work instead.
var ErrPersistence = errors.New("reaction: persistence failure")

// Origin tells how a reaction reached this device.
type Origin int

const (
	FromNetwork    Origin = iota + 1 // sent by the reacting peer's device
	FromReflection                   // reflected by another of our own devices
)

func (o Origin) String() string {
	switch o {
	case FromNetwork:
		return "network"
	case FromReflection:
		return "reflection"
	default:
		return "unknown"
	}
}

// Trigger classifies the apply for downstream consumers. Sync-triggered
// changes must not be reflected again.
type Trigger int

const (
	TriggerRemote Trigger = iota + 1
	TriggerSync
)

func (t Trigger) String() string {
	if t == TriggerSync {
		return "sync"
	}
	return "remote"
}

// Action is what the sender did with the emoji.
type Action int

const (
	Apply Action = iota + 1
	Withdraw
)

func (a Action) String() string {
	switch a {
	case Apply:
		return "apply"
	case Withdraw:
		return "withdraw"
	default:
		return "invalid"
	}
}

// Outcome is the result reported to the scheduler.
type Outcome int

const (
	Success Outcome = iota + 1
	Discard
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Discard:
		return "discard"
	default:
		return "none"
	}
}

// Reason explains a Discard. It is diagnostic only.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonUnknownGroup   Reason = "unknown-group"
	ReasonUnknownMessage Reason = "unknown-message"
	ReasonMalformedEmoji Reason = "malformed-emoji"
	ReasonInvalidPayload Reason = "invalid-payload"
)

// Rejection is the side-channel detail for an unresolved target message.
// Callers never branch on it.
type Rejection string

const (
	RejectNone          Rejection = ""
	RejectNotFound      Rejection = "not-found"
	RejectDeleted       Rejection = "deleted"
	RejectStatusMessage Rejection = "status-message"
	RejectNotMember     Rejection = "sender-not-member"
	RejectJoinedLater   Rejection = "sender-joined-later"
)

// GroupRef is the group context carried by a payload.
type GroupRef struct {
	MasterKey []byte // 32-byte group master key
	Creator   string // creator ACI, may be empty
	Revision  uint32
}

// MessageRef addresses the message being reacted to.
type MessageRef struct {
	Author string // author ACI
	SentAt uint64 // author's sent timestamp in milliseconds
}

// Payload is one parsed reaction. It is never modified after construction.
type Payload struct {
	Target   MessageRef
	Group    GroupRef
	Sender   string // reacting ACI
	Action   Action
	RawEmoji []byte
}

// Group is a resolved group handle.
type Group struct {
	ID      string
	Creator string
	Name    string
}

// Conversation is the group-scoped receiver used to look up and authorize
// messages.
type Conversation struct {
	Group Group
}

// Message is a resolved target message handle.
type Message struct {
	ID      int64
	GroupID string
	Author  string
	SentAt  uint64
}

// Change is one request to the applier.
type Change struct {
	Message  Message
	Sender   string
	Action   Action
	Sequence emoji.Sequence
	Trigger  Trigger
}

// Effect is what the applier did to the stored reaction set.
type Effect int

const (
	Unchanged Effect = iota
	Added
	Removed
)

func (e Effect) String() string {
	switch e {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unchanged"
	}
}

// Event is emitted whenever a conversation's reaction set changes.
type Event struct {
	GroupID      string
	MessageID    int64
	TargetAuthor string
	TargetSentAt uint64
	Sender       string
	Emoji        emoji.Sequence
	Action       Action
	Trigger      Trigger
}
