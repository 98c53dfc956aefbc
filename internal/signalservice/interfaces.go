package signalservice

import (
	"context"

	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/scheduler"
	"github.com/gwillem/signal-reactions/internal/store"
	"github.com/gwillem/signal-reactions/internal/wire"
)

// frameConn is the WebSocket interface the Receiver reads from.
type frameConn interface {
	ReadFrame(ctx context.Context) (*wire.Frame, error)
	SendResponse(ctx context.Context, id uint64, status uint32, message string) error
	Close() error
}

// messageStore stores group text messages so later reactions can find them.
type messageStore interface {
	SaveMessage(ctx context.Context, m *store.Message) (int64, error)
	MarkMessageDeleted(ctx context.Context, groupID, author string, sentAt uint64) (bool, error)
}

// reactionProcessor runs the reaction task for one payload.
type reactionProcessor interface {
	Process(ctx context.Context, origin reaction.Origin, p reaction.Payload) (reaction.Outcome, error)
}

// jobQueue serializes work per group.
type jobQueue interface {
	Submit(ctx context.Context, job scheduler.Job) error
}
