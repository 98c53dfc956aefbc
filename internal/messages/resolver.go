// Package messages resolves the message a reaction targets and decides
// whether the sender may react to it.
package messages

import (
	"context"
	"fmt"
	"time"

	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/store"
)

// Store is the part of the local store the resolver reads.
type Store interface {
	GetGroupMessage(ctx context.Context, groupID, author string, sentAt uint64) (*store.Message, error)
	GetMember(ctx context.Context, groupID, aci string) (*store.Member, error)
}

// Resolver implements reaction.MessageResolver.
type Resolver struct {
	store    Store
	localACI string
}

var _ reaction.MessageResolver = (*Resolver)(nil)

// NewResolver creates a Resolver. Reactions by localACI skip the membership
// check: they were authorized by the device that produced them.
func NewResolver(st Store, localACI string) *Resolver {
	return &Resolver{store: st, localACI: localACI}
}

// Resolve returns the target message if sender may react to it.
//
// A sender may react when they are a current member of the group and were
// already a member when the message was sent, or their join time is unknown. Deleted messages and status
// messages cannot be reacted to.
func (r *Resolver) Resolve(ctx context.Context, conv reaction.Conversation, ref reaction.MessageRef, sender string) (*reaction.Message, reaction.Rejection, error) {
	groupID := conv.Group.ID

	m, err := r.store.GetGroupMessage(ctx, groupID, ref.Author, ref.SentAt)
	if err != nil {
		return nil, reaction.RejectNone, storeErr(ctx, err)
	}
	switch {
	case m == nil:
		return nil, reaction.RejectNotFound, nil
	case m.Deleted:
		return nil, reaction.RejectDeleted, nil
	case m.Kind == store.KindStatus:
		return nil, reaction.RejectStatusMessage, nil
	}

	if sender != r.localACI {
		member, err := r.store.GetMember(ctx, groupID, sender)
		if err != nil {
			return nil, reaction.RejectNone, storeErr(ctx, err)
		}
		if member == nil || !member.Current() {
			return nil, reaction.RejectNotMember, nil
		}
		// An unknown join time does not reject: the server omitted it.
		if !member.JoinedAt.IsZero() && member.JoinedAt.After(time.UnixMilli(int64(m.SentAt))) {
			return nil, reaction.RejectJoinedLater, nil
		}
	}

	return &reaction.Message{
		ID:      m.ID,
		GroupID: m.GroupID,
		Author:  m.Author,
		SentAt:  m.SentAt,
	}, reaction.RejectNone, nil
}

// storeErr classifies a store failure. Cancellation of ctx is returned as is
// so it is not retried.
func storeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", reaction.ErrPersistence, err)
}
