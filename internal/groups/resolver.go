package groups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/reaction"
	"github.com/gwillem/signal-reactions/internal/store"
)

// DefaultTimeout bounds network group resolution.
const DefaultTimeout = 10 * time.Second

// Store is the part of the local store the resolver reads.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (*store.Group, error)
	GetMember(ctx context.Context, groupID, aci string) (*store.Member, error)
}

// Control sends group control messages. Implementations may block on the
// network; failures never change the resolution result.
type Control interface {
	SendSyncRequest(ctx context.Context, groupID, creator string) error
	SendLeave(ctx context.Context, groupID, to string) error
	SendEmptySetup(ctx context.Context, groupID, to string) error
}

// Config holds Resolver dependencies.
type Config struct {
	Store    Store
	Control  Control // nil disables group control side effects
	LocalACI string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Resolver implements reaction.GroupResolver.
type Resolver struct {
	store    Store
	control  Control
	localACI string
	timeout  time.Duration
	logger   zerolog.Logger
}

var _ reaction.GroupResolver = (*Resolver)(nil)

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		store:    cfg.Store,
		control:  cfg.Control,
		localACI: cfg.LocalACI,
		timeout:  timeout,
		logger:   cfg.Logger,
	}
}

// ResolveLocal returns the local group matching ref. It never touches the
// network and never creates a group.
func (r *Resolver) ResolveLocal(ctx context.Context, ref reaction.GroupRef) (*reaction.Group, error) {
	id, err := ID(ref.MasterKey)
	if err != nil {
		r.logger.Debug().Err(err).Msg("unusable group reference")
		return nil, nil
	}
	g, err := r.store.GetGroup(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", reaction.ErrPersistence, err)
	}
	if g == nil {
		return nil, nil
	}
	return handle(g), nil
}

// ResolveForNetwork runs the group receive steps for a message from sender.
// Timeouts and transport failures resolve to an unknown group; only local
// storage failures and cancellation of ctx itself are returned as errors.
func (r *Resolver) ResolveForNetwork(ctx context.Context, ref reaction.GroupRef, sender string) (*reaction.Group, error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	g, err := r.receiveSteps(rctx, ref, sender)
	if err == nil {
		return g, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn().Dur("timeout", r.timeout).Msg("group resolution timed out, treating group as unknown")
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %w", reaction.ErrPersistence, err)
}

func (r *Resolver) receiveSteps(ctx context.Context, ref reaction.GroupRef, sender string) (*reaction.Group, error) {
	id, err := ID(ref.MasterKey)
	if err != nil {
		r.logger.Debug().Err(err).Msg("unusable group reference")
		return nil, nil
	}
	log := r.logger.With().Str("group", id).Str("sender", sender).Logger()

	g, err := r.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	if g == nil {
		// A group we do not know about is never created here.
		if ref.Creator == "" || ref.Creator == r.localACI {
			log.Debug().Msg("unknown group created by us or without creator, discarding")
			return nil, nil
		}
		log.Info().Str("creator", ref.Creator).Msg("unknown group, requesting sync from creator")
		r.send(log, "sync-request", func() error { return r.control.SendSyncRequest(ctx, id, ref.Creator) })
		return nil, nil
	}

	isCreator := g.Creator != "" && g.Creator == r.localACI
	// The sender has seen a newer group revision than we stored.
	stale := !isCreator && g.Creator != "" && int(ref.Revision) > g.Revision
	if stale {
		log = log.With().Uint32("revision", ref.Revision).Int("local_revision", g.Revision).Logger()
	}

	if g.Left {
		switch {
		case stale:
			// We may have been added back since we left.
			log.Info().Msg("message in a group we left at an older revision, requesting sync from creator")
			r.send(log, "sync-request", func() error { return r.control.SendSyncRequest(ctx, id, g.Creator) })
		case isCreator:
			log.Info().Msg("message in a group we dissolved, sending empty setup")
			r.send(log, "empty-setup", func() error { return r.control.SendEmptySetup(ctx, id, sender) })
		default:
			log.Info().Msg("message in a group we left, sending leave")
			r.send(log, "leave", func() error { return r.control.SendLeave(ctx, id, sender) })
		}
		return nil, nil
	}

	member, err := r.store.GetMember(ctx, id, sender)
	if err != nil {
		return nil, err
	}
	if member == nil || !member.Current() {
		if isCreator {
			log.Info().Msg("sender is not a member, sending empty setup")
			r.send(log, "empty-setup", func() error { return r.control.SendEmptySetup(ctx, id, sender) })
		} else if g.Creator != "" {
			log.Info().Msg("sender is not a member, requesting sync from creator")
			r.send(log, "sync-request", func() error { return r.control.SendSyncRequest(ctx, id, g.Creator) })
		}
		return nil, nil
	}

	if stale {
		log.Info().Msg("local group state is stale, requesting sync from creator")
		r.send(log, "sync-request", func() error { return r.control.SendSyncRequest(ctx, id, g.Creator) })
	}
	return handle(g), nil
}

// send runs a group control side effect. Its failure is logged only.
func (r *Resolver) send(log zerolog.Logger, kind string, fn func() error) {
	if r.control == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("control", kind).Msg("group control message failed")
	}
}

func handle(g *store.Group) *reaction.Group {
	return &reaction.Group{ID: g.GroupID, Creator: g.Creator, Name: g.Name}
}
