package signalservice

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-reactions/internal/groups"
	"github.com/gwillem/signal-reactions/internal/store"
)

// Service provides access to the chat service REST API.
// It owns the transport, store, and authentication credentials.
type Service struct {
	transport *Transport
	store     *store.Store
	auth      BasicAuth
	localACI  string
	log       zerolog.Logger
	now       func() time.Time
}

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	APIURL    string
	TLSConfig *tls.Config
	Store     *store.Store
	Auth      BasicAuth
	LocalACI  string
	Logger    zerolog.Logger
}

var _ groups.Control = (*Service)(nil)

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		transport: NewTransport(cfg.APIURL, cfg.TLSConfig, cfg.Logger),
		store:     cfg.Store,
		auth:      cfg.Auth,
		localACI:  cfg.LocalACI,
		log:       cfg.Logger,
		now:       time.Now,
	}
}

// --- Group control ---

// SendSyncRequest asks the group creator to resend the group state.
func (s *Service) SendSyncRequest(ctx context.Context, groupID, creator string) error {
	return s.sendControl(ctx, groupID, creator, ControlSyncRequest)
}

// SendLeave tells to that we are no longer a member.
func (s *Service) SendLeave(ctx context.Context, groupID, to string) error {
	return s.sendControl(ctx, groupID, to, ControlLeave)
}

// SendEmptySetup tells to that the group no longer exists on our side.
func (s *Service) SendEmptySetup(ctx context.Context, groupID, to string) error {
	return s.sendControl(ctx, groupID, to, ControlEmptySetup)
}

func (s *Service) sendControl(ctx context.Context, groupID, to, kind string) error {
	msg := GroupControlMessage{
		GroupID:   groupID,
		Type:      kind,
		Timestamp: s.now().UnixMilli(),
	}
	body, status, err := s.transport.PutJSON(ctx, "/v1/groups/control/"+to, msg, &s.auth)
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("send %s: status %d: %s", kind, status, body)
	}
	s.log.Debug().Str("group", groupID).Str("to", to).Str("control", kind).Msg("group control sent")
	return nil
}

// --- Group sync ---

// SyncGroups fetches the groups the account belongs to and stores them with
// their current members. It returns the number of groups stored.
func (s *Service) SyncGroups(ctx context.Context) (int, error) {
	var resp GroupListResponse
	status, err := s.transport.GetJSON(ctx, "/v1/groups", &s.auth, &resp)
	if err != nil {
		return 0, fmt.Errorf("sync groups: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("sync groups: status %d", status)
	}

	n := 0
	seen := make(map[string]bool, len(resp.Groups))
	for _, ge := range resp.Groups {
		masterKey, err := base64.StdEncoding.DecodeString(ge.MasterKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping group with undecodable master key")
			continue
		}
		id, err := groups.ID(masterKey)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping group with invalid master key")
			continue
		}
		seen[id] = true

		prev, err := s.store.GetGroup(ctx, id)
		if err != nil {
			return n, fmt.Errorf("sync groups: load %s: %w", id, err)
		}
		// Members the server lists without a join time joined after the
		// previous sync; for a group seen for the first time it is unknown.
		var joinedAt time.Time
		if prev != nil {
			joinedAt = prev.UpdatedAt
		}

		acis := make([]string, 0, len(ge.Members))
		for _, m := range ge.Members {
			acis = append(acis, m.ACI)
		}
		g := &store.Group{
			GroupID:   id,
			MasterKey: masterKey,
			Creator:   ge.Creator,
			Name:      ge.Name,
			Revision:  int(ge.Revision),
			Left:      s.localACI != "" && !slices.Contains(acis, s.localACI),
		}
		if err := s.store.SaveGroup(ctx, g); err != nil {
			return n, fmt.Errorf("sync groups: save %s: %w", id, err)
		}
		if err := s.store.SetMembers(ctx, id, acis, joinedAt, s.now()); err != nil {
			return n, fmt.Errorf("sync groups: members of %s: %w", id, err)
		}
		for _, m := range ge.Members {
			if m.JoinedAt == 0 {
				continue
			}
			if err := s.store.SetJoinedAt(ctx, id, m.ACI, time.UnixMilli(m.JoinedAt)); err != nil {
				return n, fmt.Errorf("sync groups: member %s: %w", m.ACI, err)
			}
		}
		if g.Left {
			s.log.Info().Str("group", id).Msg("not a member of group anymore")
		}
		n++
	}

	// Groups the server no longer lists for us are groups we left.
	stored, err := s.store.GetAllGroups(ctx)
	if err != nil {
		return n, fmt.Errorf("sync groups: %w", err)
	}
	for _, g := range stored {
		if seen[g.GroupID] || g.Left {
			continue
		}
		if err := s.store.SetGroupLeft(ctx, g.GroupID, true); err != nil {
			return n, fmt.Errorf("sync groups: leave %s: %w", g.GroupID, err)
		}
		s.log.Info().Str("group", g.GroupID).Msg("group no longer listed, marking as left")
	}

	s.log.Info().Int("groups", n).Msg("group sync complete")
	return n, nil
}
