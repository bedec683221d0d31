// Package registry tracks live campaign connections. Every websocket client
// joins as a participant; the registry is the source of truth for who is
// online, which character they control, and whether they hold the DM seat.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role distinguishes the DM seat from player seats.
type Role string

const (
	RoleDM     Role = "dm"
	RolePlayer Role = "player"
)

func (r Role) Valid() bool {
	return r == RoleDM || r == RolePlayer
}

var ErrInvalidParticipant = errors.New("registry: invalid participant")

// Participant is one live connection to a campaign. CharacterID is empty
// for the DM and for spectating players.
type Participant struct {
	SessionID   string
	CampaignID  string
	UserID      string
	CharacterID string
	Role        Role
	Host        string
	ConnectedAt time.Time
}

type entry struct {
	Participant
	lastSeen time.Time
}

// Registry holds every live participant, keyed by session id and indexed
// by campaign. Entries that stop renewing their lease get swept out, so a
// dropped connection cannot occupy a seat forever.
type Registry struct {
	logger        *zap.Logger
	ttl           time.Duration
	sweepInterval time.Duration

	mu         sync.RWMutex
	bySession  map[string]*entry
	byCampaign map[string]map[string]*entry
}

// New creates a registry. Sessions idle longer than ttl are evicted by Run;
// sweeps happen every sweepInterval.
func New(logger *zap.Logger, ttl, sweepInterval time.Duration) *Registry {
	return &Registry{
		logger:        logger,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		bySession:     make(map[string]*entry),
		byCampaign:    make(map[string]map[string]*entry),
	}
}

// Join registers a participant and returns it with its session id filled
// in. A reconnect may present its previous session id; any stale entry
// under that id is replaced, never resumed.
func (r *Registry) Join(p Participant) (Participant, error) {
	if p.CampaignID == "" || p.UserID == "" {
		return Participant{}, fmt.Errorf("campaign and user required: %w", ErrInvalidParticipant)
	}
	if p.Role == "" {
		p.Role = RolePlayer
	}
	if !p.Role.Valid() {
		return Participant{}, fmt.Errorf("role %q: %w", p.Role, ErrInvalidParticipant)
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.ConnectedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.bySession[p.SessionID]; ok {
		r.removeLocked(old)
		r.logger.Debug("replaced stale session",
			zap.String("session_id", p.SessionID),
			zap.String("user_id", old.UserID))
	}

	e := &entry{Participant: p, lastSeen: now}
	r.bySession[p.SessionID] = e
	campaign, ok := r.byCampaign[p.CampaignID]
	if !ok {
		campaign = make(map[string]*entry)
		r.byCampaign[p.CampaignID] = campaign
	}
	campaign[p.SessionID] = e

	r.logger.Info("participant joined",
		zap.String("campaign_id", p.CampaignID),
		zap.String("session_id", p.SessionID),
		zap.String("user_id", p.UserID),
		zap.String("role", string(p.Role)))
	return p, nil
}

// Leave removes a session, reporting the participant that held it.
func (r *Registry) Leave(sessionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return Participant{}, false
	}
	r.removeLocked(e)
	r.logger.Info("participant left",
		zap.String("campaign_id", e.CampaignID),
		zap.String("session_id", e.SessionID),
		zap.String("user_id", e.UserID))
	return e.Participant, true
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.bySession, e.SessionID)
	if campaign, ok := r.byCampaign[e.CampaignID]; ok {
		delete(campaign, e.SessionID)
		if len(campaign) == 0 {
			delete(r.byCampaign, e.CampaignID)
		}
	}
}

// Get looks up a session.
func (r *Registry) Get(sessionID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return Participant{}, false
	}
	return e.Participant, true
}

// Touch renews a session's lease. Pong handlers call this on every
// heartbeat.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	e.lastSeen = time.Now().UTC()
	return true
}

// Campaign returns every participant in a campaign, ordered by session id
// so broadcast order is stable.
func (r *Registry) Campaign(campaignID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	campaign := r.byCampaign[campaignID]
	out := make([]Participant, 0, len(campaign))
	for _, e := range campaign {
		out = append(out, e.Participant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// ActiveCount reports how many sessions are live across all campaigns.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// SweepStale evicts every session whose lease expired before now and
// returns the evicted participants.
func (r *Registry) SweepStale(now time.Time) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []Participant
	for _, e := range r.bySession {
		if now.Sub(e.lastSeen) > r.ttl {
			r.removeLocked(e)
			evicted = append(evicted, e.Participant)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].SessionID < evicted[j].SessionID })
	return evicted
}

// Run sweeps stale sessions until ctx is cancelled. onExpire, if non-nil,
// runs for each evicted participant; the server uses it to publish
// disconnect events for connections that died without a close frame.
func (r *Registry) Run(ctx context.Context, onExpire func(Participant)) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range r.SweepStale(time.Now().UTC()) {
				r.logger.Info("session lease expired",
					zap.String("campaign_id", p.CampaignID),
					zap.String("session_id", p.SessionID),
					zap.String("user_id", p.UserID))
				if onExpire != nil {
					onExpire(p)
				}
			}
		}
	}
}
