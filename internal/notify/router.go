// Package notify fans events out to the connections entitled to see them.
// The router is stateless: it holds no queue and no history. A connection
// that misses an event catches up by pulling a snapshot, never by replay.
package notify

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/event"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
)

// Directory lists the live participants of a campaign. The registry
// satisfies this.
type Directory interface {
	Campaign(campaignID string) []registry.Participant
}

// Transport pushes one encoded message to one session. The websocket hub
// satisfies this; Send must not block on a slow client.
type Transport interface {
	Send(sessionID string, message []byte) error
}

// Router resolves each event's audience and delivers it. Delivery is
// best-effort: failures are logged and skipped, never retried, and never
// surfaced to the code that published the event.
type Router struct {
	directory Directory
	transport Transport
	logger    *zap.Logger
}

func NewRouter(directory Directory, transport Transport, logger *zap.Logger) *Router {
	return &Router{
		directory: directory,
		transport: transport,
		logger:    logger,
	}
}

// Publish implements the engine's notifier. The event is encoded once and
// sent to every participant the audience table includes.
func (r *Router) Publish(campaignID string, ev event.Event) {
	audience, ok := event.AudienceFor(ev.Type)
	if !ok {
		r.logger.Error("event type missing from audience table, dropped",
			zap.String("campaign_id", campaignID),
			zap.String("type", string(ev.Type)))
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode event",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}

	for _, p := range r.directory.Campaign(campaignID) {
		if !includes(audience, p.Role) {
			continue
		}
		if err := r.transport.Send(p.SessionID, data); err != nil {
			r.logger.Warn("event delivery failed",
				zap.String("campaign_id", campaignID),
				zap.String("session_id", p.SessionID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

func includes(audience event.Audience, role registry.Role) bool {
	switch audience {
	case event.AudienceAll:
		return true
	case event.AudienceDM:
		return role == registry.RoleDM
	case event.AudiencePlayers:
		return role == registry.RolePlayer
	default:
		return false
	}
}
