// Package server is the WebSocket transport: it upgrades connections,
// runs the join handshake, feeds commands to the dispatcher, and delivers
// routed events to individual sessions.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/command"
	"github.com/riddle-dm/riddle-server-go/internal/event"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
	"github.com/riddle-dm/riddle-server-go/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients are a dev convenience; the primary client is the
	// narrator tool layer, which sets no Origin at all.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dispatcher is the command surface the hub routes inbound messages to.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor command.Actor, name string, args map[string]any) (any, error)
	Catalog() []command.Info
}

// Publisher fans events out to a campaign's connections. Implemented by the
// notification router, which delivers through this hub's Send.
type Publisher interface {
	Publish(campaignID string, ev event.Event)
}

// CampaignStore is the slice of storage the join handshake needs.
type CampaignStore interface {
	GetCampaign(ctx context.Context, campaignID string) (*storage.Campaign, error)
}

// Hub owns every live WebSocket connection, keyed by registry session id.
type Hub struct {
	registry *registry.Registry
	store    CampaignStore
	logger   *zap.Logger

	dispatcher Dispatcher
	publisher  Publisher

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub. Bind must be called before serving: the dispatcher
// and publisher are built on top of the hub, so they arrive after
// construction.
func NewHub(reg *registry.Registry, store CampaignStore, logger *zap.Logger) *Hub {
	return &Hub{
		registry: reg,
		store:    store,
		logger:   logger,
		clients:  make(map[string]*client),
	}
}

// Bind completes the wiring cycle: commands flow in through the hub to the
// dispatcher, and events flow back out through the publisher to the hub.
func (h *Hub) Bind(d Dispatcher, p Publisher) {
	h.dispatcher = d
	h.publisher = p
}

// ServeWS upgrades an HTTP request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger,
	}
	go c.writePump()
	c.readPump()
}

// Send delivers one pre-encoded message to a session. It never blocks: a
// client whose buffer is full misses the message and recovers from the next
// snapshot pull.
func (h *Hub) Send(sessionID string, message []byte) error {
	h.mu.RLock()
	c := h.clients[sessionID]
	h.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("session %s not connected", sessionID)
	}
	select {
	case c.send <- message:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", sessionID)
	}
}

// DropSession closes the connection of an expired session. Wired as the
// registry sweeper's callback; the registry entry is already gone when it
// fires.
func (h *Hub) DropSession(p registry.Participant) {
	h.mu.Lock()
	c := h.clients[p.SessionID]
	delete(h.clients, p.SessionID)
	h.mu.Unlock()

	if c != nil {
		c.conn.Close()
	}
	h.notifyPlayerGone(p)
	h.logger.Info("dropped expired session",
		zap.String("session_id", p.SessionID),
		zap.String("campaign_id", p.CampaignID),
		zap.String("user_id", p.UserID))
}

// attach records a joined client. If the session id was already bound to an
// older connection (a reconnect whose predecessor never closed), the old
// connection is closed and the new one takes the seat.
func (h *Hub) attach(sessionID string, c *client) {
	h.mu.Lock()
	old := h.clients[sessionID]
	h.clients[sessionID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.conn.Close()
	}
}

// detach removes a client on disconnect. It only releases the seat if this
// client still owns it, so a reconnect that already took over is untouched.
func (h *Hub) detach(c *client) {
	if !c.joined {
		return
	}
	sid := c.participant.SessionID

	h.mu.Lock()
	owned := h.clients[sid] == c
	if owned {
		delete(h.clients, sid)
	}
	h.mu.Unlock()

	if !owned {
		return
	}
	p, ok := h.registry.Leave(sid)
	if !ok {
		return
	}
	h.notifyPlayerGone(p)
}

// notifyPlayerGone tells the DM audience a seat emptied. Only players who
// control a character matter here: their combatant is now unattended.
func (h *Hub) notifyPlayerGone(p registry.Participant) {
	if h.publisher == nil || p.Role != registry.RolePlayer || p.CharacterID == "" {
		return
	}
	h.publisher.Publish(p.CampaignID, event.New(event.TypePlayerDisconnected, p.CampaignID, event.PlayerDisconnectedPayload{
		UserID:      p.UserID,
		CharacterID: p.CharacterID,
	}))
}
