package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/auth"
	"github.com/riddle-dm/riddle-server-go/internal/command"
	"github.com/riddle-dm/riddle-server-go/internal/event"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
)

// client is one WebSocket connection. participant and joined are only
// touched from the read pump, so they need no lock.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	participant registry.Participant
	joined      bool
}

func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.joined {
			c.hub.registry.Touch(c.participant.SessionID)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(outboundMessage{Type: msgError, Code: "bad_message", Error: "message is not valid JSON"})
		return
	}

	if c.joined {
		c.hub.registry.Touch(c.participant.SessionID)
	}

	switch msg.Type {
	case msgJoin:
		c.handleJoin(msg)
	case msgCommand:
		c.handleCommand(msg)
	case msgSync:
		c.handleSync()
	case msgCatalog:
		c.reply(outboundMessage{Type: msgCatalog, Data: c.hub.dispatcher.Catalog()})
	default:
		c.reply(outboundMessage{Type: msgError, Code: "bad_message", Error: "unknown message type " + msg.Type})
	}
}

// handleJoin runs the handshake: invite check, registry seat, ack, and a
// full snapshot so a reconnecting client needs no replay.
func (c *client) handleJoin(msg inboundMessage) {
	if c.joined {
		c.reply(outboundMessage{Type: msgError, Code: "already_joined", Error: "connection already joined a campaign"})
		return
	}

	ctx := context.Background()
	campaign, err := c.hub.store.GetCampaign(ctx, msg.CampaignID)
	if err != nil {
		c.logger.Error("campaign lookup failed", zap.String("campaign_id", msg.CampaignID), zap.Error(err))
		c.reply(outboundMessage{Type: msgError, Code: "internal", Error: "campaign lookup failed"})
		return
	}
	if campaign != nil {
		if err := auth.VerifyInviteCode(campaign.InviteHash, msg.InviteCode); err != nil {
			c.reply(outboundMessage{Type: msgError, Code: codeFor(err), Error: err.Error()})
			return
		}
	}

	role := registry.RolePlayer
	if msg.IsDM {
		role = registry.RoleDM
	}
	p, err := c.hub.registry.Join(registry.Participant{
		SessionID:   msg.SessionID,
		CampaignID:  msg.CampaignID,
		UserID:      msg.UserID,
		CharacterID: msg.CharacterID,
		Role:        role,
		Host:        c.conn.RemoteAddr().String(),
	})
	if err != nil {
		c.reply(outboundMessage{Type: msgError, Code: codeFor(err), Error: err.Error()})
		return
	}

	c.participant = p
	c.joined = true
	c.hub.attach(p.SessionID, c)

	c.reply(outboundMessage{Type: msgJoined, SessionID: p.SessionID, Role: string(p.Role)})
	c.pushSnapshot()

	if c.hub.publisher != nil && p.Role == registry.RolePlayer {
		c.hub.publisher.Publish(p.CampaignID, event.New(event.TypePlayerConnected, p.CampaignID, event.PlayerConnectedPayload{
			UserID:      p.UserID,
			CharacterID: p.CharacterID,
		}))
	}
}

func (c *client) handleCommand(msg inboundMessage) {
	if !c.joined {
		c.reply(outboundMessage{Type: msgError, Name: msg.Name, Code: "not_joined", Error: "join a campaign first"})
		return
	}

	data, err := c.hub.dispatcher.Dispatch(context.Background(), c.actor(), msg.Name, msg.Args)
	if err != nil {
		c.reply(outboundMessage{Type: msgError, Name: msg.Name, Code: codeFor(err), Error: err.Error()})
		return
	}
	c.reply(outboundMessage{Type: msgResult, Name: msg.Name, Data: data})
}

func (c *client) handleSync() {
	if !c.joined {
		c.reply(outboundMessage{Type: msgError, Code: "not_joined", Error: "join a campaign first"})
		return
	}
	c.pushSnapshot()
}

func (c *client) pushSnapshot() {
	data, err := c.hub.dispatcher.Dispatch(context.Background(), c.actor(), "get_snapshot", nil)
	if err != nil {
		c.reply(outboundMessage{Type: msgError, Code: codeFor(err), Error: err.Error()})
		return
	}
	c.reply(outboundMessage{Type: msgSnapshot, Data: data})
}

func (c *client) actor() command.Actor {
	return command.Actor{
		CampaignID: c.participant.CampaignID,
		UserID:     c.participant.UserID,
		DM:         c.participant.Role == registry.RoleDM,
	}
}

// reply queues a hub-originated message. Dropping on a full buffer matches
// Send: the client is better served by its next sync than by a blocked pump.
func (c *client) reply(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encode reply failed", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("reply dropped, send buffer full",
			zap.String("session_id", c.participant.SessionID),
			zap.String("type", msg.Type))
	}
}
