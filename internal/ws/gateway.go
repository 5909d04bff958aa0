// Package ws owns the lifecycle of live WebSocket connections: handshake
// authentication, presence registration, heartbeat relay and push delivery.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"privora/internal/common"
	"privora/internal/models"
	"privora/internal/presence"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	errConnGone   = errors.New("connection gone")
	errBufferFull = errors.New("send buffer full")
)

// IdentityVerifier turns a bearer token into a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// Gateway accepts connections, registers them in the presence registry and
// pushes events back out. It is the only component that owns connections;
// everything else refers to them by connection id.
type Gateway struct {
	verifier IdentityVerifier
	registry *presence.Registry

	mu      sync.Mutex
	clients map[string]*client
}

func NewGateway(verifier IdentityVerifier, registry *presence.Registry) *Gateway {
	return &Gateway{
		verifier: verifier,
		registry: registry,
		clients:  make(map[string]*client),
	}
}

type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type typingEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type client struct {
	id       string
	userID   string
	username string
	conn     *websocket.Conn
	send     chan wsMessage

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) push(msg wsMessage) error {
	select {
	case <-c.done:
		return errConnGone
	case c.send <- msg:
		return nil
	default:
		return errBufferFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// rosterPayload mirrors the shape clients already consume.
type rosterPayload struct {
	OnlineUsers []models.PresenceEntry `json:"onlineUsers"`
}

// HandleWS authenticates the handshake and, on success, runs the connection
// until it drops. Authentication failures terminate the handshake before
// anything is registered.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, common.ErrInternal) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:       uuid.NewString(),
		userID:   identity.ID,
		username: identity.Username,
		conn:     conn,
		send:     make(chan wsMessage, 64),
		done:     make(chan struct{}),
	}

	now := time.Now()
	replaced := g.registry.Upsert(models.PresenceEntry{
		UserID:       identity.ID,
		ConnectionID: c.id,
		Username:     identity.Username,
		Email:        identity.Email,
		ConnectedAt:  now,
		LastSeen:     now,
	})

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	// Last connection wins: a second login displaces the first and the
	// orphaned connection is closed, not silently leaked.
	if replaced != "" {
		g.dropClient(replaced)
	}

	logrus.WithFields(logrus.Fields{
		"userId":   identity.ID,
		"username": identity.Username,
		"connId":   c.id,
	}).Info("User connected")

	go g.writePump(c)

	g.BroadcastRoster()
	c.push(wsMessage{Type: "online-users", Payload: rosterPayload{OnlineUsers: g.registry.Snapshot()}})

	g.readPump(c)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browser WebSocket clients cannot set headers.
	return r.URL.Query().Get("token")
}

// readPump relays inbound messages until the connection drops, then
// deregisters it. One connection's lifecycle events are handled linearly
// here, so its upsert always precedes its touch and remove.
func (g *Gateway) readPump(c *client) {
	defer g.disconnect(c)

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "heartbeat":
			g.registry.Touch(c.userID)
		case "typing":
			g.relayTyping(c, msg.Payload)
		}
	}
}

// relayTyping forwards a typing signal to the receiver's live connection.
// Malformed payloads and offline receivers are dropped without feedback.
func (g *Gateway) relayTyping(c *client, payload json.RawMessage) {
	var req struct {
		ReceiverID string `json:"receiverId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ReceiverID == "" {
		return
	}
	connID, ok := g.registry.Lookup(req.ReceiverID)
	if !ok {
		return
	}
	g.Send(connID, "user-typing", typingEvent{UserID: c.userID, Username: c.username})
}

func (g *Gateway) writePump(c *client) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				c.conn.Close()
				return
			}
		case <-c.done:
			c.conn.Close()
			return
		}
	}
}

// disconnect tears the connection down. Duplicate signals are safe: the
// registry remove is conditional on the connection still being current, and
// the roster is only rebroadcast when an entry was actually dropped.
func (g *Gateway) disconnect(c *client) {
	c.close()
	c.conn.Close()

	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	if g.registry.RemoveConnection(c.userID, c.id) {
		logrus.WithFields(logrus.Fields{
			"userId": c.userID,
			"connId": c.id,
		}).Info("User disconnected")
		g.BroadcastRoster()
	}
}

// dropClient closes a connection by id without touching the registry.
func (g *Gateway) dropClient(connectionID string) {
	g.mu.Lock()
	c, ok := g.clients[connectionID]
	if ok {
		delete(g.clients, connectionID)
	}
	g.mu.Unlock()

	if ok {
		c.close()
		c.conn.Close()
	}
}

// Send pushes a tagged payload to one connection. It never blocks the
// caller on a slow or dead socket.
func (g *Gateway) Send(connectionID, event string, payload interface{}) error {
	g.mu.Lock()
	c, ok := g.clients[connectionID]
	g.mu.Unlock()

	if !ok {
		return errConnGone
	}
	return c.push(wsMessage{Type: event, Payload: payload})
}

// Broadcast sends an event to every live connection.
func (g *Gateway) Broadcast(event string, payload interface{}) {
	g.mu.Lock()
	targets := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	msg := wsMessage{Type: event, Payload: payload}
	for _, c := range targets {
		c.push(msg)
	}
}

// BroadcastRoster pushes the current online-user list to everyone.
func (g *Gateway) BroadcastRoster() {
	g.Broadcast("online-users-updated", rosterPayload{OnlineUsers: g.registry.Snapshot()})
}
