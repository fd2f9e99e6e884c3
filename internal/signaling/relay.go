package signaling

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/idgen"
	"github.com/medloop/telecall/internal/room"
)

const storeTimeout = 5 * time.Second

// Relay pairs authenticated connections into rooms and forwards opaque
// signaling payloads between them. It never looks inside a payload.
type Relay struct {
	sessions *appointment.Service
	registry *room.Registry
	gate     auth.Authenticator
	upgrader websocket.Upgrader
}

func NewRelay(sessions *appointment.Service, registry *room.Registry, gate auth.Authenticator, allowedOrigins []string) *Relay {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Relay{
		sessions: sessions,
		registry: registry,
		gate:     gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header.
				return origin == "" || allowed[origin]
			},
		},
	}
}

// HandleWS authenticates the connection from its token query parameter,
// upgrades it, and runs the read/write pumps. Authorization for a specific
// room happens later, on the join message.
func (rl *Relay) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := rl.gate.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	client := &Client{
		id:       idgen.NewConnID(),
		relay:    rl,
		conn:     conn,
		identity: identity,
		send:     make(chan Message, sendBufferSize),
		done:     make(chan struct{}),
	}

	log.Printf("conn %s: connected as %s %s", client.id, identity.Role, identity.ID)

	go client.writePump()
	client.readPump()
}

// handleJoin verifies against the appointment record that this identity is a
// participant of the appointment backing the claimed room, and that the call
// is live, before admitting the connection.
func (rl *Relay) handleJoin(c *Client, msg Message) {
	role := appointment.Role(msg.Role)
	if role != c.identity.Role {
		c.trySend(errorMessage("role does not match credentials"))
		return
	}
	if msg.RoomID == "" {
		c.trySend(errorMessage("roomId is required"))
		return
	}

	if _, _, joined := c.currentRoom(); joined {
		c.trySend(errorMessage("already in a room"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	appt, err := rl.sessions.AuthorizeJoin(ctx, msg.RoomID, c.identity.ID, role)
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrNotAuthorized):
			c.trySend(errorMessage("not a participant of this call"))
			c.shutdown()
		case errors.Is(err, appointment.ErrConflict):
			c.trySend(errorMessage("call is not live"))
		default:
			log.Printf("conn %s: join authorization error: %v", c.id, err)
			c.trySend(errorMessage("temporarily unable to join, please retry"))
		}
		return
	}

	if evicted := rl.registry.Join(msg.RoomID, c, role); evicted != nil {
		log.Printf("conn %s: replaced stale %s connection %s in room %s", c.id, role, evicted.ID(), msg.RoomID)
	}
	c.setRoom(msg.RoomID, appt.ID)

	log.Printf("conn %s: joined room %s as %s", c.id, msg.RoomID, role)
}

// handleSignal forwards the payload to the other room member. Not being in a
// room is a silent no-op; the relay keeps no memory of intent beyond
// membership.
func (rl *Relay) handleSignal(c *Client, msg Message) {
	if _, _, joined := c.currentRoom(); !joined {
		return
	}
	rl.registry.Relay(c.id, msg.Payload)
}

// handleCallEnded is the explicit end of a call: complete the backing
// appointment if it is still started (a conflict here just means someone
// else ended it first), then tear the room down for everyone.
func (rl *Relay) handleCallEnded(c *Client) {
	roomID, appointmentID, joined := c.currentRoom()
	if !joined {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := rl.sessions.RequestComplete(ctx, appointmentID, c.identity.ID)
	if err != nil && !errors.Is(err, appointment.ErrConflict) {
		log.Printf("conn %s: complete on call-ended failed: %v", c.id, err)
	}

	// RequestComplete destroys the room on success; do it again explicitly so
	// a patient-initiated end (which loses the ownership check) still clears
	// the live room. Destroy is idempotent.
	rl.registry.Destroy(roomID)
}

// handleDisconnect runs when the transport closes. A drop is not an end:
// the appointment stays started and the same room token readmits on
// reconnect.
func (rl *Relay) handleDisconnect(c *Client) {
	rl.registry.Leave(c.id)
	log.Printf("conn %s: disconnected", c.id)
}
