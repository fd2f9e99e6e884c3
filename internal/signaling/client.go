package signaling

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers fit comfortably.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. A stalled peer fills this up and gets
	// disconnected instead of blocking the rest of the room.
	sendBufferSize = 64
)

// Client wraps one websocket connection. One readPump and one writePump
// goroutine per connection; the single writePump is what gives per-sender
// FIFO delivery to the peer.
type Client struct {
	id       string
	relay    *Relay
	conn     *websocket.Conn
	identity auth.Identity

	send chan Message
	done chan struct{}
	once sync.Once

	mu            sync.Mutex
	joined        bool
	roomID        string
	appointmentID uuid.UUID
}

func (c *Client) ID() string { return c.id }

// Notify implements room.Member. It never blocks: events are enqueued onto
// the bounded send buffer, and a full buffer drops the connection.
func (c *Client) Notify(ev room.Event) {
	switch ev.Type {
	case room.EventPeerReady:
		c.trySend(Message{Type: MsgPeerReady})
	case room.EventSignal:
		c.trySend(Message{Type: MsgSignal, Payload: ev.Payload})
	case room.EventCallEnded:
		c.clearRoom()
		c.trySend(Message{Type: MsgCallEnded})
		c.shutdown()
	case room.EventReplaced:
		c.clearRoom()
		c.trySend(Message{Type: MsgReplaced})
		c.shutdown()
	}
}

func (c *Client) trySend(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		log.Printf("conn %s: outbound buffer full, dropping connection", c.id)
		c.shutdown()
	}
}

// shutdown asks the writePump to flush queued messages and close the socket.
func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) setRoom(roomID string, appointmentID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = true
	c.roomID = roomID
	c.appointmentID = appointmentID
}

func (c *Client) clearRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
}

func (c *Client) currentRoom() (string, uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.appointmentID, c.joined
}

// readPump pumps messages from the websocket to the relay. It owns all reads
// on the connection and drives cleanup when the transport drops.
func (c *Client) readPump() {
	defer func() {
		c.relay.handleDisconnect(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("conn %s: read error: %v", c.id, err)
			}
			return
		}

		switch msg.Type {
		case MsgJoin:
			c.relay.handleJoin(c, msg)
		case MsgSignal:
			c.relay.handleSignal(c, msg)
		case MsgCallEnded:
			c.relay.handleCallEnded(c)
		default:
			log.Printf("conn %s: unknown message type %q", c.id, msg.Type)
		}
	}
}

// writePump owns all writes on the connection: queued messages, keepalive
// pings, and the close handshake after shutdown.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Drain whatever is queued, then close cleanly.
			for {
				select {
				case msg := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
