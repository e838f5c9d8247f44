package docserver

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/protocol"
	"github.com/BioHazard786/findit/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// Conn is a single websocket client of the document server.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan *protocol.Message

	// done is closed by the hub when the connection unregisters. Pushes from
	// subscription goroutines give up once it is closed.
	done chan struct{}

	// subs is owned by the hub goroutine.
	subs map[uint64]store.Subscription
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:  hub,
		ws:   ws,
		send: make(chan *protocol.Message, 256),
		done: make(chan struct{}),
		subs: make(map[uint64]store.Subscription),
	}
}

// push queues a message for the write pump.
func (c *Conn) push(msg *protocol.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// readPump pumps requests from the websocket connection to the hub.
//
// There is at most one reader on a connection; all reads happen on this goroutine.
func (c *Conn) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("remote", c.ws.RemoteAddr().String()).Msg("read failed")
			}
			return
		}
		select {
		case c.hub.requests <- &request{conn: c, msg: &msg}:
		case <-c.hub.stopped:
			return
		}
	}
}

// writePump pumps messages from the hub and subscriptions to the websocket
// connection. There is at most one writer; all writes happen on this goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("error writing json")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
