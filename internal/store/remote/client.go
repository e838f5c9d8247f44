// Package remote implements store.Store as a client of the document server.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/dns"
	"github.com/BioHazard786/findit/internal/protocol"
	"github.com/BioHazard786/findit/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// pending is an in-flight request. For watches, notifier is registered under
// the returned subscription id by the read pump before any snapshot arrives.
type pending struct {
	reply    chan *protocol.Message
	notifier *store.Notifier
}

// Client is a store.Store backed by a document server connection.
type Client struct {
	conn     *websocket.Conn
	outgoing chan *protocol.Message
	done     chan struct{}

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pending
	subs    map[uint64]*store.Notifier
	closed  bool
	err     error

	closeOnce sync.Once
}

var _ store.Store = (*Client)(nil)

// Dial connects to the document server's websocket endpoint.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		NetDialContext:   dns.DialContext,
		HandshakeTimeout: 45 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}

	c := &Client{
		conn:     conn,
		outgoing: make(chan *protocol.Message, 16),
		done:     make(chan struct{}),
		pending:  make(map[uint64]*pending),
		subs:     make(map[uint64]*store.Notifier),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump routes results to their callers and snapshots to subscriptions.
func (c *Client) readPump() {
	defer c.shutdown(store.ErrClosed)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("document server connection lost")
			}
			return
		}

		switch msg.Type {
		case protocol.TypeResult, protocol.TypeError:
			c.mu.Lock()
			p, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			if ok && p.notifier != nil && msg.Error == "" {
				c.subs[msg.SubID] = p.notifier
			}
			c.mu.Unlock()
			if ok {
				p.reply <- &msg
			}

		case protocol.TypeSnapshot:
			c.mu.Lock()
			n := c.subs[msg.SubID]
			c.mu.Unlock()
			if n != nil {
				n.Push(msg.Snapshot())
			}

		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring unknown message")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("error writing json")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// call sends msg and waits for its result.
func (c *Client) call(ctx context.Context, msg *protocol.Message, n *store.Notifier) (*protocol.Message, error) {
	p := &pending{reply: make(chan *protocol.Message, 1), notifier: n}

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	msg.ID = c.nextID
	c.pending[msg.ID] = p
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	select {
	case c.outgoing <- msg:
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr()
	}

	select {
	case res := <-p.reply:
		if res.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", msg.Type, msg.Path, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErr()
	}
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// NewDocID implements store.Store.
func (c *Client) NewDocID(ctx context.Context, collection string) (string, error) {
	res, err := c.call(ctx, &protocol.Message{Type: protocol.TypeNewID, Path: collection}, nil)
	if err != nil {
		return "", err
	}
	return res.DocID, nil
}

// Set implements store.Store.
func (c *Client) Set(ctx context.Context, path string, fields store.Fields, merge bool) error {
	_, err := c.call(ctx, &protocol.Message{Type: protocol.TypeSet, Path: path, Fields: fields, Merge: merge}, nil)
	return err
}

// Get implements store.Store.
func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	res, err := c.call(ctx, &protocol.Message{Type: protocol.TypeGet, Path: path}, nil)
	if err != nil {
		return store.Snapshot{}, err
	}
	return res.Snapshot(), nil
}

// Add implements store.Store.
func (c *Client) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	res, err := c.call(ctx, &protocol.Message{Type: protocol.TypeAdd, Path: collection, Fields: fields}, nil)
	if err != nil {
		return "", err
	}
	return res.DocID, nil
}

// WatchDocument implements store.Store.
func (c *Client) WatchDocument(ctx context.Context, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	return c.watch(ctx, protocol.TypeWatchDocument, path, fn)
}

// WatchCollection implements store.Store.
func (c *Client) WatchCollection(ctx context.Context, collection string, fn func(store.Snapshot)) (store.Subscription, error) {
	return c.watch(ctx, protocol.TypeWatchCollection, collection, fn)
}

func (c *Client) watch(ctx context.Context, typ, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	n := store.NewNotifier(fn)
	res, err := c.call(ctx, &protocol.Message{Type: typ, Path: path}, n)
	if err != nil {
		n.Cancel()
		return nil, err
	}
	return &subscription{client: c, id: res.SubID, notifier: n}, nil
}

// Close ends the connection. Pending requests fail with store.ErrClosed and
// every subscription is cancelled.
func (c *Client) Close() error {
	c.shutdown(store.ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		subs := c.subs
		c.subs = make(map[uint64]*store.Notifier)
		c.pending = make(map[uint64]*pending)
		c.mu.Unlock()

		for _, n := range subs {
			n.Cancel()
		}
		close(c.done)
	})
}

type subscription struct {
	client   *Client
	id       uint64
	notifier *store.Notifier
	once     sync.Once
}

// Cancel stops delivery immediately and tells the server to drop the watch.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.notifier.Cancel()

		c := s.client
		c.mu.Lock()
		delete(c.subs, s.id)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			_, err := c.call(ctx, &protocol.Message{Type: protocol.TypeUnwatch, SubID: s.id}, nil)
			if err != nil && !errors.Is(err, store.ErrClosed) {
				log.Debug().Err(err).Uint64("sub", s.id).Msg("unwatch failed")
			}
		}()
	})
}
