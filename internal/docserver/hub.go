package docserver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/protocol"
	"github.com/BioHazard786/findit/internal/store"
)

type request struct {
	conn *Conn
	msg  *protocol.Message
}

// Hub owns every connection of the document server and executes their
// requests against the shared store. Run is the single goroutine that
// mutates connection state.
type Hub struct {
	store store.Store

	conns   map[*Conn]bool
	nextSub uint64

	register   chan *Conn
	unregister chan *Conn
	requests   chan *request

	// stopped is closed when Run returns.
	stopped chan struct{}
}

// NewHub creates a hub serving st.
func NewHub(st store.Store) *Hub {
	return &Hub{
		store:      st,
		conns:      make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		requests:   make(chan *request),
		stopped:    make(chan struct{}),
	}
}

// Run processes registrations and requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for c := range h.conns {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.conns[c] = true
			log.Debug().Str("remote", c.ws.RemoteAddr().String()).Msg("client registered")

		case c := <-h.unregister:
			if h.conns[c] {
				h.drop(c)
				log.Debug().Str("remote", c.ws.RemoteAddr().String()).Msg("client unregistered")
			}

		case req := <-h.requests:
			if !h.conns[req.conn] {
				continue
			}
			h.handle(ctx, req.conn, req.msg)
		}
	}
}

// drop cancels every watch of c and stops its write pump.
func (h *Hub) drop(c *Conn) {
	for id, sub := range c.subs {
		sub.Cancel()
		delete(c.subs, id)
	}
	delete(h.conns, c)
	close(c.done)
}

func (h *Hub) handle(ctx context.Context, c *Conn, msg *protocol.Message) {
	log.Debug().Str("type", msg.Type).Str("path", msg.Path).Uint64("id", msg.ID).Msg("request")

	result := &protocol.Message{Type: protocol.TypeResult, ID: msg.ID}
	var err error

	switch msg.Type {
	case protocol.TypeNewID:
		result.DocID, err = h.store.NewDocID(ctx, msg.Path)

	case protocol.TypeSet:
		err = h.store.Set(ctx, msg.Path, msg.Fields, msg.Merge)

	case protocol.TypeGet:
		var snap store.Snapshot
		snap, err = h.store.Get(ctx, msg.Path)
		result.Path, result.DocID, result.Fields, result.Exists = snap.Path, snap.ID, snap.Fields, snap.Exists

	case protocol.TypeAdd:
		result.DocID, err = h.store.Add(ctx, msg.Path, msg.Fields)

	case protocol.TypeWatchDocument, protocol.TypeWatchCollection:
		if err = h.watch(ctx, c, msg); err == nil {
			return
		}

	case protocol.TypeUnwatch:
		if sub, ok := c.subs[msg.SubID]; ok {
			sub.Cancel()
			delete(c.subs, msg.SubID)
		}

	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Str("path", msg.Path).Msg("request failed")
		result.Error = err.Error()
	}
	h.reply(c, result)
}

// reply queues msg for c without blocking the hub. A client that stops
// draining its queue is dropped.
func (h *Hub) reply(c *Conn, msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("remote", c.ws.RemoteAddr().String()).Msg("send queue full, dropping client")
		h.drop(c)
	}
}

// watch registers a subscription for c and replies with its id. The reply is
// queued before any snapshot of the subscription.
func (h *Hub) watch(ctx context.Context, c *Conn, msg *protocol.Message) error {
	h.nextSub++
	subID := h.nextSub

	ready := make(chan struct{})
	deliver := func(s store.Snapshot) {
		select {
		case <-ready:
		case <-c.done:
			return
		}
		c.push(protocol.SnapshotMessage(subID, s))
	}

	var (
		sub store.Subscription
		err error
	)
	if msg.Type == protocol.TypeWatchDocument {
		sub, err = h.store.WatchDocument(ctx, msg.Path, deliver)
	} else {
		sub, err = h.store.WatchCollection(ctx, msg.Path, deliver)
	}
	if err != nil {
		close(ready)
		return err
	}
	c.subs[subID] = sub

	h.reply(c, &protocol.Message{Type: protocol.TypeResult, ID: msg.ID, SubID: subID})
	close(ready)
	return nil
}
