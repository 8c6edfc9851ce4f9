// Package node runs one board replica: the set of live client connections on
// this process, the bus subscription that keeps them current, and the
// per-connection session protocol. Nodes hold no board state of their own;
// the store is authoritative and every bootstrap reads it fresh.
package node

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"collabboard/internal/board"
	"collabboard/internal/bus"
	"collabboard/internal/store"
)

// Node owns the live clients of one process and fans bus events out to them.
type Node struct {
	// ID names this replica in bus events and logs.
	ID string

	store store.Store
	bus   bus.Bus

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
}

func New(st store.Store, b bus.Bus) *Node {
	return &Node{
		ID:         uuid.NewString(),
		store:      st,
		bus:        b,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run subscribes to the bus and serves the client set until ctx is cancelled
// or the bus closes. It announces itself with a sync event so any peer that
// keeps a cache reconciles before this node's clients start writing.
func (n *Node) Run(ctx context.Context) error {
	events, err := n.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	if err := n.bus.Publish(ctx, bus.Sync(n.ID)); err != nil {
		log.Printf("[node %s] startup sync publish failed: %v", n.ID, err)
	}
	defer func() {
		for c := range n.clients {
			c.shutdown()
		}
	}()

	for {
		select {
		case c := <-n.register:
			n.clients[c] = true
			log.Printf("[node %s] client connected, %d total", n.ID, len(n.clients))
		case c := <-n.unregister:
			if _, ok := n.clients[c]; ok {
				delete(n.clients, c)
				c.shutdown()
				log.Printf("[node %s] client disconnected, %d total", n.ID, len(n.clients))
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.apply(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// apply translates one bus event into pushes to every connected client.
// Unknown event types are skipped so newer publishers stay compatible.
func (n *Node) apply(ev bus.Event) {
	switch ev.Type {
	case bus.EventSync:
		// Cache-free replica: nothing to rebuild, bootstrap reads the store.
		log.Printf("[node %s] sync from node %s", n.ID, ev.Origin)
	case bus.EventDraw:
		if ev.Stroke == nil {
			log.Printf("[node %s] dropping draw event without stroke", n.ID)
			return
		}
		n.push(serverMessage{Type: msgDraw, Stroke: ev.Stroke})
	case bus.EventClearAll:
		n.push(serverMessage{Type: msgClearAll})
	case bus.EventClearUser:
		n.push(serverMessage{Type: msgResetBoard, Strokes: emptyNotNil(ev.Board)})
	default:
		log.Printf("[node %s] ignoring unknown event type %q", n.ID, ev.Type)
	}
}

// push fans one message out to every client. A client whose send buffer is
// full is dropped rather than allowed to stall the rest.
func (n *Node) push(msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[node %s] marshal push: %v", n.ID, err)
		return
	}
	for c := range n.clients {
		if !c.enqueue(b) {
			c.shutdown()
			delete(n.clients, c)
			log.Printf("[node %s] dropped slow client", n.ID)
		}
	}
}

func emptyNotNil(strokes []board.Stroke) []board.Stroke {
	if strokes == nil {
		return []board.Stroke{}
	}
	return strokes
}
