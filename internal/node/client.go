package node

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection. The node's event loop and the client's
// own session both write through the send channel, so the write pump is the
// only goroutine touching the socket for writes.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// enqueue hands a frame to the write pump without blocking. It reports false
// once the client was shut down or its buffer is full.
func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once. The session and the node
// event loop may both be racing to enqueue, so the flag and the close sit
// under the same lock.
func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// ServeWS upgrades an HTTP request and binds a new client and session to the
// node.
func ServeWS(n *Node, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[node %s] upgrade failed: %v", n.ID, err)
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, 256)}
	sess := newSession(n, c, conn.RemoteAddr().String())
	n.register <- c
	go c.writePump()
	go c.readPump(n, sess)
}

// push implements outbound for the session. A full buffer means the client
// stopped draining; drop the message and report it, the read pump will tear
// the connection down when the socket dies.
func (c *Client) push(msg serverMessage) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[client] marshal push: %v", err)
		return false
	}
	return c.enqueue(b)
}

// readPump decodes inbound commands and feeds them to the session one at a
// time, which is what keeps command handling serial per connection. A
// disconnect mid-command lets the in-flight store and bus calls finish;
// their effects are system-wide and must not be cancelled with the session.
func (c *Client) readPump(n *Node, sess *Session) {
	defer func() {
		n.unregister <- c
		c.conn.Close()
	}()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Printf("[client] ignoring malformed command: %v", err)
			continue
		}
		sess.handle(context.Background(), cmd)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	// send closed by the node: say goodbye properly.
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
