package websocket

import (
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

type Client struct {
	ID          string
	Address     types.Address
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	closed      bool          // Flag to check if the connection is closed
	mu          sync.Mutex    // Mutex to protect the closed flag
}

// ReadMessages listens for incoming messages from the client until the
// connection fails, then unregisters it.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte), unregister func(*Client)) {
	defer func() {
		if unregister != nil {
			unregister(c)
		}
		c.Disconnect() // Ensure cleanup
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages to the client and pings it every
// pingInterval.
func (c *Client) WriteMessages(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("Error sending message to client %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debugf("Error pinging client %s: %v", c.ID, err)
				return
			}
		}
	}
}

// trySend queues message without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// Disconnect cleans up client resources. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	log.Debugf("Client %s cleanup completed", c.ID) // Lower-level log here
}
