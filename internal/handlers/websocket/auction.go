package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// IdentifyFunc resolves the caller of the upgrade request.
type IdentifyFunc func(*http.Request) (types.User, error)

type Option func(*AuctionHandler)

// WithRateLimit sets the per-client command rate.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(h *AuctionHandler) {
		h.rateLimit = r
		h.burst = burst
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(h *AuctionHandler) { h.pingInterval = d }
}

func WithMaxMessageSize(n int64) Option {
	return func(h *AuctionHandler) { h.maxMessageSize = n }
}

// AuctionHandler is the notification hub. It fans ledger events out to every
// connected client and runs the commands clients send back.
type AuctionHandler struct {
	ledger   *ledger.Ledger
	identify IdentifyFunc
	upgrader websocket.Upgrader

	connectedClients map[*Client]bool // Track all connected clients
	clientLock       sync.Mutex       // Prevent race conditions

	rateLimit      rate.Limit
	burst          int
	pingInterval   time.Duration
	maxMessageSize int64
	commandTimeout time.Duration
}

func NewAuctionWebSocketHandler(identify IdentifyFunc, opts ...Option) *AuctionHandler {
	h := &AuctionHandler{
		identify:         identify,
		connectedClients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rateLimit:      1,
		burst:          3,
		pingInterval:   30 * time.Second,
		maxMessageSize: 4096,
		commandTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach sets the ledger that client commands run against. The ledger is
// built with this handler as its notifier, so it is attached afterwards.
func (h *AuctionHandler) Attach(l *ledger.Ledger) {
	h.ledger = l
}

// HandleAuctions authenticates the request and upgrades it to a WebSocket connection.
func (h *AuctionHandler) HandleAuctions(w http.ResponseWriter, r *http.Request) {
	user, err := h.identify(r)
	if err != nil {
		log.Error("Invalid token", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	conn.SetReadLimit(h.maxMessageSize)

	// Initialize a new client
	client := &Client{
		ID:          user.ID,
		Address:     user.Address,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		RateLimiter: rate.NewLimiter(h.rateLimit, h.burst),
	}

	h.clientLock.Lock()
	h.connectedClients[client] = true
	h.clientLock.Unlock()
	log.Debugf("Client %s connected as %s", client.ID, client.Address)

	// Start handling the client
	go client.ReadMessages(h.HandleMessage, h.remove)
	go client.WriteMessages(h.pingInterval)
}

func (h *AuctionHandler) remove(c *Client) {
	h.clientLock.Lock()
	delete(h.connectedClients, c)
	h.clientLock.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *AuctionHandler) ClientCount() int {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()
	return len(h.connectedClients)
}

// Broadcast sends a message to all connected clients. Clients that cannot
// keep up are disconnected rather than blocking the sender.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()

	for client := range h.connectedClients {
		if !client.trySend(message) {
			delete(h.connectedClients, client)
			client.Disconnect()
		}
	}
}

// Notify publishes a ledger event to every client. It never blocks on slow
// clients, so it is safe to call while the ledger holds an auction lock.
func (h *AuctionHandler) Notify(_ context.Context, ev types.Event) {
	raw, err := json.Marshal(&Outbound{Type: string(ev.Type), Data: ev})
	if err != nil {
		log.Error("Error marshalling event", "type", ev.Type, "auction", ev.AuctionID, "error", err)
		return
	}
	h.Broadcast(raw)
}

// Shutdown disconnects every client.
func (h *AuctionHandler) Shutdown() {
	h.clientLock.Lock()
	defer h.clientLock.Unlock()
	for client := range h.connectedClients {
		delete(h.connectedClients, client)
		client.Disconnect()
	}
}
