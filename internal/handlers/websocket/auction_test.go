package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-ledger/internal/funds"
	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callerHeader = "X-Test-Address"

func identifyFromHeader(r *http.Request) (types.User, error) {
	addr := r.Header.Get(callerHeader)
	if addr == "" {
		return types.User{}, apperrors.ErrUnauthorized
	}
	return types.User{ID: addr, Address: types.Address(addr)}, nil
}

type wsFixture struct {
	hub    *AuctionHandler
	ledger *ledger.Ledger
	server *httptest.Server
	url    string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	hub := NewAuctionWebSocketHandler(identifyFromHeader)
	l, err := ledger.New(context.Background(), funds.NewAccounts(decimal.NewFromInt(100)), ledger.WithNotifier(hub))
	require.NoError(t, err)
	hub.Attach(l)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleAuctions))
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})
	return &wsFixture{hub: hub, ledger: l, server: server, url: "ws" + strings.TrimPrefix(server.URL, "http")}
}

func (f *wsFixture) dial(t *testing.T, caller string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(callerHeader, caller)
	ws, _, err := websocket.DefaultDialer.Dial(f.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, data string) {
	t.Helper()
	raw, err := json.Marshal(Message{Type: msgType, Data: data})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

type inbound struct {
	Type string          `json:"type"`
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func receive(t *testing.T, ws *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg inbound
	require.NoError(t, json.Unmarshal(raw, &msg), string(raw))
	return msg
}

func TestHandleAuctions_RejectsAnonymous(t *testing.T) {
	f := newWSFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_BidCommandAndBroadcast(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()
	id, err := f.ledger.CreateAuction(ctx, ledger.CreateParams{
		Name: "X", Duration: time.Hour, Beneficiary: "0xbeef", ContentHash: "QmImageHash", Creator: "0xc0ffee",
	})
	require.NoError(t, err)

	ws := f.dial(t, "0xa")
	send(t, ws, "bid", `{"auction_id":1,"amount":"2.5"}`)

	// The event is broadcast from inside PlaceBid, before the command reply.
	ev := receive(t, ws)
	require.Equal(t, string(types.EventBidAccepted), ev.Type)
	var event types.Event
	require.NoError(t, json.Unmarshal(ev.Data, &event))
	assert.Equal(t, id, event.AuctionID)
	assert.Equal(t, types.Address("0xa"), event.Bidder)
	require.NotNil(t, event.HighestBid)
	assert.True(t, event.HighestBid.Equal(decimal.RequireFromString("2.5")))

	reply := receive(t, ws)
	assert.Equal(t, "bid-placed", reply.Type)

	// A second client sees later events too.
	other := f.dial(t, "0xb")
	send(t, other, "withdraw", `{"auction_id":1}`)
	errMsg := receive(t, other)
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, apperrors.ErrCodeAuctionNotYetEnded, errMsg.Code)

	_, err = f.ledger.PlaceBid(ctx, id, "0xc", decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, string(types.EventBidAccepted), receive(t, ws).Type)
	assert.Equal(t, string(types.EventBidAccepted), receive(t, other).Type)
}

func TestWebSocket_MalformedAndUnknownMessages(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(t, "0xa")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("test message")))
	msg := receive(t, ws)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, apperrors.ErrCodeBadMessageFormat, msg.Code)

	send(t, ws, "join", "")
	msg = receive(t, ws)
	assert.Equal(t, apperrors.ErrCodeUnknownMessageType, msg.Code)

	send(t, ws, "bid", "not json")
	msg = receive(t, ws)
	assert.Equal(t, apperrors.ErrCodeBadMessageFormat, msg.Code)
}

func TestWebSocket_RateLimit(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(t, "0xa")

	// The burst of three is allowed, the fourth message inside the same second is not.
	for i := 0; i < 4; i++ {
		send(t, ws, "noop", "")
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, apperrors.ErrCodeUnknownMessageType, receive(t, ws).Code)
	}
	assert.Equal(t, apperrors.ErrCodeRateLimited, receive(t, ws).Code)
}

func TestBroadcast_DropsClosedClients(t *testing.T) {
	hub := NewAuctionWebSocketHandler(identifyFromHeader)
	c := &Client{ID: "gone", Send: make(chan []byte, 1)}
	hub.connectedClients[c] = true
	c.Disconnect()

	hub.Broadcast([]byte(`{}`))
	assert.Equal(t, 0, hub.ClientCount())
}
