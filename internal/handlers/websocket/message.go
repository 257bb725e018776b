package websocket

import (
	"context"
	"encoding/json"

	"github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

type Message struct {
	Type string `json:"type"` // Type of the message: "bid", "close" or "withdraw"
	Data string `json:"data"` // JSON-encoded payload of the message
}

// Outbound is a message sent to clients: a ledger event or a command result.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type auctionCommand struct {
	AuctionID uint64          `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) reply(msgType string, data interface{}) {
	raw, err := json.Marshal(&Outbound{Type: msgType, Data: data})
	if err != nil {
		log.Error("Error marshalling reply", "type", msgType, "error", err)
		return
	}
	c.trySend(raw)
}

func (c *Client) replyError(err error) {
	c.trySend([]byte(errors.From(err).ToJSON()))
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.replyError(errors.ErrRateLimited)
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.replyError(errors.Newf(errors.ErrBadMessageFormat, "invalid message format: %v", err))
		return
	}

	if h.ledger == nil {
		client.replyError(errors.New(errors.ErrCodeInternalServer, "ledger unavailable"))
		return
	}

	var cmd auctionCommand
	if msg.Type == "bid" || msg.Type == "close" || msg.Type == "withdraw" {
		if err := json.Unmarshal([]byte(msg.Data), &cmd); err != nil {
			client.replyError(errors.Newf(errors.ErrBadMessageFormat, "invalid %s message: %v", msg.Type, err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.commandTimeout)
	defer cancel()

	switch msg.Type {
	case "bid":
		h.handleBidMessage(ctx, client, cmd)
	case "close":
		h.handleCloseMessage(ctx, client, cmd)
	case "withdraw":
		h.handleWithdrawMessage(ctx, client, cmd)
	default:
		log.Debugf("Unknown message type from client %s: %s", client.ID, msg.Type)
		client.replyError(errors.Newf(errors.ErrUnknownMessageType, "unknown message type %q", msg.Type))
	}
}

// Handlers for specific message types
func (h *AuctionHandler) handleBidMessage(ctx context.Context, client *Client, cmd auctionCommand) {
	highest, err := h.ledger.PlaceBid(ctx, cmd.AuctionID, client.Address, cmd.Amount)
	if err != nil {
		client.replyError(err)
		return
	}
	client.reply("bid-placed", map[string]interface{}{
		"auctionId":  cmd.AuctionID,
		"highestBid": highest,
	})
}

func (h *AuctionHandler) handleCloseMessage(ctx context.Context, client *Client, cmd auctionCommand) {
	auction, err := h.ledger.CloseAuction(ctx, cmd.AuctionID)
	if err != nil {
		client.replyError(err)
		return
	}
	log.Debugf("Auction %d closed by client %s", auction.ID, client.ID)
	client.reply("close-result", auction)
}

func (h *AuctionHandler) handleWithdrawMessage(ctx context.Context, client *Client, cmd auctionCommand) {
	refund, err := h.ledger.Withdraw(ctx, cmd.AuctionID, client.Address)
	if err != nil {
		client.replyError(err)
		return
	}
	client.reply("withdraw-result", refund)
}
