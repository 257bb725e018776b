package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address identifies a party: creator, beneficiary or bidder.
type Address string

// NoAddress is the null identity.
const NoAddress Address = ""

// IsZero reports whether a is the null identity, either empty or an all-zero hex address.
func (a Address) IsZero() bool {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return true
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return s != "" && strings.Trim(s, "0") == ""
}

// Normalize lowercases hex addresses so that lookups are case-insensitive.
func (a Address) Normalize() Address {
	s := strings.TrimSpace(string(a))
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return Address(strings.ToLower(s))
	}
	return Address(s)
}

func (a Address) String() string {
	return string(a)
}

type User struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Address Address `json:"address"`
	Role    string  `json:"role"`
}

// Bid is one transfer toward an auction. Amount is the value of this call only.
type Bid struct {
	Bidder    Address         `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type Auction struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Initiator   Address   `json:"initiator"`
	Beneficiary Address   `json:"beneficiary"`
	ContentHash string    `json:"contentHash"`

	HighestBidder Address         `json:"highestBidder,omitempty"`
	HighestBid    decimal.Decimal `json:"highestBid"`
	Ended         bool            `json:"ended"`

	Bids []Bid `json:"bids"`
	// Stakes holds each bidder's cumulative amount not yet refunded.
	Stakes map[Address]decimal.Decimal `json:"stakes"`
	// Refunded holds what each bidder has already withdrawn.
	Refunded map[Address]decimal.Decimal `json:"refunded,omitempty"`
}

// Clone returns a deep copy, so callers never share slices or maps with the ledger.
func (a Auction) Clone() Auction {
	c := a
	c.Bids = append([]Bid(nil), a.Bids...)
	c.Stakes = make(map[Address]decimal.Decimal, len(a.Stakes))
	for k, v := range a.Stakes {
		c.Stakes[k] = v
	}
	c.Refunded = make(map[Address]decimal.Decimal, len(a.Refunded))
	for k, v := range a.Refunded {
		c.Refunded[k] = v
	}
	return c
}

// HasLeader reports whether at least one bid was accepted.
func (a Auction) HasLeader() bool {
	return a.HighestBidder != NoAddress
}

// Refund is the outcome of a withdrawal. OK is false when the payee refused the transfer.
type Refund struct {
	AuctionID uint64          `json:"auctionId"`
	Bidder    Address         `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	OK        bool            `json:"ok"`
}

type EventType string

const (
	EventAuctionCreated      EventType = "auction-created"
	EventBidAccepted         EventType = "bid-accepted"
	EventAuctionClosed       EventType = "auction-closed"
	EventWithdrawalSucceeded EventType = "withdrawal-succeeded"
)

// Event is a notification for external observers.
type Event struct {
	ID          uuid.UUID        `json:"id"`
	Type        EventType        `json:"type"`
	AuctionID   uint64           `json:"auctionId"`
	Time        time.Time        `json:"time"`
	Name        string           `json:"name,omitempty"`
	Creator     Address          `json:"creator,omitempty"`
	Beneficiary Address          `json:"beneficiary,omitempty"`
	ContentHash string           `json:"contentHash,omitempty"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Bidder      Address          `json:"bidder,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	HighestBid  *decimal.Decimal `json:"highestBid,omitempty"`
}

func NewEvent(t EventType, auctionID uint64, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, AuctionID: auctionID, Time: at}
}
