package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const defaultPageSize = 20

// IdentifyFunc resolves the caller of an authenticated request.
type IdentifyFunc func(*http.Request) (types.User, error)

// HealthFunc reports the status of the backing store.
type HealthFunc func() map[string]string

type Auctions struct {
	ledger   *ledger.Ledger
	identify IdentifyFunc
	health   HealthFunc
}

func New(l *ledger.Ledger, identify IdentifyFunc, health HealthFunc) *Auctions {
	if health == nil {
		health = func() map[string]string { return map[string]string{"status": "up", "store": "memory"} }
	}
	return &Auctions{ledger: l, identify: identify, health: health}
}

type createRequest struct {
	Name        string        `json:"name"`
	Duration    int64         `json:"duration"` // seconds
	Beneficiary types.Address `json:"beneficiary"`
	ContentHash string        `json:"contentHash"`
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func auctionID(req *http.Request) (uint64, error) {
	raw := mux.Vars(req)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrNotFound, "auction %s not found", raw)
	}
	return id, nil
}

func (a *Auctions) caller(req *http.Request) (types.User, error) {
	if a.identify == nil {
		return types.User{}, apperrors.ErrUnauthorized
	}
	user, err := a.identify(req)
	if err != nil {
		return types.User{}, apperrors.WithCause(apperrors.ErrUnauthorized, err)
	}
	return user, nil
}

func (a *Auctions) handleCreate(w http.ResponseWriter, req *http.Request) error {
	user, err := a.caller(req)
	if err != nil {
		return err
	}
	var body createRequest
	if err := ParseJSON(req.Body, &body); err != nil {
		return err
	}
	id, err := a.ledger.CreateAuction(req.Context(), ledger.CreateParams{
		Name:        body.Name,
		Duration:    time.Duration(body.Duration) * time.Second,
		Beneficiary: body.Beneficiary,
		ContentHash: body.ContentHash,
		Creator:     user.Address,
	})
	if err != nil {
		return err
	}
	return WriteJSONStatus(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (a *Auctions) handleList(w http.ResponseWriter, req *http.Request) error {
	offset, err := queryInt(req, "offset", 0)
	if err != nil {
		return err
	}
	limit, err := queryInt(req, "limit", defaultPageSize)
	if err != nil {
		return err
	}
	auctions, err := a.ledger.GetAuctionsByName(req.Context(), req.URL.Query().Get("name"), offset, limit)
	if err != nil {
		return err
	}
	return WriteJSON(w, auctions)
}

func (a *Auctions) handleCount(w http.ResponseWriter, req *http.Request) error {
	n, err := a.ledger.CountByName(req.Context(), req.URL.Query().Get("name"))
	if err != nil {
		return err
	}
	return WriteJSON(w, map[string]int{"count": n})
}

func (a *Auctions) handleNext(w http.ResponseWriter, req *http.Request) error {
	id, ok := a.ledger.ReadyToClose(req.Context())
	return WriteJSON(w, struct {
		ID     uint64 `json:"id,omitempty"`
		Ready  bool   `json:"ready"`
		NextID uint64 `json:"nextId"`
	}{id, ok, a.ledger.NextAuctionID()})
}

func (a *Auctions) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := auctionID(req)
	if err != nil {
		return err
	}
	auction, err := a.ledger.GetAuction(req.Context(), id)
	if err != nil {
		return err
	}
	return WriteJSON(w, auction)
}

func (a *Auctions) handleGetBids(w http.ResponseWriter, req *http.Request) error {
	id, err := auctionID(req)
	if err != nil {
		return err
	}
	var bids []types.Bid
	if bidder := req.URL.Query().Get("bidder"); bidder != "" {
		bids, err = a.ledger.GetBidsForAddress(req.Context(), id, types.Address(bidder))
	} else {
		bids, err = a.ledger.GetAllBids(req.Context(), id)
	}
	if err != nil {
		return err
	}
	if bids == nil {
		bids = []types.Bid{}
	}
	return WriteJSON(w, bids)
}

func (a *Auctions) handlePlaceBid(w http.ResponseWriter, req *http.Request) error {
	user, err := a.caller(req)
	if err != nil {
		return err
	}
	id, err := auctionID(req)
	if err != nil {
		return err
	}
	var body bidRequest
	if err := ParseJSON(req.Body, &body); err != nil {
		return err
	}
	highest, err := a.ledger.PlaceBid(req.Context(), id, user.Address, body.Amount)
	if err != nil {
		return err
	}
	return WriteJSON(w, map[string]decimal.Decimal{"highestBid": highest})
}

// handleClose settles the auction. Any party may trigger settlement.
func (a *Auctions) handleClose(w http.ResponseWriter, req *http.Request) error {
	id, err := auctionID(req)
	if err != nil {
		return err
	}
	auction, err := a.ledger.CloseAuction(req.Context(), id)
	if err != nil {
		return err
	}
	return WriteJSON(w, auction)
}

func (a *Auctions) handleWithdraw(w http.ResponseWriter, req *http.Request) error {
	user, err := a.caller(req)
	if err != nil {
		return err
	}
	id, err := auctionID(req)
	if err != nil {
		return err
	}
	refund, err := a.ledger.Withdraw(req.Context(), id, user.Address)
	if err != nil {
		return err
	}
	return WriteJSON(w, refund)
}

// handleClaim pays out a bid that was handed back to the caller but refused.
func (a *Auctions) handleClaim(w http.ResponseWriter, req *http.Request) error {
	user, err := a.caller(req)
	if err != nil {
		return err
	}
	paid, err := a.ledger.ClaimUnclaimed(req.Context(), user.Address)
	if err != nil {
		return err
	}
	return WriteJSON(w, struct {
		Amount decimal.Decimal `json:"amount"`
	}{paid})
}

func (a *Auctions) handleHealth(w http.ResponseWriter, req *http.Request) error {
	stats := a.health()
	if stats["status"] != "up" {
		return WriteJSONStatus(w, http.StatusServiceUnavailable, stats)
	}
	return WriteJSON(w, stats)
}

// Mount registers the auction routes under pathPrefix and /health on root.
func (a *Auctions) Mount(root *mux.Router, pathPrefix string) {
	root.Path("/health").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleHealth))

	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(a.handleCreate))
	sub.Path("").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleList))
	sub.Path("/count").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleCount))
	sub.Path("/next").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleNext))
	sub.Path("/credit").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(a.handleClaim))
	sub.Path("/{id:[0-9]+}").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleGet))
	sub.Path("/{id:[0-9]+}/bids").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleGetBids))
	sub.Path("/{id:[0-9]+}/bids").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(a.handlePlaceBid))
	sub.Path("/{id:[0-9]+}/close").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(a.handleClose))
	sub.Path("/{id:[0-9]+}/withdraw").Methods(http.MethodPost).HandlerFunc(WrapHandlerFunc(a.handleWithdraw))
}
