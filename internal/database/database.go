package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Martin-Hayot/auction-ledger/configs"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// Migrate creates the ledger tables if they do not exist.
	Migrate(ctx context.Context) error

	// LEDGER STORE METHODS
	LoadAuctions(ctx context.Context) ([]types.Auction, error)
	SaveAuction(ctx context.Context, auction types.Auction) error
	RecordBid(ctx context.Context, auction types.Auction, bid types.Bid) error

	// TRANSACTION METHODS
	BeginTx(ctx context.Context) (*sql.Tx, error)
}

type service struct {
	db *sql.DB
}

// DSN builds the connection string for the configured database.
func DSN(cfg *configs.Config) string {
	dbConfig := cfg.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbConfig.User, dbConfig.Password),
		Host:     dbConfig.Host + ":" + dbConfig.Port,
		Path:     "/" + dbConfig.Name,
		RawQuery: "sslmode=" + url.QueryEscape(dbConfig.SSLMode),
	}
	return u.String()
}

func New(ctx context.Context, cfg *configs.Config) (Service, error) {
	return Open(ctx, DSN(cfg))
}

// Open connects with the pgx driver, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string) (Service, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	s := &service{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Connected to database")
	return s, nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Error("Database health check failed", "error", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	// Evaluate stats to provide a health message
	if dbStats.OpenConnections > 40 { // Assuming 50 is the max for this example
		stats["message"] = "The database is experiencing heavy load."
	}

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
    id             BIGINT PRIMARY KEY,
    name           TEXT        NOT NULL,
    start_time     TIMESTAMPTZ NOT NULL,
    end_time       TIMESTAMPTZ NOT NULL,
    initiator      TEXT        NOT NULL,
    beneficiary    TEXT        NOT NULL,
    content_hash   TEXT        NOT NULL,
    highest_bidder TEXT        NOT NULL DEFAULT '',
    highest_bid    NUMERIC     NOT NULL DEFAULT 0,
    ended          BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS auctions_name_idx ON auctions (name, id);

CREATE TABLE IF NOT EXISTS auction_bids (
    auction_id BIGINT      NOT NULL REFERENCES auctions (id),
    position   INT         NOT NULL,
    bidder     TEXT        NOT NULL,
    amount     NUMERIC     NOT NULL,
    placed_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (auction_id, position)
);
CREATE INDEX IF NOT EXISTS auction_bids_bidder_idx ON auction_bids (auction_id, bidder);

CREATE TABLE IF NOT EXISTS auction_stakes (
    auction_id BIGINT  NOT NULL REFERENCES auctions (id),
    bidder     TEXT    NOT NULL,
    stake      NUMERIC NOT NULL DEFAULT 0,
    refunded   NUMERIC NOT NULL DEFAULT 0,
    PRIMARY KEY (auction_id, bidder)
);
`

func (s *service) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error migrating schema: %w", err)
	}
	return nil
}

// BeginTx starts a new database transaction.
func (s *service) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	return tx, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

// SaveAuction upserts the auction header with its stakes and refunds.
func (s *service) SaveAuction(ctx context.Context, auction types.Auction) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveAuctionTx(ctx, tx, auction)
	})
}

// RecordBid appends bid and saves the updated auction in one transaction.
func (s *service) RecordBid(ctx context.Context, auction types.Auction, bid types.Bid) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
            INSERT INTO auction_bids ("auction_id", "position", "bidder", "amount", "placed_at")
            VALUES ($1, $2, $3, $4, $5)
        `
		_, err := tx.ExecContext(ctx, query, int64(auction.ID), len(auction.Bids)-1, string(bid.Bidder), bid.Amount, bid.Timestamp)
		if err != nil {
			return fmt.Errorf("error creating bid in tx: %w", err)
		}
		return saveAuctionTx(ctx, tx, auction)
	})
}

func saveAuctionTx(ctx context.Context, tx *sql.Tx, a types.Auction) error {
	query := `
        INSERT INTO auctions (
            "id", "name", "start_time", "end_time", "initiator", "beneficiary",
            "content_hash", "highest_bidder", "highest_bid", "ended"
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT ("id") DO UPDATE SET
            "highest_bidder" = EXCLUDED."highest_bidder",
            "highest_bid"    = EXCLUDED."highest_bid",
            "ended"          = EXCLUDED."ended"
    `
	_, err := tx.ExecContext(ctx, query,
		int64(a.ID),
		a.Name,
		a.StartTime,
		a.EndTime,
		string(a.Initiator),
		string(a.Beneficiary),
		a.ContentHash,
		string(a.HighestBidder),
		a.HighestBid,
		a.Ended,
	)
	if err != nil {
		return fmt.Errorf("error saving auction %d in tx: %w", a.ID, err)
	}

	stakeQuery := `
        INSERT INTO auction_stakes ("auction_id", "bidder", "stake", "refunded")
        VALUES ($1, $2, $3, $4)
        ON CONFLICT ("auction_id", "bidder") DO UPDATE SET
            "stake"    = EXCLUDED."stake",
            "refunded" = EXCLUDED."refunded"
    `
	for _, bidder := range stakeHolders(a) {
		_, err := tx.ExecContext(ctx, stakeQuery, int64(a.ID), string(bidder), a.Stakes[bidder], a.Refunded[bidder])
		if err != nil {
			return fmt.Errorf("error saving stake of %s in auction %d: %w", bidder, a.ID, err)
		}
	}
	return nil
}

func stakeHolders(a types.Auction) []types.Address {
	seen := make(map[types.Address]bool, len(a.Stakes))
	var out []types.Address
	for b := range a.Stakes {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	for b := range a.Refunded {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// LoadAuctions reads every auction with its bids and stakes, ordered by id.
func (s *service) LoadAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `
        SELECT "id", "name", "start_time", "end_time", "initiator", "beneficiary",
               "content_hash", "highest_bidder", "highest_bid", "ended"
        FROM auctions
        ORDER BY "id" ASC
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error getting auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	byID := make(map[uint64]int)
	for rows.Next() {
		var (
			a                                     types.Auction
			id                                    int64
			initiator, beneficiary, highestBidder string
		)
		err := rows.Scan(
			&id,
			&a.Name,
			&a.StartTime,
			&a.EndTime,
			&initiator,
			&beneficiary,
			&a.ContentHash,
			&highestBidder,
			&a.HighestBid,
			&a.Ended,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		a.ID = uint64(id)
		a.StartTime = a.StartTime.UTC()
		a.EndTime = a.EndTime.UTC()
		a.Initiator = types.Address(initiator)
		a.Beneficiary = types.Address(beneficiary)
		a.HighestBidder = types.Address(highestBidder)
		a.Stakes = make(map[types.Address]decimal.Decimal)
		a.Refunded = make(map[types.Address]decimal.Decimal)
		byID[a.ID] = len(auctions)
		auctions = append(auctions, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}

	if err := s.loadBids(ctx, auctions, byID); err != nil {
		return nil, err
	}
	if err := s.loadStakes(ctx, auctions, byID); err != nil {
		return nil, err
	}
	return auctions, nil
}

func (s *service) loadBids(ctx context.Context, auctions []types.Auction, byID map[uint64]int) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT "auction_id", "bidder", "amount", "placed_at"
        FROM auction_bids
        ORDER BY "auction_id", "position"
    `)
	if err != nil {
		return fmt.Errorf("error getting bids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			auctionID int64
			bidder    string
			bid       types.Bid
		)
		if err := rows.Scan(&auctionID, &bidder, &bid.Amount, &bid.Timestamp); err != nil {
			return fmt.Errorf("error scanning bid: %w", err)
		}
		i, ok := byID[uint64(auctionID)]
		if !ok {
			continue
		}
		bid.Bidder = types.Address(bidder)
		bid.Timestamp = bid.Timestamp.UTC()
		auctions[i].Bids = append(auctions[i].Bids, bid)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over bids: %w", err)
	}
	return nil
}

func (s *service) loadStakes(ctx context.Context, auctions []types.Auction, byID map[uint64]int) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT "auction_id", "bidder", "stake", "refunded"
        FROM auction_stakes
    `)
	if err != nil {
		return fmt.Errorf("error getting stakes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			auctionID       int64
			bidder          string
			stake, refunded decimal.Decimal
		)
		if err := rows.Scan(&auctionID, &bidder, &stake, &refunded); err != nil {
			return fmt.Errorf("error scanning stake: %w", err)
		}
		i, ok := byID[uint64(auctionID)]
		if !ok {
			continue
		}
		addr := types.Address(bidder)
		auctions[i].Stakes[addr] = stake
		if !refunded.IsZero() {
			auctions[i].Refunded[addr] = refunded
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over stakes: %w", err)
	}
	return nil
}
