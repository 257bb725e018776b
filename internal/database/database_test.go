package database

import (
	"context"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-ledger/configs"
	"github.com/Martin-Hayot/auction-ledger/internal/funds"
	"github.com/Martin-Hayot/auction-ledger/internal/ledger"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDSN(t *testing.T) {
	cfg := &configs.Config{}
	cfg.Database.Host = "db"
	cfg.Database.Port = "5433"
	cfg.Database.User = "ledger"
	cfg.Database.Password = "p@ss"
	cfg.Database.Name = "auctions"
	cfg.Database.SSLMode = "disable"

	assert.Equal(t, "postgres://ledger:p%40ss@db:5433/auctions?sslmode=disable", DSN(cfg))
}

func startPostgres(t *testing.T) Service {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("auction_ledger"),
		postgres.WithUsername("ledger"),
		postgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	svc, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_PersistsLedgerState(t *testing.T) {
	svc := startPostgres(t)
	ctx := context.Background()

	assert.Equal(t, "up", svc.Health()["status"])

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := ledger.ClockFunc(func() time.Time { return now })
	bank := funds.NewAccounts(decimal.NewFromInt(100))

	l, err := ledger.New(ctx, bank, ledger.WithStore(svc), ledger.WithClock(clock))
	require.NoError(t, err)

	id, err := l.CreateAuction(ctx, ledger.CreateParams{
		Name:        "painting",
		Duration:    time.Hour,
		Beneficiary: "0xbeef",
		ContentHash: "QmImageHash",
		Creator:     "0xc0ffee",
	})
	require.NoError(t, err)

	_, err = l.PlaceBid(ctx, id, "0xa", decimal.RequireFromString("10.25"))
	require.NoError(t, err)
	_, err = l.PlaceBid(ctx, id, "0xb", decimal.NewFromInt(12))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = l.CloseAuction(ctx, id)
	require.NoError(t, err)
	refund, err := l.Withdraw(ctx, id, "0xa")
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("10.25")))

	// A fresh ledger over the same database sees the same state.
	restored, err := ledger.New(ctx, funds.NewAccounts(decimal.Zero), ledger.WithStore(svc), ledger.WithClock(clock))
	require.NoError(t, err)

	a, err := restored.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "painting", a.Name)
	assert.True(t, a.Ended)
	assert.Equal(t, types.Address("0xb"), a.HighestBidder)
	assert.True(t, a.HighestBid.Equal(decimal.NewFromInt(12)))
	require.Len(t, a.Bids, 2)
	assert.Equal(t, types.Address("0xa"), a.Bids[0].Bidder)
	assert.True(t, a.Stakes["0xa"].IsZero())
	assert.True(t, a.Refunded["0xa"].Equal(decimal.RequireFromString("10.25")))
	assert.True(t, a.EndTime.Equal(a.StartTime.Add(time.Hour)))

	assert.Equal(t, id+1, restored.NextAuctionID())
	assert.True(t, restored.HeldBalance().IsZero())
	require.NoError(t, restored.CheckInvariants(ctx, id))
}
