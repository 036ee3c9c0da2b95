package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func TestHost_ProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())
	h := NewHost(nil)

	require.NoError(t, h.Provision(ctx, cfg))
	labels := h.Labels()
	assert.Equal(t, []string{"funding/main", "market/sol-usdc", "mint/sol", "mint/usdc", "reserve/main"}, labels)

	require.NoError(t, h.Provision(ctx, cfg))
	assert.Equal(t, labels, h.Labels())
	assert.Len(t, h.Venue.Markets(), 1)
	assert.Len(t, h.Reserve.Reserves(), 1)
}

func TestHost_SeedsBook(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	require.NoError(t, h.Provision(ctx, testConfig(t.TempDir())))

	m, err := h.MarketByName(ctx, "sol-usdc")
	require.NoError(t, err)
	usdc, _ := h.Lookup(mintLabel("usdc"))
	sol, _ := h.Lookup(mintLabel("sol"))
	assert.Equal(t, sol, m.BaseMint)
	assert.Equal(t, usdc, m.QuoteMint)

	bids, asks, err := h.Venue.Book(m.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.Equal(t, uint64(90), bids[0].Price)
	assert.Equal(t, uint64(100), asks[0].Price)
	assert.Equal(t, uint64(5_000), asks[0].Lots)

	quoted, err := h.Venue.Quote(ctx, m.ID, domain.SideBid, 1_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), quoted)
}

func TestHost_AccruePaysVault(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	require.NoError(t, h.Provision(ctx, testConfig(t.TempDir())))

	r, err := h.ReserveByName("main")
	require.NoError(t, err)

	require.NoError(t, h.Accrue(ctx, "main", 50_000))
	require.NoError(t, h.Accrue(ctx, "main", 25_000))

	vault, err := h.Ledger.Balance(ctx, r.Vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(75_000), vault)

	funding, _ := h.Lookup(fundingLabel("main"))
	left, err := h.Ledger.Balance(ctx, funding)
	require.NoError(t, err)
	assert.Zero(t, left)

	require.Error(t, h.Accrue(ctx, "missing", 1))
}

func TestHost_StateRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := NewHost(nil)
	require.NoError(t, h.Provision(ctx, testConfig(t.TempDir())))

	owner := domain.IdentityFromLabel("someone")
	usdc, _ := h.Lookup(mintLabel("usdc"))
	addr, err := h.wallet(ctx, "wallet/someone", owner, usdc, 1_234)
	require.NoError(t, err)

	again, err := h.wallet(ctx, "wallet/someone", owner, usdc, 1_234)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	st := h.State(time.Unix(1_700_000_000, 0))

	restored := NewHost(nil)
	require.NoError(t, restored.Restore(&st))
	assert.Equal(t, h.Labels(), restored.Labels())

	b, err := restored.Ledger.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234), b)

	m, err := restored.MarketByName(ctx, "sol-usdc")
	require.NoError(t, err)
	_, asks, err := restored.Venue.Book(m.ID)
	require.NoError(t, err)
	assert.Len(t, asks, 1)
}

func TestHost_RestoreRejectsBadLabel(t *testing.T) {
	h := NewHost(nil)
	st := h.State(time.Now())
	st.Labels = map[string]string{"mint/usdc": "nothex"}

	require.Error(t, NewHost(nil).Restore(&st))
}
