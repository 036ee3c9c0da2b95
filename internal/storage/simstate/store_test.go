package simstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/ledger"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir(), "Demo Host!")
	require.NoError(t, err)
	assert.Contains(t, store.Path(), "demo_host.json")

	missing, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, missing)

	lg := ledger.New(nil)
	faucet := authority.ForSeeds(authority.Seeds{Owner: domain.IdentityFromLabel("faucet")})
	mint, err := lg.CreateMint(ctx, faucet.Identity())
	require.NoError(t, err)
	acc, err := lg.CreateAccount(ctx, faucet.Identity(), mint)
	require.NoError(t, err)
	require.NoError(t, lg.MintTo(ctx, faucet, mint, acc, 42))

	require.NoError(t, store.Save(State{Ledger: lg.Snapshot(), Labels: map[string]string{"usdc": mint.String()}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, lg.Snapshot(), loaded.Ledger)
	assert.Equal(t, mint.String(), loaded.Labels["usdc"])
}

func TestSanitizeScope(t *testing.T) {
	assert.Equal(t, "usdc_sol", sanitizeScope(" USDC/SOL "))
	assert.Equal(t, "", sanitizeScope("///"))
}
