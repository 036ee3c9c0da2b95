package swapreports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func report(cycle uint16) domain.SwapReport {
	return domain.SwapReport{
		RecordID:    domain.IdentityFromLabel("record"),
		Operator:    domain.IdentityFromLabel("operator"),
		AmountGiven: 45_238,
		MinAccepted: 400,
		FromAmount:  45_238,
		ToAmount:    450,
		FromMint:    domain.IdentityFromLabel("usdc"),
		ToMint:      domain.IdentityFromLabel("sol"),
		QuoteMint:   domain.IdentityFromLabel("usdc"),
		Side:        domain.SideBid,
		Cycle:       cycle,
		Timestamp:   time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestWALStore_SaveAndReplay(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(report(1)))
	require.NoError(t, store.Save(report(2)))
	require.NoError(t, store.Save(report(3)))
	assert.Equal(t, uint64(3), store.CurrentIndex())

	after, err := store.EventsAfter(1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, uint64(2), after[0].Index)
	assert.Equal(t, report(2), after[0].Report)
	assert.Equal(t, uint16(3), after[1].Report.Cycle)

	none, err := store.EventsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.EventsAfter(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWALStore_RejectsEmptyRecord(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(domain.SwapReport{}))
}

func TestWALStore_Nil(t *testing.T) {
	var store *WALStore
	assert.Error(t, store.Save(report(1)))
	assert.Zero(t, store.CurrentIndex())
}
