package records

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

type store interface {
	Create(ctx context.Context, r *domain.DepositRecord) error
	Get(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error)
	Update(ctx context.Context, r *domain.DepositRecord) error
	Delete(ctx context.Context, id domain.Identity) error
	List(ctx context.Context) ([]*domain.DepositRecord, error)
	ListBySchedule(ctx context.Context, schedule domain.Schedule) ([]*domain.DepositRecord, error)
}

func stores(t *testing.T) map[string]store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleRecord(label string, created time.Time, schedule domain.Schedule) *domain.DepositRecord {
	return &domain.DepositRecord{
		ID:                 domain.IdentityFromLabel(label),
		Owner:              domain.IdentityFromLabel(label + "/owner"),
		CollateralAccount:  domain.IdentityFromLabel(label + "/collateral"),
		LiquidityPrincipal: math.MaxUint64 - 1,
		CollateralBalance:  950_000,
		Schedule:           schedule,
		ReserveID:          domain.IdentityFromLabel("reserve"),
		TargetMint:         domain.IdentityFromLabel("sol"),
		Recipient:          domain.IdentityFromLabel(label + "/recipient"),
		CreatedAt:          created,
		CycleCount:         math.MaxUint16,
		Nonce:              255,
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0).UTC()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			r := sampleRecord("crud", created, domain.ScheduleWeekly)
			require.NoError(t, s.Create(ctx, r))
			assert.ErrorIs(t, s.Create(ctx, r), domain.ErrRecordExists)

			got, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r, got)

			h := domain.IdentityFromLabel("open-orders")
			got.BindDelegationHandle(&h)
			got.CollateralBalance = 0
			require.NoError(t, s.Update(ctx, got))

			again, err := s.Get(ctx, r.ID)
			require.NoError(t, err)
			require.NotNil(t, again.DelegationHandle)
			assert.Equal(t, h, *again.DelegationHandle)
			assert.Zero(t, again.CollateralBalance)

			require.NoError(t, s.Delete(ctx, r.ID))
			_, err = s.Get(ctx, r.ID)
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
			assert.ErrorIs(t, s.Delete(ctx, r.ID), domain.ErrRecordNotFound)
			assert.ErrorIs(t, s.Update(ctx, r), domain.ErrRecordNotFound)
		})
	}
}

func TestStore_ListBySchedule(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, sampleRecord("b", base.Add(2*time.Second), domain.ScheduleDaily)))
			require.NoError(t, s.Create(ctx, sampleRecord("a", base.Add(time.Second), domain.ScheduleDaily)))
			require.NoError(t, s.Create(ctx, sampleRecord("c", base, domain.ScheduleMonthly)))

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, domain.IdentityFromLabel("c"), all[0].ID)

			daily, err := s.ListBySchedule(ctx, domain.ScheduleDaily)
			require.NoError(t, err)
			require.Len(t, daily, 2)
			assert.Equal(t, domain.IdentityFromLabel("a"), daily[0].ID)
			assert.Equal(t, domain.IdentityFromLabel("b"), daily[1].ID)
		})
	}
}

func TestMemoryStore_CheckpointRestores(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := sampleRecord("cp", time.Unix(0, 0).UTC(), domain.ScheduleDaily)
	require.NoError(t, s.Create(ctx, r))

	restore := s.Checkpoint()
	r.CollateralBalance = 1
	require.NoError(t, s.Update(ctx, r))
	require.NoError(t, s.Create(ctx, sampleRecord("other", time.Unix(0, 0).UTC(), domain.ScheduleDaily)))
	restore()

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(950_000), got.CollateralBalance)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
