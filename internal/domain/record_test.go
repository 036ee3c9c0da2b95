package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositRecord_AddPrincipal(t *testing.T) {
	r := &DepositRecord{LiquidityPrincipal: 1_000}

	require.NoError(t, r.AddPrincipal(250))
	assert.Equal(t, uint64(1_250), r.LiquidityPrincipal)

	r.LiquidityPrincipal = math.MaxUint64 - 1
	err := r.AddPrincipal(2)
	assert.ErrorIs(t, err, ErrPreconditionViolation)
	assert.Equal(t, uint64(math.MaxUint64-1), r.LiquidityPrincipal)
}

func TestDepositRecord_CompleteCycle(t *testing.T) {
	r := &DepositRecord{CycleCount: 41}
	require.NoError(t, r.CompleteCycle())
	assert.Equal(t, uint16(42), r.CycleCount)

	r.CycleCount = math.MaxUint16
	assert.ErrorIs(t, r.CompleteCycle(), ErrCycleCounterExhausted)
	assert.Equal(t, uint16(math.MaxUint16), r.CycleCount)
}

func TestDepositRecord_BindDelegationHandle(t *testing.T) {
	r := &DepositRecord{}
	first := IdentityFromLabel("oo-1")
	second := IdentityFromLabel("oo-2")

	assert.False(t, r.BindDelegationHandle(nil))
	assert.Nil(t, r.DelegationHandle)

	assert.True(t, r.BindDelegationHandle(&first))
	require.NotNil(t, r.DelegationHandle)
	assert.Equal(t, first, *r.DelegationHandle)

	assert.False(t, r.BindDelegationHandle(&second))
	assert.Equal(t, first, *r.DelegationHandle)

	// caller-owned pointer must not alias the stored handle
	first = second
	assert.Equal(t, IdentityFromLabel("oo-1"), *r.DelegationHandle)
}

func TestDepositRecord_Clone(t *testing.T) {
	h := IdentityFromLabel("handle")
	r := &DepositRecord{ID: NewIdentity(), DelegationHandle: &h, CycleCount: 3}

	cp := r.Clone()
	assert.Equal(t, r, cp)

	cp.DelegationHandle[0] ^= 0xff
	cp.CycleCount++
	assert.Equal(t, h, *r.DelegationHandle)
	assert.Equal(t, uint16(3), r.CycleCount)
}
