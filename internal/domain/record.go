package domain

import (
	"math"
	"time"
)

// DepositRecord is the persisted state of one delegated deposit.
// Field order is the storage layout order and must stay stable.
type DepositRecord struct {
	ID                 Identity  `json:"id"`
	Owner              Identity  `json:"owner"`
	CollateralAccount  Identity  `json:"collateral_account"`
	LiquidityPrincipal uint64    `json:"liquidity_principal"`
	CollateralBalance  uint64    `json:"collateral_balance"`
	Schedule           Schedule  `json:"schedule"`
	ReserveID          Identity  `json:"reserve_id"`
	TargetMint         Identity  `json:"target_mint"`
	Recipient          Identity  `json:"recipient"`
	DelegationHandle   *Identity `json:"delegation_handle,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	CycleCount         uint16    `json:"cycle_count"`
	Nonce              uint8     `json:"nonce"`
}

// AddPrincipal increases the cost basis. The principal never decreases.
func (r *DepositRecord) AddPrincipal(delta uint64) error {
	if r.LiquidityPrincipal > math.MaxUint64-delta {
		return Violation("principal %d + %d overflows", r.LiquidityPrincipal, delta)
	}
	r.LiquidityPrincipal += delta
	return nil
}

// CompleteCycle counts one successful execution.
func (r *DepositRecord) CompleteCycle() error {
	if r.CycleCount == math.MaxUint16 {
		return ErrCycleCounterExhausted
	}
	r.CycleCount++
	return nil
}

// BindDelegationHandle sets the handle if it is still unset and reports whether it did.
// An already bound handle is never replaced.
func (r *DepositRecord) BindDelegationHandle(h *Identity) bool {
	if r.DelegationHandle != nil || h == nil || h.IsZero() {
		return false
	}
	bound := *h
	r.DelegationHandle = &bound
	return true
}

// Clone returns a deep copy.
func (r *DepositRecord) Clone() *DepositRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.DelegationHandle != nil {
		h := *r.DelegationHandle
		cp.DelegationHandle = &h
	}
	return &cp
}
