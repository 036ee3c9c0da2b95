package ledger

import (
	"sort"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// State is a serializable copy of all wallets and mints.
type State struct {
	Accounts []AccountState `json:"accounts"`
	Mints    []MintState    `json:"mints"`
}

// AccountState is a stored wallet.
type AccountState struct {
	Address domain.Identity `json:"address"`
	Owner   domain.Identity `json:"owner"`
	Mint    domain.Identity `json:"mint"`
	Amount  uint64          `json:"amount"`
}

// MintState is a stored mint.
type MintState struct {
	Address   domain.Identity `json:"address"`
	Authority domain.Identity `json:"authority"`
	Supply    uint64          `json:"supply"`
}

// Snapshot exports the ledger, ordered by address.
func (lg *Ledger) Snapshot() State {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	st := State{
		Accounts: make([]AccountState, 0, len(lg.accounts)),
		Mints:    make([]MintState, 0, len(lg.mints)),
	}
	for addr, a := range lg.accounts {
		st.Accounts = append(st.Accounts, AccountState{Address: addr, Owner: a.owner, Mint: a.mint, Amount: a.amount})
	}
	for addr, m := range lg.mints {
		st.Mints = append(st.Mints, MintState{Address: addr, Authority: m.authority, Supply: m.supply})
	}

	sort.Slice(st.Accounts, func(i, j int) bool { return st.Accounts[i].Address.String() < st.Accounts[j].Address.String() })
	sort.Slice(st.Mints, func(i, j int) bool { return st.Mints[i].Address.String() < st.Mints[j].Address.String() })

	return st
}

// Restore replaces ledger contents with st.
func (lg *Ledger) Restore(st State) error {
	lg.unit.Lock()
	defer lg.unit.Unlock()

	mints := make(map[domain.Identity]*mint, len(st.Mints))
	for _, m := range st.Mints {
		mints[m.Address] = &mint{authority: m.Authority, supply: m.Supply}
	}
	accounts := make(map[domain.Identity]*account, len(st.Accounts))
	for _, a := range st.Accounts {
		if _, ok := mints[a.Mint]; !ok {
			return domain.Violation("stored account %s references unknown mint %s", a.Address.Short(), a.Mint.Short())
		}
		accounts[a.Address] = &account{owner: a.Owner, mint: a.Mint, amount: a.Amount}
	}

	lg.mu.Lock()
	lg.accounts = accounts
	lg.mints = mints
	lg.mu.Unlock()

	return nil
}
