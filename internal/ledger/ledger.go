// Package ledger is the in-process execution environment the engine runs on.
//
// It holds token wallets and mints, checks signing capabilities, and runs every
// mutation inside a serialized unit of work. A failed unit restores the ledger and
// every registered participant to the checkpoint taken when the unit started.
// The engine relies on this and does not implement compensating transactions.
package ledger

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// Participant is state outside the ledger that must roll back with a unit.
type Participant interface {
	// Checkpoint captures current state and returns a func that restores it.
	Checkpoint() (restore func())
}

type account struct {
	owner  domain.Identity
	mint   domain.Identity
	amount uint64
}

type mint struct {
	authority domain.Identity
	supply    uint64
}

type unitKey struct{}

// Ledger is a token ledger with atomic units of work.
type Ledger struct {
	l *zap.Logger

	unit sync.Mutex // one unit at a time

	mu           sync.RWMutex
	accounts     map[domain.Identity]*account
	mints        map[domain.Identity]*mint
	participants []Participant
}

// New creates an empty ledger.
func New(l *zap.Logger) *Ledger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Ledger{
		l:        l,
		accounts: make(map[domain.Identity]*account),
		mints:    make(map[domain.Identity]*mint),
	}
}

// Register adds a participant whose state follows unit commits and rollbacks.
func (lg *Ledger) Register(p Participant) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.participants = append(lg.participants, p)
}

// Atomically runs fn as one unit of work. If fn fails, every effect made through the
// ledger and its participants is undone and fn's error is returned unchanged.
// Calls made with a context already inside a unit join that unit.
func (lg *Ledger) Atomically(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(unitKey{}).(*Ledger); ok && owner == lg {
		return fn(ctx)
	}

	lg.unit.Lock()
	defer lg.unit.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "unit %s not started", key)
	}

	restore := lg.checkpoint()
	if err := fn(context.WithValue(ctx, unitKey{}, lg)); err != nil {
		restore()
		lg.l.Debug("unit rolled back", zap.String("unit", key), zap.Error(err))
		return err
	}

	return nil
}

func (lg *Ledger) checkpoint() func() {
	lg.mu.Lock()
	accounts := make(map[domain.Identity]*account, len(lg.accounts))
	for addr, a := range lg.accounts {
		cp := *a
		accounts[addr] = &cp
	}
	mints := make(map[domain.Identity]*mint, len(lg.mints))
	for addr, m := range lg.mints {
		cp := *m
		mints[addr] = &cp
	}
	participants := append([]Participant(nil), lg.participants...)
	lg.mu.Unlock()

	restores := make([]func(), 0, len(participants))
	for _, p := range participants {
		restores = append(restores, p.Checkpoint())
	}

	return func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		lg.mu.Lock()
		lg.accounts = accounts
		lg.mints = mints
		lg.mu.Unlock()
	}
}

// CreateMint registers a new mint controlled by mintAuthority.
func (lg *Ledger) CreateMint(ctx context.Context, mintAuthority domain.Identity) (domain.Identity, error) {
	addr := domain.NewIdentity()
	err := lg.Atomically(ctx, "create_mint", func(context.Context) error {
		lg.mu.Lock()
		defer lg.mu.Unlock()
		lg.mints[addr] = &mint{authority: mintAuthority}
		return nil
	})
	return addr, err
}

// CreateAccount opens an empty wallet for mint owned by owner.
func (lg *Ledger) CreateAccount(ctx context.Context, owner, mintAddr domain.Identity) (domain.Identity, error) {
	addr := domain.NewIdentity()
	err := lg.Atomically(ctx, "create_account", func(context.Context) error {
		lg.mu.Lock()
		defer lg.mu.Unlock()
		if _, ok := lg.mints[mintAddr]; !ok {
			return domain.Violation("mint %s does not exist", mintAddr.Short())
		}
		lg.accounts[addr] = &account{owner: owner, mint: mintAddr}
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return addr, nil
}

// Account returns the current view of a wallet.
func (lg *Ledger) Account(_ context.Context, addr domain.Identity) (domain.TokenAccount, error) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	a, ok := lg.accounts[addr]
	if !ok {
		return domain.TokenAccount{}, domain.Violation("account %s does not exist", addr.Short())
	}
	return domain.TokenAccount{Address: addr, Owner: a.owner, Mint: a.mint, Amount: a.amount}, nil
}

// Balance returns the wallet amount.
func (lg *Ledger) Balance(ctx context.Context, addr domain.Identity) (uint64, error) {
	acc, err := lg.Account(ctx, addr)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

// Supply returns the total minted amount of a mint.
func (lg *Ledger) Supply(_ context.Context, mintAddr domain.Identity) (uint64, error) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	m, ok := lg.mints[mintAddr]
	if !ok {
		return 0, domain.Violation("mint %s does not exist", mintAddr.Short())
	}
	return m.supply, nil
}

// Transfer moves amount between wallets of the same mint. The signer must own from.
func (lg *Ledger) Transfer(ctx context.Context, signer authority.Capability, from, to domain.Identity, amount uint64) error {
	if err := authority.Verify(signer); err != nil {
		return err
	}

	return lg.Atomically(ctx, "transfer", func(context.Context) error {
		lg.mu.Lock()
		defer lg.mu.Unlock()

		src, dst, err := lg.pair(from, to)
		if err != nil {
			return err
		}
		if src.owner != signer.Identity() {
			return domain.Violation("signer %s does not own %s", signer.Identity().Short(), from.Short())
		}
		if src.mint != dst.mint {
			return domain.Violation("mint mismatch %s -> %s", from.Short(), to.Short())
		}
		if src.amount < amount {
			return domain.Violation("insufficient funds in %s: have %d, need %d", from.Short(), src.amount, amount)
		}
		if from == to {
			return nil
		}
		if dst.amount > math.MaxUint64-amount {
			return domain.Violation("balance of %s overflows", to.Short())
		}

		src.amount -= amount
		dst.amount += amount
		return nil
	})
}

// MintTo issues new tokens. The signer must be the mint authority.
func (lg *Ledger) MintTo(ctx context.Context, signer authority.Capability, mintAddr, to domain.Identity, amount uint64) error {
	if err := authority.Verify(signer); err != nil {
		return err
	}

	return lg.Atomically(ctx, "mint_to", func(context.Context) error {
		lg.mu.Lock()
		defer lg.mu.Unlock()

		m, ok := lg.mints[mintAddr]
		if !ok {
			return domain.Violation("mint %s does not exist", mintAddr.Short())
		}
		if m.authority != signer.Identity() {
			return domain.Violation("signer %s is not the authority of mint %s", signer.Identity().Short(), mintAddr.Short())
		}
		dst, ok := lg.accounts[to]
		if !ok {
			return domain.Violation("account %s does not exist", to.Short())
		}
		if dst.mint != mintAddr {
			return domain.Violation("account %s holds a different mint", to.Short())
		}
		if m.supply > math.MaxUint64-amount || dst.amount > math.MaxUint64-amount {
			return domain.Violation("minting %d overflows", amount)
		}

		m.supply += amount
		dst.amount += amount
		return nil
	})
}

// Burn destroys tokens held in from. The signer must own from.
func (lg *Ledger) Burn(ctx context.Context, signer authority.Capability, from domain.Identity, amount uint64) error {
	if err := authority.Verify(signer); err != nil {
		return err
	}

	return lg.Atomically(ctx, "burn", func(context.Context) error {
		lg.mu.Lock()
		defer lg.mu.Unlock()

		src, ok := lg.accounts[from]
		if !ok {
			return domain.Violation("account %s does not exist", from.Short())
		}
		if src.owner != signer.Identity() {
			return domain.Violation("signer %s does not own %s", signer.Identity().Short(), from.Short())
		}
		if src.amount < amount {
			return domain.Violation("insufficient funds in %s: have %d, need %d", from.Short(), src.amount, amount)
		}

		src.amount -= amount
		lg.mints[src.mint].supply -= amount
		return nil
	})
}

func (lg *Ledger) pair(from, to domain.Identity) (*account, *account, error) {
	src, ok := lg.accounts[from]
	if !ok {
		return nil, nil, domain.Violation("account %s does not exist", from.Short())
	}
	dst, ok := lg.accounts[to]
	if !ok {
		return nil, nil, domain.Violation("account %s does not exist", to.Short())
	}
	return src, dst, nil
}
