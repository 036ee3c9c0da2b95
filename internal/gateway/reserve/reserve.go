// Package reserve simulates a lending reserve on top of the ledger.
// Deposited liquidity sits in a vault; depositors receive collateral minted at the current rate.
package reserve

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// ProgramID is the resource every reserve vault authority is derived from.
var ProgramID = domain.IdentityFromLabel("yieldcron/program/lending")

type tokenLedger interface {
	CreateMint(ctx context.Context, mintAuthority domain.Identity) (domain.Identity, error)
	CreateAccount(ctx context.Context, owner, mint domain.Identity) (domain.Identity, error)
	Account(ctx context.Context, addr domain.Identity) (domain.TokenAccount, error)
	Balance(ctx context.Context, addr domain.Identity) (uint64, error)
	Supply(ctx context.Context, mint domain.Identity) (uint64, error)
	Transfer(ctx context.Context, signer authority.Capability, from, to domain.Identity, amount uint64) error
	MintTo(ctx context.Context, signer authority.Capability, mint, to domain.Identity, amount uint64) error
	Burn(ctx context.Context, signer authority.Capability, from domain.Identity, amount uint64) error
	Atomically(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Reserve is one lending pool.
type Reserve struct {
	ID             domain.Identity     `json:"id"`
	LiquidityMint  domain.Identity     `json:"liquidity_mint"`
	CollateralMint domain.Identity     `json:"collateral_mint"`
	Vault          domain.Identity     `json:"vault"`
	InitialRate    domain.ExchangeRate `json:"initial_rate"`
}

// Gateway serves deposits, redemptions and rate queries for every registered reserve.
type Gateway struct {
	l      *zap.Logger
	ledger tokenLedger

	mu       sync.RWMutex
	reserves map[domain.Identity]Reserve
}

// NewGateway creates a gateway with no reserves.
func NewGateway(ledger tokenLedger, l *zap.Logger) *Gateway {
	if l == nil {
		l = zap.NewNop()
	}
	return &Gateway{
		l:        l,
		ledger:   ledger,
		reserves: make(map[domain.Identity]Reserve),
	}
}

func programCapability(reserveID domain.Identity) authority.Capability {
	return authority.ForSeeds(authority.Seeds{Owner: ProgramID, Resource: reserveID})
}

// AddReserve creates the collateral mint and vault of a new reserve for liquidityMint.
// initialRate is used while no collateral is outstanding.
func (g *Gateway) AddReserve(ctx context.Context, liquidityMint domain.Identity, initialRate domain.ExchangeRate) (Reserve, error) {
	if err := initialRate.Validate(); err != nil {
		return Reserve{}, errors.Wrap(err, "initial rate")
	}

	id := domain.NewIdentity()
	program := programCapability(id).Identity()

	r := Reserve{ID: id, LiquidityMint: liquidityMint, InitialRate: initialRate}
	err := g.ledger.Atomically(ctx, "add_reserve", func(ctx context.Context) error {
		var err error
		if r.CollateralMint, err = g.ledger.CreateMint(ctx, program); err != nil {
			return errors.Wrap(err, "create collateral mint")
		}
		if r.Vault, err = g.ledger.CreateAccount(ctx, program, liquidityMint); err != nil {
			return errors.Wrap(err, "create liquidity vault")
		}
		return nil
	})
	if err != nil {
		return Reserve{}, err
	}

	g.mu.Lock()
	g.reserves[id] = r
	g.mu.Unlock()

	g.l.Info("reserve added",
		zap.String("reserve", id.String()),
		zap.String("liquidity_mint", liquidityMint.String()),
		zap.String("collateral_mint", r.CollateralMint.String()))

	return r, nil
}

// Reserve returns a registered reserve.
func (g *Gateway) Reserve(reserveID domain.Identity) (Reserve, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.reserves[reserveID]
	if !ok {
		return Reserve{}, errors.Errorf("unknown reserve %s", reserveID.Short())
	}
	return r, nil
}

// ReserveMints returns the liquidity and collateral mints of a reserve.
func (g *Gateway) ReserveMints(_ context.Context, reserveID domain.Identity) (liquidity, collateral domain.Identity, err error) {
	r, err := g.Reserve(reserveID)
	if err != nil {
		return domain.Identity{}, domain.Identity{}, err
	}
	return r.LiquidityMint, r.CollateralMint, nil
}

// Reserves lists registered reserves.
func (g *Gateway) Reserves() []Reserve {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Reserve, 0, len(g.reserves))
	for _, r := range g.reserves {
		out = append(out, r)
	}
	return out
}

// Load registers previously created reserves, e.g. after a ledger restore.
func (g *Gateway) Load(reserves []Reserve) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range reserves {
		g.reserves[r.ID] = r
	}
}

// CurrentExchangeRate returns outstanding collateral against vault liquidity.
func (g *Gateway) CurrentExchangeRate(ctx context.Context, reserveID domain.Identity) (domain.ExchangeRate, error) {
	r, err := g.Reserve(reserveID)
	if err != nil {
		return domain.ExchangeRate{}, err
	}

	supply, err := g.ledger.Supply(ctx, r.CollateralMint)
	if err != nil {
		return domain.ExchangeRate{}, errors.Wrap(err, "collateral supply")
	}
	if supply == 0 {
		return r.InitialRate, nil
	}

	liquidity, err := g.ledger.Balance(ctx, r.Vault)
	if err != nil {
		return domain.ExchangeRate{}, errors.Wrap(err, "vault balance")
	}

	return domain.NewExchangeRate(supply, liquidity)
}

// DepositLiquidity moves amount of liquidity from source into the vault and mints
// collateral into dest. It returns dest's balance after the mint.
func (g *Gateway) DepositLiquidity(ctx context.Context, reserveID domain.Identity, signer authority.Capability,
	source, dest domain.Identity, amount uint64) (uint64, error) {
	r, err := g.Reserve(reserveID)
	if err != nil {
		return 0, err
	}

	var balance uint64
	err = g.ledger.Atomically(ctx, "deposit_liquidity", func(ctx context.Context) error {
		rate, err := g.CurrentExchangeRate(ctx, reserveID)
		if err != nil {
			return err
		}
		collateral, err := rate.LiquidityToCollateral(amount)
		if err != nil {
			return errors.Wrap(err, "liquidity to collateral")
		}
		if collateral == 0 {
			return domain.Violation("deposit of %d liquidity mints no collateral", amount)
		}

		if err := g.ledger.Transfer(ctx, signer, source, r.Vault, amount); err != nil {
			return errors.Wrap(err, "move liquidity to vault")
		}
		if err := g.ledger.MintTo(ctx, programCapability(r.ID), r.CollateralMint, dest, collateral); err != nil {
			return errors.Wrap(err, "mint collateral")
		}

		balance, err = g.ledger.Balance(ctx, dest)
		return err
	})
	if err != nil {
		return 0, err
	}

	g.l.Debug("liquidity deposited",
		zap.String("reserve", reserveID.Short()),
		zap.Uint64("amount", amount),
		zap.Uint64("collateral_balance", balance))

	return balance, nil
}

// RedeemCollateral burns amount of collateral from source and pays the liquidity
// it is worth from the vault into dest.
func (g *Gateway) RedeemCollateral(ctx context.Context, reserveID domain.Identity, signer authority.Capability,
	source, dest domain.Identity, amount uint64) error {
	r, err := g.Reserve(reserveID)
	if err != nil {
		return err
	}

	err = g.ledger.Atomically(ctx, "redeem_collateral", func(ctx context.Context) error {
		rate, err := g.CurrentExchangeRate(ctx, reserveID)
		if err != nil {
			return err
		}
		liquidity, err := rate.CollateralToLiquidity(amount)
		if err != nil {
			return errors.Wrap(err, "collateral to liquidity")
		}

		src, err := g.ledger.Account(ctx, source)
		if err != nil {
			return err
		}
		if src.Mint != r.CollateralMint {
			return domain.Violation("account %s does not hold collateral of reserve %s", source.Short(), reserveID.Short())
		}

		if err := g.ledger.Burn(ctx, signer, source, amount); err != nil {
			return errors.Wrap(err, "burn collateral")
		}
		if err := g.ledger.Transfer(ctx, programCapability(r.ID), r.Vault, dest, liquidity); err != nil {
			return errors.Wrap(err, "pay out liquidity")
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.l.Debug("collateral redeemed",
		zap.String("reserve", reserveID.Short()),
		zap.Uint64("amount", amount))

	return nil
}

// Accrue pays interest into the vault from a funding wallet, raising the value of collateral.
func (g *Gateway) Accrue(ctx context.Context, reserveID domain.Identity, signer authority.Capability,
	source domain.Identity, amount uint64) error {
	r, err := g.Reserve(reserveID)
	if err != nil {
		return err
	}

	if err := g.ledger.Transfer(ctx, signer, source, r.Vault, amount); err != nil {
		return errors.Wrap(err, "accrue interest")
	}

	g.l.Info("interest accrued", zap.String("reserve", reserveID.Short()), zap.Uint64("amount", amount))
	return nil
}

// Checkpoint implements ledger.Participant.
func (g *Gateway) Checkpoint() func() {
	g.mu.RLock()
	saved := make(map[domain.Identity]Reserve, len(g.reserves))
	for id, r := range g.reserves {
		saved[id] = r
	}
	g.mu.RUnlock()

	return func() {
		g.mu.Lock()
		g.reserves = saved
		g.mu.Unlock()
	}
}
