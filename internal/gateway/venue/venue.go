// Package venue simulates a central limit order book that settles through the ledger.
//
// Takers only place immediate-or-cancel orders. Fills and unmatched remainders are
// escrowed on the taker's open-orders account until Settle flushes them to wallets.
package venue

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// ProgramID is the resource venue vault authorities are derived from.
var ProgramID = domain.IdentityFromLabel("yieldcron/program/venue")

type tokenLedger interface {
	CreateAccount(ctx context.Context, owner, mint domain.Identity) (domain.Identity, error)
	Account(ctx context.Context, addr domain.Identity) (domain.TokenAccount, error)
	Transfer(ctx context.Context, signer authority.Capability, from, to domain.Identity, amount uint64) error
	Atomically(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Level is resting liquidity at one price. Price is quote native units per base lot.
type Level struct {
	Price uint64          `json:"price"`
	Lots  uint64          `json:"lots"`
	Maker domain.Identity `json:"maker"`
}

// OpenOrders is the per-owner escrow account on one market.
type OpenOrders struct {
	ID        domain.Identity `json:"id"`
	Owner     domain.Identity `json:"owner"`
	Market    domain.Identity `json:"market"`
	BaseFree  uint64          `json:"base_free"`
	QuoteFree uint64          `json:"quote_free"`
}

type book struct {
	market     domain.Market
	baseVault  domain.Identity
	quoteVault domain.Identity
	bids       []Level // best (highest) first
	asks       []Level // best (lowest) first
	fees       uint64
}

func (b *book) clone() *book {
	cp := *b
	cp.bids = append([]Level(nil), b.bids...)
	cp.asks = append([]Level(nil), b.asks...)
	return &cp
}

func (b *book) levels(side domain.Side) *[]Level {
	if side == domain.SideBid {
		return &b.bids
	}
	return &b.asks
}

// Venue holds every market and open-orders account.
type Venue struct {
	l      *zap.Logger
	ledger tokenLedger

	mu         sync.RWMutex
	books      map[domain.Identity]*book
	openOrders map[domain.Identity]*OpenOrders
}

// New creates an empty venue.
func New(ledger tokenLedger, l *zap.Logger) *Venue {
	if l == nil {
		l = zap.NewNop()
	}
	return &Venue{
		l:          l,
		ledger:     ledger,
		books:      make(map[domain.Identity]*book),
		openOrders: make(map[domain.Identity]*OpenOrders),
	}
}

func programCapability(marketID domain.Identity) authority.Capability {
	return authority.ForSeeds(authority.Seeds{Owner: ProgramID, Resource: marketID})
}

// CreateMarket lists a new base/quote market with vaults owned by the venue.
func (v *Venue) CreateMarket(ctx context.Context, baseMint, quoteMint domain.Identity,
	baseLotSize, quoteLotSize uint64, takerFeeBps uint32) (domain.Market, error) {
	if baseMint == quoteMint {
		return domain.Market{}, domain.Violation("market base and quote mints are equal")
	}
	if baseLotSize == 0 || quoteLotSize == 0 {
		return domain.Market{}, domain.Violation("lot sizes must be positive")
	}
	if takerFeeBps >= 10_000 {
		return domain.Market{}, domain.Violation("taker fee %d bps is too high", takerFeeBps)
	}

	m := domain.Market{
		ID:           domain.NewIdentity(),
		BaseMint:     baseMint,
		QuoteMint:    quoteMint,
		BaseLotSize:  baseLotSize,
		QuoteLotSize: quoteLotSize,
		TakerFeeBps:  takerFeeBps,
	}
	program := programCapability(m.ID).Identity()

	b := &book{market: m}
	err := v.ledger.Atomically(ctx, "create_market", func(ctx context.Context) error {
		var err error
		if b.baseVault, err = v.ledger.CreateAccount(ctx, program, baseMint); err != nil {
			return errors.Wrap(err, "create base vault")
		}
		if b.quoteVault, err = v.ledger.CreateAccount(ctx, program, quoteMint); err != nil {
			return errors.Wrap(err, "create quote vault")
		}

		v.mu.Lock()
		v.books[m.ID] = b
		v.mu.Unlock()
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	v.l.Info("market listed",
		zap.String("market", m.ID.String()),
		zap.String("base", baseMint.Short()),
		zap.String("quote", quoteMint.Short()),
		zap.Uint32("taker_fee_bps", takerFeeBps))

	return m, nil
}

// Market returns market parameters.
func (v *Venue) Market(_ context.Context, id domain.Identity) (domain.Market, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[id]
	if !ok {
		return domain.Market{}, errors.Errorf("unknown market %s", id.Short())
	}
	return b.market, nil
}

// Markets lists all markets.
func (v *Venue) Markets() []domain.Market {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]domain.Market, 0, len(v.books))
	for _, b := range v.books {
		out = append(out, b.market)
	}
	return out
}

// Book returns copies of the resting levels on both sides.
func (v *Venue) Book(id domain.Identity) (bids, asks []Level, err error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[id]
	if !ok {
		return nil, nil, errors.Errorf("unknown market %s", id.Short())
	}
	return append([]Level(nil), b.bids...), append([]Level(nil), b.asks...), nil
}

// OpenAccount creates an open-orders account for owner on a market.
func (v *Venue) OpenAccount(ctx context.Context, owner, marketID domain.Identity) (domain.Identity, error) {
	if owner.IsZero() {
		return domain.Identity{}, domain.Violation("open-orders owner is unset")
	}

	oo := &OpenOrders{ID: domain.NewIdentity(), Owner: owner, Market: marketID}
	err := v.ledger.Atomically(ctx, "open_orders", func(context.Context) error {
		v.mu.Lock()
		defer v.mu.Unlock()

		if _, ok := v.books[marketID]; !ok {
			return errors.Errorf("unknown market %s", marketID.Short())
		}
		v.openOrders[oo.ID] = oo
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}

	v.l.Debug("open-orders account created", zap.String("owner", owner.Short()), zap.String("market", marketID.Short()))
	return oo.ID, nil
}

// OpenOrdersAccount returns a copy of an open-orders account.
func (v *Venue) OpenOrdersAccount(id domain.Identity) (OpenOrders, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	oo, ok := v.openOrders[id]
	if !ok {
		return OpenOrders{}, domain.Violation("open-orders account %s does not exist", id.Short())
	}
	return *oo, nil
}

// AddLiquidity rests maker liquidity. The maker funds it from payer: base for asks,
// quote for bids. Maker proceeds accrue to the maker's open-orders account.
func (v *Venue) AddLiquidity(ctx context.Context, signer authority.Capability, marketID, makerOpenOrders, payer domain.Identity,
	side domain.Side, price, lots uint64) error {
	if price == 0 || lots == 0 {
		return domain.Violation("price and lots must be positive")
	}

	return v.ledger.Atomically(ctx, "add_liquidity", func(ctx context.Context) error {
		v.mu.RLock()
		b, ok := v.books[marketID]
		oo, ooOK := v.openOrders[makerOpenOrders]
		v.mu.RUnlock()
		if !ok {
			return errors.Errorf("unknown market %s", marketID.Short())
		}
		if !ooOK || oo.Market != marketID || oo.Owner != signer.Identity() {
			return domain.Violation("maker open-orders %s is not usable by signer", makerOpenOrders.Short())
		}

		if side == domain.SideAsk {
			amount, ok := mul(lots, b.market.BaseLotSize)
			if !ok {
				return domain.Violation("ask size overflows")
			}
			if err := v.ledger.Transfer(ctx, signer, payer, b.baseVault, amount); err != nil {
				return errors.Wrap(err, "fund ask")
			}
		} else {
			amount, ok := mul(lots, price)
			if !ok {
				return domain.Violation("bid size overflows")
			}
			if err := v.ledger.Transfer(ctx, signer, payer, b.quoteVault, amount); err != nil {
				return errors.Wrap(err, "fund bid")
			}
		}

		v.mu.Lock()
		defer v.mu.Unlock()

		levels := b.levels(side)
		*levels = append(*levels, Level{Price: price, Lots: lots, Maker: makerOpenOrders})
		sortLevels(side, *levels)
		return nil
	})
}

func sortLevels(side domain.Side, levels []Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		if side == domain.SideBid {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
}

// Checkpoint implements ledger.Participant.
func (v *Venue) Checkpoint() func() {
	v.mu.RLock()
	books := make(map[domain.Identity]*book, len(v.books))
	for id, b := range v.books {
		books[id] = b.clone()
	}
	openOrders := make(map[domain.Identity]*OpenOrders, len(v.openOrders))
	for id, oo := range v.openOrders {
		cp := *oo
		openOrders[id] = &cp
	}
	v.mu.RUnlock()

	return func() {
		v.mu.Lock()
		v.books = books
		v.openOrders = openOrders
		v.mu.Unlock()
	}
}
