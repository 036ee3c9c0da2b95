package venue

import (
	"context"
	"math"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

var bpsDenominator = decimal.NewFromInt(10_000)

type fill struct {
	maker domain.Identity
	price uint64
	lots  uint64
}

type matchResult struct {
	fills    []fill
	baseLots uint64
	notional uint64
	fee      uint64
	rest     []Level
}

func mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// takerFee rounds up, the venue never undercharges.
func takerFee(notional uint64, bps uint32) uint64 {
	if bps == 0 || notional == 0 {
		return 0
	}
	fee := decimal.NewFromUint64(notional).Mul(decimal.NewFromInt(int64(bps))).Div(bpsDenominator).Ceil()
	return fee.BigInt().Uint64()
}

// affordableLots returns the largest lot count whose notional plus fee fits budget.
func affordableLots(budget, price uint64, bps uint32) uint64 {
	if price == 0 {
		return 0
	}
	perLot := decimal.NewFromUint64(price).Mul(bpsDenominator.Add(decimal.NewFromInt(int64(bps)))).Div(bpsDenominator)
	lots, _ := decimal.NewFromUint64(budget).QuoRem(perLot, 0)
	if lots.Sign() <= 0 {
		return 0
	}
	n := lots.BigInt().Uint64()
	for n > 0 {
		notional, ok := mul(n, price)
		if ok {
			cost := decimal.NewFromUint64(notional).Add(decimal.NewFromUint64(takerFee(notional, bps)))
			if cost.LessThanOrEqual(decimal.NewFromUint64(budget)) {
				return n
			}
		}
		n--
	}
	return 0
}

// match walks the side opposite to the taker without touching the book.
func match(b *book, side domain.Side, limit, maxLots, maxQuote uint64) matchResult {
	levels := append([]Level(nil), *b.levels(side.Opposite())...)
	fee := b.market.TakerFeeBps

	var res matchResult
	remainingLots, remainingQuote := maxLots, maxQuote

	i := 0
	for ; i < len(levels) && remainingLots > 0; i++ {
		lvl := &levels[i]
		if side == domain.SideBid && lvl.Price > limit {
			break
		}
		if side == domain.SideAsk && lvl.Price < limit {
			break
		}

		take := min(lvl.Lots, remainingLots)
		if side == domain.SideBid {
			take = min(take, affordableLots(remainingQuote, lvl.Price, fee))
		} else {
			take = min(take, remainingQuote/lvl.Price)
		}
		if take == 0 {
			break
		}

		notional, _ := mul(take, lvl.Price)
		f := takerFee(notional, fee)
		if side == domain.SideBid {
			remainingQuote -= notional + f
		} else {
			remainingQuote -= notional - f
		}
		remainingLots -= take
		lvl.Lots -= take

		res.fills = append(res.fills, fill{maker: lvl.Maker, price: lvl.Price, lots: take})
		res.baseLots += take
		res.notional += notional
		res.fee += f

		if lvl.Lots > 0 {
			break
		}
	}

	for _, lvl := range levels {
		if lvl.Lots > 0 {
			res.rest = append(res.rest, lvl)
		}
	}

	return res
}

// PlaceImmediateOrCancelOrder pulls the order's funds from the payer, matches what it can
// and escrows fills and the unmatched remainder on the open-orders account.
// Nothing rests on the book.
func (v *Venue) PlaceImmediateOrCancelOrder(ctx context.Context, signer authority.Capability, req domain.OrderRequest) error {
	if req.LimitPrice == 0 || req.MaxBaseQty == 0 || req.MaxQuoteQty == 0 {
		return domain.Violation("order quantities and limit must be positive")
	}

	return v.ledger.Atomically(ctx, "ioc_order", func(ctx context.Context) error {
		b, taker, err := v.orderAccounts(signer, req.Market, req.OpenOrders)
		if err != nil {
			return err
		}

		var deposit uint64
		if req.Side == domain.SideBid {
			deposit = req.MaxQuoteQty
			if err := v.ledger.Transfer(ctx, signer, req.Payer, b.quoteVault, deposit); err != nil {
				return errors.Wrap(err, "lock quote for bid")
			}
		} else {
			var ok bool
			if deposit, ok = mul(req.MaxBaseQty, b.market.BaseLotSize); !ok {
				return domain.Violation("ask size %d lots overflows", req.MaxBaseQty)
			}
			if err := v.ledger.Transfer(ctx, signer, req.Payer, b.baseVault, deposit); err != nil {
				return errors.Wrap(err, "lock base for ask")
			}
		}

		v.mu.Lock()
		defer v.mu.Unlock()

		res := match(b, req.Side, req.LimitPrice, req.MaxBaseQty, req.MaxQuoteQty)

		filledBase, _ := mul(res.baseLots, b.market.BaseLotSize)
		for _, f := range res.fills {
			maker, ok := v.openOrders[f.maker]
			if !ok {
				return errors.Errorf("maker open-orders %s is missing", f.maker.Short())
			}
			notional, _ := mul(f.lots, f.price)
			makerBase, _ := mul(f.lots, b.market.BaseLotSize)
			if req.Side == domain.SideBid {
				maker.QuoteFree += notional
			} else {
				maker.BaseFree += makerBase
			}
		}

		if req.Side == domain.SideBid {
			taker.BaseFree += filledBase
			taker.QuoteFree += deposit - res.notional - res.fee
			b.asks = res.rest
		} else {
			taker.QuoteFree += res.notional - res.fee
			taker.BaseFree += deposit - filledBase
			b.bids = res.rest
		}
		b.fees += res.fee

		v.l.Debug("ioc order matched",
			zap.String("market", req.Market.Short()),
			zap.String("side", req.Side.String()),
			zap.Uint64("lots", res.baseLots),
			zap.Uint64("notional", res.notional),
			zap.Uint64("fee", res.fee))

		return nil
	})
}

// Settle moves escrowed base to coinWallet and escrowed quote to pcWallet.
func (v *Venue) Settle(ctx context.Context, signer authority.Capability, marketID, openOrders, coinWallet, pcWallet domain.Identity) error {
	return v.ledger.Atomically(ctx, "settle", func(ctx context.Context) error {
		b, oo, err := v.orderAccounts(signer, marketID, openOrders)
		if err != nil {
			return err
		}

		program := programCapability(marketID)
		v.mu.Lock()
		baseFree, quoteFree := oo.BaseFree, oo.QuoteFree
		oo.BaseFree, oo.QuoteFree = 0, 0
		v.mu.Unlock()

		if baseFree > 0 {
			if err := v.ledger.Transfer(ctx, program, b.baseVault, coinWallet, baseFree); err != nil {
				return errors.Wrap(err, "settle base")
			}
		}
		if quoteFree > 0 {
			if err := v.ledger.Transfer(ctx, program, b.quoteVault, pcWallet, quoteFree); err != nil {
				return errors.Wrap(err, "settle quote")
			}
		}

		v.l.Debug("settled",
			zap.String("open_orders", openOrders.Short()),
			zap.Uint64("base", baseFree),
			zap.Uint64("quote", quoteFree))

		return nil
	})
}

// Quote returns the expected proceeds of an immediate order without executing it.
// For a bid amount is quote spent and the result is base received;
// for an ask amount is base sold and the result is quote received after fees.
func (v *Venue) Quote(_ context.Context, marketID domain.Identity, side domain.Side, amount uint64) (uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[marketID]
	if !ok {
		return 0, errors.Errorf("unknown market %s", marketID.Short())
	}

	if side == domain.SideBid {
		res := match(b, side, math.MaxUint64, math.MaxUint64, amount)
		base, _ := mul(res.baseLots, b.market.BaseLotSize)
		return base, nil
	}

	res := match(b, side, 1, b.market.BaseLots(amount), math.MaxUint64)
	return res.notional - res.fee, nil
}

// FeesCollected returns taker fees retained on a market.
func (v *Venue) FeesCollected(marketID domain.Identity) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.books[marketID]; ok {
		return b.fees
	}
	return 0
}

func (v *Venue) orderAccounts(signer authority.Capability, marketID, openOrders domain.Identity) (*book, *OpenOrders, error) {
	if err := authority.Verify(signer); err != nil {
		return nil, nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.books[marketID]
	if !ok {
		return nil, nil, errors.Errorf("unknown market %s", marketID.Short())
	}
	oo, ok := v.openOrders[openOrders]
	if !ok {
		return nil, nil, domain.Violation("open-orders account %s does not exist", openOrders.Short())
	}
	if oo.Market != marketID {
		return nil, nil, domain.Violation("open-orders %s belongs to another market", openOrders.Short())
	}
	if oo.Owner != signer.Identity() {
		return nil, nil, domain.Violation("signer %s does not own open-orders %s", signer.Identity().Short(), openOrders.Short())
	}

	return b, oo, nil
}
