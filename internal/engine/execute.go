package engine

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/storage/journal"
)

// ExecuteRequest runs one conversion cycle.
//
// TradeSource receives redeemed liquidity and must be owned by the record's authority.
// DelegationHandle is the open-orders account to use when the record has none bound yet.
type ExecuteRequest struct {
	RecordID            domain.Identity
	Caller              domain.Identity
	Side                domain.Side
	MinAcceptedProceeds uint64
	MarketID            domain.Identity
	TradeSource         domain.Identity
	DelegationHandle    *domain.Identity
}

type cycle struct {
	record   *domain.DepositRecord
	signer   authority.Capability
	market   domain.Market
	yield    Yield
	from, to domain.TokenAccount
	handle   domain.Identity
}

// Execute redeems the record's accrued yield, trades it on the venue and forwards the
// proceeds. All effects commit together or not at all.
//
// The report is emitted once after the commit. If the sink fails the cycle stays
// committed and the journal marks the intent unreported.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (domain.SwapReport, error) {
	if err := s.requireOperator(req.Caller); err != nil {
		s.l.Warn("execute rejected", zap.String("caller", req.Caller.String()), zap.Error(err))
		return domain.SwapReport{}, err
	}
	if !req.Side.Valid() {
		return domain.SwapReport{}, domain.Violation("invalid side %d", req.Side)
	}

	var report domain.SwapReport
	err := s.track(ctx, journal.OpExecute, req.RecordID, 0, func() error {
		return s.env.Atomically(ctx, "execute:"+req.RecordID.String(), func(ctx context.Context) error {
			var err error
			report, err = s.execute(ctx, req)
			return err
		})
	}, func() error {
		if s.reports == nil {
			return nil
		}
		return s.reports.Emit(report)
	})
	if err != nil {
		return domain.SwapReport{}, err
	}

	return report, nil
}

func (s *Service) execute(ctx context.Context, req ExecuteRequest) (domain.SwapReport, error) {
	c, err := s.prepareCycle(ctx, req)
	if err != nil {
		return domain.SwapReport{}, err
	}
	r := c.record

	if err := s.lending.RedeemCollateral(ctx, r.ReserveID, c.signer, r.CollateralAccount, req.TradeSource, c.yield.AmountToRedeem); err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "redeem yield")
	}

	order := domain.OrderRequest{
		Market:     c.market.ID,
		OpenOrders: c.handle,
		Payer:      c.from.Address,
		Side:       req.Side,
	}
	switch req.Side {
	case domain.SideBid:
		order.LimitPrice = math.MaxUint64
		order.MaxBaseQty = math.MaxUint64
		order.MaxQuoteQty = c.yield.AmountToRedeem
	case domain.SideAsk:
		order.LimitPrice = 1
		order.MaxBaseQty = c.market.BaseLots(c.yield.AmountToRedeem)
		order.MaxQuoteQty = math.MaxUint64
		if order.MaxBaseQty == 0 {
			return domain.SwapReport{}, domain.Violation("%d is less than one base lot of %d", c.yield.AmountToRedeem, c.market.BaseLotSize)
		}
	default:
		return domain.SwapReport{}, domain.Violation("invalid side %d", req.Side)
	}

	fromBefore, err := s.env.Balance(ctx, c.from.Address)
	if err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "snapshot from wallet")
	}
	toBefore, err := s.env.Balance(ctx, c.to.Address)
	if err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "snapshot to wallet")
	}

	orderErr := s.exchange.PlaceImmediateOrCancelOrder(ctx, c.signer, order)
	settleErr := s.exchange.Settle(ctx, c.signer, c.market.ID, c.handle, r.Recipient, req.TradeSource)
	if orderErr != nil {
		return domain.SwapReport{}, errors.Wrap(orderErr, "place order")
	}
	if settleErr != nil {
		return domain.SwapReport{}, errors.Wrap(settleErr, "settle")
	}

	fromAfter, err := s.env.Balance(ctx, c.from.Address)
	if err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "snapshot from wallet")
	}
	toAfter, err := s.env.Balance(ctx, c.to.Address)
	if err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "snapshot to wallet")
	}

	fromAmount, err := balanceDelta(fromBefore, fromAfter, true, "from")
	if err != nil {
		return domain.SwapReport{}, err
	}
	toAmount, err := balanceDelta(toBefore, toAfter, false, "to")
	if err != nil {
		return domain.SwapReport{}, err
	}

	if toAmount < req.MinAcceptedProceeds {
		return domain.SwapReport{}, errors.Wrapf(domain.ErrSlippageExceeded, "received %d, minimum %d", toAmount, req.MinAcceptedProceeds)
	}

	if err := r.CompleteCycle(); err != nil {
		return domain.SwapReport{}, err
	}
	if !r.BindDelegationHandle(&c.handle) && req.DelegationHandle != nil && *req.DelegationHandle != *r.DelegationHandle {
		s.l.Debug("delegation handle already bound, ignoring supplied one",
			zap.String("record", r.ID.String()),
			zap.String("bound", r.DelegationHandle.String()),
			zap.String("supplied", req.DelegationHandle.String()))
	}
	if r.CollateralBalance, err = s.env.Balance(ctx, r.CollateralAccount); err != nil {
		return domain.SwapReport{}, errors.Wrap(err, "observe collateral balance")
	}

	if err := s.records.Update(ctx, r); err != nil {
		return domain.SwapReport{}, err
	}

	s.l.Info("cycle executed",
		zap.String("record", r.ID.String()),
		zap.String("side", req.Side.String()),
		zap.Uint16("cycle", r.CycleCount),
		zap.Uint64("redeemed", c.yield.AmountToRedeem),
		zap.Uint64("from_amount", fromAmount),
		zap.Uint64("to_amount", toAmount))

	return domain.SwapReport{
		RecordID:    r.ID,
		Operator:    req.Caller,
		AmountGiven: c.yield.AmountToRedeem,
		MinAccepted: req.MinAcceptedProceeds,
		FromAmount:  fromAmount,
		ToAmount:    toAmount,
		FromMint:    c.from.Mint,
		ToMint:      c.to.Mint,
		QuoteMint:   c.market.QuoteMint,
		Side:        req.Side,
		Cycle:       r.CycleCount,
		Timestamp:   s.clock().UTC(),
	}, nil
}

// prepareCycle loads the record, re-derives its authority, sizes the redemption and
// resolves every wallet the cycle touches.
func (s *Service) prepareCycle(ctx context.Context, req ExecuteRequest) (*cycle, error) {
	r, err := s.records.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}

	signer, err := s.capabilityFor(ctx, r)
	if err != nil {
		return nil, err
	}

	rate, err := s.lending.CurrentExchangeRate(ctx, r.ReserveID)
	if err != nil {
		return nil, errors.Wrap(err, "query exchange rate")
	}
	y, err := RedeemableCollateral(rate, r)
	if err != nil {
		return nil, err
	}

	liquidityMint, _, err := s.lending.ReserveMints(ctx, r.ReserveID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve reserve")
	}
	market, err := s.exchange.Market(ctx, req.MarketID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve market")
	}
	if market.BaseMint != r.TargetMint || market.QuoteMint != liquidityMint {
		return nil, domain.Violation("market %s does not trade target %s against liquidity %s",
			market.ID.Short(), r.TargetMint.Short(), liquidityMint.Short())
	}

	tradeSource, err := s.wallet(ctx, req.TradeSource, signer.Identity(), liquidityMint, "trade source")
	if err != nil {
		return nil, err
	}

	c := &cycle{record: r, signer: signer, market: market, yield: y}
	switch req.Side {
	case domain.SideBid:
		recipient, err := s.wallet(ctx, r.Recipient, domain.Identity{}, r.TargetMint, "recipient")
		if err != nil {
			return nil, err
		}
		c.from, c.to = tradeSource, recipient
	case domain.SideAsk:
		recipient, err := s.wallet(ctx, r.Recipient, signer.Identity(), r.TargetMint, "recipient")
		if err != nil {
			return nil, err
		}
		c.from, c.to = recipient, tradeSource
	default:
		return nil, domain.Violation("invalid side %d", req.Side)
	}

	switch {
	case r.DelegationHandle != nil:
		c.handle = *r.DelegationHandle
	case req.DelegationHandle != nil && !req.DelegationHandle.IsZero():
		c.handle = *req.DelegationHandle
	default:
		return nil, domain.Violation("record %s has no open-orders account and none was supplied", r.ID.Short())
	}

	return c, nil
}
