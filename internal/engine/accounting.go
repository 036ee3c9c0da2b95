package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

// Yield is the redeemable part of a record at one exchange rate.
type Yield struct {
	Rate           domain.ExchangeRate `json:"rate"`
	Value          uint64              `json:"value"`
	Principal      uint64              `json:"principal"`
	Yield          uint64              `json:"yield"`
	AmountToRedeem uint64              `json:"amount_to_redeem"`
}

// RedeemableCollateral computes how much collateral is worth more than the principal.
// It fails with ErrNoYieldToRedeem when nothing can be redeemed.
func RedeemableCollateral(rate domain.ExchangeRate, r *domain.DepositRecord) (Yield, error) {
	y := Yield{Rate: rate, Principal: r.LiquidityPrincipal}

	value, err := rate.CollateralToLiquidity(r.CollateralBalance)
	if err != nil {
		return y, errors.Wrap(err, "value held collateral")
	}
	y.Value = value

	if value <= r.LiquidityPrincipal {
		return y, errors.Wrapf(domain.ErrNoYieldToRedeem, "value %d, principal %d", value, r.LiquidityPrincipal)
	}
	y.Yield = value - r.LiquidityPrincipal

	amount, err := rate.LiquidityToCollateral(y.Yield)
	if err != nil {
		return y, errors.Wrap(err, "convert yield to collateral")
	}
	if amount == 0 {
		return y, errors.Wrapf(domain.ErrNoYieldToRedeem, "yield %d is worth no collateral", y.Yield)
	}
	y.AmountToRedeem = amount

	return y, nil
}

// Preview returns what the next cycle of a record would redeem at the current rate.
func (s *Service) Preview(ctx context.Context, id domain.Identity) (Yield, error) {
	r, err := s.records.Get(ctx, id)
	if err != nil {
		return Yield{}, err
	}

	rate, err := s.lending.CurrentExchangeRate(ctx, r.ReserveID)
	if err != nil {
		return Yield{}, errors.Wrap(err, "query exchange rate")
	}

	return RedeemableCollateral(rate, r)
}

// balanceDelta returns after - before, or before - after when decreasing is set.
func balanceDelta(before, after uint64, decreasing bool, role string) (uint64, error) {
	if decreasing {
		if after > before {
			return 0, domain.Violation("%s balance grew from %d to %d", role, before, after)
		}
		return before - after, nil
	}
	if after < before {
		return 0, domain.Violation("%s balance shrank from %d to %d", role, before, after)
	}
	return after - before, nil
}
