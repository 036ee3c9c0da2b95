package domain

import (
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// ExchangeRate is a reserve's collateral/liquidity supply pair at query time.
// Conversions floor; a round trip may lose a unit.
type ExchangeRate struct {
	Collateral uint64 `json:"collateral"`
	Liquidity  uint64 `json:"liquidity"`
}

// NewExchangeRate validates both supplies.
func NewExchangeRate(collateral, liquidity uint64) (ExchangeRate, error) {
	r := ExchangeRate{Collateral: collateral, Liquidity: liquidity}
	if err := r.Validate(); err != nil {
		return ExchangeRate{}, err
	}
	return r, nil
}

// Validate rejects a rate with an empty side.
func (r ExchangeRate) Validate() error {
	if r.Collateral == 0 || r.Liquidity == 0 {
		return errors.Errorf("exchange rate has empty supply: collateral=%d liquidity=%d", r.Collateral, r.Liquidity)
	}
	return nil
}

// CollateralToLiquidity converts collateral units to liquidity units, rounding down.
func (r ExchangeRate) CollateralToLiquidity(collateral uint64) (uint64, error) {
	return r.convert(collateral, r.Liquidity, r.Collateral)
}

// LiquidityToCollateral converts liquidity units to collateral units, rounding down.
func (r ExchangeRate) LiquidityToCollateral(liquidity uint64) (uint64, error) {
	return r.convert(liquidity, r.Collateral, r.Liquidity)
}

// Decimal returns collateral per liquidity for display.
func (r ExchangeRate) Decimal() decimal.Decimal {
	if r.Liquidity == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(r.Collateral).DivRound(decimal.NewFromUint64(r.Liquidity), 12)
}

func (r ExchangeRate) convert(amount, num, den uint64) (uint64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}

	product := decimal.NewFromUint64(amount).Mul(decimal.NewFromUint64(num))
	quotient, _ := product.QuoRem(decimal.NewFromUint64(den), 0)
	if quotient.GreaterThan(maxUint64) {
		return 0, errors.Errorf("converted amount %s overflows u64", quotient.String())
	}

	return quotient.BigInt().Uint64(), nil
}
