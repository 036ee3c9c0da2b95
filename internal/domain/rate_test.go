package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRate_Conversions(t *testing.T) {
	tests := []struct {
		name        string
		rate        ExchangeRate
		collateral  uint64
		toLiquidity uint64
		liquidity   uint64
		toCollat    uint64
	}{
		{
			name:        "par",
			rate:        ExchangeRate{Collateral: 1, Liquidity: 1},
			collateral:  500,
			toLiquidity: 500,
			liquidity:   500,
			toCollat:    500,
		},
		{
			name:        "opening rate",
			rate:        ExchangeRate{Collateral: 950_000, Liquidity: 1_000_000},
			collateral:  950_000,
			toLiquidity: 1_000_000,
			liquidity:   1_000_000,
			toCollat:    950_000,
		},
		{
			name:        "accrued rate floors",
			rate:        ExchangeRate{Collateral: 950_000, Liquidity: 1_050_000},
			collateral:  950_000,
			toLiquidity: 1_050_000,
			liquidity:   50_000,
			toCollat:    45_238, // 50000*950000/1050000 = 45238.09
		},
		{
			name:        "zero amount",
			rate:        ExchangeRate{Collateral: 3, Liquidity: 7},
			collateral:  0,
			toLiquidity: 0,
			liquidity:   0,
			toCollat:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := tt.rate.CollateralToLiquidity(tt.collateral)
			require.NoError(t, err)
			assert.Equal(t, tt.toLiquidity, l)

			c, err := tt.rate.LiquidityToCollateral(tt.liquidity)
			require.NoError(t, err)
			assert.Equal(t, tt.toCollat, c)
		})
	}
}

func TestExchangeRate_RoundTripMayLoseUnit(t *testing.T) {
	rate := ExchangeRate{Collateral: 3, Liquidity: 7}

	c, err := rate.LiquidityToCollateral(10) // floor(30/7) = 4
	require.NoError(t, err)
	l, err := rate.CollateralToLiquidity(c) // floor(28/3) = 9
	require.NoError(t, err)

	assert.Equal(t, uint64(4), c)
	assert.Equal(t, uint64(9), l)
}

func TestExchangeRate_LargeValuesStayExact(t *testing.T) {
	rate := ExchangeRate{Collateral: math.MaxUint64, Liquidity: math.MaxUint64}

	l, err := rate.CollateralToLiquidity(math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), l)
}

func TestExchangeRate_Errors(t *testing.T) {
	_, err := ExchangeRate{Collateral: 0, Liquidity: 10}.CollateralToLiquidity(1)
	assert.Error(t, err)

	_, err = ExchangeRate{Collateral: 10, Liquidity: 0}.LiquidityToCollateral(1)
	assert.Error(t, err)

	_, err = ExchangeRate{Collateral: 1, Liquidity: 2}.CollateralToLiquidity(math.MaxUint64)
	assert.Error(t, err, "result above u64 must be rejected")

	_, err = NewExchangeRate(0, 1)
	assert.Error(t, err)
}
