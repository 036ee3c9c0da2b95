package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func TestRedeemableCollateral(t *testing.T) {
	tests := []struct {
		name       string
		rate       domain.ExchangeRate
		balance    uint64
		principal  uint64
		wantYield  uint64
		wantRedeem uint64
		wantErr    error
	}{
		{
			name:       "accrued reserve",
			rate:       domain.ExchangeRate{Collateral: 950_000, Liquidity: 1_050_000},
			balance:    950_000,
			principal:  1_000_000,
			wantYield:  50_000,
			wantRedeem: 45_238,
		},
		{
			name:      "value equals principal",
			rate:      domain.ExchangeRate{Collateral: 950_000, Liquidity: 1_000_000},
			balance:   950_000,
			principal: 1_000_000,
			wantErr:   domain.ErrNoYieldToRedeem,
		},
		{
			name:      "value below principal",
			rate:      domain.ExchangeRate{Collateral: 1_000_000, Liquidity: 900_000},
			balance:   1_000_000,
			principal: 1_000_000,
			wantErr:   domain.ErrNoYieldToRedeem,
		},
		{
			name:      "yield worth no collateral",
			rate:      domain.ExchangeRate{Collateral: 1, Liquidity: 3},
			balance:   1,
			principal: 2,
			wantErr:   domain.ErrNoYieldToRedeem,
		},
		{
			name:       "one to one",
			rate:       domain.ExchangeRate{Collateral: 10, Liquidity: 10},
			balance:    500,
			principal:  400,
			wantYield:  100,
			wantRedeem: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &domain.DepositRecord{CollateralBalance: tt.balance, LiquidityPrincipal: tt.principal}
			y, err := RedeemableCollateral(tt.rate, r)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, y.AmountToRedeem)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantYield, y.Yield)
			assert.Equal(t, tt.wantRedeem, y.AmountToRedeem)
			assert.Equal(t, tt.principal, y.Principal)
		})
	}
}

func TestRedeemableCollateral_InvalidRate(t *testing.T) {
	r := &domain.DepositRecord{CollateralBalance: 10, LiquidityPrincipal: 1}
	_, err := RedeemableCollateral(domain.ExchangeRate{Collateral: 0, Liquidity: 10}, r)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoYieldToRedeem)
}

func TestBalanceDelta(t *testing.T) {
	d, err := balanceDelta(100, 40, true, "from")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), d)

	d, err = balanceDelta(40, 100, false, "to")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), d)

	_, err = balanceDelta(40, 100, true, "from")
	require.ErrorIs(t, err, domain.ErrPreconditionViolation)

	_, err = balanceDelta(100, 40, false, "to")
	require.ErrorIs(t, err, domain.ErrPreconditionViolation)
}
