package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

const sample = `
operator: operator
slippage_tolerance_percent: "0.5"
retry_initial_interval: 500ms
run_on_start: true
reserves:
  - name: usdc-reserve
    liquidity_mint: usdc
    initial_collateral: 950000
    initial_liquidity: 1000000
    accrual_amount: 5000
markets:
  - name: sol-usdc
    base_mint: sol
    quote_mint: usdc
    base_lot_size: 1000
    taker_fee_bps: 10
    asks:
      - {price: 100, lots: 5000}
    bids:
      - {price: 90, lots: 5000}
deposits:
  - name: alice
    owner: alice
    reserve: usdc-reserve
    market: sol-usdc
    principal: 1000000
    schedule: weekly
    nonce: "1"
  - name: bob
    owner: "0x1111111111111111111111111111111111111111111111111111111111111111"
    reserve: usdc-reserve
    market: sol-usdc
    side: ask
    principal: 500000
    schedule: monthly
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, domain.IdentityFromLabel("operator"), cfg.Operator)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, defaultRecordsDB, cfg.RecordsDB)
	assert.True(t, decimal.RequireFromString("0.5").Equal(cfg.SlippageTolerancePercent))
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialInterval)
	assert.True(t, cfg.RunOnStart)

	require.Len(t, cfg.Reserves, 1)
	assert.Equal(t, domain.ExchangeRate{Collateral: 950_000, Liquidity: 1_000_000}, cfg.Reserves[0].InitialRate)
	assert.Equal(t, domain.ScheduleDaily.CronSpec(), cfg.Reserves[0].AccrualSchedule)

	require.Len(t, cfg.Markets, 1)
	assert.Equal(t, uint64(1), cfg.Markets[0].QuoteLotSize)
	assert.Equal(t, []LevelConfig{{Price: 100, Lots: 5000}}, cfg.Markets[0].Asks)

	require.Len(t, cfg.Deposits, 2)
	assert.Equal(t, domain.IdentityFromLabel("alice"), cfg.Deposits[0].Owner)
	assert.Equal(t, domain.SideBid, cfg.Deposits[0].Side)
	assert.Equal(t, domain.ScheduleWeekly, cfg.Deposits[0].Schedule)
	assert.Equal(t, uint8(1), cfg.Deposits[0].Nonce)
	assert.Equal(t, domain.SideAsk, cfg.Deposits[1].Side)
	assert.Equal(t, "0x1111111111111111111111111111111111111111111111111111111111111111", cfg.Deposits[1].Owner.String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing operator", yaml: `reserves: []`},
		{name: "bad tolerance", yaml: "operator: op\nslippage_tolerance_percent: \"150\""},
		{name: "bad interval", yaml: "operator: op\nretry_initial_interval: soon"},
		{name: "empty rate", yaml: "operator: op\nreserves:\n  - {name: r, liquidity_mint: usdc, initial_collateral: 0, initial_liquidity: 1}"},
		{name: "unknown reserve", yaml: "operator: op\ndeposits:\n  - {name: d, owner: a, reserve: r, market: m, principal: 1, schedule: daily}"},
		{
			name: "market does not quote reserve liquidity",
			yaml: "operator: op\nreserves:\n  - {name: r, liquidity_mint: usdc, initial_collateral: 1, initial_liquidity: 1}\n" +
				"markets:\n  - {name: m, base_mint: sol, quote_mint: usdt, base_lot_size: 1}\n" +
				"deposits:\n  - {name: d, owner: a, reserve: r, market: m, principal: 1, schedule: daily}",
		},
		{
			name: "bad schedule",
			yaml: "operator: op\nreserves:\n  - {name: r, liquidity_mint: usdc, initial_collateral: 1, initial_liquidity: 1}\n" +
				"markets:\n  - {name: m, base_mint: sol, quote_mint: usdc, base_lot_size: 1}\n" +
				"deposits:\n  - {name: d, owner: a, reserve: r, market: m, principal: 1, schedule: hourly}",
		},
		{
			name: "nonce out of range",
			yaml: "operator: op\nreserves:\n  - {name: r, liquidity_mint: usdc, initial_collateral: 1, initial_liquidity: 1}\n" +
				"markets:\n  - {name: m, base_mint: sol, quote_mint: usdc, base_lot_size: 1}\n" +
				"deposits:\n  - {name: d, owner: a, reserve: r, market: m, principal: 1, schedule: daily, nonce: \"300\"}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Deposits, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, f.ConfigPath)
	assert.False(t, f.Setup)

	f, err = ParseFlags([]string{"--config", "prod.yaml", "--setup"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "prod.yaml", f.ConfigPath)
	assert.True(t, f.Setup)
}
