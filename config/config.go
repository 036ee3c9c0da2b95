package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

const (
	DefaultPath         = "config.yaml"
	defaultListen       = ":8080"
	defaultRecordsDB    = "./data/records.db"
	defaultWALDir       = "./wal"
	defaultStateDir     = "./data/state"
	defaultMaxRetries   = 3
	defaultRetryBackoff = 2 * time.Second
)

// Config is the parsed service configuration.
type Config struct {
	Operator                 domain.Identity
	Listen                   string
	TLSDomains               []string
	CertCacheDir             string
	RecordsDB                string
	WALDir                   string
	StateDir                 string
	StateScope               string
	SlippageTolerancePercent decimal.Decimal
	MaxRetries               int
	RetryInitialInterval     time.Duration
	RunOnStart               bool
	Reserves                 []ReserveConfig
	Markets                  []MarketConfig
	Deposits                 []DepositConfig
}

// ReserveConfig lists a lending reserve on the simulated host.
type ReserveConfig struct {
	Name            string
	LiquidityMint   string
	InitialRate     domain.ExchangeRate
	AccrualAmount   uint64
	AccrualSchedule string
}

// LevelConfig is one resting maker order.
type LevelConfig struct {
	Price uint64 `yaml:"price"`
	Lots  uint64 `yaml:"lots"`
}

// MarketConfig lists an order book on the simulated host.
type MarketConfig struct {
	Name         string
	BaseMint     string
	QuoteMint    string
	BaseLotSize  uint64
	QuoteLotSize uint64
	TakerFeeBps  uint32
	Asks         []LevelConfig
	Bids         []LevelConfig
}

// DepositConfig opens a record on first start and schedules its conversions.
type DepositConfig struct {
	Name      string
	Owner     domain.Identity
	Reserve   string
	Market    string
	Side      domain.Side
	Principal uint64
	Schedule  domain.Schedule
	Nonce     uint8
}

// ConfigTmp mirrors the YAML file before validation.
type ConfigTmp struct {
	Operator                    string       `yaml:"operator"`
	Listen                      string       `yaml:"listen,omitempty"`
	TLSDomains                  []string     `yaml:"tls_domains,omitempty"`
	CertCacheDir                string       `yaml:"cert_cache_dir,omitempty"`
	RecordsDB                   string       `yaml:"records_db,omitempty"`
	WALDir                      string       `yaml:"wal_dir,omitempty"`
	StateDir                    string       `yaml:"state_dir,omitempty"`
	StateScope                  string       `yaml:"state_scope,omitempty"`
	SlippageTolerancePercentStr string       `yaml:"slippage_tolerance_percent,omitempty"`
	MaxRetriesStr               string       `yaml:"max_retries,omitempty"`
	RetryInitialInterval        string       `yaml:"retry_initial_interval,omitempty"`
	RunOnStart                  bool         `yaml:"run_on_start,omitempty"`
	Reserves                    []ReserveTmp `yaml:"reserves"`
	Markets                     []MarketTmp  `yaml:"markets"`
	Deposits                    []DepositTmp `yaml:"deposits"`
}

type ReserveTmp struct {
	Name              string `yaml:"name"`
	LiquidityMint     string `yaml:"liquidity_mint"`
	InitialCollateral uint64 `yaml:"initial_collateral"`
	InitialLiquidity  uint64 `yaml:"initial_liquidity"`
	AccrualAmount     uint64 `yaml:"accrual_amount,omitempty"`
	AccrualSchedule   string `yaml:"accrual_schedule,omitempty"`
}

type MarketTmp struct {
	Name         string        `yaml:"name"`
	BaseMint     string        `yaml:"base_mint"`
	QuoteMint    string        `yaml:"quote_mint"`
	BaseLotSize  uint64        `yaml:"base_lot_size"`
	QuoteLotSize uint64        `yaml:"quote_lot_size,omitempty"`
	TakerFeeBps  uint32        `yaml:"taker_fee_bps,omitempty"`
	Asks         []LevelConfig `yaml:"asks,omitempty"`
	Bids         []LevelConfig `yaml:"bids,omitempty"`
}

type DepositTmp struct {
	Name      string `yaml:"name"`
	Owner     string `yaml:"owner"`
	Reserve   string `yaml:"reserve"`
	Market    string `yaml:"market"`
	Side      string `yaml:"side,omitempty"`
	Principal uint64 `yaml:"principal"`
	Schedule  string `yaml:"schedule"`
	NonceStr  string `yaml:"nonce,omitempty"`
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(f)
}

// Parse validates YAML config bytes and fills defaults.
func Parse(data []byte) (Config, error) {
	var c ConfigTmp
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(c.Operator) == "" {
		return Config{}, fmt.Errorf("'operator' is required in yaml config")
	}
	operator, err := ResolveIdentity(c.Operator)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'operator' param in yaml config: %w", err)
	}

	cfg := Config{
		Operator:     operator,
		Listen:       orDefault(c.Listen, defaultListen),
		TLSDomains:   c.TLSDomains,
		CertCacheDir: c.CertCacheDir,
		RecordsDB:    orDefault(c.RecordsDB, defaultRecordsDB),
		WALDir:       orDefault(c.WALDir, defaultWALDir),
		StateDir:     orDefault(c.StateDir, defaultStateDir),
		StateScope:   orDefault(c.StateScope, "default"),
		RunOnStart:   c.RunOnStart,
	}

	if c.SlippageTolerancePercentStr == "" {
		cfg.SlippageTolerancePercent = decimal.NewFromInt(1)
	} else {
		tol, err := decimal.NewFromString(c.SlippageTolerancePercentStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'slippage_tolerance_percent' param in yaml config (must be a decimal), error: %w", err)
		}
		if tol.IsNegative() || tol.GreaterThan(decimal.NewFromInt(100)) {
			return Config{}, fmt.Errorf("'slippage_tolerance_percent' must be between 0 and 100, got %s", tol)
		}
		cfg.SlippageTolerancePercent = tol
	}

	if c.MaxRetriesStr == "" {
		cfg.MaxRetries = defaultMaxRetries
	} else {
		n, err := strconv.Atoi(c.MaxRetriesStr)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("incorrect 'max_retries' param in yaml config (must be a non-negative integer): %q", c.MaxRetriesStr)
		}
		cfg.MaxRetries = n
	}

	if c.RetryInitialInterval == "" {
		cfg.RetryInitialInterval = defaultRetryBackoff
	} else {
		d, err := time.ParseDuration(c.RetryInitialInterval)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'retry_initial_interval' param in yaml config, error: %w", err)
		}
		cfg.RetryInitialInterval = d
	}

	reserves := make(map[string]ReserveConfig, len(c.Reserves))
	for _, r := range c.Reserves {
		if r.Name == "" || r.LiquidityMint == "" {
			return Config{}, fmt.Errorf("reserve needs 'name' and 'liquidity_mint'")
		}
		if _, dup := reserves[r.Name]; dup {
			return Config{}, fmt.Errorf("duplicate reserve %q", r.Name)
		}
		rate, err := domain.NewExchangeRate(r.InitialCollateral, r.InitialLiquidity)
		if err != nil {
			return Config{}, fmt.Errorf("reserve %q: %w", r.Name, err)
		}
		rc := ReserveConfig{
			Name:            r.Name,
			LiquidityMint:   r.LiquidityMint,
			InitialRate:     rate,
			AccrualAmount:   r.AccrualAmount,
			AccrualSchedule: r.AccrualSchedule,
		}
		if rc.AccrualAmount > 0 && rc.AccrualSchedule == "" {
			rc.AccrualSchedule = domain.ScheduleDaily.CronSpec()
		}
		reserves[r.Name] = rc
		cfg.Reserves = append(cfg.Reserves, rc)
	}

	markets := make(map[string]MarketConfig, len(c.Markets))
	for _, m := range c.Markets {
		if m.Name == "" || m.BaseMint == "" || m.QuoteMint == "" {
			return Config{}, fmt.Errorf("market needs 'name', 'base_mint' and 'quote_mint'")
		}
		if _, dup := markets[m.Name]; dup {
			return Config{}, fmt.Errorf("duplicate market %q", m.Name)
		}
		if m.BaseLotSize == 0 {
			return Config{}, fmt.Errorf("market %q: 'base_lot_size' must be positive", m.Name)
		}
		mc := MarketConfig{
			Name:         m.Name,
			BaseMint:     m.BaseMint,
			QuoteMint:    m.QuoteMint,
			BaseLotSize:  m.BaseLotSize,
			QuoteLotSize: m.QuoteLotSize,
			TakerFeeBps:  m.TakerFeeBps,
			Asks:         m.Asks,
			Bids:         m.Bids,
		}
		if mc.QuoteLotSize == 0 {
			mc.QuoteLotSize = 1
		}
		markets[m.Name] = mc
		cfg.Markets = append(cfg.Markets, mc)
	}

	names := make(map[string]bool, len(c.Deposits))
	for _, d := range c.Deposits {
		if d.Name == "" || names[d.Name] {
			return Config{}, fmt.Errorf("deposit needs a unique 'name', got %q", d.Name)
		}
		names[d.Name] = true

		owner, err := ResolveIdentity(d.Owner)
		if err != nil || d.Owner == "" {
			return Config{}, fmt.Errorf("deposit %q: incorrect 'owner' %q", d.Name, d.Owner)
		}
		reserve, ok := reserves[d.Reserve]
		if !ok {
			return Config{}, fmt.Errorf("deposit %q: unknown reserve %q", d.Name, d.Reserve)
		}
		market, ok := markets[d.Market]
		if !ok {
			return Config{}, fmt.Errorf("deposit %q: unknown market %q", d.Name, d.Market)
		}
		if market.QuoteMint != reserve.LiquidityMint {
			return Config{}, fmt.Errorf("deposit %q: market %q quotes %s, reserve %q lends %s",
				d.Name, d.Market, market.QuoteMint, d.Reserve, reserve.LiquidityMint)
		}
		if d.Principal == 0 {
			return Config{}, fmt.Errorf("deposit %q: 'principal' must be positive", d.Name)
		}

		side := domain.SideBid
		if d.Side != "" {
			if side, err = domain.ParseSide(d.Side); err != nil {
				return Config{}, fmt.Errorf("deposit %q: %w", d.Name, err)
			}
		}
		schedule, err := domain.ParseSchedule(d.Schedule)
		if err != nil {
			return Config{}, fmt.Errorf("deposit %q: %w", d.Name, err)
		}

		nonce := uint64(0)
		if d.NonceStr != "" {
			if nonce, err = strconv.ParseUint(d.NonceStr, 10, 8); err != nil {
				return Config{}, fmt.Errorf("deposit %q: incorrect 'nonce' (must be 0-255): %w", d.Name, err)
			}
		}

		cfg.Deposits = append(cfg.Deposits, DepositConfig{
			Name:      d.Name,
			Owner:     owner,
			Reserve:   d.Reserve,
			Market:    d.Market,
			Side:      side,
			Principal: d.Principal,
			Schedule:  schedule,
			Nonce:     uint8(nonce),
		})
	}

	return cfg, nil
}

// ResolveIdentity accepts a 0x-prefixed address or a label that is hashed into one.
func ResolveIdentity(s string) (domain.Identity, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		return domain.ParseIdentity(s)
	}
	return domain.IdentityFromLabel(s), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
