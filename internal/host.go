package internal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/config"
	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/gateway/reserve"
	"github.com/vadiminshakov/yieldcron/internal/gateway/venue"
	"github.com/vadiminshakov/yieldcron/internal/ledger"
	"github.com/vadiminshakov/yieldcron/internal/storage/simstate"
)

var (
	faucetSeeds = authority.Seeds{Owner: domain.IdentityFromLabel("yieldcron/faucet")}
	makerSeeds  = authority.Seeds{Owner: domain.IdentityFromLabel("yieldcron/maker")}
)

// Host is the simulated execution environment: a ledger with a lending reserve program
// and an order book venue on top. Every address it creates is remembered under a label
// so a restored host resolves the same names.
type Host struct {
	l       *zap.Logger
	Ledger  *ledger.Ledger
	Reserve *reserve.Gateway
	Venue   *venue.Venue

	faucet authority.Capability
	maker  authority.Capability

	mu     sync.RWMutex
	labels map[string]domain.Identity
}

// NewHost creates an empty host.
func NewHost(l *zap.Logger) *Host {
	if l == nil {
		l = zap.NewNop()
	}
	lg := ledger.New(l.Named("ledger"))
	h := &Host{
		l:       l,
		Ledger:  lg,
		Reserve: reserve.NewGateway(lg, l.Named("reserve")),
		Venue:   venue.New(lg, l.Named("venue")),
		faucet:  authority.ForSeeds(faucetSeeds),
		maker:   authority.ForSeeds(makerSeeds),
		labels:  make(map[string]domain.Identity),
	}
	lg.Register(h.Reserve)
	lg.Register(h.Venue)
	return h
}

// Restore loads a saved host. A nil state leaves the host empty.
func (h *Host) Restore(st *simstate.State) error {
	if st == nil {
		return nil
	}
	if err := h.Ledger.Restore(st.Ledger); err != nil {
		return errors.Wrap(err, "restore ledger")
	}
	h.Reserve.Load(st.Reserves)
	h.Venue.Restore(st.Venue)

	labels := make(map[string]domain.Identity, len(st.Labels))
	for name, hex := range st.Labels {
		id, err := domain.ParseIdentity(hex)
		if err != nil {
			return errors.Wrapf(err, "restore label %q", name)
		}
		labels[name] = id
	}

	h.mu.Lock()
	h.labels = labels
	h.mu.Unlock()

	h.l.Info("host restored",
		zap.Time("saved_at", st.SavedAt),
		zap.Int("accounts", len(st.Ledger.Accounts)),
		zap.Int("reserves", len(st.Reserves)),
		zap.Int("labels", len(labels)))
	return nil
}

// State exports the host for persistence.
func (h *Host) State(now time.Time) simstate.State {
	h.mu.RLock()
	labels := make(map[string]string, len(h.labels))
	for name, id := range h.labels {
		labels[name] = id.String()
	}
	h.mu.RUnlock()

	return simstate.State{
		SavedAt:  now.UTC(),
		Ledger:   h.Ledger.Snapshot(),
		Reserves: h.Reserve.Reserves(),
		Venue:    h.Venue.Snapshot(),
		Labels:   labels,
	}
}

// Lookup resolves a labelled address.
func (h *Host) Lookup(label string) (domain.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.labels[label]
	return id, ok
}

// Labels returns all labels in sorted order.
func (h *Host) Labels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.labels))
	for name := range h.labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ensure returns the address stored under label, calling create once when it is missing.
func (h *Host) ensure(ctx context.Context, label string, create func(ctx context.Context) (domain.Identity, error)) (domain.Identity, bool, error) {
	if id, ok := h.Lookup(label); ok {
		return id, false, nil
	}

	var id domain.Identity
	err := h.Ledger.Atomically(ctx, label, func(ctx context.Context) error {
		var err error
		id, err = create(ctx)
		return err
	})
	if err != nil {
		return domain.Identity{}, false, errors.Wrapf(err, "create %s", label)
	}

	h.mu.Lock()
	h.labels[label] = id
	h.mu.Unlock()
	return id, true, nil
}

// Provision creates every mint, reserve and market named in cfg that the host does not
// know yet. Existing ones are left untouched.
func (h *Host) Provision(ctx context.Context, cfg config.Config) error {
	for _, rc := range cfg.Reserves {
		if _, err := h.ensureReserve(ctx, rc); err != nil {
			return err
		}
	}
	for _, mc := range cfg.Markets {
		if _, err := h.ensureMarket(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) ensureMint(ctx context.Context, name string) (domain.Identity, error) {
	id, _, err := h.ensure(ctx, mintLabel(name), func(ctx context.Context) (domain.Identity, error) {
		return h.Ledger.CreateMint(ctx, h.faucet.Identity())
	})
	return id, err
}

func (h *Host) ensureReserve(ctx context.Context, rc config.ReserveConfig) (reserve.Reserve, error) {
	liquidity, err := h.ensureMint(ctx, rc.LiquidityMint)
	if err != nil {
		return reserve.Reserve{}, err
	}

	id, created, err := h.ensure(ctx, reserveLabel(rc.Name), func(ctx context.Context) (domain.Identity, error) {
		r, err := h.Reserve.AddReserve(ctx, liquidity, rc.InitialRate)
		return r.ID, err
	})
	if err != nil {
		return reserve.Reserve{}, err
	}
	if _, _, err := h.ensure(ctx, fundingLabel(rc.Name), func(ctx context.Context) (domain.Identity, error) {
		return h.Ledger.CreateAccount(ctx, h.faucet.Identity(), liquidity)
	}); err != nil {
		return reserve.Reserve{}, err
	}

	r, err := h.Reserve.Reserve(id)
	if err != nil {
		return reserve.Reserve{}, err
	}
	if created {
		h.l.Info("reserve provisioned",
			zap.String("name", rc.Name),
			zap.String("reserve", r.ID.String()),
			zap.String("liquidity_mint", r.LiquidityMint.String()))
	}
	return r, nil
}

func (h *Host) ensureMarket(ctx context.Context, mc config.MarketConfig) (domain.Market, error) {
	base, err := h.ensureMint(ctx, mc.BaseMint)
	if err != nil {
		return domain.Market{}, err
	}
	quote, err := h.ensureMint(ctx, mc.QuoteMint)
	if err != nil {
		return domain.Market{}, err
	}

	id, created, err := h.ensure(ctx, marketLabel(mc.Name), func(ctx context.Context) (domain.Identity, error) {
		m, err := h.Venue.CreateMarket(ctx, base, quote, mc.BaseLotSize, mc.QuoteLotSize, mc.TakerFeeBps)
		if err != nil {
			return domain.Identity{}, err
		}
		if err := h.seedBook(ctx, m, mc); err != nil {
			return domain.Identity{}, err
		}
		return m.ID, nil
	})
	if err != nil {
		return domain.Market{}, err
	}

	m, err := h.Venue.Market(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if created {
		h.l.Info("market provisioned",
			zap.String("name", mc.Name),
			zap.String("market", m.ID.String()),
			zap.Int("asks", len(mc.Asks)),
			zap.Int("bids", len(mc.Bids)))
	}
	return m, nil
}

// seedBook rests the configured maker levels, minting exactly what each level locks.
func (h *Host) seedBook(ctx context.Context, m domain.Market, mc config.MarketConfig) error {
	makerOO, err := h.Venue.OpenAccount(ctx, h.maker.Identity(), m.ID)
	if err != nil {
		return errors.Wrap(err, "open maker account")
	}

	rest := func(side domain.Side, mint domain.Identity, lvl config.LevelConfig, locked uint64) error {
		payer, err := h.Ledger.CreateAccount(ctx, h.maker.Identity(), mint)
		if err != nil {
			return err
		}
		if err := h.Ledger.MintTo(ctx, h.faucet, mint, payer, locked); err != nil {
			return err
		}
		return h.Venue.AddLiquidity(ctx, h.maker, m.ID, makerOO, payer, side, lvl.Price, lvl.Lots)
	}

	for _, lvl := range mc.Asks {
		locked, err := checkedMul(lvl.Lots, m.BaseLotSize)
		if err != nil {
			return err
		}
		if err := rest(domain.SideAsk, m.BaseMint, lvl, locked); err != nil {
			return errors.Wrapf(err, "rest ask at %d", lvl.Price)
		}
	}
	for _, lvl := range mc.Bids {
		locked, err := checkedMul(lvl.Lots, lvl.Price)
		if err != nil {
			return err
		}
		if err := rest(domain.SideBid, m.QuoteMint, lvl, locked); err != nil {
			return errors.Wrapf(err, "rest bid at %d", lvl.Price)
		}
	}
	return nil
}

// Accrue pays amount of fresh liquidity into the named reserve.
func (h *Host) Accrue(ctx context.Context, reserveName string, amount uint64) error {
	reserveID, ok := h.Lookup(reserveLabel(reserveName))
	if !ok {
		return errors.Errorf("unknown reserve %q", reserveName)
	}
	funding, ok := h.Lookup(fundingLabel(reserveName))
	if !ok {
		return errors.Errorf("reserve %q has no funding wallet", reserveName)
	}
	r, err := h.Reserve.Reserve(reserveID)
	if err != nil {
		return err
	}

	return h.Ledger.Atomically(ctx, "accrue", func(ctx context.Context) error {
		if err := h.Ledger.MintTo(ctx, h.faucet, r.LiquidityMint, funding, amount); err != nil {
			return errors.Wrap(err, "fund accrual")
		}
		return h.Reserve.Accrue(ctx, r.ID, h.faucet, funding, amount)
	})
}

// ReserveByName resolves a provisioned reserve.
func (h *Host) ReserveByName(name string) (reserve.Reserve, error) {
	id, ok := h.Lookup(reserveLabel(name))
	if !ok {
		return reserve.Reserve{}, errors.Errorf("unknown reserve %q", name)
	}
	return h.Reserve.Reserve(id)
}

// MarketByName resolves a provisioned market.
func (h *Host) MarketByName(ctx context.Context, name string) (domain.Market, error) {
	id, ok := h.Lookup(marketLabel(name))
	if !ok {
		return domain.Market{}, errors.Errorf("unknown market %q", name)
	}
	return h.Venue.Market(ctx, id)
}

// wallet returns the labelled wallet, creating it for owner and minting fund units into
// it the first time.
func (h *Host) wallet(ctx context.Context, label string, owner, mint domain.Identity, fund uint64) (domain.Identity, error) {
	id, _, err := h.ensure(ctx, label, func(ctx context.Context) (domain.Identity, error) {
		addr, err := h.Ledger.CreateAccount(ctx, owner, mint)
		if err != nil {
			return domain.Identity{}, err
		}
		if fund > 0 {
			if err := h.Ledger.MintTo(ctx, h.faucet, mint, addr, fund); err != nil {
				return domain.Identity{}, err
			}
		}
		return addr, nil
	})
	return id, err
}

func checkedMul(a, b uint64) (uint64, error) {
	if a != 0 && b > ^uint64(0)/a {
		return 0, domain.Violation("%d * %d overflows", a, b)
	}
	return a * b, nil
}

func mintLabel(name string) string    { return "mint/" + name }
func reserveLabel(name string) string { return "reserve/" + name }
func fundingLabel(name string) string { return "funding/" + name }
func marketLabel(name string) string  { return "market/" + name }

func depositLabel(name, wallet string) string { return "deposit/" + name + "/" + wallet }
