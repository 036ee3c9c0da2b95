package internal

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/config"
	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/engine"
	"github.com/vadiminshakov/yieldcron/internal/events"
	"github.com/vadiminshakov/yieldcron/internal/storage/journal"
	"github.com/vadiminshakov/yieldcron/internal/storage/records"
	"github.com/vadiminshakov/yieldcron/internal/storage/simstate"
	"github.com/vadiminshakov/yieldcron/internal/storage/swapreports"
	"github.com/vadiminshakov/yieldcron/internal/sweep"
	"github.com/vadiminshakov/yieldcron/internal/web"
	"github.com/vadiminshakov/yieldcron/pkg/retrier"
)

// MemoryRecords selects the in-memory record store instead of SQLite.
// The host is then not persisted either, since records and wallets must restart together.
const MemoryRecords = "memory"

const reportBuffer = 64

type recordStore interface {
	Create(ctx context.Context, r *domain.DepositRecord) error
	Get(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error)
	Update(ctx context.Context, r *domain.DepositRecord) error
	Delete(ctx context.Context, id domain.Identity) error
	List(ctx context.Context) ([]*domain.DepositRecord, error)
}

// App wires the simulated host, the engine and its stores, the operator sweep and the
// HTTP server.
type App struct {
	l   *zap.Logger
	cfg config.Config

	host        *Host
	state       *simstate.Store
	journal     *journal.Journal
	reports     *swapreports.WALStore
	broadcaster *events.ReportBroadcaster
	engine      *engine.Service
	sweeper     *sweep.Sweeper
	server      *web.Server

	accrualMu sync.Mutex
	accrual   *cron.Cron

	saveMu  sync.Mutex
	closers []func() error
}

// NewApp restores or provisions the host, opens every deposit from cfg that has no record
// yet and prepares the sweep.
func NewApp(ctx context.Context, cfg config.Config, l *zap.Logger) (_ *App, err error) {
	if l == nil {
		l = zap.NewNop()
	}
	a := &App{
		l:           l,
		cfg:         cfg,
		host:        NewHost(l.Named("host")),
		broadcaster: events.NewReportBroadcaster(reportBuffer),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := a.openRecords()
	if err != nil {
		return nil, err
	}

	if cfg.RecordsDB != MemoryRecords {
		if a.state, err = simstate.NewStore(cfg.StateDir, cfg.StateScope); err != nil {
			return nil, errors.Wrap(err, "open host state")
		}
	}
	st, err := a.state.Load()
	if err != nil {
		return nil, err
	}
	if err := a.host.Restore(st); err != nil {
		return nil, err
	}
	if err := a.host.Provision(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "provision host")
	}

	if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wal dir")
	}
	if a.journal, err = journal.Open(filepath.Join(cfg.WALDir, "journal")); err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	a.closers = append(a.closers, a.journal.Close)
	for _, in := range a.journal.Pending() {
		l.Warn("operation did not complete before the last shutdown",
			zap.String("intent", in.ID),
			zap.String("op", string(in.Op)),
			zap.String("record", in.RecordID.String()),
			zap.Time("time", in.Time))
	}
	for _, in := range a.journal.Unreported() {
		l.Warn("committed cycle has no swap report",
			zap.String("intent", in.ID),
			zap.String("record", in.RecordID.String()),
			zap.String("error", in.Error),
			zap.Time("time", in.Time))
	}

	if a.reports, err = swapreports.NewWALStore(filepath.Join(cfg.WALDir, "reports")); err != nil {
		return nil, errors.Wrap(err, "open swap report log")
	}
	a.closers = append(a.closers, a.reports.Close)

	a.engine, err = engine.New(l.Named("engine"), cfg.Operator, a.host.Ledger, a.host.Reserve, a.host.Venue, store,
		engine.WithJournal(a.journal),
		engine.WithAfterCommit(a.save),
		engine.WithReportSink(events.NewFanout(a.reports, a.broadcaster, l.Named("reports"))))
	if err != nil {
		return nil, errors.Wrap(err, "create engine")
	}

	plans := make([]sweep.Plan, 0, len(cfg.Deposits))
	for _, d := range cfg.Deposits {
		plan, err := a.provisionDeposit(ctx, d)
		if err != nil {
			return nil, errors.Wrapf(err, "deposit %q", d.Name)
		}
		plans = append(plans, plan)
	}
	if err := a.save(ctx); err != nil {
		return nil, err
	}

	a.sweeper, err = sweep.New(l.Named("sweep"), a.engine, a.host.Venue, plans,
		sweep.WithSlippageTolerance(cfg.SlippageTolerancePercent),
		sweep.WithRetryOptions(
			retrier.WithMaxRetries(cfg.MaxRetries),
			retrier.WithInitialInterval(cfg.RetryInitialInterval),
		),
		sweep.WithAfterSweep(func(ctx context.Context, _ []sweep.Result) {
			if err := a.save(ctx); err != nil {
				l.Error("failed to save host state", zap.Error(err))
			}
		}))
	if err != nil {
		return nil, errors.Wrap(err, "create sweep")
	}

	a.server = web.NewServer(cfg.Listen, a.engine, a.reports, a.broadcaster, l.Named("web"))
	return a, nil
}

func (a *App) openRecords() (recordStore, error) {
	if a.cfg.RecordsDB == MemoryRecords {
		store := records.NewMemoryStore()
		a.host.Ledger.Register(store)
		return store, nil
	}

	if err := os.MkdirAll(filepath.Dir(a.cfg.RecordsDB), 0o755); err != nil {
		return nil, errors.Wrap(err, "create records dir")
	}
	store, err := records.NewSQLiteStore(a.cfg.RecordsDB, a.l.Named("records"))
	if err != nil {
		return nil, errors.Wrap(err, "open record store")
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// provisionDeposit opens the deposit's record on first start and returns its sweep plan.
// Wallets are labelled so a restart reuses them.
func (a *App) provisionDeposit(ctx context.Context, d config.DepositConfig) (sweep.Plan, error) {
	res, err := a.host.ReserveByName(d.Reserve)
	if err != nil {
		return sweep.Plan{}, err
	}
	market, err := a.host.MarketByName(ctx, d.Market)
	if err != nil {
		return sweep.Plan{}, err
	}

	auth := authority.Derive(d.Owner, res.ID, d.Nonce)
	recordID := domain.IdentityFromLabel("deposit/" + d.Name)

	tradeSource, err := a.host.wallet(ctx, depositLabel(d.Name, "trade"), auth, res.LiquidityMint, 0)
	if err != nil {
		return sweep.Plan{}, err
	}
	plan := sweep.Plan{
		RecordID:    recordID,
		Side:        d.Side,
		MarketID:    market.ID,
		TradeSource: tradeSource,
	}

	_, err = a.engine.Record(ctx, recordID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, domain.ErrRecordNotFound) {
		return sweep.Plan{}, err
	}

	source, err := a.host.wallet(ctx, depositLabel(d.Name, "source"), auth, res.LiquidityMint, d.Principal)
	if err != nil {
		return sweep.Plan{}, err
	}
	collateral, err := a.host.wallet(ctx, depositLabel(d.Name, "collateral"), auth, res.CollateralMint, 0)
	if err != nil {
		return sweep.Plan{}, err
	}

	// asks sell target inventory held by the authority, bids pay out to the owner
	recipientOwner, inventory := d.Owner, uint64(0)
	if d.Side == domain.SideAsk {
		recipientOwner, inventory = auth, d.Principal
	}
	recipient, err := a.host.wallet(ctx, depositLabel(d.Name, "recipient"), recipientOwner, market.BaseMint, inventory)
	if err != nil {
		return sweep.Plan{}, err
	}

	if _, err := a.engine.Open(ctx, engine.OpenRequest{
		RecordID:              recordID,
		Owner:                 d.Owner,
		ReserveID:             res.ID,
		TargetMint:            market.BaseMint,
		Recipient:             recipient,
		SourceLiquidity:       source,
		DestinationCollateral: collateral,
		Principal:             d.Principal,
		Schedule:              d.Schedule,
		Nonce:                 d.Nonce,
	}); err != nil {
		return sweep.Plan{}, err
	}

	a.l.Info("deposit opened",
		zap.String("name", d.Name),
		zap.String("record", recordID.String()),
		zap.String("schedule", d.Schedule.String()),
		zap.Uint64("principal", d.Principal))
	return plan, nil
}

// Engine exposes the conversion engine.
func (a *App) Engine() *engine.Service {
	return a.engine
}

// Host exposes the simulated host.
func (a *App) Host() *Host {
	return a.host
}

// Sweeper exposes the operator sweep.
func (a *App) Sweeper() *sweep.Sweeper {
	return a.sweeper
}

// Reports exposes the swap report log.
func (a *App) Reports() *swapreports.WALStore {
	return a.reports
}

// Run starts the schedules and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.sweeper.Start(ctx); err != nil {
		return errors.Wrap(err, "start sweep")
	}
	defer a.sweeper.Stop()

	if err := a.startAccrual(ctx); err != nil {
		return err
	}
	defer a.stopAccrual()

	if a.cfg.RunOnStart {
		a.sweeper.RunOnce(ctx)
	}

	var err error
	if len(a.cfg.TLSDomains) > 0 {
		err = a.server.StartWithAutoTLS(ctx, a.cfg.TLSDomains, a.cfg.CertCacheDir)
	} else {
		err = a.server.Start(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "http server")
	}

	<-ctx.Done()
	return nil
}

func (a *App) startAccrual(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	for _, rc := range a.cfg.Reserves {
		if rc.AccrualAmount == 0 {
			continue
		}
		name, amount := rc.Name, rc.AccrualAmount
		if _, err := c.AddFunc(rc.AccrualSchedule, func() {
			if err := a.host.Accrue(ctx, name, amount); err != nil {
				a.l.Error("accrual failed", zap.String("reserve", name), zap.Error(err))
				return
			}
			if err := a.save(ctx); err != nil {
				a.l.Error("failed to save host state", zap.Error(err))
			}
		}); err != nil {
			return errors.Wrapf(err, "register accrual for reserve %q", name)
		}
	}

	a.accrualMu.Lock()
	a.accrual = c
	a.accrualMu.Unlock()
	c.Start()
	return nil
}

func (a *App) stopAccrual() {
	a.accrualMu.Lock()
	c := a.accrual
	a.accrual = nil
	a.accrualMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// save persists the host after each committed unit of work, so stored records and
// wallets restart together.
func (a *App) save(ctx context.Context) error {
	if a.state == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	var st simstate.State
	if err := a.host.Ledger.Atomically(context.WithoutCancel(ctx), "snapshot", func(context.Context) error {
		st = a.host.State(time.Now())
		return nil
	}); err != nil {
		return err
	}
	return errors.Wrap(a.state.Save(st), "save host state")
}

// Close persists the host and releases stores.
func (a *App) Close() error {
	var firstErr error
	if a.engine != nil {
		firstErr = a.save(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
