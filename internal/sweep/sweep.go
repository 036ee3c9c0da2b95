// Package sweep runs conversion cycles for configured plans on each record's schedule.
package sweep

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/engine"
	"github.com/vadiminshakov/yieldcron/pkg/retrier"
)

var hundred = decimal.NewFromInt(100)

type conversionEngine interface {
	Operator() domain.Identity
	Record(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error)
	Preview(ctx context.Context, id domain.Identity) (engine.Yield, error)
	Execute(ctx context.Context, req engine.ExecuteRequest) (domain.SwapReport, error)
}

type venue interface {
	Quote(ctx context.Context, marketID domain.Identity, side domain.Side, amount uint64) (uint64, error)
	OpenAccount(ctx context.Context, owner, marketID domain.Identity) (domain.Identity, error)
}

// Plan tells the sweep how to convert one record's yield.
type Plan struct {
	RecordID         domain.Identity
	Side             domain.Side
	MarketID         domain.Identity
	TradeSource      domain.Identity
	DelegationHandle *domain.Identity
}

// Result is the outcome of one plan in a sweep.
type Result struct {
	RecordID domain.Identity
	Report   *domain.SwapReport
	Skipped  bool
	Err      error
}

// Sweeper executes plans as the operator.
type Sweeper struct {
	l         *zap.Logger
	engine    conversionEngine
	venue     venue
	tolerance decimal.Decimal
	retryOpts []retrier.Option
	retrier   *retrier.Retrier
	after     func(ctx context.Context, results []Result)

	mu    sync.Mutex
	plans []Plan
	cron  *cron.Cron

	// handleMu[i] serialises opening the open-orders account of plans[i].
	handleMu []sync.Mutex
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSlippageTolerance sets the accepted shortfall against the venue quote, in percent.
func WithSlippageTolerance(percent decimal.Decimal) Option {
	return func(s *Sweeper) {
		s.tolerance = percent
	}
}

// WithRetryOptions tunes the backoff used for retryable engine errors.
func WithRetryOptions(opts ...retrier.Option) Option {
	return func(s *Sweeper) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// WithAfterSweep registers a hook called after every sweep.
func WithAfterSweep(fn func(ctx context.Context, results []Result)) Option {
	return func(s *Sweeper) {
		s.after = fn
	}
}

// New creates a Sweeper over plans.
func New(l *zap.Logger, e conversionEngine, v venue, plans []Plan, opts ...Option) (*Sweeper, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if e == nil || v == nil {
		return nil, errors.New("engine and venue are required")
	}

	s := &Sweeper{
		l:         l,
		engine:    e,
		venue:     v,
		tolerance: decimal.NewFromInt(1),
		plans:     append([]Plan(nil), plans...),
		handleMu:  make([]sync.Mutex, len(plans)),
		retryOpts: []retrier.Option{retrier.WithMaxRetries(3)},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tolerance.IsNegative() || s.tolerance.GreaterThan(hundred) {
		return nil, errors.Errorf("slippage tolerance %s%% out of range", s.tolerance)
	}
	s.retrier = retrier.New(append(s.retryOpts, retrier.WithRetryIf(domain.Retryable))...)

	return s, nil
}

// Start registers one cron job per schedule used by the plans and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	groups, err := s.groupBySchedule(ctx)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithSeconds())
	for sched, ids := range groups {
		if _, err := c.AddFunc(sched.CronSpec(), func() {
			s.sweep(ctx, ids)
		}); err != nil {
			return errors.Wrapf(err, "register %s sweep", sched)
		}
		s.l.Info("sweep registered",
			zap.String("schedule", sched.String()),
			zap.String("cron", sched.CronSpec()),
			zap.Int("plans", len(ids)))
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	return nil
}

// Stop stops the scheduler and waits for running sweeps.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.l.Info("sweep stopped")
	}
}

// RunOnce sweeps every plan immediately.
func (s *Sweeper) RunOnce(ctx context.Context) []Result {
	return s.sweep(ctx, nil)
}

func (s *Sweeper) groupBySchedule(ctx context.Context) (map[domain.Schedule][]domain.Identity, error) {
	s.mu.Lock()
	plans := append([]Plan(nil), s.plans...)
	s.mu.Unlock()

	groups := make(map[domain.Schedule][]domain.Identity)
	for _, p := range plans {
		r, err := s.engine.Record(ctx, p.RecordID)
		if err != nil {
			return nil, errors.Wrapf(err, "plan for record %s", p.RecordID.Short())
		}
		groups[r.Schedule] = append(groups[r.Schedule], p.RecordID)
	}
	return groups, nil
}

// sweep runs the plans of the given records, or all plans when ids is nil.
func (s *Sweeper) sweep(ctx context.Context, ids []domain.Identity) []Result {
	want := make(map[domain.Identity]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	s.mu.Lock()
	var plans []int
	for i, p := range s.plans {
		if ids == nil || want[p.RecordID] {
			plans = append(plans, i)
		}
	}
	s.mu.Unlock()

	results := make([]Result, 0, len(plans))
	for _, i := range plans {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.runPlan(ctx, i))
	}

	var executed, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Skipped:
			skipped++
		default:
			executed++
		}
	}
	s.l.Info("sweep finished", zap.Int("executed", executed), zap.Int("skipped", skipped), zap.Int("failed", failed))

	if s.after != nil {
		s.after(ctx, results)
	}
	return results
}

func (s *Sweeper) runPlan(ctx context.Context, i int) Result {
	s.mu.Lock()
	plan := s.plans[i]
	s.mu.Unlock()

	res := Result{RecordID: plan.RecordID}
	l := s.l.With(zap.String("record", plan.RecordID.String()), zap.String("side", plan.Side.String()))

	handle, err := s.ensureHandle(ctx, i)
	if err != nil {
		l.Error("failed to prepare open-orders account", zap.Error(err))
		res.Err = err
		return res
	}

	report, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (*domain.SwapReport, error) {
		y, err := s.engine.Preview(ctx, plan.RecordID)
		if errors.Is(err, domain.ErrNoYieldToRedeem) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		floor, err := s.floor(ctx, plan, y.AmountToRedeem)
		if err != nil {
			return nil, err
		}

		report, err := s.engine.Execute(ctx, engine.ExecuteRequest{
			RecordID:            plan.RecordID,
			Caller:              s.engine.Operator(),
			Side:                plan.Side,
			MinAcceptedProceeds: floor,
			MarketID:            plan.MarketID,
			TradeSource:         plan.TradeSource,
			DelegationHandle:    handle,
		})
		if err != nil {
			l.Debug("execute attempt failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
			return nil, err
		}
		return &report, nil
	})

	switch {
	case err != nil:
		l.Error("cycle failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		res.Err = err
	case report == nil:
		l.Debug("no yield to redeem")
		res.Skipped = true
	default:
		res.Report = report
	}
	return res
}

// floor prices the minimum accepted proceeds from the current book.
func (s *Sweeper) floor(ctx context.Context, plan Plan, amount uint64) (uint64, error) {
	quoted, err := s.venue.Quote(ctx, plan.MarketID, plan.Side, amount)
	if err != nil {
		return 0, errors.Wrap(err, "quote")
	}

	keep := hundred.Sub(s.tolerance).Div(hundred)
	return decimal.NewFromUint64(quoted).Mul(keep).Floor().BigInt().Uint64(), nil
}

// ensureHandle returns the open-orders account to pass with the plan, opening one for the
// record's authority when neither the record nor the plan has one.
func (s *Sweeper) ensureHandle(ctx context.Context, i int) (*domain.Identity, error) {
	s.handleMu[i].Lock()
	defer s.handleMu[i].Unlock()

	s.mu.Lock()
	plan := s.plans[i]
	s.mu.Unlock()

	if plan.DelegationHandle != nil {
		return plan.DelegationHandle, nil
	}

	r, err := s.engine.Record(ctx, plan.RecordID)
	if err != nil {
		return nil, err
	}
	if r.DelegationHandle != nil {
		return nil, nil
	}

	auth := authority.Derive(r.Owner, r.ReserveID, r.Nonce)
	handle, err := s.venue.OpenAccount(ctx, auth, plan.MarketID)
	if err != nil {
		return nil, errors.Wrap(err, "open orders account")
	}

	s.mu.Lock()
	s.plans[i].DelegationHandle = &handle
	s.mu.Unlock()

	s.l.Info("opened orders account", zap.String("record", plan.RecordID.String()), zap.String("handle", handle.String()))
	return &handle, nil
}
