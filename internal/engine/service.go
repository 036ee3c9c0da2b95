// Package engine owns deposit records and runs conversion cycles over them.
//
// Every operation executes as one unit of work of the execution environment. The engine
// assumes the environment rolls back all effects of a failed unit, gateway sub-calls
// included, and implements no compensation of its own.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/storage/journal"
)

type environment interface {
	Atomically(ctx context.Context, key string, fn func(ctx context.Context) error) error
	Account(ctx context.Context, addr domain.Identity) (domain.TokenAccount, error)
	Balance(ctx context.Context, addr domain.Identity) (uint64, error)
}

type lendingGateway interface {
	ReserveMints(ctx context.Context, reserveID domain.Identity) (liquidity, collateral domain.Identity, err error)
	CurrentExchangeRate(ctx context.Context, reserveID domain.Identity) (domain.ExchangeRate, error)
	DepositLiquidity(ctx context.Context, reserveID domain.Identity, signer authority.Capability, source, dest domain.Identity, amount uint64) (uint64, error)
	RedeemCollateral(ctx context.Context, reserveID domain.Identity, signer authority.Capability, source, dest domain.Identity, amount uint64) error
}

type exchangeGateway interface {
	Market(ctx context.Context, id domain.Identity) (domain.Market, error)
	PlaceImmediateOrCancelOrder(ctx context.Context, signer authority.Capability, req domain.OrderRequest) error
	Settle(ctx context.Context, signer authority.Capability, marketID, openOrders, coinWallet, pcWallet domain.Identity) error
}

type recordStore interface {
	Create(ctx context.Context, r *domain.DepositRecord) error
	Get(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error)
	Update(ctx context.Context, r *domain.DepositRecord) error
	Delete(ctx context.Context, id domain.Identity) error
	List(ctx context.Context) ([]*domain.DepositRecord, error)
}

type opJournal interface {
	Prepare(op journal.Op, recordID domain.Identity, amount uint64) (*journal.Intent, error)
	MarkDone(intent *journal.Intent) error
	MarkFailed(intent *journal.Intent, err error) error
	MarkUnreported(intent *journal.Intent, err error) error
}

type reportSink interface {
	Emit(report domain.SwapReport) error
}

// Service is the conversion engine together with the record lifecycle.
type Service struct {
	l        *zap.Logger
	operator domain.Identity

	env      environment
	lending  lendingGateway
	exchange exchangeGateway
	records  recordStore
	journal  opJournal
	reports  reportSink
	persist  func(ctx context.Context) error
	clock    func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithJournal records every operation attempt.
func WithJournal(j opJournal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithReportSink receives a report after each committed cycle.
func WithReportSink(sink reportSink) Option {
	return func(s *Service) {
		s.reports = sink
	}
}

// WithAfterCommit runs fn after every committed operation, before its intent is marked
// done. When fn fails the intent stays pending.
func WithAfterCommit(fn func(ctx context.Context) error) Option {
	return func(s *Service) {
		s.persist = fn
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New creates the engine. operator is the only identity allowed to execute cycles
// and cannot be changed afterwards.
func New(l *zap.Logger, operator domain.Identity, env environment, lending lendingGateway,
	exchange exchangeGateway, records recordStore, opts ...Option) (*Service, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if operator.IsZero() {
		return nil, errors.New("operator identity is required")
	}
	if env == nil || lending == nil || exchange == nil || records == nil {
		return nil, errors.New("environment, gateways and record store are required")
	}

	s := &Service{
		l:        l,
		operator: operator,
		env:      env,
		lending:  lending,
		exchange: exchange,
		records:  records,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Operator returns the fixed operator identity.
func (s *Service) Operator() domain.Identity {
	return s.operator
}

// Record returns a copy of a stored record.
func (s *Service) Record(ctx context.Context, id domain.Identity) (*domain.DepositRecord, error) {
	return s.records.Get(ctx, id)
}

// Records lists stored records.
func (s *Service) Records(ctx context.Context) ([]*domain.DepositRecord, error) {
	return s.records.List(ctx)
}

// track journals one operation around fn. After a commit it runs the after-commit hook
// and publish, and only then finalises the intent.
func (s *Service) track(ctx context.Context, op journal.Op, recordID domain.Identity, amount uint64, fn, publish func() error) error {
	var intent *journal.Intent
	if s.journal != nil {
		var err error
		if intent, err = s.journal.Prepare(op, recordID, amount); err != nil {
			return errors.Wrapf(err, "journal %s", op)
		}
	}
	l := s.l.With(zap.String("op", string(op)), zap.String("record", recordID.String()))

	if err := fn(); err != nil {
		if s.journal != nil {
			if jerr := s.journal.MarkFailed(intent, err); jerr != nil {
				l.Error("failed to update journal", zap.Error(jerr))
			}
		}
		l.Warn("operation failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		return err
	}

	persisted := true
	if s.persist != nil {
		if err := s.persist(context.WithoutCancel(ctx)); err != nil {
			l.Error("committed operation not persisted, intent left pending", zap.Error(err))
			persisted = false
		}
	}

	var published error
	if publish != nil {
		if published = publish(); published != nil {
			l.Error("swap report not recorded", zap.Error(published))
		}
	}

	if s.journal == nil || !persisted {
		return nil
	}
	var jerr error
	if published != nil {
		jerr = s.journal.MarkUnreported(intent, published)
	} else {
		jerr = s.journal.MarkDone(intent)
	}
	if jerr != nil {
		l.Error("failed to update journal", zap.Error(jerr))
	}

	return nil
}

// capabilityFor re-derives the record's authority and checks it against the owner of
// the collateral wallet the record is bound to.
func (s *Service) capabilityFor(ctx context.Context, r *domain.DepositRecord) (authority.Capability, error) {
	acc, err := s.env.Account(ctx, r.CollateralAccount)
	if err != nil {
		return authority.Capability{}, err
	}
	return authority.Issue(authority.Seeds{Owner: r.Owner, Resource: r.ReserveID, Nonce: r.Nonce}, acc.Owner)
}

// wallet loads an account and checks its owner and mint.
func (s *Service) wallet(ctx context.Context, addr, owner, mint domain.Identity, role string) (domain.TokenAccount, error) {
	acc, err := s.env.Account(ctx, addr)
	if err != nil {
		return domain.TokenAccount{}, errors.Wrapf(err, "%s wallet", role)
	}
	if !owner.IsZero() && acc.Owner != owner {
		return domain.TokenAccount{}, domain.Violation("%s wallet %s is not owned by %s", role, addr.Short(), owner.Short())
	}
	if acc.Mint != mint {
		return domain.TokenAccount{}, domain.Violation("%s wallet %s holds mint %s, want %s", role, addr.Short(), acc.Mint.Short(), mint.Short())
	}
	return acc, nil
}
