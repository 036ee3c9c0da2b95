package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/yieldcron/internal/authority"
	"github.com/vadiminshakov/yieldcron/internal/domain"
	"github.com/vadiminshakov/yieldcron/internal/events"
	"github.com/vadiminshakov/yieldcron/internal/gateway/reserve"
	"github.com/vadiminshakov/yieldcron/internal/gateway/venue"
	"github.com/vadiminshakov/yieldcron/internal/ledger"
	"github.com/vadiminshakov/yieldcron/internal/storage/journal"
	"github.com/vadiminshakov/yieldcron/internal/storage/records"
	"github.com/vadiminshakov/yieldcron/internal/storage/swapreports"
)

const (
	principal   = 1_000_000
	baseLotSize = 1_000
	askPrice    = 100 // quote per base lot
	bidPrice    = 90
)

var openingRate = domain.ExchangeRate{Collateral: 950_000, Liquidity: 1_000_000}

type harness struct {
	t   *testing.T
	ctx context.Context

	ledger  *ledger.Ledger
	reserve *reserve.Gateway
	venue   *venue.Venue
	store   *records.MemoryStore
	journal *journal.Journal
	reports *swapreports.WALStore
	stream  chan domain.SwapReportRecord
	svc     *Service

	faucet    authority.Capability
	usdc, sol domain.Identity
	res       reserve.Reserve
	market    domain.Market
	funding   domain.Identity

	operator domain.Identity
	owner    domain.Identity
	nonce    uint8
	auth     domain.Identity

	source      domain.Identity
	collateral  domain.Identity
	recipient   domain.Identity
	tradeSource domain.Identity
	openOrders  domain.Identity
}

type harnessOpts struct {
	rate        domain.ExchangeRate
	takerFeeBps uint32
	lotSize     uint64
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, harnessOpts{rate: openingRate, lotSize: baseLotSize})
}

func newHarnessWith(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{t: t, ctx: ctx, nonce: 1}

	h.ledger = ledger.New(nil)
	h.reserve = reserve.NewGateway(h.ledger, nil)
	h.venue = venue.New(h.ledger, nil)
	h.store = records.NewMemoryStore()
	h.ledger.Register(h.reserve)
	h.ledger.Register(h.venue)
	h.ledger.Register(h.store)

	var err error
	h.faucet = authority.ForSeeds(authority.Seeds{Owner: domain.IdentityFromLabel("faucet")})
	h.usdc, err = h.ledger.CreateMint(ctx, h.faucet.Identity())
	require.NoError(t, err)
	h.sol, err = h.ledger.CreateMint(ctx, h.faucet.Identity())
	require.NoError(t, err)

	h.res, err = h.reserve.AddReserve(ctx, h.usdc, opts.rate)
	require.NoError(t, err)
	h.funding = h.fund(h.faucet.Identity(), h.usdc, 10_000_000)

	h.market, err = h.venue.CreateMarket(ctx, h.sol, h.usdc, opts.lotSize, 1, opts.takerFeeBps)
	require.NoError(t, err)
	maker := authority.ForSeeds(authority.Seeds{Owner: domain.IdentityFromLabel("maker")})
	makerOO, err := h.venue.OpenAccount(ctx, maker.Identity(), h.market.ID)
	require.NoError(t, err)
	makerBase := h.fund(maker.Identity(), h.sol, 10_000*opts.lotSize)
	makerQuote := h.fund(maker.Identity(), h.usdc, 10_000_000)
	require.NoError(t, h.venue.AddLiquidity(ctx, maker, h.market.ID, makerOO, makerBase, domain.SideAsk, askPrice, 5_000))
	require.NoError(t, h.venue.AddLiquidity(ctx, maker, h.market.ID, makerOO, makerQuote, domain.SideBid, bidPrice, 5_000))

	h.operator = domain.IdentityFromLabel("operator")
	h.owner = domain.IdentityFromLabel("owner")
	h.auth = authority.Derive(h.owner, h.res.ID, h.nonce)

	h.source = h.fund(h.auth, h.usdc, 2*principal)
	h.collateral = h.account(h.auth, h.res.CollateralMint)
	h.recipient = h.account(h.auth, h.sol)
	h.tradeSource = h.account(h.auth, h.usdc)
	h.openOrders, err = h.venue.OpenAccount(ctx, h.auth, h.market.ID)
	require.NoError(t, err)

	h.journal, err = journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { h.journal.Close() })

	h.reports, err = swapreports.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { h.reports.Close() })

	broadcaster := events.NewReportBroadcaster(16)
	h.stream = broadcaster.Subscribe()

	h.svc, err = New(nil, h.operator, h.ledger, h.reserve, h.venue, h.store,
		WithJournal(h.journal),
		WithReportSink(events.NewFanout(h.reports, broadcaster, nil)),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)

	return h
}

func (h *harness) account(owner, mint domain.Identity) domain.Identity {
	h.t.Helper()
	addr, err := h.ledger.CreateAccount(h.ctx, owner, mint)
	require.NoError(h.t, err)
	return addr
}

func (h *harness) fund(owner, mint domain.Identity, amount uint64) domain.Identity {
	h.t.Helper()
	addr := h.account(owner, mint)
	require.NoError(h.t, h.ledger.MintTo(h.ctx, h.faucet, mint, addr, amount))
	return addr
}

func (h *harness) balance(addr domain.Identity) uint64 {
	h.t.Helper()
	b, err := h.ledger.Balance(h.ctx, addr)
	require.NoError(h.t, err)
	return b
}

func (h *harness) openRequest() OpenRequest {
	return OpenRequest{
		Owner:                 h.owner,
		ReserveID:             h.res.ID,
		TargetMint:            h.sol,
		Recipient:             h.recipient,
		SourceLiquidity:       h.source,
		DestinationCollateral: h.collateral,
		Principal:             principal,
		Schedule:              domain.ScheduleWeekly,
		Nonce:                 h.nonce,
	}
}

func (h *harness) open() domain.Identity {
	h.t.Helper()
	id, err := h.svc.Open(h.ctx, h.openRequest())
	require.NoError(h.t, err)
	return id
}

func (h *harness) accrue(amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.reserve.Accrue(h.ctx, h.res.ID, h.faucet, h.funding, amount))
}

func (h *harness) record(id domain.Identity) *domain.DepositRecord {
	h.t.Helper()
	r, err := h.svc.Record(h.ctx, id)
	require.NoError(h.t, err)
	return r
}

func (h *harness) executeRequest(id domain.Identity, side domain.Side, minAccepted uint64) ExecuteRequest {
	handle := h.openOrders
	return ExecuteRequest{
		RecordID:            id,
		Caller:              h.operator,
		Side:                side,
		MinAcceptedProceeds: minAccepted,
		MarketID:            h.market.ID,
		TradeSource:         h.tradeSource,
		DelegationHandle:    &handle,
	}
}

type walletState struct {
	source, collateral, recipient, tradeSource uint64
}

func (h *harness) wallets() walletState {
	return walletState{
		source:      h.balance(h.source),
		collateral:  h.balance(h.collateral),
		recipient:   h.balance(h.recipient),
		tradeSource: h.balance(h.tradeSource),
	}
}
