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

// OpenRequest creates a deposit record. RecordID may be left zero to allocate one.
type OpenRequest struct {
	RecordID              domain.Identity
	Owner                 domain.Identity
	ReserveID             domain.Identity
	TargetMint            domain.Identity
	Recipient             domain.Identity
	SourceLiquidity       domain.Identity
	DestinationCollateral domain.Identity
	Principal             uint64
	Schedule              domain.Schedule
	Nonce                 uint8
}

// TopUpRequest adds principal to a record.
type TopUpRequest struct {
	RecordID              domain.Identity
	Caller                domain.Identity
	SourceLiquidity       domain.Identity
	DestinationCollateral domain.Identity
	Amount                uint64
}

// CloseRequest redeems everything and destroys a record.
type CloseRequest struct {
	RecordID           domain.Identity
	Caller             domain.Identity
	LiquidityRecipient domain.Identity
}

// Open deposits the principal into the reserve under the derived authority and stores a new record.
func (s *Service) Open(ctx context.Context, req OpenRequest) (domain.Identity, error) {
	if req.RecordID.IsZero() {
		req.RecordID = domain.NewIdentity()
	}

	err := s.track(ctx, journal.OpOpen, req.RecordID, req.Principal, func() error {
		return s.env.Atomically(ctx, "open:"+req.RecordID.String(), func(ctx context.Context) error {
			return s.open(ctx, req)
		})
	}, nil)
	if err != nil {
		return domain.Identity{}, err
	}

	s.l.Info("record opened",
		zap.String("record", req.RecordID.String()),
		zap.String("owner", req.Owner.String()),
		zap.Uint64("principal", req.Principal),
		zap.String("schedule", req.Schedule.String()))

	return req.RecordID, nil
}

func (s *Service) open(ctx context.Context, req OpenRequest) error {
	if req.Principal == 0 {
		return domain.Violation("principal must be positive")
	}
	if !req.Schedule.Valid() {
		return domain.Violation("invalid schedule %d", req.Schedule)
	}
	if req.Owner.IsZero() {
		return domain.Violation("owner is required")
	}

	if _, err := s.records.Get(ctx, req.RecordID); err == nil {
		return errors.Wrapf(domain.ErrRecordExists, "record %s", req.RecordID.Short())
	} else if !errors.Is(err, domain.ErrRecordNotFound) {
		return err
	}

	seeds := authority.Seeds{Owner: req.Owner, Resource: req.ReserveID, Nonce: req.Nonce}
	signer, err := authority.Issue(seeds, seeds.Address())
	if err != nil {
		return err
	}
	auth := signer.Identity()

	liquidityMint, collateralMint, err := s.lending.ReserveMints(ctx, req.ReserveID)
	if err != nil {
		return errors.Wrap(err, "resolve reserve")
	}

	source, err := s.wallet(ctx, req.SourceLiquidity, auth, liquidityMint, "source liquidity")
	if err != nil {
		return err
	}
	if source.Amount < req.Principal {
		return domain.Violation("source liquidity holds %d, principal is %d", source.Amount, req.Principal)
	}

	dest, err := s.wallet(ctx, req.DestinationCollateral, auth, collateralMint, "destination collateral")
	if err != nil {
		return err
	}
	if dest.Amount != 0 {
		return domain.Violation("destination collateral wallet is not empty: %d", dest.Amount)
	}

	if _, err := s.wallet(ctx, req.Recipient, domain.Identity{}, req.TargetMint, "recipient"); err != nil {
		return err
	}

	if _, err := s.lending.DepositLiquidity(ctx, req.ReserveID, signer, req.SourceLiquidity, req.DestinationCollateral, req.Principal); err != nil {
		return errors.Wrap(err, "deposit liquidity")
	}

	balance, err := s.env.Balance(ctx, req.DestinationCollateral)
	if err != nil {
		return errors.Wrap(err, "observe collateral balance")
	}

	record := &domain.DepositRecord{
		ID:                 req.RecordID,
		Owner:              req.Owner,
		CollateralAccount:  req.DestinationCollateral,
		LiquidityPrincipal: req.Principal,
		CollateralBalance:  balance,
		Schedule:           req.Schedule,
		ReserveID:          req.ReserveID,
		TargetMint:         req.TargetMint,
		Recipient:          req.Recipient,
		CreatedAt:          s.clock().UTC().Truncate(time.Second),
		Nonce:              req.Nonce,
	}

	return s.records.Create(ctx, record)
}

// TopUp deposits more liquidity into the record's collateral wallet and raises the principal.
func (s *Service) TopUp(ctx context.Context, req TopUpRequest) error {
	return s.track(ctx, journal.OpTopUp, req.RecordID, req.Amount, func() error {
		return s.env.Atomically(ctx, "top_up:"+req.RecordID.String(), func(ctx context.Context) error {
			return s.topUp(ctx, req)
		})
	}, nil)
}

func (s *Service) topUp(ctx context.Context, req TopUpRequest) error {
	record, err := s.records.Get(ctx, req.RecordID)
	if err != nil {
		return err
	}
	if err := requireOwner(record, req.Caller); err != nil {
		return err
	}
	if req.DestinationCollateral != record.CollateralAccount {
		return errors.Wrapf(domain.ErrTopUpWalletMismatch, "got %s, record uses %s",
			req.DestinationCollateral.Short(), record.CollateralAccount.Short())
	}
	if req.Amount == 0 {
		return domain.Violation("top-up amount must be positive")
	}

	signer, err := s.capabilityFor(ctx, record)
	if err != nil {
		return err
	}

	liquidityMint, _, err := s.lending.ReserveMints(ctx, record.ReserveID)
	if err != nil {
		return errors.Wrap(err, "resolve reserve")
	}
	source, err := s.wallet(ctx, req.SourceLiquidity, signer.Identity(), liquidityMint, "source liquidity")
	if err != nil {
		return err
	}
	if source.Amount < req.Amount {
		return domain.Violation("source liquidity holds %d, top-up is %d", source.Amount, req.Amount)
	}

	if _, err := s.lending.DepositLiquidity(ctx, record.ReserveID, signer, req.SourceLiquidity, record.CollateralAccount, req.Amount); err != nil {
		return errors.Wrap(err, "deposit liquidity")
	}

	if err := record.AddPrincipal(req.Amount); err != nil {
		return err
	}
	if record.CollateralBalance, err = s.env.Balance(ctx, record.CollateralAccount); err != nil {
		return errors.Wrap(err, "observe collateral balance")
	}

	if err := s.records.Update(ctx, record); err != nil {
		return err
	}

	s.l.Info("record topped up",
		zap.String("record", record.ID.String()),
		zap.Uint64("amount", req.Amount),
		zap.Uint64("principal", record.LiquidityPrincipal),
		zap.Uint64("collateral", record.CollateralBalance))

	return nil
}

// Close redeems all collateral into the owner's liquidity recipient and deletes the record.
func (s *Service) Close(ctx context.Context, req CloseRequest) error {
	return s.track(ctx, journal.OpClose, req.RecordID, 0, func() error {
		return s.env.Atomically(ctx, "close:"+req.RecordID.String(), func(ctx context.Context) error {
			return s.close(ctx, req)
		})
	}, nil)
}

func (s *Service) close(ctx context.Context, req CloseRequest) error {
	record, err := s.records.Get(ctx, req.RecordID)
	if err != nil {
		return err
	}
	if err := requireOwner(record, req.Caller); err != nil {
		return err
	}
	if req.LiquidityRecipient.IsZero() {
		return domain.Violation("liquidity recipient is required")
	}

	signer, err := s.capabilityFor(ctx, record)
	if err != nil {
		return err
	}

	balance, err := s.env.Balance(ctx, record.CollateralAccount)
	if err != nil {
		return errors.Wrap(err, "observe collateral balance")
	}
	if balance > 0 {
		if err := s.lending.RedeemCollateral(ctx, record.ReserveID, signer, record.CollateralAccount, req.LiquidityRecipient, balance); err != nil {
			return errors.Wrap(err, "redeem collateral")
		}
	}

	if record.CollateralBalance, err = s.env.Balance(ctx, record.CollateralAccount); err != nil {
		return errors.Wrap(err, "observe collateral balance")
	}
	if record.CollateralBalance != 0 {
		return domain.Violation("collateral wallet still holds %d after full redemption", record.CollateralBalance)
	}

	if err := s.records.Delete(ctx, record.ID); err != nil {
		return err
	}

	s.l.Info("record closed",
		zap.String("record", record.ID.String()),
		zap.Uint64("redeemed", balance),
		zap.Uint16("cycles", record.CycleCount))

	return nil
}
