package lending

import (
	context "context"

	authority "github.com/vadiminshakov/yieldcron/internal/authority"
	domain "github.com/vadiminshakov/yieldcron/internal/domain"

	mock "github.com/stretchr/testify/mock"
)

// LendingGateway is a mock type for the lendingGateway type
type LendingGateway struct {
	mock.Mock
}

// CurrentExchangeRate provides a mock function with given fields: ctx, reserveID
func (_m *LendingGateway) CurrentExchangeRate(ctx context.Context, reserveID domain.Identity) (domain.ExchangeRate, error) {
	ret := _m.Called(ctx, reserveID)

	var r0 domain.ExchangeRate
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity) (domain.ExchangeRate, error)); ok {
		return rf(ctx, reserveID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity) domain.ExchangeRate); ok {
		r0 = rf(ctx, reserveID)
	} else {
		r0 = ret.Get(0).(domain.ExchangeRate)
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.Identity) error); ok {
		r1 = rf(ctx, reserveID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// DepositLiquidity provides a mock function with given fields: ctx, reserveID, signer, source, dest, amount
func (_m *LendingGateway) DepositLiquidity(ctx context.Context, reserveID domain.Identity, signer authority.Capability, source domain.Identity, dest domain.Identity, amount uint64) (uint64, error) {
	ret := _m.Called(ctx, reserveID, signer, source, dest, amount)

	var r0 uint64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity, authority.Capability, domain.Identity, domain.Identity, uint64) (uint64, error)); ok {
		return rf(ctx, reserveID, signer, source, dest, amount)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity, authority.Capability, domain.Identity, domain.Identity, uint64) uint64); ok {
		r0 = rf(ctx, reserveID, signer, source, dest, amount)
	} else {
		r0 = ret.Get(0).(uint64)
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.Identity, authority.Capability, domain.Identity, domain.Identity, uint64) error); ok {
		r1 = rf(ctx, reserveID, signer, source, dest, amount)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// RedeemCollateral provides a mock function with given fields: ctx, reserveID, signer, source, dest, amount
func (_m *LendingGateway) RedeemCollateral(ctx context.Context, reserveID domain.Identity, signer authority.Capability, source domain.Identity, dest domain.Identity, amount uint64) error {
	ret := _m.Called(ctx, reserveID, signer, source, dest, amount)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity, authority.Capability, domain.Identity, domain.Identity, uint64) error); ok {
		r0 = rf(ctx, reserveID, signer, source, dest, amount)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// ReserveMints provides a mock function with given fields: ctx, reserveID
func (_m *LendingGateway) ReserveMints(ctx context.Context, reserveID domain.Identity) (domain.Identity, domain.Identity, error) {
	ret := _m.Called(ctx, reserveID)

	var r0 domain.Identity
	var r1 domain.Identity
	var r2 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity) (domain.Identity, domain.Identity, error)); ok {
		return rf(ctx, reserveID)
	}
	r0 = ret.Get(0).(domain.Identity)
	r1 = ret.Get(1).(domain.Identity)
	r2 = ret.Error(2)

	return r0, r1, r2
}

// NewLendingGateway creates a new instance of LendingGateway. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewLendingGateway(t interface {
	mock.TestingT
	Cleanup(func())
}) *LendingGateway {
	m := &LendingGateway{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
