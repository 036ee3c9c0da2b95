package exchange

import (
	context "context"

	authority "github.com/vadiminshakov/yieldcron/internal/authority"
	domain "github.com/vadiminshakov/yieldcron/internal/domain"

	mock "github.com/stretchr/testify/mock"
)

// ExchangeGateway is a mock type for the exchangeGateway type
type ExchangeGateway struct {
	mock.Mock
}

// Market provides a mock function with given fields: ctx, id
func (_m *ExchangeGateway) Market(ctx context.Context, id domain.Identity) (domain.Market, error) {
	ret := _m.Called(ctx, id)

	var r0 domain.Market
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity) (domain.Market, error)); ok {
		return rf(ctx, id)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.Identity) domain.Market); ok {
		r0 = rf(ctx, id)
	} else {
		r0 = ret.Get(0).(domain.Market)
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.Identity) error); ok {
		r1 = rf(ctx, id)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// PlaceImmediateOrCancelOrder provides a mock function with given fields: ctx, signer, req
func (_m *ExchangeGateway) PlaceImmediateOrCancelOrder(ctx context.Context, signer authority.Capability, req domain.OrderRequest) error {
	ret := _m.Called(ctx, signer, req)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, authority.Capability, domain.OrderRequest) error); ok {
		r0 = rf(ctx, signer, req)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Settle provides a mock function with given fields: ctx, signer, marketID, openOrders, coinWallet, pcWallet
func (_m *ExchangeGateway) Settle(ctx context.Context, signer authority.Capability, marketID domain.Identity, openOrders domain.Identity, coinWallet domain.Identity, pcWallet domain.Identity) error {
	ret := _m.Called(ctx, signer, marketID, openOrders, coinWallet, pcWallet)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, authority.Capability, domain.Identity, domain.Identity, domain.Identity, domain.Identity) error); ok {
		r0 = rf(ctx, signer, marketID, openOrders, coinWallet, pcWallet)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewExchangeGateway creates a new instance of ExchangeGateway. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewExchangeGateway(t interface {
	mock.TestingT
	Cleanup(func())
}) *ExchangeGateway {
	m := &ExchangeGateway{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
