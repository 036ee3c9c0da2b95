package engine

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/yieldcron/internal/domain"
)

func (s *Service) requireOperator(caller domain.Identity) error {
	if caller != s.operator {
		return errors.Wrapf(domain.ErrInvalidAdmin, "caller %s", caller.Short())
	}
	return nil
}

func requireOwner(r *domain.DepositRecord, caller domain.Identity) error {
	if caller != r.Owner {
		return errors.Wrapf(domain.ErrOwnerMismatch, "caller %s, record %s", caller.Short(), r.ID.Short())
	}
	return nil
}
