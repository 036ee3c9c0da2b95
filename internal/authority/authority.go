// Package authority derives delegated signing identities and issues capabilities for them.
//
// A capability carries the seeds it was derived from, never key material. The execution
// environment accepts a capability only after re-deriving its identity from those seeds.
package authority

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

const derivationTag = "yieldcron/authority/v1"

// Derive returns the delegated identity for (owner, resource, nonce).
func Derive(owner, resource domain.Identity, nonce uint8) domain.Identity {
	return domain.Identity(crypto.Keccak256Hash(
		[]byte(derivationTag),
		owner[:],
		resource[:],
		[]byte{nonce},
	))
}

// Seeds are the derivation inputs of an authority.
type Seeds struct {
	Owner    domain.Identity
	Resource domain.Identity
	Nonce    uint8
}

// Address derives the identity for the seeds.
func (s Seeds) Address() domain.Identity {
	return Derive(s.Owner, s.Resource, s.Nonce)
}

// Capability permits signing as a derived identity.
// The zero value is not valid and is rejected by Verify.
type Capability struct {
	seeds Seeds
	id    domain.Identity
}

// Issue recomputes the derivation and returns a capability when it matches expected.
func Issue(seeds Seeds, expected domain.Identity) (Capability, error) {
	if expected.IsZero() {
		return Capability{}, errors.Wrap(domain.ErrInvalidDerivedAuthority, "expected authority is unset")
	}

	derived := seeds.Address()
	if derived != expected {
		return Capability{}, errors.Wrapf(domain.ErrInvalidDerivedAuthority,
			"derived %s, constrained to %s", derived.Short(), expected.Short())
	}

	return Capability{seeds: seeds, id: derived}, nil
}

// ForSeeds issues a capability for whatever identity the seeds derive to.
// Programs use it for their own vault authorities.
func ForSeeds(seeds Seeds) Capability {
	return Capability{seeds: seeds, id: seeds.Address()}
}

// Identity returns the address the capability signs as.
func (c Capability) Identity() domain.Identity {
	return c.id
}

// Seeds returns the derivation inputs.
func (c Capability) Seeds() Seeds {
	return c.seeds
}

// Verify re-derives the capability identity and rejects it on mismatch.
func Verify(c Capability) error {
	if c.id.IsZero() {
		return errors.Wrap(domain.ErrInvalidDerivedAuthority, "empty capability")
	}
	if c.seeds.Address() != c.id {
		return errors.Wrapf(domain.ErrInvalidDerivedAuthority, "capability for %s does not re-derive", c.id.Short())
	}
	return nil
}
