// Package domain defines core data structures shared by the engine, the gateways and the stores.
package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// IdentityLength is the byte length of every address handled by the engine.
const IdentityLength = 32

// Identity is an address of a wallet, a mint, a record or a signer.
type Identity [IdentityLength]byte

// ParseIdentity decodes a 0x-prefixed hex address.
func ParseIdentity(s string) (Identity, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "decode identity %q", s)
	}
	if len(raw) != IdentityLength {
		return Identity{}, errors.Errorf("identity %q has %d bytes, want %d", s, len(raw), IdentityLength)
	}

	var id Identity
	copy(id[:], raw)
	return id, nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewIdentity allocates a fresh random address.
func NewIdentity() Identity {
	u := uuid.New()
	return Identity(crypto.Keccak256Hash(u[:]))
}

// IdentityFromLabel returns a stable address for a human readable label.
func IdentityFromLabel(label string) Identity {
	return Identity(crypto.Keccak256Hash([]byte(label)))
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// String returns the 0x-prefixed hex form.
func (i Identity) String() string {
	return common.Hash(i).Hex()
}

// Short returns an abbreviated form for logs.
func (i Identity) Short() string {
	return common.Hash(i).TerminalString()
}

// MarshalText implements encoding.TextMarshaler.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(text []byte) error {
	id, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = id
	return nil
}
