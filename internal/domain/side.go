package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Side is the order side used for one conversion cycle.
// Markets quote the target asset (base) in the reserve liquidity (quote):
// Bid spends liquidity to buy the target, Ask sells the target for liquidity.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// ParseSide parses "bid" or "ask".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return SideBid, nil
	case "ask", "sell":
		return SideAsk, nil
	default:
		return 0, errors.Errorf("unknown side %q", s)
	}
}

// Valid reports whether s is Bid or Ask.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the book side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
