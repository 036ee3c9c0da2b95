package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidDerivedAuthority recomputed authority does not match the constrained one.
	ErrInvalidDerivedAuthority = errors.New("invalid authority derivation")
	// ErrInvalidAdmin privileged operation called by someone other than the operator.
	ErrInvalidAdmin = errors.New("privileged instruction called by incorrect admin")
	// ErrSlippageExceeded trade proceeds below the accepted floor.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")
	// ErrNoYieldToRedeem held collateral is not worth more than the principal.
	ErrNoYieldToRedeem = errors.New("no yield to redeem")
	// ErrCycleCounterExhausted the record cannot count another cycle.
	ErrCycleCounterExhausted = errors.New("cycle counter exhausted")
	// ErrTopUpWalletMismatch top-up routed to a wallet other than the record's collateral account.
	ErrTopUpWalletMismatch = errors.New("top-up targets a different collateral account")
	// ErrPreconditionViolation wallet ownership, balance or sizing precondition failed.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrSwapTokensCannotMatch is reserved: no code path returns it.
	ErrSwapTokensCannotMatch = errors.New("the tokens being swapped must have different mints")
	// ErrCollateralAccountIsEmpty is reserved: no code path returns it.
	ErrCollateralAccountIsEmpty = errors.New("collateral account is already empty")

	ErrRecordNotFound = errors.New("deposit record not found")
	ErrRecordExists   = errors.New("deposit record already exists")
	ErrOwnerMismatch  = errors.New("caller is not the record owner")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidDerivedAuthority, "InvalidDerivedAuthority"},
	{ErrInvalidAdmin, "InvalidAdmin"},
	{ErrSlippageExceeded, "SlippageExceeded"},
	{ErrNoYieldToRedeem, "NoYieldToRedeem"},
	{ErrCycleCounterExhausted, "CycleCounterExhausted"},
	{ErrTopUpWalletMismatch, "TopUpWalletMismatch"},
	{ErrPreconditionViolation, "PreconditionViolation"},
	{ErrSwapTokensCannotMatch, "SwapTokensCannotMatch"},
	{ErrCollateralAccountIsEmpty, "CollateralAccountIsEmpty"},
	{ErrRecordNotFound, "RecordNotFound"},
	{ErrRecordExists, "RecordExists"},
	{ErrOwnerMismatch, "OwnerMismatch"},
}

// ErrorKind returns the stable name of the first taxonomy error found in err's chain.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Unknown"
}

// Retryable reports whether resubmitting with fresh parameters may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlippageExceeded) || errors.Is(err, ErrNoYieldToRedeem)
}

// Violation wraps ErrPreconditionViolation with a formatted reason.
func Violation(format string, args ...any) error {
	return errors.Wrapf(ErrPreconditionViolation, format, args...)
}
