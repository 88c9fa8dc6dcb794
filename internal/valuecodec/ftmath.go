package valuecodec

import (
	"fmt"
	"math/big"
)

// AddBalance returns balance + amount as a decimal string, using
// arbitrary-precision arithmetic so fungible-token supplies are never
// bounded by a fixed-width integer type.
func AddBalance(balance, amount string) (string, error) {
	b, err := parseNonNegative(balance)
	if err != nil {
		return "", fmt.Errorf("balance: %w", err)
	}
	a, err := parseNonNegative(amount)
	if err != nil {
		return "", fmt.Errorf("amount: %w", err)
	}
	return new(big.Int).Add(b, a).String(), nil
}

// SubBalance returns balance - amount as a decimal string. ok is false if
// the result would be negative (an underflow), which callers MUST treat as
// a fatal invariant violation, never a silent clamp to zero.
func SubBalance(balance, amount string) (result string, ok bool, err error) {
	b, err := parseNonNegative(balance)
	if err != nil {
		return "", false, fmt.Errorf("balance: %w", err)
	}
	a, err := parseNonNegative(amount)
	if err != nil {
		return "", false, fmt.Errorf("amount: %w", err)
	}
	if b.Cmp(a) < 0 {
		return "", false, nil
	}
	return new(big.Int).Sub(b, a).String(), true, nil
}

func parseNonNegative(s string) (*big.Int, error) {
	if s == "" {
		s = "0"
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return n, nil
}
