// Package common contains types and helpers shared by the gateway packages.
package common

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd"
	"github.com/jackc/pgx/v5/pgtype"
)

// Arithmetic on token amounts is exact up to this many significant digits,
// comfortably above the 18 decimal places plus 2^192 range of on-ledger amounts.
var decimalCtx = apd.BaseContext.WithPrecision(100)

// TokenAmount is an arbitrary-precision decimal amount of a resource.
// It is stored as NUMERIC.
type TokenAmount struct {
	d apd.Decimal
}

// ZeroTokenAmount returns an amount of zero.
func ZeroTokenAmount() TokenAmount {
	return TokenAmount{}
}

// NewTokenAmountFromInt64 returns the amount v.
func NewTokenAmountFromInt64(v int64) TokenAmount {
	var a TokenAmount
	a.d.SetInt64(v)
	return a
}

// ParseTokenAmount parses a decimal string such as "12.5".
func ParseTokenAmount(s string) (TokenAmount, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("parse token amount %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return TokenAmount{}, fmt.Errorf("parse token amount %q: not a finite number", s)
	}
	return TokenAmount{d: *d}, nil
}

// Add returns a + b.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	var out TokenAmount
	if _, err := decimalCtx.Add(&out.d, &a.d, &b.d); err != nil {
		// Only reachable on overflow of the 100 digit context.
		panic(fmt.Sprintf("token amount overflow: %s + %s", a, b))
	}
	return out
}

// Cmp compares a and b, returning -1, 0 or 1.
func (a TokenAmount) Cmp(b TokenAmount) int {
	return a.d.Cmp(&b.d)
}

// IsZero reports whether the amount is zero.
func (a TokenAmount) IsZero() bool {
	return a.d.IsZero()
}

// String returns the plain decimal notation of the amount.
func (a TokenAmount) String() string {
	return a.d.Text('f')
}

// MarshalText implements encoding.TextMarshaler.
func (a TokenAmount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *TokenAmount) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler, used by the CBOR cache.
func (a TokenAmount) MarshalBinary() ([]byte, error) {
	return a.MarshalText()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *TokenAmount) UnmarshalBinary(data []byte) error {
	return a.UnmarshalText(data)
}

// NumericValue implements pgtype.NumericValuer so amounts can be bound
// directly as query arguments and COPY values.
func (a TokenAmount) NumericValue() (pgtype.Numeric, error) {
	coeff := new(big.Int).Set(&a.d.Coeff)
	if a.d.Negative {
		coeff.Neg(coeff)
	}
	return pgtype.Numeric{Int: coeff, Exp: a.d.Exponent, Valid: true}, nil
}

// ScanNumeric implements pgtype.NumericScanner.
func (a *TokenAmount) ScanNumeric(v pgtype.Numeric) error {
	if !v.Valid {
		return fmt.Errorf("cannot scan NULL into TokenAmount")
	}
	if v.NaN || v.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("cannot scan non-finite numeric into TokenAmount")
	}
	var d apd.Decimal
	d.Coeff.Abs(v.Int)
	d.Negative = v.Int.Sign() < 0
	d.Exponent = v.Exp
	a.d = d
	return nil
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}
