package common

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func mustAmount(t *testing.T, s string) TokenAmount {
	a, err := ParseTokenAmount(s)
	require.NoError(t, err)
	return a
}

func TestTokenAmountText(t *testing.T) {
	var v TokenAmount

	textRef := []byte("11111111111111111111.000000000000000001")
	require.NoError(t, v.UnmarshalText(textRef))
	textRoundTrip, err := v.MarshalText()
	require.NoError(t, err)
	require.Equal(t, textRef, textRoundTrip)

	jsonRef := []byte(`"-0.5"`)
	require.NoError(t, json.Unmarshal(jsonRef, &v))
	jsonRoundTrip, err := json.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, jsonRef, jsonRoundTrip)

	require.Equal(t, "-0.5", fmt.Sprintf("%v", v))
}

func TestTokenAmountRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "NaN", "Infinity"} {
		_, err := ParseTokenAmount(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestTokenAmountAdd(t *testing.T) {
	sum := mustAmount(t, "0.000000000000000001").
		Add(mustAmount(t, "1000000000000000000000")).
		Add(ZeroTokenAmount())
	require.Equal(t, "1000000000000000000000.000000000000000001", sum.String())
	require.Equal(t, 1, sum.Cmp(NewTokenAmountFromInt64(1)))
	require.True(t, ZeroTokenAmount().IsZero())
}

func TestTokenAmountNumeric(t *testing.T) {
	a := mustAmount(t, "-12.345")
	n, err := a.NumericValue()
	require.NoError(t, err)
	require.True(t, n.Valid)
	require.Equal(t, int64(-12345), n.Int.Int64())
	require.Equal(t, int32(-3), n.Exp)

	var back TokenAmount
	require.NoError(t, back.ScanNumeric(n))
	require.Equal(t, 0, a.Cmp(back))

	require.Error(t, back.ScanNumeric(pgtype.Numeric{}))
}
