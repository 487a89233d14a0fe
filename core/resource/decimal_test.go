package resource

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func TestDecimalParseAndFormat(t *testing.T) {
	cases := map[string]string{
		"1":                    "1",
		"-1.50":                "-1.5",
		"0.000000000000000001": "0.000000000000000001",
		".5":                   "0.5",
		"123456789.123456789":  "123456789.123456789",
	}
	for in, want := range cases {
		d, err := ParseDecimal(in)
		require.NoError(t, err, in)
		require.Equal(t, want, d.String())
	}
	for _, bad := range []string{"", "abc", "1.0000000000000000001", "-", "1.2.3"} {
		if _, err := ParseDecimal(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDecimalRounding(t *testing.T) {
	cases := []struct {
		in   string
		mode RoundingMode
		want string
	}{
		{"1.25", ToNearestMidpointToEven, "1.2"},
		{"1.35", ToNearestMidpointToEven, "1.4"},
		{"1.25", ToNearestMidpointAwayFromZero, "1.3"},
		{"1.25", ToNearestMidpointTowardZero, "1.2"},
		{"-1.21", ToPositiveInfinity, "-1.2"},
		{"-1.21", ToNegativeInfinity, "-1.3"},
		{"1.21", AwayFromZero, "1.3"},
		{"-1.29", ToZero, "-1.2"},
	}
	for _, tc := range cases {
		got := dec(tc.in).Round(1, tc.mode)
		require.Equal(t, tc.want, got.String(), "%s mode %d", tc.in, tc.mode)
	}
}

// Constant product swap with a 0.3% fee: B_out = B - A*B/(A + in*(1-fee)).
func TestSwapGoldenValue(t *testing.T) {
	a, b := dec("1000"), dec("1000")
	fee := dec("0.003")
	in := dec("100")
	inAfterFee := in.Mul(NewDecimal(1).Sub(fee))
	k := a.Mul(b)
	rest, err := k.Div(a.Add(inAfterFee))
	require.NoError(t, err)
	out := b.Sub(rest)
	require.Equal(t, "99.7", inAfterFee.String())
	require.Equal(t, "90.661089388014913159", out.String())
}

func TestDecimalRLP(t *testing.T) {
	for _, s := range []string{"0", "-3.25", "1000000000000"} {
		raw, err := rlp.EncodeToBytes(dec(s))
		require.NoError(t, err)
		var back Decimal
		require.NoError(t, rlp.DecodeBytes(raw, &back))
		require.Equal(t, s, back.String())
	}
	_, err := dec("1").Div(Decimal{})
	require.Error(t, err)
}
