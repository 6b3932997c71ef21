package ethunit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEthToWei(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0", "0"},
		{"1.5", "1500000000000000000"},
		{"0.000000000000000001", "1"},
		{"100", "100000000000000000000"},
		{"100.0", "100000000000000000000"},
		{".5", "500000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseEthToWei(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestParseEthToWeiRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "-1", "1.2345678901234567890", "abc"} {
		_, err := ParseEthToWei(in)
		assert.Error(t, err, in)
	}
}

func TestWeiToEthStringRoundTrips(t *testing.T) {
	for _, s := range []string{"1", "1.5", "0.000000000000000001", "100"} {
		wei, err := ParseEthToWei(s)
		require.NoError(t, err)
		assert.Equal(t, s, trimTrailingZero(t, wei), s)
	}
}

// TestThresholdExactness covers spec.md S7: 100 ETH exactly is admitted, but a
// value a tiny fraction below it is not, via exact integer comparison.
func TestThresholdExactness(t *testing.T) {
	threshold, err := ParseEthToWei("100")
	require.NoError(t, err)

	exact, err := ParseEthToWei("100")
	require.NoError(t, err)
	require.Zero(t, exact.Cmp(threshold))

	justUnder := new(big.Int).Sub(threshold, big.NewInt(1))
	assert.Equal(t, -1, justUnder.Cmp(threshold))
}

func trimTrailingZero(t *testing.T, wei *big.Int) string {
	t.Helper()
	return WeiToEthString(wei)
}
