package utils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestShortenLargeNumber(t *testing.T) {
	cases := map[float64]string{
		0:             "0",
		1000:          "1000",
		1001:          "1001",
		9999:          "9999",
		10_000:        "10k",
		11_100:        "11.1k",
		999_000:       "999k",
		1_000_000:     "1M",
		1_100_000:     "1.1M",
		1_000_000_000: "1B",
		1_100_000_001: "1.1B",
		999_940:       "999.9k",
		999_950:       "1M",
		999_999:       "1M",
		999_940_000:   "999.9M",
		999_960_000:   "1B",
		-999_999:      "-1M",
		2.5e12:        "2500B",
	}
	for in, out := range cases {
		require.Equal(t, out, ShortenLargeNumber(in), "%v", in)
	}
}

func TestFormatNumber(t *testing.T) {
	require.Equal(t, 0.0, FormatNumber(0, 4))
	require.Equal(t, 1.2346, FormatNumber(1.23456, 4))
	require.Equal(t, 2.0, FormatNumber(1.5, 0))
	require.Equal(t, 0.00001, FormatNumber(0.000001, 5))
	require.Equal(t, 0.1, FormatNumber(0.01, 1))
	require.Equal(t, -1.2, FormatNumber(-1.23, 1))
}

func TestFormatAccountBalance(t *testing.T) {
	require.Equal(t, "1.2346 ETH", FormatAccountBalance(1.23456, "ETH", nil, ""))
	require.Equal(t, "0.12346 ETH", FormatAccountBalance(0.123456, "ETH", nil, ""))
	require.Equal(t, "0 ETH", FormatAccountBalance(0, "ETH", nil, ""))

	fiat := 12_345.67
	require.Equal(t, "3.5 ETH ($12.3k)", FormatAccountBalance(3.456, "ETH", &fiat, "$"))

	// a fiat value without a symbol is not shown
	require.Equal(t, "3.456 ETH", FormatAccountBalance(3.456, "ETH", &fiat, ""))
}

func TestShortenAddress(t *testing.T) {
	addr := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.Equal(t, "0x5aAe...eAed", ShortenAddress(addr))
}
