package decimal

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

func TestToString(t *testing.T) {
	require.Equal(t, "1.135", String(MustNew("1.135", Ether), Ether))
	require.Equal(t, "1000", String(new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether)), Ether))
	require.Equal(t, "0.000000000000000001", String(big.NewInt(1), Ether))
	require.Equal(t, "0.000000123456789012", String(big.NewInt(123456789012), Ether))
	require.Equal(t, "-0.000000001", String(big.NewInt(-1), Gwei))
}

func TestRound(t *testing.T) {
	require.Equal(t, "2.0000", Round(big.NewInt(2*params.Ether), Ether, 4))
	require.Equal(t, "1.50", Round(big.NewInt(1499999999), Gwei, 2))
	require.Equal(t, "0.000", Round(big.NewInt(1), Ether, 3))
}

func TestNew(t *testing.T) {
	wei, err := New("2.5", Ether)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2500000000000000000), wei)

	_, err = New("0.0000000001", Gwei)
	require.Error(t, err)

	_, err = New("one", Ether)
	require.Error(t, err)
}
