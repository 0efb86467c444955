package ethnode

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.001", "1000000000000000"},
		{"0.000000000000000001", "1"},
		{"2.5", "2500000000000000000"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := ParseEther(tt.in)
		require.NoError(t, err, tt.in)
		want, ok := new(big.Int).SetString(tt.want, 10)
		require.True(t, ok)
		assert.Zero(t, got.Cmp(want), "ParseEther(%q) = %s, want %s", tt.in, got, tt.want)
	}
}

func TestParseEtherRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"abc",
		"-1",
		"0.0000000000000000001", // sub-wei
	} {
		_, err := ParseEther(in)
		assert.Error(t, err, in)
	}
}

func TestValidateAddress(t *testing.T) {
	addr, err := ValidateAddress("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	require.NoError(t, err)
	// Checksummed form comes back regardless of input casing.
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr.Hex())

	_, err = ValidateAddress("not-an-address")
	assert.Error(t, err)

	_, err = ValidateAddress("0x1234")
	assert.Error(t, err)
}

func TestFeeCap(t *testing.T) {
	got := FeeCap(big.NewInt(100), big.NewInt(2))
	assert.Equal(t, int64(202), got.Int64())

	// Inputs must not be mutated.
	base := big.NewInt(50)
	tip := big.NewInt(7)
	_ = FeeCap(base, tip)
	assert.Equal(t, int64(50), base.Int64())
	assert.Equal(t, int64(7), tip.Int64())
}
