package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToConditionIDRoundTrip(t *testing.T) {
	cases := []string{
		"1",
		"123",
		"253591",
		"533154",
		"99999999999999999999999999",
	}
	for _, id := range cases {
		hex, err := ToConditionID(id)
		require.NoError(t, err, id)
		assert.Len(t, hex, 66, "0x + 64 nibbles")
		assert.True(t, strings.HasPrefix(hex, "0x"))

		back, err := MarketIDFromCondition(hex)
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestToConditionIDPadding(t *testing.T) {
	hex, err := ToConditionID("255")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000000ff", hex)
}

func TestToConditionIDRejectsJunk(t *testing.T) {
	for _, bad := range []string{"", "  ", "abc", "0x12", "-5", "12.5"} {
		_, err := ToConditionID(bad)
		require.Error(t, err, bad)
		assert.True(t, IsKind(err, KindValidation))
	}
}

func TestIsConditionID(t *testing.T) {
	ok, err := ToConditionID("42")
	require.NoError(t, err)
	assert.True(t, IsConditionID(ok))
	assert.False(t, IsConditionID("0x123"))
	assert.False(t, IsConditionID(strings.Repeat("f", 66)))
	assert.False(t, IsConditionID("0x"+strings.Repeat("g", 64)))
}

func TestConditionIDForAcceptsBothForms(t *testing.T) {
	hex, err := ToConditionID("777")
	require.NoError(t, err)

	got, err := ConditionIDFor("777")
	require.NoError(t, err)
	assert.Equal(t, hex, got)

	got, err = ConditionIDFor(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, got)

	// uppercase nibbles normalize to lowercase
	got, err = ConditionIDFor("0x" + strings.ToUpper(hex[2:]))
	require.NoError(t, err)
	assert.Equal(t, hex, got)
}

func TestNormalizeWallet(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeWallet("  0xABCdef "))
}

func TestShortWallet(t *testing.T) {
	assert.Equal(t, "0x1234…cdef", ShortWallet("0x12345678900000000000000000000000abcdcdef"))
	assert.Equal(t, "0xab", ShortWallet("0xab"))
}
