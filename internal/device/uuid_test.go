package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"16-bit UUID", "2902", "2902"},
		{"16-bit UUID with 0x prefix", "0x2902", "2902"},
		{"16-bit UUID with 0X prefix", "0X2902", "2902"},
		{"SIG base UUID with dashes", "00002902-0000-1000-8000-00805F9B34FB", "2902"},
		{"SIG base UUID without dashes", "0000290200001000800000805f9b34fb", "2902"},
		{"SIG base UUID with extra dashes", "0000-2A02-0000-1000-8000-00805F9B34FB", "2a02"},
		{"NUS service", NUSServiceUUID, "6e400001b5a3f393e0a9e50e24dcca9e"},
		{"NUS RX uppercase", "6E400002-B5A3-F393-E0A9-E50E24DCCA9E", "6e400002b5a3f393e0a9e50e24dcca9e"},
		{"custom UUID - wrong prefix", "AA002902-0000-1000-8000-00805f9b34fb", "aa00290200001000800000805f9b34fb"},
		{"custom UUID - wrong suffix", "00002902-1234-5678-9abc-def012345678", "00002902123456789abcdef012345678"},
		{"32-bit UUID", "12345678", "12345678"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUID_NoShortening(t *testing.T) {
	for _, input := range []string{
		"00002902",
		"0000290200001000800000805f9b34fb00",
	} {
		t.Run(input, func(t *testing.T) {
			result := NormalizeUUID(input)
			assert.NotEqual(t, "2902", result, "only 32-character SIG UUIDs MUST be shortened")
			assert.Equal(t, strings.ToLower(input), result)
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	result := NormalizeUUIDs([]string{"0x180d", NUSTXCharUUID})
	assert.Equal(t, []string{"180d", "6e400003b5a3f393e0a9e50e24dcca9e"}, result)
}

func TestValidateUUID(t *testing.T) {
	uuids, err := ValidateUUID(NUSServiceUUID, "0x2902")
	require.NoError(t, err)
	assert.Equal(t, []string{"6e400001b5a3f393e0a9e50e24dcca9e", "2902"}, uuids)

	_, err = ValidateUUID()
	assert.Error(t, err, "empty list MUST be rejected")

	_, err = ValidateUUID("2902", "")
	assert.ErrorContains(t, err, "index 1")

	_, err = ValidateUUID("not-a-uuid")
	assert.ErrorContains(t, err, "invalid UUID format")

	_, err = ValidateUUID("0000290200001000800000805f9b34fb00")
	assert.Error(t, err, "34 hex characters MUST be rejected")
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "6e400001", ShortenUUID(NormalizeUUID(NUSServiceUUID)))
	assert.Equal(t, "2902", ShortenUUID("2902"))
}
