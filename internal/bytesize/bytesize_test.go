package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"1024B", 1024},
		{"64Ki", 64 * KiB},
		{"64KiB", 64 * KiB},
		{"1Mi", MiB},
		{"2Gi", 2 * GiB},
		{"1Ti", TiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"3GB", 3 * GB},
		{"1TB", TB},
		{"1.5Ki", ByteSize(1536)},
		{" 8 Mi ", 8 * MiB},
		{"64ki", 64 * KiB},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "  ", "Ki", "12Q", "12.3.4Mi", "-5Ki"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size     ByteSize
		expected string
	}{
		{0, "0B"},
		{512, "512B"},
		{KiB, "1.00KiB"},
		{64 * KiB, "64.00KiB"},
		{MiB, "1.00MiB"},
		{ByteSize(1536 * 1024), "1.50MiB"},
		{GiB, "1.00GiB"},
		{TiB, "1.00TiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.size.String())
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("16Mi")))
	assert.Equal(t, 16*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("sixteen")))
}
