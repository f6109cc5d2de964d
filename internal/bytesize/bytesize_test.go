package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1024B", 1024, false},
		{"1Ki", 1024, false},
		{"1KiB", 1024, false},
		{"100Mi", 100 * MiB, false},
		{"1Gi", GiB, false},
		{"1gi", GiB, false},
		{"2Ti", 2 * TiB, false},
		{"1K", 1000, false},
		{"100MB", 100 * MB, false},
		{"1.5Mi", ByteSize(1.5 * 1024 * 1024), false},
		{"  500Mi ", 500 * MiB, false},
		{"", 0, true},
		{"Mi", 0, true},
		{"12Qi", 0, true},
		{"-1Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("256Mi")))
	assert.Equal(t, 256*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("nope")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.00KiB", KiB.String())
	assert.Equal(t, "1.50MiB", ByteSize(1.5*1024*1024).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}
