package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payload := strings.Repeat("1\tacme\t\\N\n", 500)

	for _, alg := range []Algorithm{None, Gzip, Zstd} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(alg, &buf, Default)
			require.NoError(t, err)
			_, err = io.WriteString(w, payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(alg, &buf)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, string(got))
		})
	}
}

func TestBzip2IsReadOnly(t *testing.T) {
	_, err := NewWriter(Bzip2, io.Discard, Default)
	assert.Error(t, err)

	r, err := NewReader(Bzip2, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestNewReader_CorruptGzip(t *testing.T) {
	_, err := NewReader(Gzip, strings.NewReader("not gzip"))
	assert.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
		err  bool
	}{
		{"gzip", Gzip, false},
		{"ZSTD", Zstd, false},
		{" bzip2 ", Bzip2, false},
		{"", None, false},
		{"none", None, false},
		{"lz4", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromKey(t *testing.T) {
	assert.Equal(t, Gzip, FromKey("unload/orders/0000_part_00.gz", None))
	assert.Equal(t, Zstd, FromKey("unload/orders/0000_part_00.zst", None))
	assert.Equal(t, Bzip2, FromKey("unload/orders/0000_part_00.bz2", None))
	assert.Equal(t, Gzip, FromKey("unload/orders/0000_part_00", Gzip))
}
