package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAlgorithm(t *testing.T) {
	tests := []struct {
		filename string
		expected Algorithm
	}{
		{"backup.sqlite.gz", Gzip},
		{"backup.sqlite.lz4", Lz4},
		{"backup.sqlite.zst", Zstd},
		{"backup.sqlite", None},
		{"no_extension", None},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectAlgorithm(tt.filename))
			assert.Equal(t, tt.expected, DetectAlgorithm("x"+tt.expected.Ext()))
		})
	}
}

func TestParse(t *testing.T) {
	a, err := Parse(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	a, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	_, err = Parse("brotli")
	assert.EqualError(t, err, "unsupported compression algorithm: brotli")
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("SQLite format 3\x00 grades 2024/2025 "), 2048)

	for _, algo := range []Algorithm{None, Gzip, Lz4, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, algo)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if algo != None {
				assert.Less(t, buf.Len(), len(payload))
			}

			r, err := NewReader(&buf, algo)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}
