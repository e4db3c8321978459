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
	payload := []byte(strings.Repeat("id,name\n1,alice\n2,bob\n", 64))

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(alg, &buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(alg, bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			out, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, out)
		})
	}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, Gzip, Detect("out/users.csv.gz"))
	assert.Equal(t, Zstd, Detect("users.jsonl.ZST"))
	assert.Equal(t, LZ4, Detect("a.avro.lz4"))
	assert.Equal(t, None, Detect("users.csv"))

	assert.Equal(t, "out/users.csv", Strip("out/users.csv.gz"))
	assert.Equal(t, "users.csv", Strip("users.csv"))
	assert.Equal(t, ".zst", Zstd.Extension())
	assert.Empty(t, None.Extension())
}

func TestParse(t *testing.T) {
	alg, err := Parse(" GZIP ")
	require.NoError(t, err)
	assert.Equal(t, Gzip, alg)

	alg, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = Parse("brotli")
	assert.Error(t, err)
}
