package progress

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsEveryInterval(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)

	var reports []int64

	// OneByteReader makes every Read return a single byte.
	pr := NewReader(iotest.OneByteReader(bytes.NewReader(data)), 100, 30, func(read, total int64) {
		assert.Equal(t, int64(100), total)
		reports = append(reports, read)
	})

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	assert.Equal(t, int64(100), n)
	assert.Equal(t, int64(100), pr.BytesRead())
	assert.Equal(t, []int64{30, 60, 90}, reports)
}

func TestReader_NilCallback(t *testing.T) {
	pr := NewReader(bytes.NewReader([]byte("abc")), 0, 1, nil)

	got, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
