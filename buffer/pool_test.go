package buffer

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRoundsUpToSizeClass(t *testing.T) {
	cases := []struct {
		size    int
		wantCap int
	}{
		{0, MinSize},
		{1, MinSize},
		{MinSize, MinSize},
		{MinSize + 1, 2 * MinSize},
		{3000, 4096},
		{MaxPooledSize, MaxPooledSize},
	}
	for _, tc := range cases {
		buf := Get(tc.size)
		assert.Len(t, buf, tc.size)
		assert.Equal(t, tc.wantCap, cap(buf), "size %d", tc.size)
		require.NoError(t, Put(buf))
	}

	big := Get(MaxPooledSize + 1)
	assert.Len(t, big, MaxPooledSize+1)
	assert.Error(t, Put(big))
}

func TestPutRejectsForeignSlices(t *testing.T) {
	assert.Error(t, Put(make([]byte, 100)))
	assert.Error(t, Put(make([]byte, 0, 3000)))
	assert.NoError(t, Put(make([]byte, 0, 4096)))
}

func TestReadAllGrowsAcrossClasses(t *testing.T) {
	payload := strings.Repeat("zone", 40_000)
	b, err := ReadAll(iotest.HalfReader(strings.NewReader(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, string(b.Bytes()))
	assert.Equal(t, len(payload), b.Len())

	b.Release()
	b.Release()
	assert.Nil(t, b.Bytes())
}

func TestReadAllPropagatesErrors(t *testing.T) {
	boom := errors.New("reset")
	_, err := ReadAll(iotest.ErrReader(boom))
	assert.ErrorIs(t, err, boom)

	b, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}
