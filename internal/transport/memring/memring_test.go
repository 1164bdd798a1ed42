package memring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infuse/internal/infuseerr"
)

func block(b byte, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestBlockWriteReadRoundTrip(t *testing.T) {
	r := New("ring0", 16, 4, 0)
	require.NoError(t, r.BlockWrite(0, block(0xAA, 16)))

	buf := make([]byte, 16)
	n, err := r.BlockRead(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, block(0xAA, 16), buf)
}

func TestBlockWriteWraps(t *testing.T) {
	r := New("ring0", 8, 2, 0)
	require.NoError(t, r.BlockWrite(0, block(1, 8)))
	require.NoError(t, r.BlockWrite(1, block(2, 8)))
	require.NoError(t, r.BlockWrite(2, block(3, 8))) // wraps into slot 0, overwriting block 0

	buf := make([]byte, 8)
	_, err := r.BlockRead(0, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, block(3, 8), buf, "slot 0 now holds logical block 2's data")

	assert.Equal(t, 3, r.CurrentBlock())
}

func TestBlockReadUnwritten(t *testing.T) {
	r := New("ring0", 8, 2, 0)
	buf := make([]byte, 8)
	_, err := r.BlockRead(0, 0, buf)
	assert.ErrorIs(t, err, infuseerr.ErrNotSupported)
}

func TestBlockWriteWrongSize(t *testing.T) {
	r := New("ring0", 8, 2, 0)
	err := r.BlockWrite(0, []byte{1, 2, 3})
	assert.ErrorIs(t, err, infuseerr.ErrMalformed)
}

func TestBlockErase(t *testing.T) {
	r := New("ring0", 8, 2, 0)
	require.NoError(t, r.BlockWrite(0, block(1, 8)))
	require.NoError(t, r.BlockErase(0, 1))

	buf := make([]byte, 8)
	_, err := r.BlockRead(0, 0, buf)
	assert.ErrorIs(t, err, infuseerr.ErrNotSupported)
}
