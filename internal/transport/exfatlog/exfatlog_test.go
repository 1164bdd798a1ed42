package exfatlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(b byte) []byte {
	buf := make([]byte, BlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestBlockWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	be, err := Open("logs0", dir)
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, be.BlockWrite(0, block(0x11)))
	require.NoError(t, be.BlockWrite(1, block(0x22)))
	assert.Equal(t, 2, be.CurrentBlock())

	buf := make([]byte, BlockSize)
	n, err := be.BlockRead(1, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, BlockSize, n)
	assert.Equal(t, block(0x22), buf)
}

func TestBlockWriteRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	be, err := Open("logs0", dir)
	require.NoError(t, err)
	defer be.Close()

	err = be.BlockWrite(0, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBlockWriteRollsOverToNewFile(t *testing.T) {
	dir := t.TempDir()
	be, err := Open("dfu0", dir)
	require.NoError(t, err)
	defer be.Close()

	for i := 0; i < BlocksPerFile+1; i++ {
		require.NoError(t, be.BlockWrite(i, block(byte(i))))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "crossing the BlocksPerFile boundary opens a second file")

	buf := make([]byte, BlockSize)
	n, err := be.BlockRead(BlocksPerFile, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, BlockSize, n)
	assert.Equal(t, block(byte(BlocksPerFile%256)), buf)
}

func TestOpenCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := Open("logs0", dir)
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
