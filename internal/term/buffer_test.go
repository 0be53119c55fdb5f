package term

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteRead(t *testing.T) {
	b := NewBuffer(16)

	evicted := b.Write([]byte("hello"))
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 5, b.Len())

	out := make([]byte, 16)
	n := b.Read(out)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out[:n]))
	assert.Equal(t, 0, b.Len())
}

func TestBufferPartialRead(t *testing.T) {
	b := NewBuffer(16)
	b.Write([]byte("abcdef"))

	out := make([]byte, 2)
	assert.Equal(t, 2, b.Read(out))
	assert.Equal(t, "ab", string(out))

	assert.Equal(t, 2, b.Read(out))
	assert.Equal(t, "cd", string(out))
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, 2, b.Read(out))
	assert.Equal(t, "ef", string(out))
	assert.Equal(t, 0, b.Read(out))
}

func TestBufferEvictsOldestOnOverflow(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("12345678"))

	evicted := b.Write([]byte("AB"))
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 8, b.Len())

	out := make([]byte, 8)
	n := b.Read(out)
	require.Equal(t, 8, n)
	assert.Equal(t, "345678AB", string(out))
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestBufferWriteLargerThanCapacity(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte("xy"))

	evicted := b.Write([]byte("abcdefgh"))
	assert.Equal(t, 6, evicted) // 2 buffered + 4 dropped from the payload

	out := make([]byte, 4)
	n := b.Read(out)
	require.Equal(t, 4, n)
	assert.Equal(t, "efgh", string(out))
}

func TestBufferRetainsMostRecentInOrder(t *testing.T) {
	const capacity = 32
	b := NewBuffer(capacity)

	var written []byte
	for i := 0; i < 20; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, 5)
		written = append(written, chunk...)
		b.Write(chunk)
	}

	out := make([]byte, capacity)
	n := b.Read(out)
	require.Equal(t, capacity, n)
	assert.Equal(t, written[len(written)-capacity:], out[:n])
}

func TestBufferWrapAround(t *testing.T) {
	b := NewBuffer(8)
	out := make([]byte, 8)

	// Force head to advance past the middle, then wrap a write.
	b.Write([]byte("abcdef"))
	require.Equal(t, 4, b.Read(out[:4]))
	b.Write([]byte("ghijk"))

	n := b.Read(out)
	require.Equal(t, 7, n)
	assert.Equal(t, "efghijk", string(out[:n]))
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("data"))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Read(make([]byte, 8)))
}
