package compound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(it *Blocks) []Block {
	var out []Block
	for {
		b, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestBlocksCoverExtentExactly(t *testing.T) {
	cases := []struct {
		name      string
		extent    uint64
		blockSize uint64
		want      int
	}{
		{"even split", 100, 25, 4},
		{"short tail", 10, 4, 3},
		{"single block", 5, 10, 1},
		{"one record blocks", 3, 1, 3},
		{"whole extent", 7, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks := collect(NewBlocks(tc.extent, tc.blockSize))
			require.Len(t, blocks, tc.want)

			var next, total uint64
			for i, b := range blocks {
				assert.Equal(t, uint64(i), b.Index)
				assert.Equal(t, next, b.Offset, "blocks must be contiguous and ascending")
				assert.NotZero(t, b.Length)
				next = b.Offset + b.Length
				total += b.Length
			}
			assert.Equal(t, tc.extent, total, "blocks must cover the extent exactly")
		})
	}
}

func TestBlocksShortFinalWindow(t *testing.T) {
	blocks := collect(NewBlocks(10, 4))
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(4), blocks[0].Length)
	assert.Equal(t, uint64(4), blocks[1].Length)
	assert.Equal(t, uint64(2), blocks[2].Length)
}

func TestBlocksEmptyExtent(t *testing.T) {
	it := NewBlocks(0, 16)
	_, ok := it.Next()
	assert.False(t, ok)
	assert.Zero(t, it.Remaining())
}

func TestBlocksIsSinglePass(t *testing.T) {
	it := NewBlocks(6, 3)
	assert.Equal(t, uint64(6), it.Remaining())
	_, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(3), it.Remaining())

	collect(it)
	_, ok = it.Next()
	assert.False(t, ok, "an exhausted iterator stays exhausted")
}
