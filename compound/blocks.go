package compound

// Block is one window of a record dataset. Offset and Length are in
// records, not bytes.
type Block struct {
	Index  uint64
	Offset uint64
	Length uint64
}

// Blocks walks a dataset extent in natural windows: every window is
// blockSize records except possibly the last, windows are contiguous
// and ascending, and together they cover the extent exactly. The
// iterator is single-pass and not restartable.
type Blocks struct {
	extent uint64
	size   uint64
	next   uint64
	index  uint64
}

// NewBlocks returns an iterator over extent records in windows of
// blockSize. A zero blockSize yields a single window spanning the
// whole extent.
func NewBlocks(extent, blockSize uint64) *Blocks {
	if blockSize == 0 || blockSize > extent {
		blockSize = extent
	}
	return &Blocks{extent: extent, size: blockSize}
}

// Next returns the following window. ok is false once the extent is
// exhausted; an empty extent yields no windows at all.
func (b *Blocks) Next() (blk Block, ok bool) {
	if b.next >= b.extent {
		return Block{}, false
	}
	n := b.size
	if rest := b.extent - b.next; rest < n {
		n = rest
	}
	blk = Block{Index: b.index, Offset: b.next, Length: n}
	b.next += n
	b.index++
	return blk, true
}

// Remaining reports how many records the iterator has not yet handed
// out.
func (b *Blocks) Remaining() uint64 {
	if b.next >= b.extent {
		return 0
	}
	return b.extent - b.next
}
