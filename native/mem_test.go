package native

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDatasetLifecycle(t *testing.T) {
	m := NewMem()

	_, err := m.OpenDataset("/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	it, err := m.CreateIntegerType(4, true)
	require.NoError(t, err)
	ds, err := m.CreateDataset("/d", it, []uint64{8}, []uint64{2})
	require.NoError(t, err)

	_, err = m.CreateDataset("/d", it, []uint64{8}, nil)
	assert.ErrorIs(t, err, ErrExists)

	dims, err := m.DatasetExtent(ds)
	require.NoError(t, err)
	assert.Equal(t, []uint64{8}, dims)

	chunk, err := m.DatasetChunk(ds)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, chunk)

	require.NoError(t, m.CloseDataset(ds))
	assert.ErrorIs(t, m.CloseDataset(ds), ErrInvalidHandle)

	require.NoError(t, m.CloseType(it))
	assert.Zero(t, m.OpenHandles())

	// The path survives the handle.
	ds2, err := m.OpenDataset("/d")
	require.NoError(t, err)
	require.NoError(t, m.CloseDataset(ds2))
}

func TestMemTypeDescriptionSurvivesClose(t *testing.T) {
	m := NewMem()
	it, err := m.CreateIntegerType(8, false)
	require.NoError(t, err)
	ds, err := m.CreateDataset("/d", it, []uint64{1}, nil)
	require.NoError(t, err)
	require.NoError(t, m.CloseType(it))

	// A dataset's type handle is fresh and independently closable.
	dt, err := m.DatasetType(ds)
	require.NoError(t, err)
	cls, err := m.TypeClass(dt)
	require.NoError(t, err)
	assert.Equal(t, ClassFixedPoint, cls)
	size, err := m.TypeSize(dt)
	require.NoError(t, err)
	assert.Equal(t, 8, size)
	signed, err := m.TypeSigned(dt)
	require.NoError(t, err)
	assert.False(t, signed)

	require.NoError(t, m.CloseType(dt))
	require.NoError(t, m.CloseDataset(ds))
	assert.Zero(t, m.OpenHandles())
}

func TestMemCompoundIntrospection(t *testing.T) {
	m := NewMem()
	ct, err := m.CreateCompoundType(12)
	require.NoError(t, err)
	i64, err := m.CreateIntegerType(8, true)
	require.NoError(t, err)
	f32, err := m.CreateFloatType(4)
	require.NoError(t, err)
	require.NoError(t, m.InsertMember(ct, "id", 0, i64))
	require.NoError(t, m.InsertMember(ct, "v", 8, f32))

	assert.ErrorIs(t, m.InsertMember(ct, "id", 0, i64), ErrExists)
	assert.Error(t, m.InsertMember(ct, "beyond", 8, i64), "member past the declared size")

	n, err := m.MemberCount(ct)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	name, err := m.MemberName(ct, 1)
	require.NoError(t, err)
	assert.Equal(t, "v", name)

	mt, err := m.MemberType(ct, 1)
	require.NoError(t, err)
	cls, err := m.TypeClass(mt)
	require.NoError(t, err)
	assert.Equal(t, ClassFloatPoint, cls)
	require.NoError(t, m.CloseType(mt))
}

func TestMemArrayAndEnumTypes(t *testing.T) {
	m := NewMem()
	base, err := m.CreateIntegerType(2, true)
	require.NoError(t, err)
	at, err := m.CreateArrayType(base, []int{2, 3})
	require.NoError(t, err)

	size, err := m.TypeSize(at)
	require.NoError(t, err)
	assert.Equal(t, 12, size)
	dims, err := m.ArrayDims(at)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, dims)

	ab, err := m.ArrayBase(at)
	require.NoError(t, err)
	cls, err := m.TypeClass(ab)
	require.NoError(t, err)
	assert.Equal(t, ClassFixedPoint, cls)
	require.NoError(t, m.CloseType(ab))

	et, err := m.CreateEnumType([]string{"A", "B"}, 1)
	require.NoError(t, err)
	labels, err := m.EnumLabels(et)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, labels)

	_, err = m.CreateEnumType(nil, 1)
	assert.Error(t, err)
	_, err = m.CreateEnumType([]string{"A"}, 3)
	assert.Error(t, err)
}

func TestMemStringTypes(t *testing.T) {
	m := NewMem()
	fixed, err := m.CreateStringType(16)
	require.NoError(t, err)
	varlen, err := m.CreateStringType(-1)
	require.NoError(t, err)

	v, err := m.StringIsVariable(fixed)
	require.NoError(t, err)
	assert.False(t, v)
	v, err = m.StringIsVariable(varlen)
	require.NoError(t, err)
	assert.True(t, v)

	size, err := m.TypeSize(varlen)
	require.NoError(t, err)
	assert.Equal(t, VarRefSize, size, "a variable string occupies one reference slot")
}

func TestMemHyperslabIO(t *testing.T) {
	m := NewMem()
	it, err := m.CreateIntegerType(2, false)
	require.NoError(t, err)
	ds, err := m.CreateDataset("/d", it, []uint64{5}, nil)
	require.NoError(t, err)

	sp, err := m.CreateSpace([]uint64{5})
	require.NoError(t, err)
	require.NoError(t, m.SelectHyperslab(sp, 1, 3))
	assert.ErrorIs(t, m.SelectHyperslab(sp, 4, 2), ErrBadSelection)
	require.NoError(t, m.SelectHyperslab(sp, 1, 3))

	in := []byte{1, 0, 2, 0, 3, 0}
	require.NoError(t, m.WriteRaw(ds, it, sp, in))

	err = m.WriteRaw(ds, it, sp, []byte{1, 2})
	assert.ErrorIs(t, err, ErrTypeMismatch, "buffer length must match the selection")

	out := make([]byte, 6)
	require.NoError(t, m.ReadRaw(ds, it, sp, out))
	assert.Equal(t, in, out)
}

func TestMemVarStringOwnership(t *testing.T) {
	m := NewMem()
	st, err := m.CreateStringType(-1)
	require.NoError(t, err)
	ds, err := m.CreateDataset("/s", st, []uint64{1}, nil)
	require.NoError(t, err)
	sp, err := m.CreateSpace([]uint64{1})
	require.NoError(t, err)

	ref, err := m.NewVarString("hello")
	require.NoError(t, err)
	buf := make([]byte, VarRefSize)
	binary.LittleEndian.PutUint64(buf, uint64(ref))
	require.NoError(t, m.WriteRaw(ds, st, sp, buf))

	// The write copied the string, so the writer's reference can go.
	require.NoError(t, m.FreeVarString(ref))

	// Each read hands out a fresh reference the reader owns.
	r1 := make([]byte, VarRefSize)
	require.NoError(t, m.ReadRaw(ds, st, sp, r1))
	r2 := make([]byte, VarRefSize)
	require.NoError(t, m.ReadRaw(ds, st, sp, r2))

	ref1 := VarRef(binary.LittleEndian.Uint64(r1))
	ref2 := VarRef(binary.LittleEndian.Uint64(r2))
	assert.NotEqual(t, ref1, ref2)

	s, err := m.VarString(ref1)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	require.NoError(t, m.FreeVarString(ref1))
	s, err = m.VarString(ref2)
	require.NoError(t, err)
	assert.Equal(t, "hello", s, "freeing one reference must not affect another")
	require.NoError(t, m.FreeVarString(ref2))
}

func TestMemOverwriteReclaimsDisplacedVarStrings(t *testing.T) {
	m := NewMem()
	st, err := m.CreateStringType(-1)
	require.NoError(t, err)
	ds, err := m.CreateDataset("/s", st, []uint64{1}, nil)
	require.NoError(t, err)
	sp, err := m.CreateSpace([]uint64{1})
	require.NoError(t, err)

	write := func(s string) {
		ref, err := m.NewVarString(s)
		require.NoError(t, err)
		buf := make([]byte, VarRefSize)
		binary.LittleEndian.PutUint64(buf, uint64(ref))
		require.NoError(t, m.WriteRaw(ds, st, sp, buf))
		require.NoError(t, m.FreeVarString(ref))
	}

	write("first")
	after := m.OpenVarStrings()
	for i := 0; i < 5; i++ {
		write("again")
	}
	assert.Equal(t, after, m.OpenVarStrings(),
		"overwriting a slot must not strand the previous heap entry")

	out := make([]byte, VarRefSize)
	require.NoError(t, m.ReadRaw(ds, st, sp, out))
	ref := VarRef(binary.LittleEndian.Uint64(out))
	s, err := m.VarString(ref)
	require.NoError(t, err)
	assert.Equal(t, "again", s)
	require.NoError(t, m.FreeVarString(ref))
}

func TestMemNullVarString(t *testing.T) {
	m := NewMem()
	s, err := m.VarString(0)
	require.NoError(t, err)
	assert.Equal(t, "", s)
	assert.NoError(t, m.FreeVarString(0))
}
