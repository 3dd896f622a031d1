package compound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-hdf5-compound/native"
)

type measurement struct {
	ID      int64     `hdf5:"id"`
	Value   float64   `hdf5:"value"`
	Label   string    `hdf5:"label"`
	Comment string    `hdf5:"comment"`
	State   string    `hdf5:"state"`
	Valid   bool      `hdf5:"valid"`
	Taken   time.Time `hdf5:"taken"`
}

func measurementShape() *Shape {
	return &Shape{
		Name: "measurement",
		Members: []Member{
			ScalarMember("id", Int64),
			ScalarMember("value", Float64),
			StringMember("label", 12),
			VarStringMember("comment"),
			EnumMember("state", "IDLE", "RUNNING", "DONE"),
			BoolMember("valid"),
			TimestampMember("taken"),
		},
	}
}

func TestFileSingleRecordRoundTrip(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := measurementShape()

	in := measurement{
		ID: 1, Value: 3.5, Label: "probe-a", Comment: "first run",
		State: "RUNNING", Valid: true,
		Taken: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.Write("/exp/m", shape, in))

	var out measurement
	require.NoError(t, f.Read("/exp/m", shape, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, in.Label, out.Label)
	assert.Equal(t, in.Comment, out.Comment)
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, in.Valid, out.Valid)
	assert.True(t, in.Taken.Equal(out.Taken))

	assert.Zero(t, f.OpenScopes(), "every operation must close its scope")
	assert.Zero(t, lib.OpenHandles(), "no native handle may outlive an operation")
}

func TestFileArrayRoundTrip(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := measurementShape()

	in := make([]measurement, 10)
	for i := range in {
		in[i] = measurement{
			ID: int64(i), Value: float64(i) / 2, Label: "rec",
			Comment: "c", State: "IDLE",
			Taken: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		}
	}
	require.NoError(t, f.WriteArray("/data", shape, in))

	n, err := f.Extent("/data")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)

	out := make([]measurement, 10)
	require.NoError(t, f.ReadBlock("/data", shape, 0, out))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Value, out[i].Value)
		assert.True(t, in[i].Taken.Equal(out[i].Taken))
	}

	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFileReadAllAsMaps(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := &Shape{
		Name: "pair",
		Members: []Member{
			ScalarMember("a", Int32),
			VarStringMember("b"),
		},
	}
	require.NoError(t, f.WriteArray("/pairs", shape, []map[string]any{
		{"a": int32(1), "b": "one"},
		{"a": int32(2), "b": "two"},
	}))

	recs, err := f.ReadAll("/pairs", shape)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int32(1), recs[0]["a"])
	assert.Equal(t, "one", recs[0]["b"])
	assert.Equal(t, int32(2), recs[1]["a"])
	assert.Equal(t, "two", recs[1]["b"])

	assert.Zero(t, lib.OpenHandles())
}

func TestFileBlockWindowedReadWrite(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := &Shape{Name: "v", Members: []Member{ScalarMember("x", Int32)}}

	recs := make([]map[string]any, 8)
	for i := range recs {
		recs[i] = map[string]any{"x": int32(i)}
	}
	require.NoError(t, f.WriteArray("/v", shape, recs))

	// Overwrite the middle window.
	require.NoError(t, f.WriteBlock("/v", shape, 3, []map[string]any{
		{"x": int32(-3)}, {"x": int32(-4)},
	}))

	out := make([]map[string]any, 4)
	require.NoError(t, f.ReadBlock("/v", shape, 2, out))
	assert.Equal(t, int32(2), out[0]["x"])
	assert.Equal(t, int32(-3), out[1]["x"])
	assert.Equal(t, int32(-4), out[2]["x"])
	assert.Equal(t, int32(5), out[3]["x"])
}

func TestFileRejectsOutOfRangeWindows(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := &Shape{Name: "v", Members: []Member{ScalarMember("x", Int32)}}
	require.NoError(t, f.WriteArray("/v", shape, []map[string]any{{"x": int32(1)}}))

	err := f.ReadBlock("/v", shape, 1, make([]map[string]any, 1))
	assert.ErrorIs(t, err, native.ErrBadSelection)

	err = f.WriteBlock("/v", shape, 0, []map[string]any{{"x": int32(1)}, {"x": int32(2)}})
	assert.ErrorIs(t, err, native.ErrBadSelection)

	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFileNaturalBlocksFollowChunking(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib, WithBlockSize(4))
	shape := &Shape{Name: "v", Members: []Member{ScalarMember("x", Int64)}}

	recs := make([]map[string]any, 10)
	for i := range recs {
		recs[i] = map[string]any{"x": int64(i * 10)}
	}
	require.NoError(t, f.WriteArray("/v", shape, recs))

	it, err := f.NaturalBlocks("/v")
	require.NoError(t, err)

	var got []int64
	for {
		blk, ok := it.Next()
		if !ok {
			break
		}
		assert.LessOrEqual(t, blk.Length, uint64(4))
		out := make([]map[string]any, blk.Length)
		require.NoError(t, f.ReadBlock("/v", shape, blk.Offset, out))
		for _, rec := range out {
			got = append(got, rec["x"].(int64))
		}
	}
	require.Len(t, got, 10)
	for i, v := range got {
		assert.Equal(t, int64(i*10), v)
	}

	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFileNaturalBlocksWholeExtentFallback(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib) // no block size, datasets are contiguous
	shape := &Shape{Name: "v", Members: []Member{ScalarMember("x", Int8)}}
	require.NoError(t, f.WriteArray("/v", shape, []map[string]any{
		{"x": int8(1)}, {"x": int8(2)}, {"x": int8(3)},
	}))

	it, err := f.NaturalBlocks("/v")
	require.NoError(t, err)
	blk, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(0), blk.Offset)
	assert.Equal(t, uint64(3), blk.Length)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestFileLayoutIntrospection(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := measurementShape()
	require.NoError(t, f.Write("/m", shape, measurement{State: "IDLE", Taken: time.Unix(0, 0)}))

	l, err := f.Layout("/m", shape)
	require.NoError(t, err)
	assert.True(t, l.Complete())
	assert.Equal(t, 8+8+12+8+1+1+8, l.RecordSize())

	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFilePermissiveSubsetRead(t *testing.T) {
	lib := native.NewMem()

	writer := Open(lib)
	full := &Shape{Name: "m", Members: []Member{
		ScalarMember("id", Int64),
		ScalarMember("value", Float64),
	}}
	require.NoError(t, writer.WriteArray("/m", full, []map[string]any{
		{"id": int64(1), "value": 0.5},
		{"id": int64(2), "value": 1.5},
	}))

	// A reader asking for an extra member gets the present ones.
	reader := Open(lib, WithPermissive())
	wide := &Shape{Name: "m", Members: []Member{
		{Name: "id"},
		{Name: "value"},
		{Name: "retired"},
	}}
	recs, err := reader.ReadAll("/m", wide)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[1]["id"])
	assert.NotContains(t, recs[1], "retired")

	// Writing through the same shape must refuse the incomplete layout.
	err = reader.WriteBlock("/m", wide, 0, []map[string]any{
		{"id": int64(9), "value": 9.5, "retired": true},
	})
	assert.ErrorIs(t, err, ErrIncompleteLayout)
}

func TestFileStrictRejectsUnknownMember(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	require.NoError(t, f.Write("/m", &Shape{Name: "m", Members: []Member{ScalarMember("id", Int64)}},
		map[string]any{"id": int64(1)}))

	var mismatch *ShapeMismatchError
	var out measurement
	err := f.Read("/m", measurementShape(), &out)
	require.ErrorAs(t, err, &mismatch)

	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFileReadMissingDataset(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	var out measurement
	err := f.Read("/absent", measurementShape(), &out)
	assert.ErrorIs(t, err, native.ErrNotFound)
	assert.Zero(t, f.OpenScopes())
	assert.Zero(t, lib.OpenHandles())
}

func TestFileVarStringsDoNotAccumulate(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := &Shape{Name: "s", Members: []Member{VarStringMember("c")}}

	require.NoError(t, f.WriteArray("/s", shape, []map[string]any{{"c": "a"}, {"c": "b"}}))
	baseline := lib.OpenVarStrings()

	for i := 0; i < 5; i++ {
		_, err := f.ReadAll("/s", shape)
		require.NoError(t, err)
	}
	assert.Equal(t, baseline, lib.OpenVarStrings(),
		"reads must free the references they were handed")
}

func TestFileOverwriteDoesNotAccumulateVarStrings(t *testing.T) {
	lib := native.NewMem()
	f := Open(lib)
	shape := &Shape{Name: "s", Members: []Member{VarStringMember("c")}}

	require.NoError(t, f.WriteArray("/s", shape, []map[string]any{{"c": "v0"}}))
	baseline := lib.OpenVarStrings()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.WriteBlock("/s", shape, 0, []map[string]any{{"c": "vN"}}))
	}
	assert.Equal(t, baseline, lib.OpenVarStrings(),
		"rewrites must displace, not accumulate, heap entries")

	recs, err := f.ReadAll("/s", shape)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "vN", recs[0]["c"])
}

func TestFilePermissiveReadFreesUnmappedVarStrings(t *testing.T) {
	lib := native.NewMem()

	writer := Open(lib)
	full := &Shape{Name: "m", Members: []Member{
		ScalarMember("id", Int64),
		VarStringMember("comment"),
	}}
	require.NoError(t, writer.WriteArray("/m", full, []map[string]any{
		{"id": int64(1), "comment": "kept"},
		{"id": int64(2), "comment": "also kept"},
	}))
	baseline := lib.OpenVarStrings()

	// The reader never asks for the comment member, but every read still
	// mints a reference into its slot.
	reader := Open(lib, WithPermissive())
	narrow := &Shape{Name: "m", Members: []Member{{Name: "id"}}}
	for i := 0; i < 5; i++ {
		recs, err := reader.ReadAll("/m", narrow)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.NotContains(t, recs[0], "comment")
	}
	assert.Equal(t, baseline, lib.OpenVarStrings(),
		"references in unmapped slots must be freed too")
	assert.Zero(t, lib.OpenHandles())
}
