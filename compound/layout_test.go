package compound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumStorageWidth(t *testing.T) {
	cases := []struct {
		labels int
		want   int
	}{
		{2, 1},
		{100, 1},
		{126, 1},
		{127, 2},
		{200, 2},
		{32766, 2},
		{32767, 4},
		{40000, 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EnumStorageWidth(tc.labels), "labels=%d", tc.labels)
	}
}

func TestNewLayoutAssignsPackedOffsets(t *testing.T) {
	shape := &Shape{
		Name: "measurement",
		Members: []Member{
			ScalarMember("id", Int64),
			ScalarMember("value", Float32),
			StringMember("label", 10),
			BoolMember("valid"),
			EnumMember("state", "IDLE", "RUNNING", "DONE"),
		},
	}
	l, err := NewLayout(shape)
	require.NoError(t, err)

	assert.Equal(t, "measurement", l.Name())
	assert.True(t, l.Complete())

	ms := l.Members()
	require.Len(t, ms, 5)
	assert.Equal(t, 0, ms[0].Offset)
	assert.Equal(t, 8, ms[0].Size)
	assert.Equal(t, 8, ms[1].Offset)
	assert.Equal(t, 4, ms[1].Size)
	assert.Equal(t, 12, ms[2].Offset)
	assert.Equal(t, 10, ms[2].Size)
	assert.Equal(t, 22, ms[3].Offset)
	assert.Equal(t, 1, ms[3].Size)
	assert.Equal(t, 23, ms[4].Offset)
	assert.Equal(t, 1, ms[4].Size)
	assert.Equal(t, 24, l.RecordSize())
}

func TestLayoutOffsetsAreMonotonic(t *testing.T) {
	shape := &Shape{
		Name: "mixed",
		Members: []Member{
			ArrayMember("samples", Int16, 5),
			MDArrayMember("grid", Float64, 2, 3),
			VarStringMember("comment"),
			EnumArrayMember("flags", 4, "A", "B", "C"),
			TimestampMember("taken"),
		},
	}
	l, err := NewLayout(shape)
	require.NoError(t, err)

	prevEnd := 0
	for _, m := range l.Members() {
		assert.GreaterOrEqual(t, m.Offset, prevEnd, "member %q overlaps its predecessor", m.Name)
		prevEnd = m.Offset + m.Size
	}
	assert.LessOrEqual(t, prevEnd, l.RecordSize())
}

func TestLayoutMemberSizes(t *testing.T) {
	cases := []struct {
		name   string
		member Member
		want   int
	}{
		{"int16 scalar", ScalarMember("x", Int16), 2},
		{"bool", BoolMember("x"), 1},
		{"fixed string", StringMember("x", 7), 7},
		{"var string slot", VarStringMember("x"), 8},
		{"small enum", EnumMember("x", "A", "B"), 1},
		{"array", ArrayMember("x", Float32, 6), 24},
		{"md array", MDArrayMember("x", Int32, 2, 2, 2), 32},
		{"enum array", EnumArrayMember("x", 3, "A", "B"), 3},
		{"timestamp", TimestampMember("x"), 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLayout(&Shape{Name: "s", Members: []Member{tc.member}})
			require.NoError(t, err)
			assert.Equal(t, tc.want, l.RecordSize())
		})
	}
}

func TestNewLayoutRejectsUnderspecifiedMembers(t *testing.T) {
	cases := []struct {
		name   string
		member Member
	}{
		{"auto kind", Member{Name: "x"}},
		{"scalar without elem", Member{Name: "x", Kind: KindScalar}},
		{"string without length", Member{Name: "x", Kind: KindString}},
		{"enum without labels", Member{Name: "x", Kind: KindEnum}},
		{"array without dims", Member{Name: "x", Kind: KindArray, Elem: Int8}},
		{"zero dimension", Member{Name: "x", Kind: KindArray, Elem: Int8, Dims: []int{0}}},
		{"enum array without dims", Member{Name: "x", Kind: KindEnumArray, Labels: []string{"A", "B"}}},
		{"multi-dimensional enum array", Member{Name: "x", Kind: KindEnumArray, Labels: []string{"A", "B"}, Dims: []int{2, 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLayout(&Shape{Name: "s", Members: []Member{tc.member}})
			assert.Error(t, err)
		})
	}
}

func TestShapeValidateRejectsDuplicates(t *testing.T) {
	shape := &Shape{
		Name: "dup",
		Members: []Member{
			ScalarMember("a", Int8),
			ScalarMember("a", Int16),
		},
	}
	_, err := NewLayout(shape)
	assert.Error(t, err)
}

func TestRequireComplete(t *testing.T) {
	l := &Layout{missing: []string{"gone"}}
	assert.False(t, l.Complete())
	assert.Equal(t, []string{"gone"}, l.Missing())
	assert.ErrorIs(t, l.RequireComplete(), ErrIncompleteLayout)
}
