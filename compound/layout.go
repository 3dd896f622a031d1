package compound

import (
	"fmt"

	"github.com/robert-malhotra/go-hdf5-compound/native"
)

// EnumStorageWidth returns the storage width in bytes for an enumeration
// with the given label count: 1 byte below 127 labels, 2 below 32767,
// 4 otherwise. Files written by the original format use exactly this
// tie-break, so it must not change.
func EnumStorageWidth(labels int) int {
	switch {
	case labels < 127:
		return 1
	case labels < 32767:
		return 2
	default:
		return 4
	}
}

// MemberLayout is one member of a resolved record layout: the member
// description plus its byte position within the record.
type MemberLayout struct {
	Member `yaml:",inline" json:",inline"`

	// Offset is the member's byte offset from the start of the record.
	Offset int `yaml:"offset" json:"offset"`
	// Size is the member's byte length within the record.
	Size int `yaml:"size" json:"size"`
}

// Layout is an ordered, offset-annotated description of a fixed-size
// binary record. It is immutable after construction and safe to share
// between goroutines; it is built fresh per (path, shape) pair and never
// cached across files.
type Layout struct {
	name       string
	members    []MemberLayout
	recordSize int
	missing    []string
	encoding   TextEncoding

	// varSlots holds the record-relative offsets of every
	// variable-length string slot in storage, including members the
	// shape does not map. Reads mint a reference into each of these
	// slots, so all of them must be swept regardless of mapping.
	varSlots []int
}

// Name returns the shape name the layout was built for.
func (l *Layout) Name() string { return l.name }

// RecordSize returns the size of one packed record in bytes, including
// any trailing padding up to the stored type size.
func (l *Layout) RecordSize() int { return l.recordSize }

// Members returns the layout's members in ascending offset order.
func (l *Layout) Members() []MemberLayout {
	out := make([]MemberLayout, len(l.members))
	copy(out, l.members)
	return out
}

// Complete reports whether every shape member was mapped. Layouts built
// directly from a shape are always complete; permissively resolved
// layouts may not be.
func (l *Layout) Complete() bool { return len(l.missing) == 0 }

// Missing returns the names of shape members absent from the stored
// type, in shape order.
func (l *Layout) Missing() []string {
	return append([]string(nil), l.missing...)
}

// RequireComplete returns ErrIncompleteLayout naming the unmapped
// members when the layout is partial. Strict consumers must call it
// before relying on a permissively resolved layout for round-trips.
func (l *Layout) RequireComplete() error {
	if len(l.missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %v", ErrIncompleteLayout, l.missing)
}

// VarSlots returns the record-relative byte offsets of every
// variable-length string slot in storage, whether or not the shape maps
// the member holding it.
func (l *Layout) VarSlots() []int {
	return append([]int(nil), l.varSlots...)
}

// member returns the layout member with the given name, or nil.
func (l *Layout) member(name string) *MemberLayout {
	for i := range l.members {
		if l.members[i].Name == name {
			return &l.members[i]
		}
	}
	return nil
}

// NewLayout builds a write-side layout from a fully specified shape.
// Offsets are assigned in member order with no inter-member padding,
// matching the packed compound types this module creates.
func NewLayout(shape *Shape, opts ...Option) (*Layout, error) {
	o := applyOptions(opts)
	return newLayout(shape, &o)
}

func newLayout(shape *Shape, o *options) (*Layout, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	l := &Layout{
		name:     shape.Name,
		encoding: o.encoding,
		members:  make([]MemberLayout, 0, len(shape.Members)),
	}
	offset := 0
	for _, m := range shape.Members {
		size, err := memberByteSize(m)
		if err != nil {
			return nil, err
		}
		l.members = append(l.members, MemberLayout{Member: m, Offset: offset, Size: size})
		if m.Kind == KindVarString {
			l.varSlots = append(l.varSlots, offset)
		}
		offset += size
	}
	l.recordSize = offset
	return l, nil
}

// memberByteSize computes a member's byte length within the record from
// an explicit member description.
func memberByteSize(m Member) (int, error) {
	switch m.Kind {
	case KindScalar:
		if m.Elem.Size() == 0 {
			return 0, fmt.Errorf("member %q: scalar member needs an element type", m.Name)
		}
		return m.Elem.Size(), nil
	case KindBool:
		return 1, nil
	case KindString:
		if m.Length <= 0 {
			return 0, fmt.Errorf("member %q: fixed string member needs a positive length", m.Name)
		}
		return m.Length, nil
	case KindVarString:
		return native.VarRefSize, nil
	case KindEnum:
		if len(m.Labels) == 0 {
			return 0, fmt.Errorf("member %q: enum member needs labels", m.Name)
		}
		return EnumStorageWidth(len(m.Labels)), nil
	case KindEnumArray:
		if len(m.Labels) == 0 {
			return 0, fmt.Errorf("member %q: enum array member needs labels", m.Name)
		}
		if len(m.Dims) != 1 {
			return 0, fmt.Errorf("member %q: enum array member needs exactly one dimension", m.Name)
		}
		if m.Dims[0] <= 0 {
			return 0, fmt.Errorf("member %q: dimension %d not valid", m.Name, m.Dims[0])
		}
		return EnumStorageWidth(len(m.Labels)) * m.Dims[0], nil
	case KindArray, KindMDArray:
		if m.Elem.Size() == 0 {
			return 0, fmt.Errorf("member %q: array member needs an element type", m.Name)
		}
		if m.Kind == KindArray && len(m.Dims) != 1 {
			return 0, fmt.Errorf("member %q: one-dimensional array needs exactly one dimension", m.Name)
		}
		if m.Kind == KindMDArray && len(m.Dims) < 2 {
			return 0, fmt.Errorf("member %q: multi-dimensional array needs at least two dimensions", m.Name)
		}
		n, err := dimProduct(m.Name, m.Dims)
		if err != nil {
			return 0, err
		}
		return m.Elem.Size() * n, nil
	case KindAuto:
		return 0, fmt.Errorf("member %q: kind must be explicit when building a layout from a shape", m.Name)
	default:
		return 0, fmt.Errorf("member %q: unknown kind %d", m.Name, m.Kind)
	}
}

func dimProduct(name string, dims []int) (int, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("member %q: array member needs dimensions", name)
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("member %q: dimension %d not valid", name, d)
		}
		n *= d
	}
	return n, nil
}
