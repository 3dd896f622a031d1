package compound

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/robert-malhotra/go-hdf5-compound/internal/cleanup"
	"github.com/robert-malhotra/go-hdf5-compound/native"
)

// Resolve maps a record shape onto a stored compound type and returns
// the resulting layout. In strict mode (the default) every shape member
// must have a counterpart in storage, otherwise resolution fails with a
// ShapeMismatchError. With WithPermissive a partial layout covering the
// members actually present is returned instead; callers must gate
// round-trip use with Layout.RequireComplete.
//
// All type handles opened during resolution are released before Resolve
// returns.
func Resolve(lib native.Library, typ native.TypeID, shape *Shape, opts ...Option) (layout *Layout, err error) {
	o := applyOptions(opts)
	sc := cleanup.NewRegistry(o.log).Open()
	defer sc.Close(&err)
	return resolve(lib, typ, shape, sc, &o)
}

// storageMember is one member of the stored compound type, classified
// and positioned.
type storageMember struct {
	resolved Member
	offset   int
	size     int
}

func resolve(lib native.Library, typ native.TypeID, shape *Shape, sc *cleanup.Scope, o *options) (*Layout, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	class, err := lib.TypeClass(typ)
	if err != nil {
		return nil, err
	}
	if class != native.ClassCompound {
		return nil, fmt.Errorf("%w (stored class is %s)", ErrNotCompound, class)
	}
	total, err := lib.TypeSize(typ)
	if err != nil {
		return nil, err
	}
	count, err := lib.MemberCount(typ)
	if err != nil {
		return nil, err
	}

	// Walk the stored members in storage order, accumulating offsets
	// from the preceding members' sizes.
	stored := make(map[string]storageMember, count)
	order := make([]string, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		name, err := lib.MemberName(typ, i)
		if err != nil {
			return nil, err
		}
		mt, err := lib.MemberType(typ, i)
		if err != nil {
			return nil, err
		}
		sc.Register(func() error { return lib.CloseType(mt) })
		m, size, err := classifyStorage(lib, mt, sc)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}
		m.Name = name
		stored[name] = storageMember{resolved: m, offset: offset, size: size}
		order = append(order, name)
		offset += size
	}
	var varSlots []int
	for _, name := range order {
		if st := stored[name]; st.resolved.Kind == KindVarString {
			varSlots = append(varSlots, st.offset)
		}
	}
	if offset != total {
		return nil, fmt.Errorf("%w: members sum to %d, stored type reports %d",
			ErrRecordSize, offset, total)
	}

	l := &Layout{
		name:       shape.Name,
		encoding:   o.encoding,
		recordSize: total,
		varSlots:   varSlots,
	}

	// Match shape members against storage, then order the layout by
	// ascending storage offset so positional accessors and offset
	// monotonicity are independent of shape ordering.
	wanted := make(map[string]Member, len(shape.Members))
	for _, sm := range shape.Members {
		st, ok := stored[sm.Name]
		if !ok {
			if !o.permissive {
				return nil, &ShapeMismatchError{Member: sm.Name,
					Detail: "not present in stored compound type"}
			}
			l.missing = append(l.missing, sm.Name)
			o.log.Warn("shape member not present in stored type",
				zap.String("member", sm.Name), zap.String("shape", shape.Name))
			continue
		}
		if err := checkShapeMember(sm, st.resolved); err != nil {
			return nil, err
		}
		wanted[sm.Name] = sm
	}
	for _, name := range order {
		sm, ok := wanted[name]
		if !ok {
			continue
		}
		st := stored[name]
		m := st.resolved
		m.Variant = sm.Variant
		l.members = append(l.members, MemberLayout{Member: m, Offset: st.offset, Size: st.size})
	}
	return l, nil
}

// classifyStorage determines a member's kind and physical details from
// its storage type. The storage type, not the shape, decides fixed
// versus variable strings and the enumeration label set.
func classifyStorage(lib native.Library, typ native.TypeID, sc *cleanup.Scope) (Member, int, error) {
	size, err := lib.TypeSize(typ)
	if err != nil {
		return Member{}, 0, err
	}
	class, err := lib.TypeClass(typ)
	if err != nil {
		return Member{}, 0, err
	}
	switch class {
	case native.ClassFixedPoint:
		signed, err := lib.TypeSigned(typ)
		if err != nil {
			return Member{}, 0, err
		}
		elem, err := scalarFor(size, signed, false)
		if err != nil {
			return Member{}, 0, err
		}
		return Member{Kind: KindScalar, Elem: elem}, size, nil

	case native.ClassFloatPoint:
		elem, err := scalarFor(size, true, true)
		if err != nil {
			return Member{}, 0, err
		}
		return Member{Kind: KindScalar, Elem: elem}, size, nil

	case native.ClassString:
		varlen, err := lib.StringIsVariable(typ)
		if err != nil {
			return Member{}, 0, err
		}
		if varlen {
			return Member{Kind: KindVarString}, native.VarRefSize, nil
		}
		return Member{Kind: KindString, Length: size}, size, nil

	case native.ClassEnum:
		labels, err := lib.EnumLabels(typ)
		if err != nil {
			return Member{}, 0, err
		}
		if isBoolLabels(labels) {
			return Member{Kind: KindBool}, size, nil
		}
		return Member{Kind: KindEnum, Labels: labels}, size, nil

	case native.ClassArray:
		dims, err := lib.ArrayDims(typ)
		if err != nil {
			return Member{}, 0, err
		}
		base, err := lib.ArrayBase(typ)
		if err != nil {
			return Member{}, 0, err
		}
		sc.Register(func() error { return lib.CloseType(base) })
		baseClass, err := lib.TypeClass(base)
		if err != nil {
			return Member{}, 0, err
		}
		if baseClass == native.ClassEnum {
			labels, err := lib.EnumLabels(base)
			if err != nil {
				return Member{}, 0, err
			}
			if len(dims) != 1 {
				return Member{}, 0, fmt.Errorf("enum arrays must be one-dimensional, got rank %d", len(dims))
			}
			return Member{Kind: KindEnumArray, Dims: dims, Labels: labels}, size, nil
		}
		elemMember, _, err := classifyStorage(lib, base, sc)
		if err != nil {
			return Member{}, 0, err
		}
		if elemMember.Kind != KindScalar {
			return Member{}, 0, fmt.Errorf("array base class %s not supported", baseClass)
		}
		kind := KindArray
		if len(dims) > 1 {
			kind = KindMDArray
		}
		return Member{Kind: kind, Elem: elemMember.Elem, Dims: dims}, size, nil

	default:
		return Member{}, 0, fmt.Errorf("storage class %s not supported in a record", class)
	}
}

// checkShapeMember validates the expectations a shape member states
// against the storage classification. Unspecified shape details are
// filled from storage and not checked.
func checkShapeMember(shape, resolved Member) error {
	if shape.Kind != KindAuto && shape.Kind != resolved.Kind {
		return &ShapeMismatchError{Member: shape.Name,
			Detail: fmt.Sprintf("shape declares %s, storage is %s", shape.Kind, resolved.Kind)}
	}
	if shape.Elem != 0 && resolved.Elem != 0 && shape.Elem != resolved.Elem {
		return &ShapeMismatchError{Member: shape.Name,
			Detail: fmt.Sprintf("shape declares %s elements, storage has %s", shape.Elem, resolved.Elem)}
	}
	if shape.Length > 0 && resolved.Length > 0 && shape.Length != resolved.Length {
		return &ShapeMismatchError{Member: shape.Name,
			Detail: fmt.Sprintf("shape declares string length %d, storage has %d", shape.Length, resolved.Length)}
	}
	if len(shape.Dims) > 0 && !equalDims(shape.Dims, resolved.Dims) {
		return &ShapeMismatchError{Member: shape.Name,
			Detail: fmt.Sprintf("shape declares dimensions %v, storage has %v", shape.Dims, resolved.Dims)}
	}
	if len(shape.Labels) > 0 && !equalLabels(shape.Labels, resolved.Labels) {
		return &ShapeMismatchError{Member: shape.Name,
			Detail: "shape labels do not match the stored enumeration"}
	}
	return nil
}

func scalarFor(size int, signed, float bool) (ScalarType, error) {
	if float {
		switch size {
		case 4:
			return Float32, nil
		case 8:
			return Float64, nil
		}
		return 0, fmt.Errorf("float width %d not supported", size)
	}
	switch size {
	case 1:
		if signed {
			return Int8, nil
		}
		return Uint8, nil
	case 2:
		if signed {
			return Int16, nil
		}
		return Uint16, nil
	case 4:
		if signed {
			return Int32, nil
		}
		return Uint32, nil
	case 8:
		if signed {
			return Int64, nil
		}
		return Uint64, nil
	}
	return 0, fmt.Errorf("integer width %d not supported", size)
}

// isBoolLabels recognizes the file-level boolean enumeration. An
// enumeration whose labels are exactly FALSE, TRUE maps to the native
// boolean kind rather than to an integer.
func isBoolLabels(labels []string) bool {
	return len(labels) == 2 && labels[0] == "FALSE" && labels[1] == "TRUE"
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
