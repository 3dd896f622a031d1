package compound

import (
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/robert-malhotra/go-hdf5-compound/internal/enc"
	"github.com/robert-malhotra/go-hdf5-compound/native"
)

// VarStrings is the subset of the native variable-length string facility
// the codec needs. native.Library satisfies it.
type VarStrings interface {
	NewVarString(s string) (native.VarRef, error)
	VarString(ref native.VarRef) (string, error)
}

// Encode serializes one record from the accessor into buf, which must
// hold at least RecordSize bytes. Every member is validated before the
// first byte is written; on error the buffer must be discarded by the
// caller. Padding bytes between members are left untouched.
func (l *Layout) Encode(acc Accessor, buf []byte, vars VarStrings) error {
	if len(buf) < l.recordSize {
		return fmt.Errorf("%w: have %d, record needs %d", ErrShortBuffer, len(buf), l.recordSize)
	}
	vals := make([]any, len(l.members))
	for i := range l.members {
		m := &l.members[i]
		v, err := acc.Get(m.Name, i)
		if err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
		if err := validateMember(m, v); err != nil {
			return err
		}
		vals[i] = v
	}
	for i := range l.members {
		m := &l.members[i]
		if err := encodeMember(m, vals[i], buf[m.Offset:m.Offset+m.Size], vars, l.encoding); err != nil {
			return err
		}
	}
	return nil
}

// Decode deserializes one record from buf into the accessor.
func (l *Layout) Decode(buf []byte, acc Accessor, vars VarStrings) error {
	if len(buf) < l.recordSize {
		return fmt.Errorf("%w: have %d, record needs %d", ErrShortBuffer, len(buf), l.recordSize)
	}
	for i := range l.members {
		m := &l.members[i]
		v, err := decodeMember(m, buf[m.Offset:m.Offset+m.Size], vars)
		if err != nil {
			return err
		}
		if err := acc.Set(m.Name, i, v); err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
	}
	return nil
}

// validateMember checks a value against its member descriptor without
// touching any buffer, so a failing record never commits a byte.
func validateMember(m *MemberLayout, v any) error {
	switch m.Kind {
	case KindScalar:
		if m.Variant == VariantTimestamp {
			if _, ok := v.(time.Time); ok {
				return nil
			}
		}
		rv := reflect.ValueOf(v)
		if !isNumericKind(rv.Kind()) {
			return fmt.Errorf("member %q: value %T is not numeric", m.Name, v)
		}
		if !m.Elem.IsFloat() && isFloatKind(rv.Kind()) {
			return fmt.Errorf("member %q: float value %v into integer member", m.Name, v)
		}
		return nil

	case KindBool:
		if reflect.ValueOf(v).Kind() != reflect.Bool {
			return fmt.Errorf("member %q: value %T is not a bool", m.Name, v)
		}
		return nil

	case KindString, KindVarString:
		if reflect.ValueOf(v).Kind() != reflect.String {
			return fmt.Errorf("member %q: value %T is not a string", m.Name, v)
		}
		return nil

	case KindArray, KindMDArray:
		return checkArrayShape(m, reflect.ValueOf(v))

	case KindEnum:
		_, err := enumOrdinal(m, v)
		return err

	case KindEnumArray:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: nil}
		}
		if rv.Len() != m.Dims[0] {
			return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: []int{rv.Len()}}
		}
		for i := 0; i < rv.Len(); i++ {
			if _, err := enumOrdinal(m, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("member %q: kind %s cannot be encoded", m.Name, m.Kind)
	}
}

// checkArrayShape validates rank and per-dimension extents exactly,
// including ragged nested slices.
func checkArrayShape(m *MemberLayout, rv reflect.Value) error {
	return walkShape(m, rv, m.Dims)
}

func walkShape(m *MemberLayout, rv reflect.Value, dims []int) error {
	if rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	if len(dims) == 0 {
		if !isNumericKind(rv.Kind()) {
			return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: observedShape(rv, len(m.Dims)+1)}
		}
		if !m.Elem.IsFloat() && isFloatKind(rv.Kind()) {
			return fmt.Errorf("member %q: float element %v into integer array", m.Name, rv)
		}
		return nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: observedShape(rv, 0)}
	}
	if rv.Len() != dims[0] {
		return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: observedShape(rv, len(m.Dims))}
	}
	for i := 0; i < rv.Len(); i++ {
		if err := walkShape(m, rv.Index(i), dims[1:]); err != nil {
			return err
		}
	}
	return nil
}

// observedShape reports the value's extents down the first path, for
// error messages.
func observedShape(rv reflect.Value, maxRank int) []int {
	var dims []int
	for i := 0; i < maxRank; i++ {
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			break
		}
		dims = append(dims, rv.Len())
		if rv.Len() == 0 {
			break
		}
		rv = rv.Index(0)
	}
	return dims
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// enumOrdinal maps a label string or numeric ordinal to the member's
// ordinal value.
func enumOrdinal(m *MemberLayout, v any) (int, error) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.String:
		s := rv.String()
		for i, label := range m.Labels {
			if label == s {
				return i, nil
			}
		}
		return 0, &EncodingOverflowError{Member: m.Name,
			Detail: fmt.Sprintf("value %q is not a label of the enumeration", s)}
	case isNumericKind(rv.Kind()) && !isFloatKind(rv.Kind()):
		var ord int64
		if rv.CanInt() {
			ord = rv.Int()
		} else {
			ord = int64(rv.Uint())
		}
		if ord < 0 || ord >= int64(len(m.Labels)) {
			return 0, &EncodingOverflowError{Member: m.Name,
				Detail: fmt.Sprintf("ordinal %d outside [0,%d)", ord, len(m.Labels))}
		}
		return int(ord), nil
	default:
		return 0, &EncodingOverflowError{Member: m.Name,
			Detail: fmt.Sprintf("value %T is neither a label nor an ordinal", v)}
	}
}

func encodeMember(m *MemberLayout, v any, region []byte, vars VarStrings, e TextEncoding) error {
	switch m.Kind {
	case KindScalar:
		return putScalar(region, m, v)

	case KindBool:
		if reflect.ValueOf(v).Bool() {
			region[0] = 1
		} else {
			region[0] = 0
		}
		return nil

	case KindString:
		s := reflect.ValueOf(v).String()
		b := truncateText(s, m.Size, e)
		n := copy(region, b)
		// Zero-fill the remainder so shorter data round-trips with a
		// terminator, matching historical layouts.
		for i := n; i < len(region); i++ {
			region[i] = 0
		}
		return nil

	case KindVarString:
		s := reflect.ValueOf(v).String()
		ref, err := vars.NewVarString(s)
		if err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
		enc.PutBits(region, uint64(ref))
		return nil

	case KindEnum:
		ord, err := enumOrdinal(m, v)
		if err != nil {
			return err
		}
		enc.PutBits(region, uint64(ord))
		return nil

	case KindEnumArray:
		rv := reflect.ValueOf(v)
		w := EnumStorageWidth(len(m.Labels))
		for i := 0; i < rv.Len(); i++ {
			ord, err := enumOrdinal(m, rv.Index(i).Interface())
			if err != nil {
				return err
			}
			enc.PutBits(region[i*w:(i+1)*w], uint64(ord))
		}
		return nil

	case KindArray, KindMDArray:
		return encodeArray(m, v, region)

	default:
		return fmt.Errorf("member %q: kind %s cannot be encoded", m.Name, m.Kind)
	}
}

func putScalar(region []byte, m *MemberLayout, v any) error {
	if m.Variant == VariantTimestamp {
		if t, ok := v.(time.Time); ok {
			enc.PutBits(region, uint64(t.UnixMilli()))
			return nil
		}
	}
	rv := reflect.ValueOf(v)
	if m.Elem.IsFloat() {
		var f float64
		switch {
		case rv.CanFloat():
			f = rv.Float()
		case rv.CanInt():
			f = float64(rv.Int())
		default:
			f = float64(rv.Uint())
		}
		enc.PutFloat(region, f)
		return nil
	}
	switch {
	case rv.CanInt():
		enc.PutBits(region, uint64(rv.Int()))
	case rv.CanUint():
		enc.PutBits(region, rv.Uint())
	default:
		return fmt.Errorf("member %q: float value %v into integer member", m.Name, v)
	}
	return nil
}

// encodeArray flattens the value in row-major order. Exact slice types
// matching the element type take a direct path; everything else goes
// through reflection.
func encodeArray(m *MemberLayout, v any, region []byte) error {
	es := m.Elem.Size()
	if len(m.Dims) == 1 {
		switch s := v.(type) {
		case []int8:
			if m.Elem == Int8 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []int16:
			if m.Elem == Int16 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []int32:
			if m.Elem == Int32 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []int64:
			if m.Elem == Int64 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []uint8:
			if m.Elem == Uint8 {
				copy(region, s)
				return nil
			}
		case []uint16:
			if m.Elem == Uint16 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []uint32:
			if m.Elem == Uint32 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []uint64:
			if m.Elem == Uint64 {
				enc.PutInts(region, s, es)
				return nil
			}
		case []float32:
			if m.Elem == Float32 {
				enc.PutFloats(region, s, es)
				return nil
			}
		case []float64:
			if m.Elem == Float64 {
				enc.PutFloats(region, s, es)
				return nil
			}
		}
	}
	i := 0
	return flattenNumeric(m, reflect.ValueOf(v), m.Dims, func(rv reflect.Value) error {
		b := region[i*es : (i+1)*es]
		i++
		switch {
		case m.Elem.IsFloat():
			switch {
			case rv.CanFloat():
				enc.PutFloat(b, rv.Float())
			case rv.CanInt():
				enc.PutFloat(b, float64(rv.Int()))
			default:
				enc.PutFloat(b, float64(rv.Uint()))
			}
		case rv.CanInt():
			enc.PutBits(b, uint64(rv.Int()))
		case rv.CanUint():
			enc.PutBits(b, rv.Uint())
		default:
			return fmt.Errorf("member %q: element %v is not an integer", m.Name, rv)
		}
		return nil
	})
}

func flattenNumeric(m *MemberLayout, rv reflect.Value, dims []int, emit func(reflect.Value) error) error {
	if rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	if len(dims) == 0 {
		return emit(rv)
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array || rv.Len() != dims[0] {
		return &DimensionMismatchError{Member: m.Name, Want: m.Dims, Got: observedShape(rv, len(m.Dims))}
	}
	for i := 0; i < rv.Len(); i++ {
		if err := flattenNumeric(m, rv.Index(i), dims[1:], emit); err != nil {
			return err
		}
	}
	return nil
}

func decodeMember(m *MemberLayout, region []byte, vars VarStrings) (any, error) {
	switch m.Kind {
	case KindScalar:
		return getScalar(region, m), nil

	case KindBool:
		return region[0] != 0, nil

	case KindString:
		// Scan to the terminator; the declared length bounds the scan.
		end := len(region)
		for i, b := range region {
			if b == 0 {
				end = i
				break
			}
		}
		return string(region[:end]), nil

	case KindVarString:
		ref := native.VarRef(enc.Bits(region))
		s, err := vars.VarString(ref)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", m.Name, err)
		}
		return s, nil

	case KindEnum:
		ord := enc.Bits(region)
		if ord >= uint64(len(m.Labels)) {
			return nil, &EncodingOverflowError{Member: m.Name,
				Detail: fmt.Sprintf("stored ordinal %d outside [0,%d)", ord, len(m.Labels))}
		}
		return m.Labels[ord], nil

	case KindEnumArray:
		w := EnumStorageWidth(len(m.Labels))
		n := m.Dims[0]
		out := make([]string, n)
		for i := 0; i < n; i++ {
			ord := enc.Bits(region[i*w : (i+1)*w])
			if ord >= uint64(len(m.Labels)) {
				return nil, &EncodingOverflowError{Member: m.Name,
					Detail: fmt.Sprintf("stored ordinal %d outside [0,%d)", ord, len(m.Labels))}
			}
			out[i] = m.Labels[ord]
		}
		return out, nil

	case KindArray, KindMDArray:
		flat := decodeFlat(m, region)
		if len(m.Dims) == 1 {
			return flat, nil
		}
		return nestSlices(reflect.ValueOf(flat), m.Dims).Interface(), nil

	default:
		return nil, fmt.Errorf("member %q: kind %s cannot be decoded", m.Name, m.Kind)
	}
}

func getScalar(region []byte, m *MemberLayout) any {
	if m.Elem.IsFloat() {
		f := enc.Float(region)
		if m.Elem == Float32 {
			return float32(f)
		}
		return f
	}
	bits := enc.Bits(region)
	if m.Variant == VariantTimestamp {
		return time.UnixMilli(enc.SignExtend(bits, m.Elem.Size())).UTC()
	}
	switch m.Elem {
	case Int8:
		return int8(bits)
	case Int16:
		return int16(bits)
	case Int32:
		return int32(bits)
	case Int64:
		return int64(bits)
	case Uint8:
		return uint8(bits)
	case Uint16:
		return uint16(bits)
	case Uint32:
		return uint32(bits)
	default:
		return bits
	}
}

// decodeFlat decodes the member's elements into a flat typed slice in
// row-major order.
func decodeFlat(m *MemberLayout, region []byte) any {
	n := 1
	for _, d := range m.Dims {
		n *= d
	}
	es := m.Elem.Size()
	switch m.Elem {
	case Int8:
		return enc.Ints[int8](region, n, es, true)
	case Int16:
		return enc.Ints[int16](region, n, es, true)
	case Int32:
		return enc.Ints[int32](region, n, es, true)
	case Int64:
		return enc.Ints[int64](region, n, es, true)
	case Uint8:
		out := make([]uint8, n)
		copy(out, region)
		return out
	case Uint16:
		return enc.Ints[uint16](region, n, es, false)
	case Uint32:
		return enc.Ints[uint32](region, n, es, false)
	case Uint64:
		return enc.Ints[uint64](region, n, es, false)
	case Float32:
		return enc.Floats[float32](region, n, es)
	default:
		return enc.Floats[float64](region, n, es)
	}
}

// nestSlices reshapes a flat slice into nested row-major slices matching
// dims.
func nestSlices(flat reflect.Value, dims []int) reflect.Value {
	if len(dims) == 1 {
		return flat
	}
	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	innerType := flat.Type()
	for i := 0; i < len(dims)-2; i++ {
		innerType = reflect.SliceOf(innerType)
	}
	out := reflect.MakeSlice(reflect.SliceOf(innerType), dims[0], dims[0])
	for i := 0; i < dims[0]; i++ {
		out.Index(i).Set(nestSlices(flat.Slice(i*stride, (i+1)*stride), dims[1:]))
	}
	return out
}

// truncateText cuts s to at most n bytes according to the encoding rule.
func truncateText(s string, n int, e TextEncoding) []byte {
	if len(s) <= n {
		return []byte(s)
	}
	if e == EncodingRaw {
		return []byte(s[:n])
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return []byte(s[:cut])
}
