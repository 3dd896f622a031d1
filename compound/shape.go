package compound

import "fmt"

// ScalarType identifies the fixed-width numeric type of a scalar member
// or of an array element. The zero value means "not specified"; the
// resolver fills it in from the stored type.
type ScalarType uint8

const (
	Int8 ScalarType = iota + 1
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

// Size returns the width of the type in bytes.
func (t ScalarType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the type is a signed integer.
func (t ScalarType) Signed() bool {
	switch t {
	case Int8, Int16, Int32, Int64:
		return true
	default:
		return false
	}
}

// IsFloat reports whether the type is floating-point.
func (t ScalarType) IsFloat() bool {
	return t == Float32 || t == Float64
}

func (t ScalarType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return ""
	}
}

// ParseScalarType parses the textual form produced by String. The empty
// string parses to the zero (unspecified) value.
func ParseScalarType(s string) (ScalarType, error) {
	switch s {
	case "":
		return 0, nil
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "uint64":
		return Uint64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown scalar type %q", s)
	}
}

func (t ScalarType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ScalarType) UnmarshalText(b []byte) error {
	v, err := ParseScalarType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Kind classifies how a member is laid out within the record.
type Kind uint8

const (
	// KindAuto lets the resolver classify the member from the stored
	// type. It is not valid for write-side layouts built from a shape
	// alone.
	KindAuto Kind = iota
	KindScalar
	KindBool
	KindArray     // fixed-length one-dimensional array
	KindMDArray   // multi-dimensional array, row-major
	KindString    // fixed-length string
	KindVarString // variable-length string, stored as a reference slot
	KindEnum
	KindEnumArray // fixed-length array of enumeration values
)

func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindScalar:
		return "scalar"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindMDArray:
		return "mdarray"
	case KindString:
		return "string"
	case KindVarString:
		return "varstring"
	case KindEnum:
		return "enum"
	case KindEnumArray:
		return "enumarray"
	default:
		return "unknown"
	}
}

// ParseKind parses the textual form produced by String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "scalar":
		return KindScalar, nil
	case "bool":
		return KindBool, nil
	case "array":
		return KindArray, nil
	case "mdarray":
		return KindMDArray, nil
	case "string":
		return KindString, nil
	case "varstring":
		return KindVarString, nil
	case "enum":
		return KindEnum, nil
	case "enumarray":
		return KindEnumArray, nil
	default:
		return 0, fmt.Errorf("unknown member kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Variant carries semantic metadata orthogonal to the physical encoding.
type Variant uint8

const (
	VariantNone Variant = iota
	// VariantTimestamp marks an integer member holding milliseconds
	// since the Unix epoch. The codec accepts and produces time.Time
	// for such members.
	VariantTimestamp
)

func (v Variant) String() string {
	switch v {
	case VariantNone:
		return "none"
	case VariantTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

func (v Variant) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Variant) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "none":
		*v = VariantNone
	case "timestamp":
		*v = VariantTimestamp
	default:
		return fmt.Errorf("unknown type variant %q", string(b))
	}
	return nil
}

// Member describes one named member of a record shape. Physical details
// a member leaves unspecified (kind, element type, string length,
// dimensions, labels) are filled in by the resolver from the stored
// type; the write path requires them to be explicit.
type Member struct {
	Name    string     `yaml:"name" json:"name"`
	Kind    Kind       `yaml:"kind,omitempty" json:"kind,omitempty"`
	Elem    ScalarType `yaml:"elem,omitempty" json:"elem,omitempty"`
	Length  int        `yaml:"length,omitempty" json:"length,omitempty"`
	Dims    []int      `yaml:"dims,omitempty" json:"dims,omitempty"`
	Labels  []string   `yaml:"labels,omitempty" json:"labels,omitempty"`
	Variant Variant    `yaml:"variant,omitempty" json:"variant,omitempty"`
}

// Shape is an ordered set of named, typed, ranked members describing the
// caller-side view of a record.
type Shape struct {
	Name    string   `yaml:"name" json:"name"`
	Members []Member `yaml:"members" json:"members"`
}

// Validate checks member names for uniqueness and presence.
func (s *Shape) Validate() error {
	if len(s.Members) == 0 {
		return fmt.Errorf("shape %q has no members", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Members))
	for _, m := range s.Members {
		if m.Name == "" {
			return fmt.Errorf("shape %q has an unnamed member", s.Name)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("shape %q: duplicate member %q", s.Name, m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Convenience constructors for fully specified members.

// ScalarMember describes a fixed-width numeric member.
func ScalarMember(name string, t ScalarType) Member {
	return Member{Name: name, Kind: KindScalar, Elem: t}
}

// BoolMember describes a boolean member stored as a one-byte enum.
func BoolMember(name string) Member {
	return Member{Name: name, Kind: KindBool}
}

// ArrayMember describes a fixed-length one-dimensional array member.
func ArrayMember(name string, t ScalarType, n int) Member {
	return Member{Name: name, Kind: KindArray, Elem: t, Dims: []int{n}}
}

// MDArrayMember describes a multi-dimensional array member.
func MDArrayMember(name string, t ScalarType, dims ...int) Member {
	return Member{Name: name, Kind: KindMDArray, Elem: t, Dims: dims}
}

// StringMember describes a fixed-length string member of the given byte
// length.
func StringMember(name string, length int) Member {
	return Member{Name: name, Kind: KindString, Length: length}
}

// VarStringMember describes a variable-length string member.
func VarStringMember(name string) Member {
	return Member{Name: name, Kind: KindVarString}
}

// EnumMember describes an enumeration member with the given ordered
// labels.
func EnumMember(name string, labels ...string) Member {
	return Member{Name: name, Kind: KindEnum, Labels: labels}
}

// EnumArrayMember describes a fixed-length array of enumeration values.
func EnumArrayMember(name string, n int, labels ...string) Member {
	return Member{Name: name, Kind: KindEnumArray, Dims: []int{n}, Labels: labels}
}

// TimestampMember describes an int64 member holding epoch milliseconds.
func TimestampMember(name string) Member {
	return Member{Name: name, Kind: KindScalar, Elem: Int64, Variant: VariantTimestamp}
}
