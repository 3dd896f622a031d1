// Package native defines the capability surface the compound layer needs
// from an HDF5 format implementation: type introspection and construction,
// dataspace selection, raw element I/O and the variable-length string
// facility. The on-disk format itself (superblocks, B-trees, chunk
// storage, compression) is owned by the implementation behind this
// interface and is out of scope here.
//
// [Mem] is a complete in-memory implementation used by tests and tooling.
package native

import "errors"

// Class identifies the class of a stored datatype, mirroring the HDF5
// datatype classes the compound layer can map.
type Class uint8

const (
	ClassFixedPoint Class = iota // Integers
	ClassFloatPoint              // IEEE 754 floating-point
	ClassString                  // Fixed- or variable-length strings
	ClassCompound                // Compound (record) types
	ClassEnum                    // Enumerated types
	ClassArray                   // Fixed-size arrays
)

func (c Class) String() string {
	switch c {
	case ClassFixedPoint:
		return "fixed-point"
	case ClassFloatPoint:
		return "float"
	case ClassString:
		return "string"
	case ClassCompound:
		return "compound"
	case ClassEnum:
		return "enum"
	case ClassArray:
		return "array"
	default:
		return "unknown"
	}
}

// TypeID is an open handle to a datatype. Handles must be released with
// CloseType exactly once and never used afterwards.
type TypeID int

// DatasetID is an open handle to a dataset.
type DatasetID int

// SpaceID is an open handle to a dataspace.
type SpaceID int

// VarRef is a reference to a variable-length string buffer, stored as a
// pointer-sized (8 byte) slot inside a record.
type VarRef uint64

// VarRefSize is the byte width of a VarRef slot inside a record.
const VarRefSize = 8

// Common errors
var (
	ErrNotFound      = errors.New("native: object not found")
	ErrExists        = errors.New("native: object already exists")
	ErrInvalidHandle = errors.New("native: invalid or closed handle")
	ErrBadSelection  = errors.New("native: selection exceeds extent")
	ErrTypeMismatch  = errors.New("native: memory type does not match dataset type")
)

// Library is the fixed set of native-format capabilities the compound
// layer consumes. Implementations must be safe for concurrent use by
// callers operating on distinct handles.
type Library interface {
	// Datasets
	OpenDataset(path string) (DatasetID, error)
	CreateDataset(path string, typ TypeID, dims, chunk []uint64) (DatasetID, error)
	CloseDataset(ds DatasetID) error
	DatasetType(ds DatasetID) (TypeID, error)
	DatasetExtent(ds DatasetID) ([]uint64, error)
	// DatasetChunk returns the chunk dimensions, or nil for contiguous
	// storage.
	DatasetChunk(ds DatasetID) ([]uint64, error)

	// Type introspection
	CloseType(typ TypeID) error
	TypeClass(typ TypeID) (Class, error)
	TypeSize(typ TypeID) (int, error)
	TypeSigned(typ TypeID) (bool, error)
	StringIsVariable(typ TypeID) (bool, error)
	ArrayDims(typ TypeID) ([]int, error)
	ArrayBase(typ TypeID) (TypeID, error)
	MemberCount(typ TypeID) (int, error)
	MemberName(typ TypeID, idx int) (string, error)
	MemberType(typ TypeID, idx int) (TypeID, error)
	EnumLabels(typ TypeID) ([]string, error)

	// Type construction
	CreateIntegerType(size int, signed bool) (TypeID, error)
	CreateFloatType(size int) (TypeID, error)
	// CreateStringType creates a fixed-length string type of the given
	// byte length; a negative length creates a variable-length string
	// type.
	CreateStringType(length int) (TypeID, error)
	CreateEnumType(labels []string, width int) (TypeID, error)
	CreateArrayType(base TypeID, dims []int) (TypeID, error)
	CreateCompoundType(size int) (TypeID, error)
	InsertMember(compound TypeID, name string, offset int, typ TypeID) error

	// Dataspaces. Hyperslab selections operate on the flattened
	// (row-major) element space.
	CreateSpace(dims []uint64) (SpaceID, error)
	CloseSpace(sp SpaceID) error
	SelectHyperslab(sp SpaceID, offset, count uint64) error

	// Raw element I/O against a (type, dataspace) pair. The buffer
	// length must equal selected elements times the type size.
	ReadRaw(ds DatasetID, typ TypeID, sp SpaceID, buf []byte) error
	WriteRaw(ds DatasetID, typ TypeID, sp SpaceID, buf []byte) error

	// Variable-length string facility. References handed out by ReadRaw
	// are owned by the caller and must be released with FreeVarString.
	NewVarString(s string) (VarRef, error)
	VarString(ref VarRef) (string, error)
	FreeVarString(ref VarRef) error
}
