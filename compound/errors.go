// Package compound exchanges Go values with HDF5 compound (record)
// datasets whose byte layout is resolved at run time from the stored
// type rather than known at compile time. It converts structs, maps,
// ordered lists and arrays to and from packed record buffers, resolves
// record layouts against stored compound types, and streams large record
// arrays through natural block windows. All native-format access goes
// through the capability interface in the native package.
package compound

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-hdf5-compound/internal/cleanup"
)

// Common errors
var (
	ErrNotCompound      = errors.New("stored type is not a compound type")
	ErrIncompleteLayout = errors.New("layout does not map every shape member")
	ErrRecordSize       = errors.New("computed record size does not match stored type size")
	ErrShortBuffer      = errors.New("buffer too small for one record")
)

// CleanupError reports native handle release failures from an operation
// whose body succeeded. Match it with errors.As.
type CleanupError = cleanup.CleanupError

// ShapeMismatchError reports a shape member that cannot be mapped onto
// the stored compound type.
type ShapeMismatchError struct {
	Member string
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch on member %q: %s", e.Member, e.Detail)
}

// DimensionMismatchError reports an array value whose rank or extents do
// not equal the layout's declared dimensions. Nothing is written when it
// is returned.
type DimensionMismatchError struct {
	Member string
	Want   []int
	Got    []int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch on member %q: declared %v, value has %v",
		e.Member, e.Want, e.Got)
}

// EncodingOverflowError reports a string or enumeration value that does
// not fit its declared storage. Nothing is written when it is returned.
type EncodingOverflowError struct {
	Member string
	Detail string
}

func (e *EncodingOverflowError) Error() string {
	return fmt.Sprintf("encoding overflow on member %q: %s", e.Member, e.Detail)
}
