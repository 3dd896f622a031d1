package compound

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/multierr"

	"github.com/robert-malhotra/go-hdf5-compound/internal/cleanup"
	"github.com/robert-malhotra/go-hdf5-compound/internal/enc"
	"github.com/robert-malhotra/go-hdf5-compound/native"
)

// File provides record-level access to the datasets behind a native
// library handle. Every operation opens its own cleanup scope, so
// native handles never outlive the call that acquired them.
type File struct {
	lib native.Library
	reg *cleanup.Registry
	o   options
}

// Open wraps a native library handle for record-level access.
func Open(lib native.Library, opts ...Option) *File {
	o := applyOptions(opts)
	return &File{lib: lib, reg: cleanup.NewRegistry(o.log), o: o}
}

// OpenScopes reports how many cleanup scopes are currently open. A
// quiescent file reports zero; anything else is a leak.
func (f *File) OpenScopes() int { return f.reg.OpenScopes() }

// Write writes a single record to the dataset at path, creating the
// dataset (extent 1) if it does not exist. rec may be a struct, a
// pointer to one, a map[string]any, a positional []any, or an Accessor.
func (f *File) Write(path string, shape *Shape, rec any) error {
	return f.writeRange(path, shape, 0, reflect.ValueOf([]any{rec}), true)
}

// WriteArray writes a slice of records starting at record 0, creating
// the dataset with the slice's extent if it does not exist.
func (f *File) WriteArray(path string, shape *Shape, recs any) error {
	rv := reflect.ValueOf(recs)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("records value is %T, not a slice", recs)
	}
	return f.writeRange(path, shape, 0, rv, true)
}

// WriteBlock writes a slice of records into an existing dataset
// starting at the given record offset.
func (f *File) WriteBlock(path string, shape *Shape, offset uint64, recs any) error {
	rv := reflect.ValueOf(recs)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("records value is %T, not a slice", recs)
	}
	return f.writeRange(path, shape, offset, rv, false)
}

// Read reads record 0 of the dataset into rec. rec may be a pointer to
// a struct, a map[string]any, a *[]any, or an Accessor.
func (f *File) Read(path string, shape *Shape, rec any) error {
	return f.readRange(path, shape, 0, reflect.ValueOf([]any{rec}))
}

// ReadBlock reads len(recs) records starting at the given record
// offset. recs is a slice whose elements receive one record each:
// addressable structs, maps (allocated in place when nil), or any of
// the single-record targets.
func (f *File) ReadBlock(path string, shape *Shape, offset uint64, recs any) error {
	rv := reflect.ValueOf(recs)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("records value is %T, not a slice", recs)
	}
	return f.readRange(path, shape, offset, rv)
}

// ReadAll reads the whole dataset as one map per record, in record
// order.
func (f *File) ReadAll(path string, shape *Shape) ([]map[string]any, error) {
	n, err := f.Extent(path)
	if err != nil {
		return nil, err
	}
	recs := make([]map[string]any, n)
	if err := f.ReadBlock(path, shape, 0, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Extent returns the dataset's total record count, flattening a
// multi-dimensional extent row-major.
func (f *File) Extent(path string) (n uint64, err error) {
	sc := f.reg.Open()
	defer sc.Close(&err)
	ds, err := f.lib.OpenDataset(path)
	if err != nil {
		return 0, err
	}
	sc.Register(func() error { return f.lib.CloseDataset(ds) })
	dims, err := f.lib.DatasetExtent(ds)
	if err != nil {
		return 0, err
	}
	return flatExtent(dims), nil
}

// NaturalBlocks returns an iterator over the dataset's natural read
// windows: the chunk shape when the dataset is chunked, the configured
// block size otherwise, the whole extent as a last resort.
func (f *File) NaturalBlocks(path string) (blocks *Blocks, err error) {
	sc := f.reg.Open()
	defer sc.Close(&err)
	ds, err := f.lib.OpenDataset(path)
	if err != nil {
		return nil, err
	}
	sc.Register(func() error { return f.lib.CloseDataset(ds) })
	dims, err := f.lib.DatasetExtent(ds)
	if err != nil {
		return nil, err
	}
	chunk, err := f.lib.DatasetChunk(ds)
	if err != nil {
		return nil, err
	}
	size := flatExtent(chunk)
	if size == 0 {
		size = f.o.blockSize
	}
	return NewBlocks(flatExtent(dims), size), nil
}

// Layout resolves the shape against the dataset's stored type and
// returns the resulting layout, releasing every handle before
// returning.
func (f *File) Layout(path string, shape *Shape) (layout *Layout, err error) {
	sc := f.reg.Open()
	defer sc.Close(&err)
	ds, err := f.lib.OpenDataset(path)
	if err != nil {
		return nil, err
	}
	sc.Register(func() error { return f.lib.CloseDataset(ds) })
	typ, err := f.lib.DatasetType(ds)
	if err != nil {
		return nil, err
	}
	sc.Register(func() error { return f.lib.CloseType(typ) })
	return resolve(f.lib, typ, shape, sc, &f.o)
}

func (f *File) writeRange(path string, shape *Shape, offset uint64, rv reflect.Value, create bool) (err error) {
	n := uint64(rv.Len())
	sc := f.reg.Open()
	defer sc.Close(&err)

	ds, typ, layout, extent, err := f.openForWrite(path, shape, offset+n, create, sc)
	if err != nil {
		return err
	}
	if err := layout.RequireComplete(); err != nil {
		return err
	}
	if offset+n > extent {
		return fmt.Errorf("%w: records [%d,%d) beyond extent %d",
			native.ErrBadSelection, offset, offset+n, extent)
	}

	rs := layout.RecordSize()
	buf := make([]byte, int(n)*rs)
	// The write copies string data into the file, so references created
	// while encoding are freed when the scope closes, success or not.
	tracker := &varTracker{lib: f.lib}
	sc.Register(tracker.freeAll)
	for i := 0; i < int(n); i++ {
		acc, err := accessorFor(rv.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := layout.Encode(acc, buf[i*rs:(i+1)*rs], tracker); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	sp, err := f.lib.CreateSpace([]uint64{extent})
	if err != nil {
		return err
	}
	sc.Register(func() error { return f.lib.CloseSpace(sp) })
	if err := f.lib.SelectHyperslab(sp, offset, n); err != nil {
		return err
	}
	return f.lib.WriteRaw(ds, typ, sp, buf)
}

func (f *File) readRange(path string, shape *Shape, offset uint64, rv reflect.Value) (err error) {
	n := uint64(rv.Len())
	sc := f.reg.Open()
	defer sc.Close(&err)

	ds, err := f.lib.OpenDataset(path)
	if err != nil {
		return err
	}
	sc.Register(func() error { return f.lib.CloseDataset(ds) })
	typ, err := f.lib.DatasetType(ds)
	if err != nil {
		return err
	}
	sc.Register(func() error { return f.lib.CloseType(typ) })
	layout, err := resolve(f.lib, typ, shape, sc, &f.o)
	if err != nil {
		return err
	}
	dims, err := f.lib.DatasetExtent(ds)
	if err != nil {
		return err
	}
	extent := flatExtent(dims)
	if offset+n > extent {
		return fmt.Errorf("%w: records [%d,%d) beyond extent %d",
			native.ErrBadSelection, offset, offset+n, extent)
	}

	rs := layout.RecordSize()
	buf := make([]byte, int(n)*rs)
	sp, err := f.lib.CreateSpace([]uint64{extent})
	if err != nil {
		return err
	}
	sc.Register(func() error { return f.lib.CloseSpace(sp) })
	if err := f.lib.SelectHyperslab(sp, offset, n); err != nil {
		return err
	}
	if err := f.lib.ReadRaw(ds, typ, sp, buf); err != nil {
		return err
	}
	// The read handed us ownership of every variable-length reference
	// in the buffer.
	sc.Register(func() error { return freeVarSlots(f.lib, layout, buf) })

	for i := 0; i < int(n); i++ {
		target, err := elementTarget(rv.Index(i))
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		acc, err := accessorFor(target)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := layout.Decode(buf[i*rs:(i+1)*rs], acc, f.lib); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// openForWrite opens the dataset at path, creating it with a freshly
// built compound type when absent and create is set. The returned
// layout maps the shape onto whatever type the dataset ends up with.
func (f *File) openForWrite(path string, shape *Shape, minExtent uint64, create bool, sc *cleanup.Scope) (native.DatasetID, native.TypeID, *Layout, uint64, error) {
	ds, err := f.lib.OpenDataset(path)
	switch {
	case err == nil:
		sc.Register(func() error { return f.lib.CloseDataset(ds) })
		typ, err := f.lib.DatasetType(ds)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		sc.Register(func() error { return f.lib.CloseType(typ) })
		layout, err := resolve(f.lib, typ, shape, sc, &f.o)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		dims, err := f.lib.DatasetExtent(ds)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		return ds, typ, layout, flatExtent(dims), nil

	case errors.Is(err, native.ErrNotFound) && create:
		layout, err := newLayout(shape, &f.o)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		typ, err := buildStorageType(f.lib, layout, sc)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		var chunk []uint64
		if f.o.blockSize > 0 {
			chunk = []uint64{f.o.blockSize}
		}
		ds, err := f.lib.CreateDataset(path, typ, []uint64{minExtent}, chunk)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		sc.Register(func() error { return f.lib.CloseDataset(ds) })
		return ds, typ, layout, minExtent, nil

	default:
		return 0, 0, nil, 0, err
	}
}

// buildStorageType creates the packed compound type matching a fully
// specified layout. Every created handle is registered on the scope.
func buildStorageType(lib native.Library, l *Layout, sc *cleanup.Scope) (native.TypeID, error) {
	ct, err := lib.CreateCompoundType(l.RecordSize())
	if err != nil {
		return 0, err
	}
	sc.Register(func() error { return lib.CloseType(ct) })
	for i := range l.members {
		m := &l.members[i]
		mt, err := memberStorageType(lib, m, sc)
		if err != nil {
			return 0, fmt.Errorf("member %q: %w", m.Name, err)
		}
		if err := lib.InsertMember(ct, m.Name, m.Offset, mt); err != nil {
			return 0, fmt.Errorf("member %q: %w", m.Name, err)
		}
	}
	return ct, nil
}

func memberStorageType(lib native.Library, m *MemberLayout, sc *cleanup.Scope) (native.TypeID, error) {
	reg := func(t native.TypeID) native.TypeID {
		sc.Register(func() error { return lib.CloseType(t) })
		return t
	}
	switch m.Kind {
	case KindScalar:
		if m.Elem.IsFloat() {
			t, err := lib.CreateFloatType(m.Elem.Size())
			if err != nil {
				return 0, err
			}
			return reg(t), nil
		}
		t, err := lib.CreateIntegerType(m.Elem.Size(), m.Elem.Signed())
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindBool:
		t, err := lib.CreateEnumType([]string{"FALSE", "TRUE"}, 1)
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindString:
		t, err := lib.CreateStringType(m.Length)
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindVarString:
		t, err := lib.CreateStringType(-1)
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindEnum:
		t, err := lib.CreateEnumType(m.Labels, EnumStorageWidth(len(m.Labels)))
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindEnumArray:
		base, err := lib.CreateEnumType(m.Labels, EnumStorageWidth(len(m.Labels)))
		if err != nil {
			return 0, err
		}
		reg(base)
		t, err := lib.CreateArrayType(base, m.Dims)
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	case KindArray, KindMDArray:
		var base native.TypeID
		var err error
		if m.Elem.IsFloat() {
			base, err = lib.CreateFloatType(m.Elem.Size())
		} else {
			base, err = lib.CreateIntegerType(m.Elem.Size(), m.Elem.Signed())
		}
		if err != nil {
			return 0, err
		}
		reg(base)
		t, err := lib.CreateArrayType(base, m.Dims)
		if err != nil {
			return 0, err
		}
		return reg(t), nil

	default:
		return 0, fmt.Errorf("kind %s has no storage type", m.Kind)
	}
}

// varTracker records variable-length references created while encoding
// so they can be released in one sweep after the write copies them.
type varTracker struct {
	lib  native.Library
	refs []native.VarRef
}

func (t *varTracker) NewVarString(s string) (native.VarRef, error) {
	ref, err := t.lib.NewVarString(s)
	if err == nil {
		t.refs = append(t.refs, ref)
	}
	return ref, err
}

func (t *varTracker) VarString(ref native.VarRef) (string, error) {
	return t.lib.VarString(ref)
}

func (t *varTracker) freeAll() error {
	var err error
	for _, ref := range t.refs {
		err = multierr.Append(err, t.lib.FreeVarString(ref))
	}
	t.refs = nil
	return err
}

// freeVarSlots releases every variable-length reference in a buffer of
// decoded records. The sweep covers all of storage's slots, including
// members the shape did not map: the read minted a reference into each
// of them.
func freeVarSlots(lib native.Library, l *Layout, buf []byte) error {
	rs := l.RecordSize()
	if rs == 0 {
		return nil
	}
	var err error
	for rec := 0; rec+rs <= len(buf); rec += rs {
		for _, off := range l.varSlots {
			slot := buf[rec+off : rec+off+native.VarRefSize]
			err = multierr.Append(err, lib.FreeVarString(native.VarRef(enc.Bits(slot))))
		}
	}
	return err
}

// elementTarget adapts one element of a destination slice into a
// single-record target.
func elementTarget(ev reflect.Value) (any, error) {
	switch ev.Kind() {
	case reflect.Struct:
		if !ev.CanAddr() {
			return nil, fmt.Errorf("struct element is not addressable")
		}
		return ev.Addr().Interface(), nil
	case reflect.Map:
		if ev.IsNil() {
			if !ev.CanSet() {
				return nil, fmt.Errorf("nil map element is not settable")
			}
			ev.Set(reflect.MakeMap(ev.Type()))
		}
		return ev.Interface(), nil
	default:
		if (ev.Kind() == reflect.Interface || ev.Kind() == reflect.Pointer) && ev.IsNil() {
			return nil, fmt.Errorf("element is nil")
		}
		return ev.Interface(), nil
	}
}

func flatExtent(dims []uint64) uint64 {
	if len(dims) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
