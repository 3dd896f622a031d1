package native

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// typeInfo is the immutable description of a stored datatype. Open
// TypeID handles point at shared typeInfo values; closing a handle never
// invalidates the description.
type typeInfo struct {
	class  Class
	size   int
	signed bool
	varlen bool
	labels []string
	dims   []int
	base   *typeInfo
	names  []string
	offs   []int
	mtypes []*typeInfo
}

type memDataset struct {
	typ   *typeInfo
	dims  []uint64
	chunk []uint64
	data  []byte
}

type memSpace struct {
	dims   []uint64
	selOff uint64
	selCnt uint64
	sel    bool
}

// Mem is an in-memory Library implementation. Datasets live in a flat
// path namespace; variable-length strings live in a heap table keyed by
// VarRef. It is safe for concurrent use.
type Mem struct {
	mu sync.Mutex

	types    map[TypeID]*typeInfo
	datasets map[DatasetID]*memDataset
	spaces   map[SpaceID]*memSpace
	paths    map[string]*memDataset
	vars     map[VarRef]string

	nextType    TypeID
	nextDataset DatasetID
	nextSpace   SpaceID
	nextVar     VarRef
}

var _ Library = (*Mem)(nil)

// NewMem creates an empty in-memory file.
func NewMem() *Mem {
	return &Mem{
		types:    make(map[TypeID]*typeInfo),
		datasets: make(map[DatasetID]*memDataset),
		spaces:   make(map[SpaceID]*memSpace),
		paths:    make(map[string]*memDataset),
		vars:     make(map[VarRef]string),
		nextVar:  1, // ref 0 is the null string
	}
}

// OpenHandles returns the number of unreleased type, dataset and
// dataspace handles. Zero after a well-behaved operation.
func (m *Mem) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.types) + len(m.datasets) + len(m.spaces)
}

// OpenVarStrings returns the number of live variable-length string
// references, including those held by dataset contents.
func (m *Mem) OpenVarStrings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vars)
}

func (m *Mem) newTypeHandle(t *typeInfo) TypeID {
	m.nextType++
	id := m.nextType
	m.types[id] = t
	return id
}

func (m *Mem) typeInfoFor(id TypeID) (*typeInfo, error) {
	t, ok := m.types[id]
	if !ok {
		return nil, fmt.Errorf("type %d: %w", id, ErrInvalidHandle)
	}
	return t, nil
}

// Datasets

func (m *Mem) OpenDataset(path string) (DatasetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.paths[path]
	if !ok {
		return 0, fmt.Errorf("dataset %q: %w", path, ErrNotFound)
	}
	m.nextDataset++
	m.datasets[m.nextDataset] = ds
	return m.nextDataset, nil
}

func (m *Mem) CreateDataset(path string, typ TypeID, dims, chunk []uint64) (DatasetID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.paths[path]; ok {
		return 0, fmt.Errorf("dataset %q: %w", path, ErrExists)
	}
	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	ds := &memDataset{
		typ:   t,
		dims:  append([]uint64(nil), dims...),
		chunk: append([]uint64(nil), chunk...),
		data:  make([]byte, n*uint64(t.size)),
	}
	m.paths[path] = ds
	m.nextDataset++
	m.datasets[m.nextDataset] = ds
	return m.nextDataset, nil
}

func (m *Mem) CloseDataset(ds DatasetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.datasets[ds]; !ok {
		return fmt.Errorf("dataset %d: %w", ds, ErrInvalidHandle)
	}
	delete(m.datasets, ds)
	return nil
}

func (m *Mem) datasetFor(id DatasetID) (*memDataset, error) {
	ds, ok := m.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %d: %w", id, ErrInvalidHandle)
	}
	return ds, nil
}

func (m *Mem) DatasetType(ds DatasetID) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.datasetFor(ds)
	if err != nil {
		return 0, err
	}
	return m.newTypeHandle(d.typ), nil
}

func (m *Mem) DatasetExtent(ds DatasetID) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.datasetFor(ds)
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), d.dims...), nil
}

func (m *Mem) DatasetChunk(ds DatasetID) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.datasetFor(ds)
	if err != nil {
		return nil, err
	}
	if len(d.chunk) == 0 {
		return nil, nil
	}
	return append([]uint64(nil), d.chunk...), nil
}

// Type introspection

func (m *Mem) CloseType(typ TypeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[typ]; !ok {
		return fmt.Errorf("type %d: %w", typ, ErrInvalidHandle)
	}
	delete(m.types, typ)
	return nil
}

func (m *Mem) TypeClass(typ TypeID) (Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	return t.class, nil
}

func (m *Mem) TypeSize(typ TypeID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	return t.size, nil
}

func (m *Mem) TypeSigned(typ TypeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return false, err
	}
	if t.class != ClassFixedPoint {
		return false, fmt.Errorf("type %d is %s, not fixed-point", typ, t.class)
	}
	return t.signed, nil
}

func (m *Mem) StringIsVariable(typ TypeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return false, err
	}
	if t.class != ClassString {
		return false, fmt.Errorf("type %d is %s, not string", typ, t.class)
	}
	return t.varlen, nil
}

func (m *Mem) ArrayDims(typ TypeID) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return nil, err
	}
	if t.class != ClassArray {
		return nil, fmt.Errorf("type %d is %s, not array", typ, t.class)
	}
	return append([]int(nil), t.dims...), nil
}

func (m *Mem) ArrayBase(typ TypeID) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	if t.class != ClassArray {
		return 0, fmt.Errorf("type %d is %s, not array", typ, t.class)
	}
	return m.newTypeHandle(t.base), nil
}

func (m *Mem) MemberCount(typ TypeID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	if t.class != ClassCompound {
		return 0, fmt.Errorf("type %d is %s, not compound", typ, t.class)
	}
	return len(t.names), nil
}

func (m *Mem) MemberName(typ TypeID, idx int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return "", err
	}
	if t.class != ClassCompound || idx < 0 || idx >= len(t.names) {
		return "", fmt.Errorf("type %d: no member %d", typ, idx)
	}
	return t.names[idx], nil
}

func (m *Mem) MemberType(typ TypeID, idx int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return 0, err
	}
	if t.class != ClassCompound || idx < 0 || idx >= len(t.mtypes) {
		return 0, fmt.Errorf("type %d: no member %d", typ, idx)
	}
	return m.newTypeHandle(t.mtypes[idx]), nil
}

func (m *Mem) EnumLabels(typ TypeID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.typeInfoFor(typ)
	if err != nil {
		return nil, err
	}
	if t.class != ClassEnum {
		return nil, fmt.Errorf("type %d is %s, not enum", typ, t.class)
	}
	return append([]string(nil), t.labels...), nil
}

// Type construction

func (m *Mem) CreateIntegerType(size int, signed bool) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, fmt.Errorf("integer type size %d not supported", size)
	}
	return m.newTypeHandle(&typeInfo{class: ClassFixedPoint, size: size, signed: signed}), nil
}

func (m *Mem) CreateFloatType(size int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size != 4 && size != 8 {
		return 0, fmt.Errorf("float type size %d not supported", size)
	}
	return m.newTypeHandle(&typeInfo{class: ClassFloatPoint, size: size}), nil
}

func (m *Mem) CreateStringType(length int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if length < 0 {
		return m.newTypeHandle(&typeInfo{class: ClassString, size: VarRefSize, varlen: true}), nil
	}
	if length == 0 {
		return 0, fmt.Errorf("fixed string type must have a positive length")
	}
	return m.newTypeHandle(&typeInfo{class: ClassString, size: length}), nil
}

func (m *Mem) CreateEnumType(labels []string, width int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if width != 1 && width != 2 && width != 4 {
		return 0, fmt.Errorf("enum storage width %d not supported", width)
	}
	if len(labels) == 0 {
		return 0, fmt.Errorf("enum type must have at least one label")
	}
	return m.newTypeHandle(&typeInfo{
		class:  ClassEnum,
		size:   width,
		labels: append([]string(nil), labels...),
	}), nil
}

func (m *Mem) CreateArrayType(base TypeID, dims []int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bt, err := m.typeInfoFor(base)
	if err != nil {
		return 0, err
	}
	if len(dims) == 0 {
		return 0, fmt.Errorf("array type must have at least one dimension")
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("array dimension %d not valid", d)
		}
		n *= d
	}
	return m.newTypeHandle(&typeInfo{
		class: ClassArray,
		size:  n * bt.size,
		dims:  append([]int(nil), dims...),
		base:  bt,
	}), nil
}

func (m *Mem) CreateCompoundType(size int) (TypeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size <= 0 {
		return 0, fmt.Errorf("compound type size %d not valid", size)
	}
	return m.newTypeHandle(&typeInfo{class: ClassCompound, size: size}), nil
}

func (m *Mem) InsertMember(compound TypeID, name string, offset int, typ TypeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ct, err := m.typeInfoFor(compound)
	if err != nil {
		return err
	}
	if ct.class != ClassCompound {
		return fmt.Errorf("type %d is %s, not compound", compound, ct.class)
	}
	mt, err := m.typeInfoFor(typ)
	if err != nil {
		return err
	}
	if offset < 0 || offset+mt.size > ct.size {
		return fmt.Errorf("member %q at offset %d size %d exceeds compound size %d",
			name, offset, mt.size, ct.size)
	}
	for _, n := range ct.names {
		if n == name {
			return fmt.Errorf("member %q: %w", name, ErrExists)
		}
	}
	ct.names = append(ct.names, name)
	ct.offs = append(ct.offs, offset)
	ct.mtypes = append(ct.mtypes, mt)
	return nil
}

// Dataspaces

func (m *Mem) CreateSpace(dims []uint64) (SpaceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSpace++
	m.spaces[m.nextSpace] = &memSpace{dims: append([]uint64(nil), dims...)}
	return m.nextSpace, nil
}

func (m *Mem) CloseSpace(sp SpaceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.spaces[sp]; !ok {
		return fmt.Errorf("space %d: %w", sp, ErrInvalidHandle)
	}
	delete(m.spaces, sp)
	return nil
}

func (m *Mem) SelectHyperslab(sp SpaceID, offset, count uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.spaces[sp]
	if !ok {
		return fmt.Errorf("space %d: %w", sp, ErrInvalidHandle)
	}
	if offset+count > flatExtent(s.dims) {
		return fmt.Errorf("select [%d,%d): %w", offset, offset+count, ErrBadSelection)
	}
	s.selOff, s.selCnt, s.sel = offset, count, true
	return nil
}

func flatExtent(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// Raw I/O

func (m *Mem) selection(sp SpaceID) (off, cnt uint64, err error) {
	s, ok := m.spaces[sp]
	if !ok {
		return 0, 0, fmt.Errorf("space %d: %w", sp, ErrInvalidHandle)
	}
	if s.sel {
		return s.selOff, s.selCnt, nil
	}
	return 0, flatExtent(s.dims), nil
}

func (m *Mem) ReadRaw(ds DatasetID, typ TypeID, sp SpaceID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.datasetFor(ds)
	if err != nil {
		return err
	}
	t, err := m.typeInfoFor(typ)
	if err != nil {
		return err
	}
	if t.size != d.typ.size {
		return fmt.Errorf("element size %d vs %d: %w", t.size, d.typ.size, ErrTypeMismatch)
	}
	off, cnt, err := m.selection(sp)
	if err != nil {
		return err
	}
	if uint64(len(buf)) != cnt*uint64(t.size) {
		return fmt.Errorf("buffer length %d for %d elements of %d bytes: %w",
			len(buf), cnt, t.size, ErrTypeMismatch)
	}
	copy(buf, d.data[off*uint64(t.size):(off+cnt)*uint64(t.size)])

	// Hand out fresh variable-length string references owned by the
	// caller, matching H5Dread's per-read allocation.
	for i := uint64(0); i < cnt; i++ {
		base := i * uint64(t.size)
		for _, slot := range varSlots(t) {
			p := buf[base+uint64(slot) : base+uint64(slot)+VarRefSize]
			old := VarRef(binary.LittleEndian.Uint64(p))
			if old == 0 {
				continue
			}
			s, ok := m.vars[old]
			if !ok {
				return fmt.Errorf("stored var string ref %d: %w", old, ErrInvalidHandle)
			}
			ref := m.mintVarLocked(s)
			binary.LittleEndian.PutUint64(p, uint64(ref))
		}
	}
	return nil
}

func (m *Mem) WriteRaw(ds DatasetID, typ TypeID, sp SpaceID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.datasetFor(ds)
	if err != nil {
		return err
	}
	t, err := m.typeInfoFor(typ)
	if err != nil {
		return err
	}
	if t.size != d.typ.size {
		return fmt.Errorf("element size %d vs %d: %w", t.size, d.typ.size, ErrTypeMismatch)
	}
	off, cnt, err := m.selection(sp)
	if err != nil {
		return err
	}
	if uint64(len(buf)) != cnt*uint64(t.size) {
		return fmt.Errorf("buffer length %d for %d elements of %d bytes: %w",
			len(buf), cnt, t.size, ErrTypeMismatch)
	}
	dst := d.data[off*uint64(t.size) : (off+cnt)*uint64(t.size)]

	// Reclaim the heap entries the overwrite displaces.
	for i := uint64(0); i < cnt; i++ {
		base := i * uint64(t.size)
		for _, slot := range varSlots(d.typ) {
			p := dst[base+uint64(slot) : base+uint64(slot)+VarRefSize]
			if old := VarRef(binary.LittleEndian.Uint64(p)); old != 0 {
				delete(m.vars, old)
			}
		}
	}
	copy(dst, buf)

	// Copy variable-length strings into the file heap so the caller can
	// free its references after the write returns.
	for i := uint64(0); i < cnt; i++ {
		base := i * uint64(t.size)
		for _, slot := range varSlots(t) {
			p := dst[base+uint64(slot) : base+uint64(slot)+VarRefSize]
			ref := VarRef(binary.LittleEndian.Uint64(p))
			if ref == 0 {
				continue
			}
			s, ok := m.vars[ref]
			if !ok {
				return fmt.Errorf("var string ref %d: %w", ref, ErrInvalidHandle)
			}
			binary.LittleEndian.PutUint64(p, uint64(m.mintVarLocked(s)))
		}
	}
	return nil
}

// varSlots returns the element-relative byte offsets of variable-length
// string slots within one element of t.
func varSlots(t *typeInfo) []int {
	switch t.class {
	case ClassString:
		if t.varlen {
			return []int{0}
		}
	case ClassCompound:
		var slots []int
		for i, mt := range t.mtypes {
			if mt.class == ClassString && mt.varlen {
				slots = append(slots, t.offs[i])
			}
		}
		return slots
	}
	return nil
}

// Variable-length strings

func (m *Mem) mintVarLocked(s string) VarRef {
	ref := m.nextVar
	m.nextVar++
	m.vars[ref] = s
	return ref
}

func (m *Mem) NewVarString(s string) (VarRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintVarLocked(s), nil
}

func (m *Mem) VarString(ref VarRef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref == 0 {
		return "", nil
	}
	s, ok := m.vars[ref]
	if !ok {
		return "", fmt.Errorf("var string ref %d: %w", ref, ErrInvalidHandle)
	}
	return s, nil
}

func (m *Mem) FreeVarString(ref VarRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref == 0 {
		return nil
	}
	if _, ok := m.vars[ref]; !ok {
		return fmt.Errorf("var string ref %d: %w", ref, ErrInvalidHandle)
	}
	delete(m.vars, ref)
	return nil
}
