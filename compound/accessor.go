package compound

import (
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v4"
)

// Accessor is a uniform get/set capability over one in-memory record
// representation. The codec drives it by member name and by the member's
// position within the layout; named representations ignore the position,
// positional ones ignore the name. An accessor borrows its target for
// the duration of one codec call and does not own it.
type Accessor interface {
	Get(name string, pos int) (any, error)
	Set(name string, pos int, v any) error
}

// fieldPlan maps member names to struct field indices. Plans are cached
// per struct type; building one walks the type once.
type fieldPlan map[string][]int

// planCache avoids re-walking struct types on every accessor
// construction.
var planCache = xsync.NewMap[reflect.Type, fieldPlan]()

func planFor(t reflect.Type) fieldPlan {
	if p, ok := planCache.Load(t); ok {
		return p
	}
	p := make(fieldPlan)
	for _, f := range reflect.VisibleFields(t) {
		if f.PkgPath != "" { // unexported
			continue
		}
		if tag, ok := f.Tag.Lookup("hdf5"); ok && tag != "" {
			if tag == "-" {
				continue
			}
			p[tag] = f.Index
			continue
		}
		p[f.Name] = f.Index
	}
	planCache.Store(t, p)
	return p
}

// structAccessor accesses exported fields of a struct directly. Member
// names match the `hdf5:"name"` field tag when present, the exact field
// name otherwise; a lowercase member name also matches its exported
// (capitalized) field.
type structAccessor struct {
	v    reflect.Value // struct value, addressable for Set
	plan fieldPlan
}

// NewStructAccessor creates an accessor over a struct or a pointer to
// one. Set requires a pointer.
func NewStructAccessor(target any) (Accessor, error) {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("struct accessor target is a nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("struct accessor target is %s, not a struct", v.Kind())
	}
	return &structAccessor{v: v, plan: planFor(v.Type())}, nil
}

func (a *structAccessor) field(name string) (reflect.Value, error) {
	if idx, ok := a.plan[name]; ok {
		return a.v.FieldByIndex(idx), nil
	}
	if idx, ok := a.plan[exportName(name)]; ok {
		return a.v.FieldByIndex(idx), nil
	}
	return reflect.Value{}, fmt.Errorf("struct %s has no field for member %q", a.v.Type(), name)
}

func (a *structAccessor) Get(name string, _ int) (any, error) {
	f, err := a.field(name)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

func (a *structAccessor) Set(name string, _ int, v any) error {
	f, err := a.field(name)
	if err != nil {
		return err
	}
	if !f.CanSet() {
		return fmt.Errorf("member %q: struct accessor target must be a pointer to set fields", name)
	}
	val := reflect.ValueOf(v)
	switch {
	case val.Type().AssignableTo(f.Type()):
		f.Set(val)
	case val.Type().ConvertibleTo(f.Type()):
		f.Set(val.Convert(f.Type()))
	default:
		return fmt.Errorf("member %q: cannot store %s into field of type %s",
			name, val.Type(), f.Type())
	}
	return nil
}

// exportName capitalizes the first letter of a member name so that
// lowercase stored member names find their exported Go fields.
func exportName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] = r[0] - 'a' + 'A'
	}
	return string(r)
}

// mapAccessor accesses a string-keyed map.
type mapAccessor struct {
	m map[string]any
}

// NewMapAccessor creates an accessor over a string-keyed map. The map is
// mutated in place by Set.
func NewMapAccessor(m map[string]any) Accessor {
	return &mapAccessor{m: m}
}

func (a *mapAccessor) Get(name string, _ int) (any, error) {
	v, ok := a.m[name]
	if !ok {
		return nil, fmt.Errorf("map has no value for member %q", name)
	}
	return v, nil
}

func (a *mapAccessor) Set(name string, _ int, v any) error {
	a.m[name] = v
	return nil
}

// listAccessor accesses an ordered list positionally, growing it as
// members are set.
type listAccessor struct {
	list *[]any
}

// NewListAccessor creates an accessor over an ordered list. Positions
// follow the layout's member order; Set grows the list as needed.
func NewListAccessor(list *[]any) Accessor {
	return &listAccessor{list: list}
}

func (a *listAccessor) Get(name string, pos int) (any, error) {
	if pos < 0 || pos >= len(*a.list) {
		return nil, fmt.Errorf("list has no element %d for member %q", pos, name)
	}
	return (*a.list)[pos], nil
}

func (a *listAccessor) Set(name string, pos int, v any) error {
	if pos < 0 {
		return fmt.Errorf("member %q: negative position %d", name, pos)
	}
	for len(*a.list) <= pos {
		*a.list = append(*a.list, nil)
	}
	(*a.list)[pos] = v
	return nil
}

// arrayAccessor accesses a fixed-length value array positionally.
type arrayAccessor struct {
	vals []any
}

// NewArrayAccessor creates an accessor over a fixed-length value array.
// Positions follow the layout's member order; Set writes in place and
// fails beyond the array's length.
func NewArrayAccessor(vals []any) Accessor {
	return &arrayAccessor{vals: vals}
}

func (a *arrayAccessor) Get(name string, pos int) (any, error) {
	if pos < 0 || pos >= len(a.vals) {
		return nil, fmt.Errorf("array has no element %d for member %q", pos, name)
	}
	return a.vals[pos], nil
}

func (a *arrayAccessor) Set(name string, pos int, v any) error {
	if pos < 0 || pos >= len(a.vals) {
		return fmt.Errorf("array has no element %d for member %q", pos, name)
	}
	a.vals[pos] = v
	return nil
}

// accessorFor picks the accessor implementation matching the target's
// representation.
func accessorFor(target any) (Accessor, error) {
	switch x := target.(type) {
	case Accessor:
		return x, nil
	case map[string]any:
		return NewMapAccessor(x), nil
	case *[]any:
		return NewListAccessor(x), nil
	case []any:
		return NewArrayAccessor(x), nil
	default:
		return NewStructAccessor(target)
	}
}
