package dc

import "fmt"

// Class is a compiled distributed class: a stable numeric index, parent
// classes, and fields in declaration order.
type Class struct {
	Name    string
	Number  uint16
	parents []*Class
	fields  []*Field

	inherited []*Field
	byName    map[string]*Field
}

// InheritedFields returns all fields, parents first, in declaration
// order. The slice is shared; callers must not modify it.
func (c *Class) InheritedFields() []*Field { return c.inherited }

// FieldByName resolves a field declared on this class or a parent.
func (c *Class) FieldByName(name string) *Field { return c.byName[name] }

// Schema holds compiled classes with a global field numbering.
type Schema struct {
	classes       []*Class
	byName        map[string]*Class
	fieldByNumber map[uint16]*Field
	objectTypes   map[uint16]*Class
	typeByName    map[string]uint16

	nextField uint16
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{
		byName:        make(map[string]*Class),
		fieldByNumber: make(map[uint16]*Field),
		objectTypes:   make(map[uint16]*Class),
		typeByName:    make(map[string]uint16),
	}
}

// FieldSpec declares one field for AddClass.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Flags   Flags
	Args    []Type
	Atomics []string // molecular: names of already-declared fields
	Default *Value
}

// AtomicField declares an atomic field.
func AtomicField(name string, flags Flags, args ...Type) FieldSpec {
	return FieldSpec{Name: name, Kind: Atomic, Flags: flags, Args: args}
}

// ParamField declares a single-parameter field.
func ParamField(name string, flags Flags, t Type) FieldSpec {
	return FieldSpec{Name: name, Kind: Parameter, Flags: flags, Args: []Type{t}}
}

// MolecularField declares a molecular field bundling previously declared
// atomics of the same class.
func MolecularField(name string, atomics ...string) FieldSpec {
	return FieldSpec{Name: name, Kind: Molecular, Atomics: atomics}
}

// WithDefault attaches an explicit default value.
func (s FieldSpec) WithDefault(v Value) FieldSpec {
	s.Default = &v
	return s
}

// AddClass compiles and registers a class. Field numbers are assigned
// globally in declaration order; parents must already be registered.
func (s *Schema) AddClass(name string, parentNames []string, specs ...FieldSpec) (*Class, error) {
	if _, ok := s.byName[name]; ok {
		return nil, fmt.Errorf("duplicate class %q", name)
	}
	c := &Class{
		Name:   name,
		Number: uint16(len(s.classes)),
		byName: make(map[string]*Field),
	}
	for _, pn := range parentNames {
		p, ok := s.byName[pn]
		if !ok {
			return nil, fmt.Errorf("class %q: unknown parent %q", name, pn)
		}
		c.parents = append(c.parents, p)
		c.inherited = append(c.inherited, p.inherited...)
		for fn, f := range p.byName {
			c.byName[fn] = f
		}
	}
	for _, spec := range specs {
		f := &Field{
			Name:         spec.Name,
			Number:       s.nextField,
			Kind:         spec.Kind,
			Flags:        spec.Flags,
			Args:         spec.Args,
			Class:        c,
			defaultValue: spec.Default,
		}
		s.nextField++
		if spec.Kind == Molecular {
			for _, an := range spec.Atomics {
				a := c.byName[an]
				if a == nil {
					return nil, fmt.Errorf("class %q: molecular %q references unknown field %q", name, spec.Name, an)
				}
				f.Atomics = append(f.Atomics, a)
				// Molecular flags are the union of the atomics'.
				f.Flags |= a.Flags
			}
		}
		if _, dup := c.byName[spec.Name]; dup && spec.Kind != Molecular {
			return nil, fmt.Errorf("class %q: duplicate field %q", name, spec.Name)
		}
		c.fields = append(c.fields, f)
		c.inherited = append(c.inherited, f)
		c.byName[f.Name] = f
		s.fieldByNumber[f.Number] = f
	}
	s.classes = append(s.classes, c)
	s.byName[name] = c

	// Classes declaring a DcObjectType field are numbered in declaration
	// order; that number is the persistence type on the wire.
	if _, ok := c.byName["DcObjectType"]; ok {
		n := uint16(len(s.objectTypes) + 1)
		s.objectTypes[n] = c
		s.typeByName[name] = n
	}
	return c, nil
}

// MustAddClass is AddClass panicking on error, for static schemas.
func (s *Schema) MustAddClass(name string, parentNames []string, specs ...FieldSpec) *Class {
	c, err := s.AddClass(name, parentNames, specs...)
	if err != nil {
		panic(err)
	}
	return c
}

// ClassByName resolves a class by name.
func (s *Schema) ClassByName(name string) *Class { return s.byName[name] }

// ClassByNumber resolves a class by its dclass index.
func (s *Schema) ClassByNumber(n uint16) *Class {
	if int(n) >= len(s.classes) {
		return nil
	}
	return s.classes[n]
}

// FieldByNumber resolves a field by its global number.
func (s *Schema) FieldByNumber(n uint16) *Field { return s.fieldByNumber[n] }

// ObjectType resolves a persistence object type to its class.
func (s *Schema) ObjectType(n uint16) *Class { return s.objectTypes[n] }

// ObjectTypeByName returns the persistence type number of a class, or 0
// if the class is not persistable.
func (s *Schema) ObjectTypeByName(name string) uint16 { return s.typeByName[name] }

// NumClasses returns the number of registered classes.
func (s *Schema) NumClasses() int { return len(s.classes) }
