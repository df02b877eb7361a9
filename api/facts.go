package api

import "strings"

// FactKind names the kind of a declared element reported by a fact producer.
type FactKind string

const (
	FactImport FactKind = "import"
	FactType   FactKind = "type"
	FactField  FactKind = "field"
	FactFunc   FactKind = "func"
)

// Modifiers is a bit set of declaration modifiers.
type Modifiers uint32

const (
	ModExported Modifiers = 1 << iota
	ModStatic
	ModAbstract
	ModAsync
	ModPointerReceiver
	ModConst
	ModInterface
	ModAlias
)

var modifierNames = []struct {
	bit  Modifiers
	name string
}{
	{ModExported, "exported"},
	{ModStatic, "static"},
	{ModAbstract, "abstract"},
	{ModAsync, "async"},
	{ModPointerReceiver, "pointer-receiver"},
	{ModConst, "const"},
	{ModInterface, "interface"},
	{ModAlias, "alias"},
}

// Has reports whether all bits of m2 are set.
func (m Modifiers) Has(m2 Modifiers) bool { return m&m2 == m2 }

func (m Modifiers) String() string {
	var parts []string
	for _, mn := range modifierNames {
		if m&mn.bit != 0 {
			parts = append(parts, mn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Range is a half-open byte range [Start, End) in a source buffer.
type Range struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Contains reports whether offset falls inside the range.
func (r Range) Contains(offset uint32) bool {
	return offset >= r.Start && offset < r.End
}

// Len returns the byte length of the range.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Fact is one declared element extracted from a source buffer or a fact
// archive. Facts nest: a type's fields and methods are its Children.
type Fact struct {
	// Name of the declared element. Not unique among siblings.
	Name string `json:"name"`
	// Kind of the element.
	Kind FactKind `json:"kind"`
	// Modifiers of the declaration.
	Modifiers Modifiers `json:"modifiers,omitempty"`
	// TypeName is the declared type of a field, or the result type of a func.
	TypeName string `json:"type_name,omitempty"`
	// Signature is the parameter list of a func (receiver excluded).
	Signature string `json:"signature,omitempty"`
	// SuperTypes lists embedded, extended or implemented types.
	SuperTypes []string `json:"super_types,omitempty"`
	// NameRange covers the identifier.
	NameRange Range `json:"name_range"`
	// DeclRange covers the whole declaration.
	DeclRange Range `json:"decl_range"`
	// Children are nested declarations.
	Children []Fact `json:"children,omitempty"`
}
