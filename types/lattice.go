// Package types implements the finite type lattice used by the
// analyzer.
//
// A Type is a set of primitive kinds plus an optional class tag for
// object types. Bottom is the empty set; Any is the full set. Join
// widens toward a union and gives up to Any once the union grows past
// a bounded cardinality, which keeps iterative analysis terminating.
package types

import (
	"math/bits"
	"strings"
)

// Kind is a single primitive kind bit.
type Kind uint16

// Primitive kinds.
const (
	KindInt Kind = 1 << iota
	KindFloat
	KindBool
	KindString
	KindArray
	KindObject
	KindNull

	kindAll = KindInt | KindFloat | KindBool | KindString | KindArray | KindObject | KindNull
)

// MaxUnion is the largest number of kinds a union may carry before it
// widens to Any.
const MaxUnion = 4

// Type is a lattice value. The zero Type is Bottom.
type Type struct {
	kinds Kind
	class string // class tag, meaningful only when KindObject is set
}

// Lattice constants.
var (
	Bottom = Type{}
	Int    = Type{kinds: KindInt}
	Float  = Type{kinds: KindFloat}
	Bool   = Type{kinds: KindBool}
	String = Type{kinds: KindString}
	Array  = Type{kinds: KindArray}
	Null   = Type{kinds: KindNull}
	Any    = Type{kinds: kindAll}
)

// Object returns the object type tagged with a class name. An empty
// class is the untagged object type.
func Object(class string) Type {
	return Type{kinds: KindObject, class: class}
}

// Union returns the join of the given types.
func Union(ts ...Type) Type {
	u := Bottom
	for _, t := range ts {
		u = u.Join(t)
	}
	return u
}

// IsBottom reports whether no information is known yet.
func (t Type) IsBottom() bool { return t.kinds == 0 }

// IsAny reports whether the type is fully dynamic.
func (t Type) IsAny() bool { return t.kinds == kindAll }

// Is reports whether the type covers exactly the kinds of u, which is
// normally one of the single-kind lattice constants.
func (t Type) Is(u Type) bool { return t.kinds == u.kinds }

// Has reports whether the type may carry any kind of u.
func (t Type) Has(u Type) bool { return t.kinds&u.kinds != 0 }

// Class returns the object class tag, or empty when untagged or not
// an object type.
func (t Type) Class() string { return t.class }

// Numeric reports whether every possible kind is Int or Float.
func (t Type) Numeric() bool {
	return t.kinds != 0 && t.kinds&^(KindInt|KindFloat) == 0
}

// Join widens t by u. The result covers every kind of both. Unions
// past MaxUnion kinds collapse to Any, and object tags that disagree
// collapse to the untagged object type. A side without the object
// kind, Bottom included, leaves the other side's tag alone: Bottom is
// the join identity.
func (t Type) Join(u Type) Type {
	j := Type{kinds: t.kinds | u.kinds}
	switch {
	case j.kinds&KindObject == 0:
	case t.kinds&KindObject == 0:
		j.class = u.class
	case u.kinds&KindObject == 0:
		j.class = t.class
	case t.class == u.class:
		j.class = t.class
	}
	if bits.OnesCount16(uint16(j.kinds)) > MaxUnion {
		return Any
	}
	return j
}

// Equal reports whether two lattice values are identical.
func (t Type) Equal(u Type) bool {
	return t.kinds == u.kinds && t.class == u.class
}

func (t Type) String() string {
	switch {
	case t.kinds == 0:
		return "bottom"
	case t.kinds == kindAll:
		return "mixed"
	}
	var parts []string
	for _, k := range []struct {
		kind Kind
		name string
	}{
		{KindInt, "int"},
		{KindFloat, "float"},
		{KindBool, "bool"},
		{KindString, "string"},
		{KindArray, "array"},
		{KindObject, "object"},
		{KindNull, "null"},
	} {
		if t.kinds&k.kind != 0 {
			name := k.name
			if k.kind == KindObject && t.class != "" {
				name = t.class
			}
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
