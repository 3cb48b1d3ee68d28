package types

import "testing"

func TestJoin(t *testing.T) {
	for _, tt := range []struct {
		x, y, want Type
	}{
		{Bottom, Bottom, Bottom},
		{Bottom, Int, Int},
		{Int, Int, Int},
		{Int, Float, Union(Int, Float)},
		{Union(Int, Float), Float, Union(Int, Float)},
		{Object("Foo"), Object("Foo"), Object("Foo")},
		{Object("Foo"), Object("Bar"), Object("")},
		{Bottom, Object("Foo"), Object("Foo")},
		{Any, Int, Any},
		{Bottom, Any, Any},
	} {
		if got := tt.x.Join(tt.y); !got.Equal(tt.want) {
			t.Errorf("%v.Join(%v) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
		if got := tt.y.Join(tt.x); !got.Equal(tt.want) {
			t.Errorf("%v.Join(%v) = %v, want %v", tt.y, tt.x, got, tt.want)
		}
	}
}

func TestJoinKeepsClassTagInUnions(t *testing.T) {
	got := Object("Foo").Join(Int)
	if got.Class() != "Foo" {
		t.Errorf("Object(Foo).Join(Int).Class() = %q, want Foo", got.Class())
	}
	if !got.Has(Int) || !got.Has(Object("")) {
		t.Errorf("join lost a kind: %v", got)
	}
	// Repeated joins against Bottom-seeded merges stay stable.
	if step := Bottom.Join(got); !step.Equal(got) {
		t.Errorf("Bottom.Join(%v) = %v", got, step)
	}
}

func TestJoinCollapsesWideUnions(t *testing.T) {
	u := Union(Int, Float, Bool, String)
	if u.IsAny() {
		t.Fatalf("union of 4 kinds collapsed early: %v", u)
	}
	if got := u.Join(Null); !got.IsAny() {
		t.Errorf("union of 5 kinds = %v, want mixed", got)
	}
}

func TestNumeric(t *testing.T) {
	for _, tt := range []struct {
		t    Type
		want bool
	}{
		{Int, true},
		{Float, true},
		{Union(Int, Float), true},
		{Bottom, false},
		{String, false},
		{Union(Int, String), false},
		{Any, false},
	} {
		if got := tt.t.Numeric(); got != tt.want {
			t.Errorf("%v.Numeric() = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	for _, tt := range []struct {
		t    Type
		want string
	}{
		{Bottom, "bottom"},
		{Any, "mixed"},
		{Union(Int, Null), "int|null"},
		{Object("Foo"), "Foo"},
		{Object(""), "object"},
	} {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
