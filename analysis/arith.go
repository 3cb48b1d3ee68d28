package analysis

import (
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/types"
)

// binResult gives the result type of a binary operator applied to
// operands of the given types. Division always yields Float and
// modulo always yields Int, matching runtime semantics.
func binResult(op cfg.Op, x, y types.Type) types.Type {
	switch op {
	case cfg.Add, cfg.Sub, cfg.Mul:
		return arithResult(x, y)
	case cfg.Div:
		return types.Float
	case cfg.Mod:
		return types.Int
	case cfg.Concat:
		return types.String
	case cfg.Eq, cfg.Ne, cfg.Lt, cfg.Le, cfg.Gt, cfg.Ge:
		return types.Bool
	}
	return types.Any
}

func arithResult(x, y types.Type) types.Type {
	if x.IsBottom() || y.IsBottom() {
		// An operand has no type yet; wait for the fixed point to
		// revisit.
		return types.Bottom
	}
	if x.Is(types.Int) && y.Is(types.Int) {
		return types.Int
	}
	if x.Numeric() && y.Numeric() {
		t := types.Bottom
		if x.Has(types.Int) && y.Has(types.Int) {
			t = t.Join(types.Int)
		}
		if x.Has(types.Float) || y.Has(types.Float) {
			t = t.Join(types.Float)
		}
		return t
	}
	// Non-numeric operands coerce unpredictably.
	return types.Union(types.Int, types.Float)
}

func unResult(op cfg.Op, x types.Type) types.Type {
	switch op {
	case cfg.Neg:
		if x.IsBottom() {
			return types.Bottom
		}
		if x.Is(types.Int) {
			return types.Int
		}
		if x.Is(types.Float) {
			return types.Float
		}
		return types.Union(types.Int, types.Float)
	case cfg.Not, cfg.Bool:
		return types.Bool
	}
	return types.Any
}

// builtinResults maps known runtime functions to their result types.
// Calls to anything else produce Any.
var builtinResults = map[string]types.Type{
	"count":    types.Int,
	"strlen":   types.Int,
	"ord":      types.Int,
	"intval":   types.Int,
	"intdiv":   types.Int,
	"floor":    types.Float,
	"ceil":     types.Float,
	"sqrt":     types.Float,
	"floatval": types.Float,
	"chr":      types.String,
	"strval":   types.String,
	"substr":   types.String,
	"strrev":   types.String,
	"boolval":  types.Bool,
	"is_a":     types.Bool,
	"abs":      types.Union(types.Int, types.Float),
	"max":      types.Union(types.Int, types.Float),
	"min":      types.Union(types.Int, types.Float),
	"pow":      types.Union(types.Int, types.Float),
}
