// Package codegen defines the contract shared by the backends that
// consume flat IR. Every backend must preserve the evaluator's
// observable behavior: results, output, and raised exceptions.
package codegen

import (
	"errors"
	"fmt"

	"github.com/TazeTSchnitzel/recki-ct/ir"
)

// Target identifies a backend.
type Target string

// Targets.
const (
	TargetNative Target = "native"
	TargetPHP    Target = "php"
	TargetJS     Target = "js"
)

// SourceBackend emits a function as source text in a target language.
type SourceBackend interface {
	Target() Target
	Emit(f *ir.Function) (string, error)
}

// ErrUnavailable reports that a backend cannot run on this host. It
// is determined once at startup, not per call.
var ErrUnavailable = errors.New("codegen: backend unavailable on this host")

// UnsupportedOpError is returned when a backend cannot express an
// instruction. The function may still compile on other backends.
type UnsupportedOpError struct {
	Target Target
	Inst   *ir.Instruction
	Reason string
}

func (e *UnsupportedOpError) Error() string {
	what := "function"
	if e.Inst != nil {
		what = fmt.Sprintf("%q", e.Inst.String())
	}
	if e.Reason != "" {
		return fmt.Sprintf("codegen: %s backend cannot compile %s: %s", e.Target, what, e.Reason)
	}
	return fmt.Sprintf("codegen: %s backend cannot compile %s", e.Target, what)
}
