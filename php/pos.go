package php

import "fmt"

// Pos is a line and column position within a source file. The zero Pos
// is unknown.
type Pos struct {
	Line, Col uint32
}

// MakePos returns a Pos for the given line and column.
func MakePos(line, col uint32) Pos {
	return Pos{line, col}
}

// IsKnown reports whether the position is known.
func (p Pos) IsKnown() bool { return p.Line > 0 }

func (p Pos) String() string {
	if p.Line == 0 {
		return "<unknown position>"
	}
	if p.Col == 0 {
		return fmt.Sprintf("%d", p.Line)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}
