package asmsym

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
	Width128  = 128
	Width256  = 256
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")

	// ErrUnreachable is returned when no consistent state reaches a line.
	ErrUnreachable = errors.New("unreachable")

	// ErrLineOutOfRange is returned when a line number is not in the program.
	ErrLineOutOfRange = errors.New("line out of range")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
