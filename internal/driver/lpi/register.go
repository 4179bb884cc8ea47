package lpi

import "github.com/nerrad567/gray-logic-dispatch/internal/driver"

// Register adds the shipped LPI types to r.
func Register(r *driver.Registry) {
	r.RegisterLPIType(OutputType, NewOutput)
	r.RegisterLPIType(InputType, NewInput)
}
