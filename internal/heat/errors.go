package heat

import "errors"

var (
	// ErrInvalidArgument reports a precondition violation such as a zero
	// coefficient count, an empty distribution or a resolution below two.
	ErrInvalidArgument = errors.New("heat: invalid argument")
	// ErrMalformedVertices is returned when a vertex buffer cannot describe a grid.
	ErrMalformedVertices = errors.New("heat: malformed vertex buffer")
)
