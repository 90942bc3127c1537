package convert

import (
	"errors"
	"fmt"

	"labelloop/internal/services"
)

// ErrInvalidDimensions is returned when an image has a non-positive width or height.
var ErrInvalidDimensions = errors.New("image dimensions must be positive")

// UnknownClassError reports a detection whose class id has no name.
type UnknownClassError struct {
	Index   int
	ClassID int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("detection %d: unknown class id %d", e.Index, e.ClassID)
}

func (e *UnknownClassError) Unwrap() error {
	return services.ErrValidation
}

// InvalidBoxError reports a box that cannot be expressed as a region inside the
// image, such as negative sizes, non-finite values, or coordinates outside the
// image when clamping is off.
type InvalidBoxError struct {
	Index  int
	Box    [4]float64
	Reason string
}

func (e *InvalidBoxError) Error() string {
	return fmt.Sprintf("detection %d: invalid box %v: %s", e.Index, e.Box, e.Reason)
}

func (e *InvalidBoxError) Unwrap() error {
	return services.ErrValidation
}

// Failure records a detection that was left out of a Result.
type Failure struct {
	Index int
	Err   error
}
