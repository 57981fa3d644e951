package raster

import "errors"

// Error taxonomy shared by every stage of the water-extent pipeline. Callers
// match these with errors.Is; producers wrap them with context.
var (
	// ErrGeometryMismatch reports that a boundary polygon and a raster share no extent.
	ErrGeometryMismatch = errors.New("geometry mismatch")
	// ErrShapeMismatch reports surfaces that are not co-registered.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidParameter reports a malformed threshold range, sample count or option.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNoValidPixels reports a comparison whose joint validity mask is empty.
	ErrNoValidPixels = errors.New("no valid pixels")
	// ErrMissingInput reports an absent prediction, reference or band raster.
	ErrMissingInput = errors.New("missing input")
)
