package types

import "errors"

var (
	// ErrInvalidInput is returned for bytes that are not an image
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecode is returned for corrupt or unsupported image data
	ErrDecode = errors.New("decode failed")
	// ErrOutOfBounds is returned for crop regions outside the source
	ErrOutOfBounds = errors.New("crop region out of bounds")
	// ErrInvalidDimension is returned for non-positive target sizes
	ErrInvalidDimension = errors.New("invalid dimensions")
	// ErrRenderingBackendUnavailable is returned when no drawing surface can be allocated
	ErrRenderingBackendUnavailable = errors.New("rendering backend unavailable")
	// ErrEncode is returned when the encoder fails
	ErrEncode = errors.New("encode failed")
	// ErrNoSource is returned by session operations issued before a source is loaded
	ErrNoSource = errors.New("no source image loaded")
)
