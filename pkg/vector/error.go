package vector

import "errors"

var (
	// ErrConnection is returned when the vector store connection fails.
	ErrConnection = errors.New("vector store connection failed")

	// ErrDimension is returned when a vector does not match the store's dimensionality.
	ErrDimension = errors.New("vector dimension mismatch")

	// ErrInvalidDocument is returned when a document is missing required fields.
	ErrInvalidDocument = errors.New("invalid document")
)
