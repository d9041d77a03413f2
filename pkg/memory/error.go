package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned when the backing vector store cannot be
	// reached or fails an operation. It is distinct from an empty result.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrInvalidRecord is returned when a record is missing required fields or
	// carries an unknown kind or role.
	ErrInvalidRecord = errors.New("invalid memory record")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
