package storage

import "errors"

// ErrUnavailable wraps failures reaching the backing database.
var ErrUnavailable = errors.New("idle state store unavailable")

// NotFoundError is returned when no state exists for a user and platform.
type NotFoundError struct {
	UserID   string
	Platform string
}

func (e NotFoundError) Error() string {
	if e.UserID == "" {
		return "idle state not found"
	}

	return "idle state not found: " + e.Platform + ":" + e.UserID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
