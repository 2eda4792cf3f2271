package suppression

import "errors"

// ErrNotFound is returned when no record exists for the requested address.
var ErrNotFound = errors.New("suppression record not found")
