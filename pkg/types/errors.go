package types

import "errors"

// Vector-related errors
var (
	// ErrInvalidVectorBit is returned when a vector position holds anything other than 0 or 1
	ErrInvalidVectorBit = errors.New("invalid vector bit")
)
