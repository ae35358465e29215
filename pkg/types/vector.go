package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Vector is a configuration vector: one bit per tunable column, in catalog order.
// 0 means the column carries no secondary index, 1 means it does.
type Vector []uint8

// NewVector returns an all-zero vector of length n.
func NewVector(n int) Vector {
	return make(Vector, n)
}

// Ones returns a vector of length n with every bit set.
func Ones(n int) Vector {
	v := make(Vector, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Validate checks that every position holds 0 or 1.
func (v Vector) Validate() error {
	for i, b := range v {
		if b > 1 {
			return fmt.Errorf("%w: position %d holds %d", ErrInvalidVectorBit, i, b)
		}
	}
	return nil
}

// Equal reports whether both vectors have the same length and bits.
func (v Vector) Equal(other Vector) bool {
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i] != other[i] {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (v Vector) Count() int {
	n := 0
	for _, b := range v {
		n += int(b)
	}
	return n
}

// String renders the vector as space separated bits ("0 1 1 0").
// This form keys the evaluation history.
func (v Vector) String() string {
	var sb strings.Builder
	sb.Grow(len(v) * 2)
	for i, b := range v {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte('0' + b)
	}
	return sb.String()
}

// Fingerprint returns a short stable identifier for the vector, used to
// correlate log lines and history records of the same configuration.
func (v Vector) Fingerprint() string {
	return fmt.Sprintf("%08x", murmur3.Sum32([]byte(v.String())))
}

// ParseVector parses a vector from its String form. Bits may also be
// separated by commas or given as a contiguous run ("0110").
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]")
	if s == "" {
		return Vector{}, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 1 && len(fields[0]) > 1 {
		fields = strings.Split(fields[0], "")
	}

	v := make(Vector, len(fields))
	for i, f := range fields {
		bit, err := strconv.ParseUint(strings.TrimSuffix(f, ".0"), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at position %d", ErrInvalidVectorBit, f, i)
		}
		v[i] = uint8(bit)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}
