// Package codec maps configuration vectors to index states and back.
package codec

import (
	"fmt"

	"github.com/arkilian/indexsearch/internal/catalog"
	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Codec converts between vectors and full index states. Decoding starts from
// a snapshot of the initial state so non-tunable columns keep their value.
type Codec struct {
	catalog *catalog.Catalog
	initial *catalog.State
}

// New creates a codec. The initial snapshot must contain every tunable column.
func New(cat *catalog.Catalog, initial *catalog.State) (*Codec, error) {
	for _, col := range cat.Columns() {
		if !initial.Has(col) {
			return nil, ierrors.NewCodecError(ierrors.CodeKeyNotFound,
				fmt.Sprintf("initial state lacks tunable column %s", col))
		}
	}
	return &Codec{catalog: cat, initial: initial.Clone()}, nil
}

// Size returns the vector length.
func (c *Codec) Size() int {
	return c.catalog.Size()
}

// Initial returns a copy of the initial snapshot.
func (c *Codec) Initial() *catalog.State {
	return c.initial.Clone()
}

// Encode emits state's flag for every tunable column in canonical order.
func (c *Codec) Encode(state *catalog.State) (types.Vector, error) {
	v := types.NewVector(c.catalog.Size())
	for i, col := range c.catalog.Columns() {
		flag, err := state.Get(col)
		if err != nil {
			return nil, err
		}
		v[i] = flag
	}
	return v, nil
}

// Decode returns a deep copy of the initial snapshot with the tunable
// positions overwritten by v.
func (c *Codec) Decode(v types.Vector) (*catalog.State, error) {
	if len(v) != c.catalog.Size() {
		return nil, ierrors.NewCodecError(ierrors.CodeLengthMismatch,
			fmt.Sprintf("vector has %d positions, catalog has %d columns", len(v), c.catalog.Size()))
	}
	if err := v.Validate(); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCategoryCodec, ierrors.CodeInvalidVector, "decode", err)
	}

	state := c.initial.Clone()
	for i, col := range c.catalog.Columns() {
		if err := state.Set(col, v[i]); err != nil {
			return nil, err
		}
	}
	return state, nil
}
