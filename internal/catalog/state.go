package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
)

// State maps every column of the live schema to an indexed flag (0 or 1).
// Its keyspace is fixed when the state is built; Set on an unknown column
// fails instead of growing the state.
type State struct {
	columns []Column
	index   map[Column]int
	flags   []uint8
}

// NewState builds a state over the given columns with every flag cleared.
// Columns are kept sorted by table, in the given order within a table.
func NewState(columns []Column) *State {
	ordered := make([]Column, 0, len(columns))
	seen := make(map[Column]bool, len(columns))
	for _, col := range columns {
		if seen[col] {
			continue
		}
		seen[col] = true
		ordered = append(ordered, col)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Table < ordered[j].Table
	})

	s := &State{
		columns: ordered,
		index:   make(map[Column]int, len(ordered)),
		flags:   make([]uint8, len(ordered)),
	}
	for i, col := range ordered {
		s.index[col] = i
	}
	return s
}

// Len returns the number of columns in the state.
func (s *State) Len() int {
	return len(s.columns)
}

// Columns returns the state's keyspace.
func (s *State) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Has reports whether col belongs to the keyspace.
func (s *State) Has(col Column) bool {
	_, ok := s.index[col]
	return ok
}

// Get returns the flag of col.
func (s *State) Get(col Column) (uint8, error) {
	i, ok := s.index[col]
	if !ok {
		return 0, keyNotFound(col)
	}
	return s.flags[i], nil
}

// Set stores the flag of col. Any non-zero flag is stored as 1.
func (s *State) Set(col Column, flag uint8) error {
	i, ok := s.index[col]
	if !ok {
		return keyNotFound(col)
	}
	if flag != 0 {
		flag = 1
	}
	s.flags[i] = flag
	return nil
}

// Indexed returns the columns flagged 1.
func (s *State) Indexed() []Column {
	var out []Column
	for i, col := range s.columns {
		if s.flags[i] == 1 {
			out = append(out, col)
		}
	}
	return out
}

// Each calls fn for every column in keyspace order.
func (s *State) Each(fn func(col Column, flag uint8)) {
	for i, col := range s.columns {
		fn(col, s.flags[i])
	}
}

// Clone returns a deep copy sharing nothing with s.
func (s *State) Clone() *State {
	cp := &State{
		columns: make([]Column, len(s.columns)),
		index:   make(map[Column]int, len(s.index)),
		flags:   make([]uint8, len(s.flags)),
	}
	copy(cp.columns, s.columns)
	copy(cp.flags, s.flags)
	for col, i := range s.index {
		cp.index[col] = i
	}
	return cp
}

// Equal reports whether both states have the same keyspace and flags.
func (s *State) Equal(other *State) bool {
	if other == nil || len(s.columns) != len(other.columns) {
		return false
	}
	for i, col := range s.columns {
		f, err := other.Get(col)
		if err != nil || f != s.flags[i] {
			return false
		}
	}
	return true
}

// Map returns the state as table -> column -> flag.
func (s *State) Map() map[string]map[string]uint8 {
	out := make(map[string]map[string]uint8)
	for i, col := range s.columns {
		if out[col.Table] == nil {
			out[col.Table] = make(map[string]uint8)
		}
		out[col.Table][col.Name] = s.flags[i]
	}
	return out
}

// MarshalJSON encodes the state as {"table": {"column": flag}}.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

func keyNotFound(col Column) error {
	return ierrors.NewCodecError(ierrors.CodeKeyNotFound,
		fmt.Sprintf("column %s not in state", col)).
		WithDetails(map[string]interface{}{"table": col.Table, "column": col.Name})
}
