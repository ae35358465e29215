package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	ierrors "github.com/arkilian/indexsearch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTPCH_CanonicalOrder(t *testing.T) {
	cat := TPCH()

	require.Equal(t, 21, cat.Size())
	assert.Equal(t, []string{"customer", "lineitem", "nation", "orders", "part", "partsupp", "region", "supplier"}, cat.Tables())

	cols := cat.Columns()
	assert.Equal(t, Column{Table: "customer", Name: "c_name"}, cols[0])
	assert.Equal(t, Column{Table: "customer", Name: "c_comment"}, cols[2])
	assert.Equal(t, Column{Table: "lineitem", Name: "l_extendedprice"}, cols[3])
	assert.Equal(t, Column{Table: "supplier", Name: "s_acctbal"}, cols[len(cols)-1])

	for i, col := range cols {
		pos, ok := cat.Position(col)
		require.True(t, ok)
		assert.Equal(t, i, pos)
	}
}

func TestNew_OrderIsIndependentOfMapIteration(t *testing.T) {
	tables := map[string][]string{"b": {"b2", "b1"}, "a": {"a1"}, "c": {"c1"}}
	for i := 0; i < 20; i++ {
		cat, err := New(tables, nil)
		require.NoError(t, err)
		assert.Equal(t, []Column{{"a", "a1"}, {"b", "b2"}, {"b", "b1"}, {"c", "c1"}}, cat.Columns())
	}
}

func TestNew_RejectsKeyColumns(t *testing.T) {
	_, err := New(map[string][]string{"orders": {"o_orderkey"}}, map[string][]string{"orders": {"o_orderkey"}})
	assert.Error(t, err)
}

func TestNew_RejectsDuplicatesAndEmptyTables(t *testing.T) {
	_, err := New(map[string][]string{"orders": {"o_clerk", "o_clerk"}}, nil)
	assert.Error(t, err)

	_, err = New(map[string][]string{"orders": {}}, nil)
	assert.Error(t, err)

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestCatalog_Keys(t *testing.T) {
	cat := TPCH()
	assert.True(t, cat.IsKey(Column{"lineitem", "l_linenumber"}))
	assert.False(t, cat.IsKey(Column{"lineitem", "l_tax"}))
	assert.False(t, cat.Contains(Column{"orders", "o_orderkey"}))
	assert.Equal(t, []string{"o_orderkey", "o_custkey"}, cat.Keys("orders"))
}

func TestState_ClosedKeyspace(t *testing.T) {
	s := NewState([]Column{{"orders", "o_clerk"}, {"customer", "c_name"}})

	require.NoError(t, s.Set(Column{"orders", "o_clerk"}, 1))
	f, err := s.Get(Column{"orders", "o_clerk"})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), f)

	err = s.Set(Column{"orders", "o_comment"}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrKeyNotFound))
	assert.Equal(t, 2, s.Len())

	_, err = s.Get(Column{"nation", "n_name"})
	assert.True(t, errors.Is(err, ierrors.ErrKeyNotFound))
}

func TestState_CloneIsDeep(t *testing.T) {
	s := NewState([]Column{{"orders", "o_clerk"}})
	cp := s.Clone()
	require.NoError(t, cp.Set(Column{"orders", "o_clerk"}, 1))

	f, _ := s.Get(Column{"orders", "o_clerk"})
	assert.Equal(t, uint8(0), f)
	assert.False(t, s.Equal(cp))
	assert.Equal(t, []Column{{"orders", "o_clerk"}}, cp.Indexed())
}

func TestState_MarshalJSON(t *testing.T) {
	s := NewState([]Column{{"orders", "o_clerk"}, {"orders", "o_orderkey"}})
	require.NoError(t, s.Set(Column{"orders", "o_orderkey"}, 1))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders":{"o_clerk":0,"o_orderkey":1}}`, string(data))
}
