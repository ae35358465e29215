package catalog

// TPCHKeys lists the primary and foreign key columns of the TPC-H schema.
var TPCHKeys = map[string][]string{
	"customer": {"c_custkey", "c_nationkey"},
	"lineitem": {"l_orderkey", "l_linenumber", "l_partkey", "l_suppkey"},
	"nation":   {"n_nationkey", "n_regionkey"},
	"orders":   {"o_orderkey", "o_custkey"},
	"part":     {"p_partkey"},
	"partsupp": {"ps_partkey", "ps_suppkey"},
	"region":   {"r_regionkey"},
	"supplier": {"s_suppkey", "s_nationkey"},
}

// TPCHTunable lists the non-key columns referenced by the TPC-H query set
// that the search may index.
var TPCHTunable = map[string][]string{
	"customer": {"c_name", "c_address", "c_comment"},
	"lineitem": {"l_extendedprice", "l_linestatus", "l_tax", "l_comment"},
	"nation":   {"n_comment"},
	"orders":   {"o_orderpriority", "o_shippriority", "o_clerk", "o_totalprice"},
	"part":     {"p_mfgr", "p_retailprice", "p_comment"},
	"partsupp": {"ps_comment"},
	"region":   {"r_comment"},
	"supplier": {"s_name", "s_address", "s_phone", "s_acctbal"},
}

// TPCH returns the catalog for the TPC-H schema.
func TPCH() *Catalog {
	return MustNew(TPCHTunable, TPCHKeys)
}
