package queries

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectEntitiesByAddress(t *testing.T) {
	sql, args, err := SelectEntitiesByAddress([]string{"account_a", "resource_b"})
	require.NoError(t, err)
	require.Contains(t, sql, "FROM entities WHERE address IN ($1,$2)")
	require.Equal(t, []interface{}{"account_a", "resource_b"}, args)
}

func TestSelectMostRecentAggregates(t *testing.T) {
	sql, args, err := SelectMostRecentAggregates([]int64{10, 11})
	require.NoError(t, err)
	require.Contains(t, sql, "SELECT DISTINCT ON (key_value_store_entity_id) id")
	require.Contains(t, sql, "key_value_store_entity_id = ANY($1)")
	require.Contains(t, sql, "ORDER BY key_value_store_entity_id, from_state_version DESC, id DESC")
	require.Equal(t, []interface{}{[]int64{10, 11}}, args)
}

func TestSelectTransactionSummaries(t *testing.T) {
	sql, args, err := SelectTransactionSummaries(5)
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY state_version DESC LIMIT 5")
	require.Empty(t, args)
}
