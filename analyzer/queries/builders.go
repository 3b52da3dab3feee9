package queries

import (
	sq "github.com/Masterminds/squirrel"
)

// EntityColumns is the column list of the entities table, in the order used
// by both SelectEntitiesByAddress and COPY.
var EntityColumns = []string{
	"id", "from_state_version", "address", "entity_type", "is_global",
	"parent_id", "global_ancestor_id", "outer_object_id",
}

// SelectEntitiesByAddress looks up existing entities.
func SelectEntitiesByAddress(addresses []string) (string, []interface{}, error) {
	return sq.
		Select(EntityColumns...).
		From("entities").
		Where(sq.Eq{"address": addresses}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// SelectMostRecentAggregates returns the latest aggregate history row of each
// of the given key-value stores.
func SelectMostRecentAggregates(storeIDs []int64) (string, []interface{}, error) {
	return sq.
		Select("id", "from_state_version", "key_value_store_entity_id", "entry_ids").
		Options("DISTINCT ON (key_value_store_entity_id)").
		From("key_value_store_aggregate_history").
		Where("key_value_store_entity_id = ANY(?)", storeIDs).
		OrderBy("key_value_store_entity_id", "from_state_version DESC", "id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// SelectTransactionSummaries returns the most recent ledger transactions,
// newest first, for status reporting.
func SelectTransactionSummaries(limit uint64) (string, []interface{}, error) {
	return sq.
		Select("state_version", "discriminator", "epoch", "round_in_epoch",
			"normalized_round_timestamp", "receipt_status", "fee_paid").
		From("ledger_transactions").
		OrderBy("state_version DESC").
		Limit(limit).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
