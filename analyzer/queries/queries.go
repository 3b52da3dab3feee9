// Package queries holds the SQL statements of the ledger extension pipeline.
package queries

var (
	// SelectWatermark returns the summary of the last committed transaction.
	SelectWatermark = `
    SELECT state_version, epoch, round_in_epoch, index_in_epoch, index_in_round,
      round_timestamp, normalized_round_timestamp, created_timestamp,
      transaction_tree_hash, receipt_tree_hash, state_tree_hash
    FROM ledger_watermark`

	UpsertWatermark = `
    INSERT INTO ledger_watermark (
      singleton, state_version, epoch, round_in_epoch, index_in_epoch, index_in_round,
      round_timestamp, normalized_round_timestamp, created_timestamp,
      transaction_tree_hash, receipt_tree_hash, state_tree_hash, updated_at)
    VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
    ON CONFLICT (singleton) DO UPDATE SET
      state_version = excluded.state_version,
      epoch = excluded.epoch,
      round_in_epoch = excluded.round_in_epoch,
      index_in_epoch = excluded.index_in_epoch,
      index_in_round = excluded.index_in_round,
      round_timestamp = excluded.round_timestamp,
      normalized_round_timestamp = excluded.normalized_round_timestamp,
      created_timestamp = excluded.created_timestamp,
      transaction_tree_hash = excluded.transaction_tree_hash,
      receipt_tree_hash = excluded.receipt_tree_hash,
      state_tree_hash = excluded.state_tree_hash,
      updated_at = excluded.updated_at`

	// NextSequenceValues reserves the next id of every output table.
	// Column order matches SetSequenceValues.
	NextSequenceValues = `
    SELECT
      nextval('entities_id_seq'),
      nextval('key_value_store_entry_history_id_seq'),
      nextval('key_value_store_aggregate_history_id_seq'),
      nextval('ledger_transaction_markers_id_seq'),
      nextval('substates_id_seq')`

	// SetSequenceValues stores the next unused id of every output table, so
	// that the following nextval returns exactly that id.
	SetSequenceValues = `
    SELECT
      setval('entities_id_seq', $1, false),
      setval('key_value_store_entry_history_id_seq', $2, false),
      setval('key_value_store_aggregate_history_id_seq', $3, false),
      setval('ledger_transaction_markers_id_seq', $4, false),
      setval('substates_id_seq', $5, false)`

	// MarkSubstateDown is the compare-and-swap down of a live substate.
	// Zero affected rows means the substate is missing or already down.
	MarkSubstateDown = `
    UPDATE substates
    SET down_state_version = $4, down_operation_group_index = $5, down_operation_index_in_group = $6
    WHERE entity_id = $1 AND partition_number = $2 AND substate_identifier = $3
      AND down_state_version IS NULL`

	// LatestSubstate returns the most recent row of a substate key, live or not.
	LatestSubstate = `
    SELECT id, up_state_version, down_state_version
    FROM substates
    WHERE entity_id = $1 AND partition_number = $2 AND substate_identifier = $3
    ORDER BY up_state_version DESC, id DESC
    LIMIT 1`

	// MostRecentKeyValueStoreEntries returns, for each (store, key) pair in
	// the parallel arrays $1 and $2, the latest history row of that entry.
	MostRecentKeyValueStoreEntries = `
    SELECT e.id, e.from_state_version, e.key_value_store_entity_id, e.key, e.value, e.is_deleted, e.is_locked
    FROM unnest($1::bigint[], $2::bytea[]) AS lookup(entity_id, key)
    INNER JOIN LATERAL (
      SELECT h.*
      FROM key_value_store_entry_history h
      WHERE h.key_value_store_entity_id = lookup.entity_id AND h.key = lookup.key
      ORDER BY h.from_state_version DESC, h.id DESC
      LIMIT 1
    ) e ON TRUE`

	// KeyValueStoreEntryAsOf is a point-in-time lookup of one entry.
	KeyValueStoreEntryAsOf = `
    SELECT id, from_state_version, value, is_deleted, is_locked
    FROM key_value_store_entry_history
    WHERE key_value_store_entity_id = $1 AND key = $2 AND from_state_version <= $3
    ORDER BY from_state_version DESC, id DESC
    LIMIT 1`

	// KeyValueStoreAggregateAsOf is a point-in-time lookup of a store's content.
	KeyValueStoreAggregateAsOf = `
    SELECT id, from_state_version, entry_ids
    FROM key_value_store_aggregate_history
    WHERE key_value_store_entity_id = $1 AND from_state_version <= $2
    ORDER BY from_state_version DESC, id DESC
    LIMIT 1`
)
