// Package substate implements the append-only substate model: every
// substate row is upped once and downed at most once.
package substate

import (
	"fmt"

	"github.com/ledgerindex/gateway/analyzer/extension"
	"github.com/ledgerindex/gateway/storage/coreapi"
)

// VirtualIdentifierLength is the longest identifier of a regular substate.
// Longer identifiers belong to virtual substates, which exist implicitly
// until first touched.
const VirtualIdentifierLength = 36

// IsVirtual reports whether identifier denotes a virtual substate.
func IsVirtual(identifier []byte) bool {
	return len(identifier) > VirtualIdentifierLength
}

// Key identifies a substate within the ledger.
type Key struct {
	EntityID        int64
	PartitionNumber int
	Identifier      string
}

// Substate is one row of the substates table.
type Substate struct {
	ID           int64
	Key          Key
	SubstateType coreapi.SubstateType
	Up           extension.Position
	Down         *extension.Position
}

// IsUp reports whether the substate is live.
func (s *Substate) IsUp() bool {
	return s.Down == nil
}

// MarkUp records the creation of the substate identified by identifier.
func (s *Substate) MarkUp(identifier []byte, pos extension.Position) {
	s.Key.Identifier = string(identifier)
	s.Up = pos
	s.Down = nil
}

// MarkDown records the removal of the substate. The down must come strictly
// after the up, except for a virtual substate, which may be upped and downed
// by the same operation.
func (s *Substate) MarkDown(identifier []byte, pos extension.Position) error {
	if string(identifier) != s.Key.Identifier {
		return fmt.Errorf("marking down %x with identifier %x", s.Key.Identifier, identifier)
	}
	if s.Down != nil {
		return fmt.Errorf("%w: %x down at %d", extension.ErrConcurrentDown, identifier, s.Down.StateVersion)
	}
	if !pos.After(s.Up) && !(pos == s.Up && IsVirtual(identifier)) {
		return fmt.Errorf("%w: %x up at %+v, down at %+v", extension.ErrInvalidDownPosition, identifier, s.Up, pos)
	}
	s.Down = &pos
	return nil
}

var columns = []string{
	"id", "entity_id", "partition_number", "substate_identifier", "substate_type",
	"up_state_version", "up_operation_group_index", "up_operation_index_in_group",
	"down_state_version", "down_operation_group_index", "down_operation_index_in_group",
}

func (s *Substate) row() []interface{} {
	var downVersion *int64
	var downGroup, downIndex *int32
	if s.Down != nil {
		v, g, i := s.Down.StateVersion, int32(s.Down.GroupIndex), int32(s.Down.IndexInGroup)
		downVersion, downGroup, downIndex = &v, &g, &i
	}
	return []interface{}{
		s.ID,
		s.Key.EntityID,
		int32(s.Key.PartitionNumber),
		[]byte(s.Key.Identifier),
		string(s.SubstateType),
		s.Up.StateVersion,
		int32(s.Up.GroupIndex),
		int32(s.Up.IndexInGroup),
		downVersion,
		downGroup,
		downIndex,
	}
}
