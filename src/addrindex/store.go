package addrindex

import (
	"github.com/0xb10c/mempool-addrindex/src/types"
)

// store holds the two address multimaps. It is not safe for concurrent use;
// the Indexer only touches it from its strand.
type store struct {
	spends  map[types.Address][]types.SpendRecord
	outputs map[types.Address][]types.OutputRecord

	nSpends  int
	nOutputs int
}

func newStore() *store {
	return &store{
		spends:  map[types.Address][]types.SpendRecord{},
		outputs: map[types.Address][]types.OutputRecord{},
	}
}

func (s *store) insertSpend(addr types.Address, rec types.SpendRecord) {
	s.spends[addr] = append(s.spends[addr], rec)
	s.nSpends++
}

func (s *store) insertOutput(addr types.Address, rec types.OutputRecord) {
	s.outputs[addr] = append(s.outputs[addr], rec)
	s.nOutputs++
}

// removeSpend removes one record equal to rec. It reports whether a record
// was removed; a missing record is not an error.
func (s *store) removeSpend(addr types.Address, rec types.SpendRecord) bool {
	recs := s.spends[addr]
	for i := range recs {
		if recs[i] != rec {
			continue
		}
		last := len(recs) - 1
		recs[i] = recs[last]
		recs = recs[:last]
		if len(recs) == 0 {
			delete(s.spends, addr)
		} else {
			s.spends[addr] = recs
		}
		s.nSpends--
		return true
	}
	return false
}

// removeOutput removes one record equal to rec. It reports whether a record
// was removed; a missing record is not an error.
func (s *store) removeOutput(addr types.Address, rec types.OutputRecord) bool {
	recs := s.outputs[addr]
	for i := range recs {
		if recs[i] != rec {
			continue
		}
		last := len(recs) - 1
		recs[i] = recs[last]
		recs = recs[:last]
		if len(recs) == 0 {
			delete(s.outputs, addr)
		} else {
			s.outputs[addr] = recs
		}
		s.nOutputs--
		return true
	}
	return false
}

// lookup returns copies of the records filed under addr. The result does not
// alias the store, so it may be handed to other goroutines.
func (s *store) lookup(addr types.Address) ([]types.SpendRecord, []types.OutputRecord) {
	spends := make([]types.SpendRecord, len(s.spends[addr]))
	copy(spends, s.spends[addr])
	outputs := make([]types.OutputRecord, len(s.outputs[addr]))
	copy(outputs, s.outputs[addr])
	return spends, outputs
}
