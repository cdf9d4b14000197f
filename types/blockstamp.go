package types

import "fmt"

// BlockStamp pins a computation to one immutable chain snapshot.
type BlockStamp struct {
	StateRoot      string
	SlotNumber     uint64
	BlockHash      string
	BlockNumber    uint64
	BlockTimestamp uint64
}

// ReferenceBlockStamp is a BlockStamp extended with the reference slot/epoch
// the oracle frame points at. Every derivation in the core is keyed by one
// ReferenceBlockStamp and must never mix data from two of them.
type ReferenceBlockStamp struct {
	BlockStamp
	RefSlot  uint64
	RefEpoch uint64
}

// CacheKey returns the memoization key prefix for this reference block.
func (bs ReferenceBlockStamp) CacheKey() string {
	return fmt.Sprintf("%d-%s", bs.RefSlot, bs.BlockHash)
}
