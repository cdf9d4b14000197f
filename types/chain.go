package types

import "math"

const (
	// FarFutureEpoch is the sentinel epoch meaning "not scheduled".
	FarFutureEpoch uint64 = math.MaxUint64

	// ShardCommitteePeriod is the number of epochs a validator must have been
	// active before the chain accepts its voluntary exit.
	ShardCommitteePeriod uint64 = 256

	// EffectiveBalanceIncrement is one minimum balance unit in Gwei.
	EffectiveBalanceIncrement uint64 = 1_000_000_000
)

// ChainConfig carries the consensus chain parameters the oracle needs for
// slot/epoch arithmetic.
// https://github.com/ethereum/consensus-specs/blob/dev/configs/mainnet.yaml
type ChainConfig struct {
	SlotsPerEpoch  uint64 `yaml:"SLOTS_PER_EPOCH" envconfig:"SLOTS_PER_EPOCH"`
	SecondsPerSlot uint64 `yaml:"SECONDS_PER_SLOT" envconfig:"SECONDS_PER_SLOT"`
	GenesisTime    uint64 `yaml:"GENESIS_TIME" envconfig:"GENESIS_TIME"`
}
