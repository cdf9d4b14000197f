package services

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/realmankwon/catalist-oracle/types"
)

var logger = logrus.New().WithField("module", "services")

// Keys of the on-chain oracle daemon configuration.
const (
	DelinquentTimeoutInSlotsKey                  = "VALIDATOR_DELINQUENT_TIMEOUT_IN_SLOTS"
	DelayedTimeoutInSlotsKey                     = "VALIDATOR_DELAYED_TIMEOUT_IN_SLOTS"
	NodeOperatorNetworkPenetrationThresholdBPKey = "NODE_OPERATOR_NETWORK_PENETRATION_THRESHOLD_BP"
)

var (
	// ErrMissingOperatorData means a derived mapping has no entry for an
	// operator that must have one, e.g. no last-requested exit index.
	ErrMissingOperatorData = errors.New("missing operator data")

	// ErrInconsistentSnapshot means providers queried for the same reference
	// block returned diverging operator sets.
	ErrInconsistentSnapshot = errors.New("inconsistent provider snapshot")
)

// ConsensusClient supplies the full validator registry as of a reference
// block's state.
type ConsensusClient interface {
	GetValidators(bs types.ReferenceBlockStamp) ([]*types.Validator, error)
}

// KeysClient supplies the protocol-managed signing keys with ownership info.
type KeysClient interface {
	GetUsedKeys(bs types.ReferenceBlockStamp) ([]*types.CatalistKey, error)
}

// StakingRouter supplies staking module metadata and per-module operator
// digests. Digests are fetched with a single batched call per module.
type StakingRouter interface {
	GetStakingModules(bs types.ReferenceBlockStamp) ([]*types.StakingModule, error)
	GetNodeOperatorDigests(bs types.ReferenceBlockStamp, moduleID types.StakingModuleID) ([]*types.NodeOperator, error)
}

// ExitBusOracle supplies exit-request state: last requested validator index
// per operator (-1 when never requested) and exit-request events within a
// trailing window of forSlots slots, converted to a time span via
// secondsPerSlot.
type ExitBusOracle interface {
	GetLastRequestedValidatorIndices(bs types.ReferenceBlockStamp, moduleID types.StakingModuleID, operatorIDs []types.NodeOperatorID) ([]int64, error)
	GetExitRequestEvents(bs types.ReferenceBlockStamp, forSlots uint64, secondsPerSlot uint64) ([]*types.ExitRequest, error)
}

// DaemonConfig supplies named on-chain oracle parameters.
type DaemonConfig interface {
	GetUint64(bs types.ReferenceBlockStamp, key string) (uint64, error)
}

// SanityChecker supplies the on-chain report sanity limits.
type SanityChecker interface {
	GetOracleReportLimits(bs types.ReferenceBlockStamp) (*types.OracleReportLimits, error)
}

// MetricsSink receives per-operator observability gauges and oracle
// processing event counts. Implementations must be fire-and-forget: a sink
// call never affects computation results.
type MetricsSink interface {
	SetStuckValidators(gi types.NodeOperatorGlobalIndex, count uint64)
	SetExitedValidators(gi types.NodeOperatorGlobalIndex, count uint64)
	SetDelayedValidators(gi types.NodeOperatorGlobalIndex, count uint64)
	ObserveEvent(event string)
}
