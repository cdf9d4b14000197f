package types

import "strconv"

type (
	StakingModuleID uint64
	NodeOperatorID  uint64
)

// NodeOperatorGlobalIndex identifies an operator across all staking modules.
type NodeOperatorGlobalIndex struct {
	ModuleID   StakingModuleID
	OperatorID NodeOperatorID
}

func (gi NodeOperatorGlobalIndex) String() string {
	return strconv.FormatUint(uint64(gi.ModuleID), 10) + "-" + strconv.FormatUint(uint64(gi.OperatorID), 10)
}

// Labels returns the (module_id, operator_id) metric label values.
func (gi NodeOperatorGlobalIndex) Labels() (string, string) {
	return strconv.FormatUint(uint64(gi.ModuleID), 10), strconv.FormatUint(uint64(gi.OperatorID), 10)
}

// StakingModule is the staking router's record of one module.
type StakingModule struct {
	ID                    StakingModuleID
	StakingModuleAddress  string
	StakingModuleFee      uint64
	TreasuryFee           uint64
	TargetShare           uint64
	Status                uint64
	Name                  string
	LastDepositAt         uint64
	LastDepositBlock      uint64
	ExitedValidatorsCount uint64
}

// NodeOperator is the staking router's digest of one operator.
type NodeOperator struct {
	ID                         NodeOperatorID
	IsActive                   bool
	IsTargetLimitActive        bool
	TargetValidatorsCount      uint64
	StuckValidatorsCount       uint64
	RefundedValidatorsCount    uint64
	StuckPenaltyEndTimestamp   uint64
	TotalExitedValidators      uint64
	TotalDepositedValidators   uint64
	DepositableValidatorsCount uint64
	StakingModule              *StakingModule
}

// GlobalIndex returns the operator's identity across modules.
func (op *NodeOperator) GlobalIndex() NodeOperatorGlobalIndex {
	return NodeOperatorGlobalIndex{ModuleID: op.StakingModule.ID, OperatorID: op.ID}
}

// NodeOperatorPredictableState is the per-operator statistic derived fresh
// for every reference block; it is never persisted.
type NodeOperatorPredictableState struct {
	PredictableValidatorsTotalAge    uint64
	PredictableValidatorsCount       uint64
	TargetedValidatorsLimitIsEnabled bool
	TargetedValidatorsLimitCount     uint64
	DelayedValidatorsCount           uint64
}
