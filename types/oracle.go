package types

// ExitRequest is a ValidatorExitRequest event emitted by the exit bus oracle.
type ExitRequest struct {
	StakingModuleID StakingModuleID
	NodeOperatorID  NodeOperatorID
	ValidatorIndex  uint64
	ValidatorPubkey string
	Timestamp       uint64
}

// OracleReportLimits is the sanity checker's limits structure, fetched per
// reference block and treated as read-only configuration.
type OracleReportLimits struct {
	ChurnValidatorsPerDayLimit            uint64
	OneOffCLBalanceDecreaseBPLimit        uint64
	AnnualBalanceIncreaseBPLimit          uint64
	ShareRateDeviationBPLimit             uint64
	RequestTimestampMargin                uint64
	MaxPositiveTokenRebase                uint64
	MaxValidatorExitRequestsPerReport     uint64
	MaxAccountingExtraDataListItemsCount  uint64
	MaxNodeOperatorsPerExtraDataItemCount uint64
}
