package utils

import (
	"strings"

	"github.com/realmankwon/catalist-oracle/types"
)

// eth1WithdrawalCredentialPrefix marks withdrawal credentials pointing at an
// execution-layer address.
const eth1WithdrawalCredentialPrefix = "0x01"

// IsActiveValidator reports whether the validator is active at the given
// epoch: activation_epoch <= epoch < exit_epoch.
func IsActiveValidator(v *types.Validator, epoch uint64) bool {
	return uint64(v.Validator.ActivationEpoch) <= epoch && epoch < uint64(v.Validator.ExitEpoch)
}

// IsExitedValidator reports whether the validator has exited at the given
// epoch. The far-future sentinel never counts as exited.
func IsExitedValidator(v *types.Validator, epoch uint64) bool {
	exitEpoch := uint64(v.Validator.ExitEpoch)
	return exitEpoch != types.FarFutureEpoch && exitEpoch <= epoch
}

// IsOnExit reports whether an exit is scheduled for the validator, regardless
// of the current epoch.
func IsOnExit(v *types.Validator) bool {
	return uint64(v.Validator.ExitEpoch) != types.FarFutureEpoch
}

// IsValidatorEligibleToExit reports whether the validator could be asked to
// exit at the given epoch: no exit scheduled and past the chain's minimal
// activity period (SHARD_COMMITTEE_PERIOD epochs after activation).
func IsValidatorEligibleToExit(v *types.Validator, epoch uint64) bool {
	if IsOnExit(v) {
		return false
	}
	activationEpoch := uint64(v.Validator.ActivationEpoch)
	if activationEpoch > types.FarFutureEpoch-types.ShardCommitteePeriod {
		return false
	}
	return activationEpoch+types.ShardCommitteePeriod <= epoch
}

// HasEth1WithdrawalCredential reports whether the validator's withdrawal
// credentials point at an execution-layer address.
func HasEth1WithdrawalCredential(v *types.Validator) bool {
	return strings.HasPrefix(strings.ToLower(v.Validator.WithdrawalCredentials), eth1WithdrawalCredentialPrefix)
}

// IsFullyWithdrawableValidator reports whether the validator's full balance
// can be withdrawn at the given epoch.
func IsFullyWithdrawableValidator(v *types.Validator, epoch uint64) bool {
	return HasEth1WithdrawalCredential(v) &&
		uint64(v.Validator.WithdrawableEpoch) <= epoch &&
		uint64(v.Balance) > 0
}

// GetValidatorAge returns how many epochs the validator has been active for,
// zero when the activation epoch is still in the future.
func GetValidatorAge(v *types.Validator, epoch uint64) uint64 {
	activationEpoch := uint64(v.Validator.ActivationEpoch)
	if activationEpoch >= epoch {
		return 0
	}
	return epoch - activationEpoch
}

// CalculateActiveEffectiveBalanceSum sums the effective balances of all
// validators active at the given epoch. A zero sum (including empty input)
// yields one effective balance increment, the protocol floor that keeps
// downstream share-rate math away from division by zero.
func CalculateActiveEffectiveBalanceSum(validators []*types.Validator, epoch uint64) uint64 {
	var sum uint64

	for _, v := range validators {
		if IsActiveValidator(v, epoch) {
			sum += uint64(v.Validator.EffectiveBalance)
		}
	}

	if sum == 0 {
		return types.EffectiveBalanceIncrement
	}
	return sum
}
