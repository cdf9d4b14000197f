package types

import (
	"errors"
	"strconv"
)

// Uint64Str parses a uint64, with or without quotes, in any base, with common
// prefixes accepted to change base. The standard beacon node API serializes
// all integers as quoted decimal strings.
type Uint64Str uint64

func (s *Uint64Str) UnmarshalJSON(b []byte) error {
	return Uint64Unmarshal((*uint64)(s), b)
}

func Uint64Unmarshal(v *uint64, b []byte) error {
	if v == nil {
		return errors.New("nil dest in uint64 decoding")
	}
	if len(b) == 0 {
		return errors.New("empty uint64 input")
	}
	if b[0] == '"' || b[0] == '\'' {
		if len(b) == 1 || b[len(b)-1] != b[0] {
			return errors.New("uneven/missing quotes")
		}
		b = b[1 : len(b)-1]
	}
	n, err := strconv.ParseUint(string(b), 0, 64)
	if err != nil {
		return err
	}
	*v = n
	return nil
}

// ValidatorStatus is the standard beacon API validator status.
type ValidatorStatus string

const (
	ValidatorStatusPendingInitialized ValidatorStatus = "pending_initialized"
	ValidatorStatusPendingQueued      ValidatorStatus = "pending_queued"
	ValidatorStatusActiveOngoing      ValidatorStatus = "active_ongoing"
	ValidatorStatusActiveExiting      ValidatorStatus = "active_exiting"
	ValidatorStatusActiveSlashed      ValidatorStatus = "active_slashed"
	ValidatorStatusExitedUnslashed    ValidatorStatus = "exited_unslashed"
	ValidatorStatusExitedSlashed      ValidatorStatus = "exited_slashed"
	ValidatorStatusWithdrawalPossible ValidatorStatus = "withdrawal_possible"
	ValidatorStatusWithdrawalDone     ValidatorStatus = "withdrawal_done"
)

// ValidatorState is the consensus-layer state record nested inside a
// validator registry entry.
type ValidatorState struct {
	Pubkey                     string    `json:"pubkey"`
	WithdrawalCredentials      string    `json:"withdrawal_credentials"`
	EffectiveBalance           Uint64Str `json:"effective_balance"`
	Slashed                    bool      `json:"slashed"`
	ActivationEligibilityEpoch Uint64Str `json:"activation_eligibility_epoch"`
	ActivationEpoch            Uint64Str `json:"activation_epoch"`
	ExitEpoch                  Uint64Str `json:"exit_epoch"`
	WithdrawableEpoch          Uint64Str `json:"withdrawable_epoch"`
}

// Validator is one entry of the beacon state validator registry.
type Validator struct {
	Index     Uint64Str       `json:"index"`
	Balance   Uint64Str       `json:"balance"`
	Status    ValidatorStatus `json:"status"`
	Validator ValidatorState  `json:"validator"`
}

// CatalistKey is a signing key managed by the protocol key registry together
// with its ownership information.
type CatalistKey struct {
	Key           string `json:"key"`
	OperatorIndex uint64 `json:"operatorIndex"`
	Used          bool   `json:"used"`
	ModuleAddress string `json:"moduleAddress"`
}

// CatalistValidator is a chain validator that belongs to the protocol,
// carrying the registry key it was matched by.
type CatalistValidator struct {
	Validator
	CatalistID CatalistKey
}
