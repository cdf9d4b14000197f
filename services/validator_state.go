package services

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/realmankwon/catalist-oracle/types"
	"github.com/realmankwon/catalist-oracle/utils"
)

// ValidatorStateService derives per-operator stuck/exited counts and the set
// of validators with unfinished exit requests as of one reference block.
type ValidatorStateService struct {
	registry     *CatalistValidatorsRegistry
	exitBus      ExitBusOracle
	daemonConfig DaemonConfig
	sanity       SanityChecker
	sink         MetricsSink
	chainConfig  types.ChainConfig

	lastRequestedCache    *lru.Cache
	lastRequestedCacheMux *sync.Mutex
	recentPubkeysCache    *lru.Cache
	recentPubkeysCacheMux *sync.Mutex
	recentIndicesCache    *lru.Cache
	recentIndicesCacheMux *sync.Mutex
	daemonValueCache      *lru.Cache
	daemonValueCacheMux   *sync.Mutex
	reportLimitsCache     *lru.Cache
	reportLimitsCacheMux  *sync.Mutex
	newlyStuckCache       *lru.Cache
	newlyStuckCacheMux    *sync.Mutex
	exitedCache           *lru.Cache
	exitedCacheMux        *sync.Mutex
	newlyExitedCache      *lru.Cache
	newlyExitedCacheMux   *sync.Mutex
}

func NewValidatorStateService(registry *CatalistValidatorsRegistry, exitBus ExitBusOracle, daemonConfig DaemonConfig, sanity SanityChecker, sink MetricsSink, chainConfig types.ChainConfig) *ValidatorStateService {
	s := &ValidatorStateService{
		registry:              registry,
		exitBus:               exitBus,
		daemonConfig:          daemonConfig,
		sanity:                sanity,
		sink:                  sink,
		chainConfig:           chainConfig,
		lastRequestedCacheMux: &sync.Mutex{},
		recentPubkeysCacheMux: &sync.Mutex{},
		recentIndicesCacheMux: &sync.Mutex{},
		daemonValueCacheMux:   &sync.Mutex{},
		reportLimitsCacheMux:  &sync.Mutex{},
		newlyStuckCacheMux:    &sync.Mutex{},
		exitedCacheMux:        &sync.Mutex{},
		newlyExitedCacheMux:   &sync.Mutex{},
	}

	s.lastRequestedCache, _ = lru.New(1)
	s.recentPubkeysCache, _ = lru.New(1)
	s.recentIndicesCache, _ = lru.New(1)
	s.daemonValueCache, _ = lru.New(4)
	s.reportLimitsCache, _ = lru.New(1)
	s.newlyStuckCache, _ = lru.New(1)
	s.exitedCache, _ = lru.New(1)
	s.newlyExitedCache, _ = lru.New(1)

	return s
}

// GetNewlyStuckValidators returns the operators whose stuck validator count
// changed since the staking router last recorded it, with the new count.
//
// A validator is stuck when it was requested to exit, has no exit scheduled,
// was not requested again recently and has been past the delinquent deadline
// long enough that the exit can no longer be in flight.
func (s *ValidatorStateService) GetNewlyStuckValidators(bs types.ReferenceBlockStamp) (map[types.NodeOperatorGlobalIndex]uint64, error) {
	s.newlyStuckCacheMux.Lock()
	defer s.newlyStuckCacheMux.Unlock()

	if cached, found := s.newlyStuckCache.Get(bs.CacheKey()); found {
		return cached.(map[types.NodeOperatorGlobalIndex]uint64), nil
	}

	validatorsByOperator, err := s.registry.GetValidatorsByNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	lastRequested, err := s.GetOperatorsWithLastExitedValidatorIndexes(bs)
	if err != nil {
		return nil, err
	}
	recentPubkeys, err := s.GetLastRequestedToExitPubkeys(bs)
	if err != nil {
		return nil, err
	}
	delinquentTimeoutInSlots, err := s.GetDelinquentTimeoutInSlots(bs)
	if err != nil {
		return nil, err
	}

	result := make(map[types.NodeOperatorGlobalIndex]uint64, len(validatorsByOperator))
	for gi, validators := range validatorsByOperator {
		lastRequestedIndex, ok := lastRequested[gi]
		if !ok {
			return nil, errors.Wrapf(ErrMissingOperatorData, "no last requested exit index for operator %v", gi)
		}

		var stuck uint64
		for _, v := range validators {
			if int64(v.Index) > lastRequestedIndex {
				// Not requested to exit yet.
				continue
			}
			if utils.IsOnExit(&v.Validator) {
				continue
			}
			if _, recent := recentPubkeys[strings.ToLower(v.Validator.Validator.Pubkey)]; recent {
				continue
			}
			activationEpoch := uint64(v.Validator.Validator.ActivationEpoch)
			if activationEpoch > types.FarFutureEpoch-types.ShardCommitteePeriod {
				// Pending activation, cannot be past any exit deadline.
				continue
			}
			deadlineSlot := (activationEpoch+types.ShardCommitteePeriod)*s.chainConfig.SlotsPerEpoch + delinquentTimeoutInSlots
			if bs.RefSlot <= deadlineSlot {
				// Still within the grace window after becoming exitable.
				continue
			}
			stuck++
		}
		result[gi] = stuck
	}

	operators, err := s.registry.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	for _, operator := range operators {
		gi := operator.GlobalIndex()
		s.sink.SetStuckValidators(gi, result[gi])
		if result[gi] == operator.StuckValidatorsCount {
			delete(result, gi)
		}
	}

	logger.Infof("found %v operators with changed stuck validator counts at slot %v", len(result), bs.RefSlot)
	s.sink.ObserveEvent("stuck_validators_computed")
	s.newlyStuckCache.Add(bs.CacheKey(), result)
	return result, nil
}

// GetLastRequestedToExitPubkeys returns the pubkeys of validators whose exit
// was requested within the trailing delinquent timeout window.
func (s *ValidatorStateService) GetLastRequestedToExitPubkeys(bs types.ReferenceBlockStamp) (map[string]struct{}, error) {
	s.recentPubkeysCacheMux.Lock()
	defer s.recentPubkeysCacheMux.Unlock()

	if cached, found := s.recentPubkeysCache.Get(bs.CacheKey()); found {
		return cached.(map[string]struct{}), nil
	}

	delinquentTimeoutInSlots, err := s.GetDelinquentTimeoutInSlots(bs)
	if err != nil {
		return nil, err
	}
	events, err := s.exitBus.GetExitRequestEvents(bs, delinquentTimeoutInSlots, s.chainConfig.SecondsPerSlot)
	if err != nil {
		return nil, fmt.Errorf("error retrieving exit request events: %w", err)
	}

	pubkeys := make(map[string]struct{}, len(events))
	for _, event := range events {
		pubkeys[strings.ToLower(event.ValidatorPubkey)] = struct{}{}
	}

	s.recentPubkeysCache.Add(bs.CacheKey(), pubkeys)
	return pubkeys, nil
}

// GetOperatorsWithLastExitedValidatorIndexes returns, for every operator, the
// highest validator index ever requested to exit, -1 when none was.
func (s *ValidatorStateService) GetOperatorsWithLastExitedValidatorIndexes(bs types.ReferenceBlockStamp) (map[types.NodeOperatorGlobalIndex]int64, error) {
	s.lastRequestedCacheMux.Lock()
	defer s.lastRequestedCacheMux.Unlock()

	if cached, found := s.lastRequestedCache.Get(bs.CacheKey()); found {
		return cached.(map[types.NodeOperatorGlobalIndex]int64), nil
	}

	modules, err := s.registry.GetStakingModules(bs)
	if err != nil {
		return nil, err
	}
	operators, err := s.registry.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}

	result := make(map[types.NodeOperatorGlobalIndex]int64, len(operators))
	for _, module := range modules {
		operatorIDs := make([]types.NodeOperatorID, 0)
		for _, operator := range operators {
			if operator.StakingModule.ID == module.ID {
				operatorIDs = append(operatorIDs, operator.ID)
			}
		}

		indices, err := s.exitBus.GetLastRequestedValidatorIndices(bs, module.ID, operatorIDs)
		if err != nil {
			return nil, fmt.Errorf("error retrieving last requested validator indices for module %d: %w", module.ID, err)
		}
		if len(indices) != len(operatorIDs) {
			return nil, errors.Wrapf(ErrInconsistentSnapshot, "requested %d last exit indices for module %d, got %d", len(operatorIDs), module.ID, len(indices))
		}

		for i, operatorID := range operatorIDs {
			result[types.NodeOperatorGlobalIndex{ModuleID: module.ID, OperatorID: operatorID}] = indices[i]
		}
	}

	s.lastRequestedCache.Add(bs.CacheKey(), result)
	return result, nil
}

// GetExitedValidators returns the exited validator count per operator as of
// the reference epoch.
func (s *ValidatorStateService) GetExitedValidators(bs types.ReferenceBlockStamp) (map[types.NodeOperatorGlobalIndex]uint64, error) {
	s.exitedCacheMux.Lock()
	defer s.exitedCacheMux.Unlock()

	if cached, found := s.exitedCache.Get(bs.CacheKey()); found {
		return cached.(map[types.NodeOperatorGlobalIndex]uint64), nil
	}

	validatorsByOperator, err := s.registry.GetValidatorsByNodeOperators(bs)
	if err != nil {
		return nil, err
	}

	result := make(map[types.NodeOperatorGlobalIndex]uint64, len(validatorsByOperator))
	for gi, validators := range validatorsByOperator {
		var exited uint64
		for _, v := range validators {
			if utils.IsExitedValidator(&v.Validator, bs.RefEpoch) {
				exited++
			}
		}
		result[gi] = exited
	}

	s.exitedCache.Add(bs.CacheKey(), result)
	return result, nil
}

// GetNewlyExitedValidators returns the operators whose exited validator count
// differs from the staking router's record, with the new count.
func (s *ValidatorStateService) GetNewlyExitedValidators(bs types.ReferenceBlockStamp) (map[types.NodeOperatorGlobalIndex]uint64, error) {
	s.newlyExitedCacheMux.Lock()
	defer s.newlyExitedCacheMux.Unlock()

	if cached, found := s.newlyExitedCache.Get(bs.CacheKey()); found {
		return cached.(map[types.NodeOperatorGlobalIndex]uint64), nil
	}

	exited, err := s.GetExitedValidators(bs)
	if err != nil {
		return nil, err
	}
	operators, err := s.registry.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}

	// Copy before pruning, the exited map is shared cached state.
	result := make(map[types.NodeOperatorGlobalIndex]uint64, len(exited))
	for gi, count := range exited {
		result[gi] = count
	}
	for _, operator := range operators {
		gi := operator.GlobalIndex()
		s.sink.SetExitedValidators(gi, result[gi])
		if result[gi] == operator.TotalExitedValidators {
			delete(result, gi)
		}
	}

	logger.Infof("found %v operators with changed exited validator counts at slot %v", len(result), bs.RefSlot)
	s.sink.ObserveEvent("exited_validators_computed")
	s.newlyExitedCache.Add(bs.CacheKey(), result)
	return result, nil
}

// GetRecentlyRequestedButNotExitedValidators returns the validators whose
// exit request cannot yet be held against the operator: the exit has not
// appeared on chain, and either the request is recent or the validator is not
// even eligible to exit once the delayed timeout is discounted.
//
// As a side effect the per-operator delayed validator gauge is updated with
// the complementary count: requested, not on exit, not recent, eligible.
func (s *ValidatorStateService) GetRecentlyRequestedButNotExitedValidators(bs types.ReferenceBlockStamp) ([]*types.CatalistValidator, error) {
	validatorsByOperator, err := s.registry.GetValidatorsByNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	lastRequested, err := s.GetOperatorsWithLastExitedValidatorIndexes(bs)
	if err != nil {
		return nil, err
	}
	recentIndices, err := s.GetRecentlyRequestedToExitIndices(bs)
	if err != nil {
		return nil, err
	}
	delayedTimeoutInSlots, err := s.GetDelayedTimeoutInSlots(bs)
	if err != nil {
		return nil, err
	}

	delayedTimeoutInEpochs := delayedTimeoutInSlots / s.chainConfig.SlotsPerEpoch
	var eligibilityEpoch uint64
	if bs.RefEpoch > delayedTimeoutInEpochs {
		eligibilityEpoch = bs.RefEpoch - delayedTimeoutInEpochs
	}

	pending := make([]*types.CatalistValidator, 0)
	for gi, validators := range validatorsByOperator {
		lastRequestedIndex, ok := lastRequested[gi]
		if !ok {
			return nil, errors.Wrapf(ErrMissingOperatorData, "no last requested exit index for operator %v", gi)
		}
		recent := recentIndices[gi]

		var delayed uint64
		for _, v := range validators {
			if int64(v.Index) > lastRequestedIndex {
				continue
			}
			if utils.IsOnExit(&v.Validator) {
				continue
			}
			_, recentlyRequested := recent[uint64(v.Index)]
			if recentlyRequested || !utils.IsValidatorEligibleToExit(&v.Validator, eligibilityEpoch) {
				pending = append(pending, v)
				continue
			}
			delayed++
		}
		s.sink.SetDelayedValidators(gi, delayed)
	}

	return pending, nil
}

// GetRecentlyRequestedToExitIndices returns, per operator, the indices of
// validators whose exit was requested within the trailing delayed timeout
// window. Every known operator has an entry.
func (s *ValidatorStateService) GetRecentlyRequestedToExitIndices(bs types.ReferenceBlockStamp) (map[types.NodeOperatorGlobalIndex]map[uint64]struct{}, error) {
	s.recentIndicesCacheMux.Lock()
	defer s.recentIndicesCacheMux.Unlock()

	if cached, found := s.recentIndicesCache.Get(bs.CacheKey()); found {
		return cached.(map[types.NodeOperatorGlobalIndex]map[uint64]struct{}), nil
	}

	delayedTimeoutInSlots, err := s.GetDelayedTimeoutInSlots(bs)
	if err != nil {
		return nil, err
	}
	operators, err := s.registry.GetNodeOperators(bs)
	if err != nil {
		return nil, err
	}
	events, err := s.exitBus.GetExitRequestEvents(bs, delayedTimeoutInSlots, s.chainConfig.SecondsPerSlot)
	if err != nil {
		return nil, fmt.Errorf("error retrieving exit request events: %w", err)
	}

	result := make(map[types.NodeOperatorGlobalIndex]map[uint64]struct{}, len(operators))
	for _, operator := range operators {
		result[operator.GlobalIndex()] = map[uint64]struct{}{}
	}
	for _, event := range events {
		gi := types.NodeOperatorGlobalIndex{ModuleID: event.StakingModuleID, OperatorID: event.NodeOperatorID}
		indices, ok := result[gi]
		if !ok {
			return nil, errors.Wrapf(ErrInconsistentSnapshot, "exit request event for unknown operator %v", gi)
		}
		indices[event.ValidatorIndex] = struct{}{}
	}

	s.recentIndicesCache.Add(bs.CacheKey(), result)
	return result, nil
}

// GetDelinquentTimeoutInSlots returns how long after a validator becomes
// exitable the oracle keeps waiting before calling it stuck.
func (s *ValidatorStateService) GetDelinquentTimeoutInSlots(bs types.ReferenceBlockStamp) (uint64, error) {
	return s.getDaemonConfigValue(bs, DelinquentTimeoutInSlotsKey)
}

// GetDelayedTimeoutInSlots returns how long after an exit request the oracle
// keeps waiting before calling the validator delayed.
func (s *ValidatorStateService) GetDelayedTimeoutInSlots(bs types.ReferenceBlockStamp) (uint64, error) {
	return s.getDaemonConfigValue(bs, DelayedTimeoutInSlotsKey)
}

func (s *ValidatorStateService) getDaemonConfigValue(bs types.ReferenceBlockStamp, key string) (uint64, error) {
	s.daemonValueCacheMux.Lock()
	defer s.daemonValueCacheMux.Unlock()

	cacheKey := fmt.Sprintf("%s-%s", bs.CacheKey(), key)
	if cached, found := s.daemonValueCache.Get(cacheKey); found {
		return cached.(uint64), nil
	}

	value, err := s.daemonConfig.GetUint64(bs, key)
	if err != nil {
		return 0, fmt.Errorf("error retrieving daemon config value %s: %w", key, err)
	}

	s.daemonValueCache.Add(cacheKey, value)
	return value, nil
}

// GetOracleReportLimits returns the sanity checker's report limits.
func (s *ValidatorStateService) GetOracleReportLimits(bs types.ReferenceBlockStamp) (*types.OracleReportLimits, error) {
	s.reportLimitsCacheMux.Lock()
	defer s.reportLimitsCacheMux.Unlock()

	if cached, found := s.reportLimitsCache.Get(bs.CacheKey()); found {
		return cached.(*types.OracleReportLimits), nil
	}

	limits, err := s.sanity.GetOracleReportLimits(bs)
	if err != nil {
		return nil, fmt.Errorf("error retrieving oracle report limits: %w", err)
	}

	s.reportLimitsCache.Add(bs.CacheKey(), limits)
	return limits, nil
}
